package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fimai/fimai-chat/internal/billing"
	"github.com/fimai/fimai-chat/internal/models"
	"github.com/fimai/fimai-chat/internal/upstream"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ModelInput creates or patches a model; nil fields are left unchanged on update.
type ModelInput struct {
	ProviderID       *uint64  `json:"provider_id"`
	ModelID          *string  `json:"model_id"`
	Name             *string  `json:"name"`
	IsEnabled        *bool    `json:"is_enabled"`
	SortOrder        *int     `json:"sort_order"`
	MaxTokens        *int     `json:"max_tokens"`
	Temperature      *float64 `json:"temperature"`
	TopP             *float64 `json:"top_p"`
	FrequencyPenalty *float64 `json:"frequency_penalty"`
	PresencePenalty  *float64 `json:"presence_penalty"`
	PricingType      *string  `json:"pricing_type"`
	InputPrice       *float64 `json:"input_price"`
	OutputPrice      *float64 `json:"output_price"`
	UsagePrice       *float64 `json:"usage_price"`
}

// ListModels returns models, optionally of one provider, in display order.
func (c *Catalog) ListModels(ctx context.Context, providerID *uint64) ([]models.Model, error) {
	out := []models.Model{}
	q := c.db.WithContext(ctx).Order("provider_id ASC, sort_order ASC, id ASC")
	if providerID != nil {
		q = q.Where("provider_id = ?", *providerID)
	}
	if errFind := q.Find(&out).Error; errFind != nil {
		return nil, fmt.Errorf("catalog: list models: %w", errFind)
	}
	return out, nil
}

// GetModel returns one model.
func (c *Catalog) GetModel(ctx context.Context, id uint64) (models.Model, error) {
	return findModel(c.db.WithContext(ctx), id)
}

// CreateModel stores a new model.
func (c *Catalog) CreateModel(ctx context.Context, in ModelInput) (models.Model, error) {
	if in.ProviderID == nil || *in.ProviderID == 0 {
		return models.Model{}, fmt.Errorf("%w: provider_id is required", ErrInvalidInput)
	}
	if in.ModelID == nil || strings.TrimSpace(*in.ModelID) == "" {
		return models.Model{}, fmt.Errorf("%w: model_id is required", ErrInvalidInput)
	}
	m := models.Model{
		ProviderID:  *in.ProviderID,
		ModelID:     strings.TrimSpace(*in.ModelID),
		IsEnabled:   true,
		PricingType: models.PricingTypeToken,
	}
	if errApply := applyModelInput(&m, in); errApply != nil {
		return models.Model{}, errApply
	}
	if m.Name == "" {
		m.Name = m.ModelID
	}

	errTx := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, errFind := c.findProvider(ctx, tx, m.ProviderID); errFind != nil {
			return errFind
		}
		if errDup := ensureModelUnique(tx, m.ProviderID, m.ModelID, 0); errDup != nil {
			return errDup
		}
		return tx.Create(&m).Error
	})
	if errTx != nil {
		return models.Model{}, errTx
	}
	c.Invalidate(ctx)
	return m, nil
}

// UpdateModel patches a model.
func (c *Catalog) UpdateModel(ctx context.Context, id uint64, in ModelInput) (models.Model, error) {
	var out models.Model
	errTx := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, errFind := findModel(tx, id)
		if errFind != nil {
			return errFind
		}
		if in.ProviderID != nil && *in.ProviderID != m.ProviderID {
			if _, errProvider := c.findProvider(ctx, tx, *in.ProviderID); errProvider != nil {
				return errProvider
			}
			m.ProviderID = *in.ProviderID
		}
		if in.ModelID != nil {
			modelID := strings.TrimSpace(*in.ModelID)
			if modelID == "" {
				return fmt.Errorf("%w: model_id is required", ErrInvalidInput)
			}
			m.ModelID = modelID
		}
		if errApply := applyModelInput(&m, in); errApply != nil {
			return errApply
		}
		if errDup := ensureModelUnique(tx, m.ProviderID, m.ModelID, m.ID); errDup != nil {
			return errDup
		}
		if errSave := tx.Save(&m).Error; errSave != nil {
			return errSave
		}
		out = m
		return nil
	})
	if errTx != nil {
		return models.Model{}, errTx
	}
	c.Invalidate(ctx)
	return out, nil
}

// DeleteModel removes a model.
func (c *Catalog) DeleteModel(ctx context.Context, id uint64) error {
	res := c.db.WithContext(ctx).Delete(&models.Model{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrModelNotFound
	}
	c.Invalidate(ctx)
	return nil
}

// SyncResult reports the outcome of SyncModels.
type SyncResult struct {
	Added    []string `json:"added"`
	Existing int      `json:"existing"`
}

// SyncModels imports models listed by the provider's /models endpoint. New
// models are created disabled with fallback pricing so an admin can review
// them before users see them.
func (c *Catalog) SyncModels(ctx context.Context, providerID uint64) (SyncResult, error) {
	if c.client == nil {
		return SyncResult{}, errors.New("catalog: upstream client not configured")
	}
	p, errFind := c.findProvider(ctx, c.db, providerID)
	if errFind != nil {
		return SyncResult{}, errFind
	}
	apiKey, errKey := c.cipher.Decrypt(p.APIKey)
	if errKey != nil {
		return SyncResult{}, fmt.Errorf("catalog: decrypt provider key: %w", errKey)
	}
	remote, errList := c.client.ListModels(ctx, upstream.Endpoint{BaseURL: p.BaseURL, APIKey: apiKey})
	if errList != nil {
		return SyncResult{}, errList
	}

	result := SyncResult{Added: []string{}}
	errTx := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []string
		if errPluck := tx.Model(&models.Model{}).Where("provider_id = ?", providerID).Pluck("model_id", &existing).Error; errPluck != nil {
			return errPluck
		}
		known := make(map[string]struct{}, len(existing))
		for _, id := range existing {
			known[id] = struct{}{}
		}
		for _, rm := range remote {
			if _, ok := known[rm.ID]; ok {
				result.Existing++
				continue
			}
			pricing := billing.FallbackPricing(rm.ID)
			m := models.Model{
				ProviderID:  providerID,
				ModelID:     rm.ID,
				Name:        rm.ID,
				IsEnabled:   false,
				PricingType: models.PricingTypeToken,
				InputPrice:  pricing.InputPrice,
				OutputPrice: pricing.OutputPrice,
			}
			if errCreate := tx.Create(&m).Error; errCreate != nil {
				return errCreate
			}
			known[rm.ID] = struct{}{}
			result.Added = append(result.Added, rm.ID)
		}
		return nil
	})
	if errTx != nil {
		return SyncResult{}, fmt.Errorf("catalog: sync models: %w", errTx)
	}
	if len(result.Added) > 0 {
		log.Infof("catalog: synced provider %d, added %d models", providerID, len(result.Added))
		c.Invalidate(ctx)
	}
	return result, nil
}

func findModel(db *gorm.DB, id uint64) (models.Model, error) {
	var m models.Model
	if errFind := db.First(&m, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return models.Model{}, ErrModelNotFound
		}
		return models.Model{}, errFind
	}
	return m, nil
}

func ensureModelUnique(tx *gorm.DB, providerID uint64, modelID string, exceptID uint64) error {
	var count int64
	if errCount := tx.Model(&models.Model{}).
		Where("provider_id = ? AND model_id = ? AND id <> ?", providerID, modelID, exceptID).
		Count(&count).Error; errCount != nil {
		return errCount
	}
	if count > 0 {
		return fmt.Errorf("%w: model %q", ErrConflict, modelID)
	}
	return nil
}

func applyModelInput(m *models.Model, in ModelInput) error {
	if in.Name != nil {
		m.Name = strings.TrimSpace(*in.Name)
	}
	if in.IsEnabled != nil {
		m.IsEnabled = *in.IsEnabled
	}
	if in.SortOrder != nil {
		m.SortOrder = *in.SortOrder
	}
	if in.MaxTokens != nil {
		if *in.MaxTokens <= 0 {
			m.MaxTokens = nil
		} else {
			v := *in.MaxTokens
			m.MaxTokens = &v
		}
	}
	if in.Temperature != nil {
		if *in.Temperature < 0 || *in.Temperature > 2 {
			return fmt.Errorf("%w: temperature must be within [0, 2]", ErrInvalidInput)
		}
		m.Temperature = copyFloat(in.Temperature)
	}
	if in.TopP != nil {
		if *in.TopP < 0 || *in.TopP > 1 {
			return fmt.Errorf("%w: top_p must be within [0, 1]", ErrInvalidInput)
		}
		m.TopP = copyFloat(in.TopP)
	}
	if in.FrequencyPenalty != nil {
		m.FrequencyPenalty = copyFloat(in.FrequencyPenalty)
	}
	if in.PresencePenalty != nil {
		m.PresencePenalty = copyFloat(in.PresencePenalty)
	}
	if in.PricingType != nil {
		pt := strings.ToLower(strings.TrimSpace(*in.PricingType))
		if pt != models.PricingTypeToken && pt != models.PricingTypeUsage {
			return fmt.Errorf("%w: pricing_type must be token or usage", ErrInvalidInput)
		}
		m.PricingType = pt
	}
	for _, price := range []*float64{in.InputPrice, in.OutputPrice, in.UsagePrice} {
		if price != nil && *price < 0 {
			return fmt.Errorf("%w: prices must not be negative", ErrInvalidInput)
		}
	}
	if in.InputPrice != nil {
		m.InputPrice = *in.InputPrice
	}
	if in.OutputPrice != nil {
		m.OutputPrice = *in.OutputPrice
	}
	if in.UsagePrice != nil {
		m.UsagePrice = *in.UsagePrice
	}
	return nil
}

func copyFloat(v *float64) *float64 {
	out := *v
	return &out
}
