// Package catalog manages providers and models and resolves chat targets.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fimai/fimai-chat/internal/kv"
	"github.com/fimai/fimai-chat/internal/models"
	"github.com/fimai/fimai-chat/internal/security"
	"github.com/fimai/fimai-chat/internal/upstream"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

const (
	enabledModelsKey = "catalog:enabled-models"
	defaultCacheTTL  = 5 * time.Minute
)

var (
	ErrModelNotFound    = errors.New("catalog: model not found")
	ErrModelDisabled    = errors.New("catalog: model disabled")
	ErrProviderNotFound = errors.New("catalog: provider not found")
	ErrProviderDisabled = errors.New("catalog: provider disabled")
	ErrInvalidInput     = errors.New("catalog: invalid input")
	ErrConflict         = errors.New("catalog: already exists")
)

// ModelView is the public shape of an enabled model.
type ModelView struct {
	ID           string  `json:"id"`
	ModelID      string  `json:"model_id"`
	Name         string  `json:"name"`
	ProviderID   uint64  `json:"provider_id"`
	ProviderName string  `json:"provider_name"`
	PricingType  string  `json:"pricing_type"`
	InputPrice   float64 `json:"input_price"`
	OutputPrice  float64 `json:"output_price"`
	UsagePrice   float64 `json:"usage_price"`
	MaxTokens    *int    `json:"max_tokens,omitempty"`
}

// Target is a resolved chat destination.
type Target struct {
	Model    models.Model
	Provider models.Provider
	Endpoint upstream.Endpoint
}

// Catalog reads and writes providers and models. Enabled models are cached
// in the kv store and invalidated on every write.
type Catalog struct {
	db       *gorm.DB
	cache    kv.Store
	cipher   *security.FieldCipher
	client   *upstream.Client
	cacheTTL time.Duration
	group    singleflight.Group
}

// New builds a Catalog. cache and cipher may be nil.
func New(db *gorm.DB, cache kv.Store, cipher *security.FieldCipher, client *upstream.Client, cacheTTL time.Duration) *Catalog {
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	return &Catalog{db: db, cache: cache, cipher: cipher, client: client, cacheTTL: cacheTTL}
}

// EnabledModels lists enabled models of enabled providers in display order.
func (c *Catalog) EnabledModels(ctx context.Context) ([]ModelView, error) {
	if c.cache != nil {
		var cached []ModelView
		errGet := kv.GetJSON(ctx, c.cache, enabledModelsKey, &cached)
		if errGet == nil {
			return cached, nil
		}
		if !errors.Is(errGet, kv.ErrMiss) {
			log.WithError(errGet).Warn("catalog: read model cache failed")
		}
	}
	v, err, _ := c.group.Do(enabledModelsKey, func() (any, error) {
		views, errLoad := c.loadEnabled(ctx)
		if errLoad != nil {
			return nil, errLoad
		}
		if c.cache != nil {
			if errSet := kv.SetJSON(ctx, c.cache, enabledModelsKey, views, c.cacheTTL); errSet != nil {
				log.WithError(errSet).Warn("catalog: write model cache failed")
			}
		}
		return views, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]ModelView), nil
}

// EnabledModelIDs returns the ids of EnabledModels.
func (c *Catalog) EnabledModelIDs(ctx context.Context) ([]string, error) {
	views, err := c.EnabledModels(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(views))
	for _, v := range views {
		out = append(out, v.ID)
	}
	return out, nil
}

func (c *Catalog) loadEnabled(ctx context.Context) ([]ModelView, error) {
	var rows []models.Model
	errFind := c.db.WithContext(ctx).
		Joins("JOIN providers ON providers.id = models.provider_id").
		Where("models.is_enabled = ? AND providers.is_enabled = ?", true, true).
		Order("providers.sort_order ASC, models.sort_order ASC, models.id ASC").
		Preload("Provider").
		Find(&rows).Error
	if errFind != nil {
		return nil, fmt.Errorf("catalog: list enabled models: %w", errFind)
	}
	out := make([]ModelView, 0, len(rows))
	for _, m := range rows {
		view := ModelView{
			ID:          strconv.FormatUint(m.ID, 10),
			ModelID:     m.ModelID,
			Name:        m.Name,
			ProviderID:  m.ProviderID,
			PricingType: m.PricingType,
			InputPrice:  m.InputPrice,
			OutputPrice: m.OutputPrice,
			UsagePrice:  m.UsagePrice,
			MaxTokens:   m.MaxTokens,
		}
		if m.Provider != nil {
			view.ProviderName = m.Provider.Name
		}
		out = append(out, view)
	}
	return out, nil
}

// Invalidate drops cached catalog views.
func (c *Catalog) Invalidate(ctx context.Context) {
	if c.cache == nil {
		return
	}
	if errDelete := c.cache.Delete(ctx, enabledModelsKey); errDelete != nil {
		log.WithError(errDelete).Warn("catalog: invalidate model cache failed")
	}
}

// Resolve finds the model with the given id and its provider.
func (c *Catalog) Resolve(ctx context.Context, modelID string) (Target, error) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(modelID), 10, 64)
	if errParse != nil || id == 0 {
		return Target{}, ErrModelNotFound
	}
	var model models.Model
	if errFind := c.db.WithContext(ctx).Preload("Provider").First(&model, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return Target{}, ErrModelNotFound
		}
		return Target{}, fmt.Errorf("catalog: load model: %w", errFind)
	}
	if model.Provider == nil {
		return Target{}, ErrProviderNotFound
	}
	if !model.IsEnabled {
		return Target{}, ErrModelDisabled
	}
	if !model.Provider.IsEnabled {
		return Target{}, ErrProviderDisabled
	}
	apiKey, errKey := c.cipher.Decrypt(model.Provider.APIKey)
	if errKey != nil {
		return Target{}, fmt.Errorf("catalog: decrypt provider key: %w", errKey)
	}
	provider := *model.Provider
	model.Provider = nil
	return Target{
		Model:    model,
		Provider: provider,
		Endpoint: upstream.Endpoint{BaseURL: provider.BaseURL, APIKey: apiKey},
	}, nil
}
