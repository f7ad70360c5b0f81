package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/fimai/fimai-chat/internal/models"
	"github.com/fimai/fimai-chat/internal/security"
	"gorm.io/gorm"
)

// ProviderView is a provider with its API key masked.
type ProviderView struct {
	ID         uint64 `json:"id"`
	Name       string `json:"name"`
	BaseURL    string `json:"base_url"`
	APIKey     string `json:"api_key"`
	IsEnabled  bool   `json:"is_enabled"`
	SortOrder  int    `json:"sort_order"`
	ModelCount int64  `json:"model_count"`
}

// ProviderInput creates or patches a provider; nil fields are left unchanged on update.
type ProviderInput struct {
	Name      *string `json:"name"`
	BaseURL   *string `json:"base_url"`
	APIKey    *string `json:"api_key"`
	IsEnabled *bool   `json:"is_enabled"`
	SortOrder *int    `json:"sort_order"`
}

// ListProviders returns every provider in display order.
func (c *Catalog) ListProviders(ctx context.Context) ([]ProviderView, error) {
	var rows []models.Provider
	if errFind := c.db.WithContext(ctx).Order("sort_order ASC, id ASC").Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("catalog: list providers: %w", errFind)
	}
	type countRow struct {
		ProviderID uint64
		Count      int64
	}
	var counts []countRow
	if errCount := c.db.WithContext(ctx).Model(&models.Model{}).
		Select("provider_id, COUNT(*) AS count").
		Group("provider_id").
		Scan(&counts).Error; errCount != nil {
		return nil, fmt.Errorf("catalog: count models: %w", errCount)
	}
	byProvider := make(map[uint64]int64, len(counts))
	for _, row := range counts {
		byProvider[row.ProviderID] = row.Count
	}
	out := make([]ProviderView, 0, len(rows))
	for i := range rows {
		view := c.providerView(&rows[i])
		view.ModelCount = byProvider[rows[i].ID]
		out = append(out, view)
	}
	return out, nil
}

// GetProvider returns one provider.
func (c *Catalog) GetProvider(ctx context.Context, id uint64) (ProviderView, error) {
	p, err := c.findProvider(ctx, c.db, id)
	if err != nil {
		return ProviderView{}, err
	}
	return c.providerView(&p), nil
}

// CreateProvider stores a new provider, encrypting its API key.
func (c *Catalog) CreateProvider(ctx context.Context, in ProviderInput) (ProviderView, error) {
	if in.Name == nil || strings.TrimSpace(*in.Name) == "" {
		return ProviderView{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if in.BaseURL == nil {
		return ProviderView{}, fmt.Errorf("%w: base_url is required", ErrInvalidInput)
	}
	if in.APIKey == nil || strings.TrimSpace(*in.APIKey) == "" {
		return ProviderView{}, fmt.Errorf("%w: api_key is required", ErrInvalidInput)
	}
	baseURL, errURL := normalizeBaseURL(*in.BaseURL)
	if errURL != nil {
		return ProviderView{}, errURL
	}
	key, errKey := c.cipher.Encrypt(strings.TrimSpace(*in.APIKey))
	if errKey != nil {
		return ProviderView{}, fmt.Errorf("catalog: encrypt api key: %w", errKey)
	}
	p := models.Provider{
		Name:      strings.TrimSpace(*in.Name),
		BaseURL:   baseURL,
		APIKey:    key,
		IsEnabled: true,
	}
	if in.IsEnabled != nil {
		p.IsEnabled = *in.IsEnabled
	}
	if in.SortOrder != nil {
		p.SortOrder = *in.SortOrder
	}

	errTx := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errDup := ensureProviderName(tx, p.Name, 0); errDup != nil {
			return errDup
		}
		return tx.Create(&p).Error
	})
	if errTx != nil {
		return ProviderView{}, errTx
	}
	c.Invalidate(ctx)
	return c.providerView(&p), nil
}

// UpdateProvider patches a provider. An empty api_key keeps the stored key.
func (c *Catalog) UpdateProvider(ctx context.Context, id uint64, in ProviderInput) (ProviderView, error) {
	var out models.Provider
	errTx := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, errFind := c.findProvider(ctx, tx, id)
		if errFind != nil {
			return errFind
		}
		updates := map[string]any{}
		if in.Name != nil {
			name := strings.TrimSpace(*in.Name)
			if name == "" {
				return fmt.Errorf("%w: name is required", ErrInvalidInput)
			}
			if errDup := ensureProviderName(tx, name, id); errDup != nil {
				return errDup
			}
			updates["name"] = name
		}
		if in.BaseURL != nil {
			baseURL, errURL := normalizeBaseURL(*in.BaseURL)
			if errURL != nil {
				return errURL
			}
			updates["base_url"] = baseURL
		}
		if in.APIKey != nil && strings.TrimSpace(*in.APIKey) != "" {
			key, errKey := c.cipher.Encrypt(strings.TrimSpace(*in.APIKey))
			if errKey != nil {
				return fmt.Errorf("catalog: encrypt api key: %w", errKey)
			}
			updates["api_key"] = key
		}
		if in.IsEnabled != nil {
			updates["is_enabled"] = *in.IsEnabled
		}
		if in.SortOrder != nil {
			updates["sort_order"] = *in.SortOrder
		}
		if len(updates) > 0 {
			if errUpdate := tx.Model(&p).Updates(updates).Error; errUpdate != nil {
				return errUpdate
			}
		}
		var errReload error
		out, errReload = c.findProvider(ctx, tx, id)
		return errReload
	})
	if errTx != nil {
		return ProviderView{}, errTx
	}
	c.Invalidate(ctx)
	return c.providerView(&out), nil
}

// DeleteProvider removes a provider and its models.
func (c *Catalog) DeleteProvider(ctx context.Context, id uint64) error {
	errTx := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, errFind := c.findProvider(ctx, tx, id); errFind != nil {
			return errFind
		}
		if errModels := tx.Where("provider_id = ?", id).Delete(&models.Model{}).Error; errModels != nil {
			return errModels
		}
		return tx.Delete(&models.Provider{}, id).Error
	})
	if errTx != nil {
		return errTx
	}
	c.Invalidate(ctx)
	return nil
}

func (c *Catalog) findProvider(ctx context.Context, db *gorm.DB, id uint64) (models.Provider, error) {
	var p models.Provider
	if errFind := db.WithContext(ctx).First(&p, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return models.Provider{}, ErrProviderNotFound
		}
		return models.Provider{}, errFind
	}
	return p, nil
}

func (c *Catalog) providerView(p *models.Provider) ProviderView {
	key, errKey := c.cipher.Decrypt(p.APIKey)
	if errKey != nil {
		key = ""
	}
	return ProviderView{
		ID:        p.ID,
		Name:      p.Name,
		BaseURL:   p.BaseURL,
		APIKey:    security.MaskSecret(key),
		IsEnabled: p.IsEnabled,
		SortOrder: p.SortOrder,
	}
}

func ensureProviderName(tx *gorm.DB, name string, exceptID uint64) error {
	var count int64
	if errCount := tx.Model(&models.Provider{}).Where("name = ? AND id <> ?", name, exceptID).Count(&count).Error; errCount != nil {
		return errCount
	}
	if count > 0 {
		return fmt.Errorf("%w: provider %q", ErrConflict, name)
	}
	return nil
}

func normalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	u, errParse := url.Parse(raw)
	if errParse != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: base_url must be an http(s) URL", ErrInvalidInput)
	}
	return raw, nil
}
