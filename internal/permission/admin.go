package permission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fimai/fimai-chat/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrInvalidPatch is returned by Update for out-of-range values.
var ErrInvalidPatch = errors.New("permission: invalid patch")

// View is the API shape of a permission row.
type View struct {
	UserID        uint64    `json:"user_id"`
	LimitType     string    `json:"limit_type"`
	LimitPeriod   string    `json:"limit_period"`
	TokenLimit    int64     `json:"token_limit"`
	CostLimit     float64   `json:"cost_limit"`
	TokenUsed     int64     `json:"token_used"`
	CostUsed      float64   `json:"cost_used"`
	AllowedModels []string  `json:"allowed_models"`
	LastResetAt   time.Time `json:"last_reset_at"`
}

// NewView converts a permission row.
func NewView(p models.UserPermission) View {
	allowed := []string(p.AllowedModels)
	if allowed == nil {
		allowed = []string{}
	}
	return View{
		UserID:        p.UserID,
		LimitType:     p.LimitType,
		LimitPeriod:   p.LimitPeriod,
		TokenLimit:    p.TokenLimit,
		CostLimit:     p.CostLimit,
		TokenUsed:     p.TokenUsed,
		CostUsed:      p.CostUsed,
		AllowedModels: allowed,
		LastResetAt:   p.LastResetAt,
	}
}

// Patch changes a user's limits; nil fields are left unchanged.
type Patch struct {
	LimitType     *string   `json:"limit_type"`
	LimitPeriod   *string   `json:"limit_period"`
	TokenLimit    *int64    `json:"token_limit"`
	CostLimit     *float64  `json:"cost_limit"`
	AllowedModels *[]string `json:"allowed_models"`
}

// Get returns the user's permission row, creating the default one if needed.
func (g *Gate) Get(ctx context.Context, userID uint64) (models.UserPermission, error) {
	var count int64
	if errCount := g.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Count(&count).Error; errCount != nil {
		return models.UserPermission{}, errCount
	}
	if count == 0 {
		return models.UserPermission{}, ErrUserNotFound
	}
	perm, err := g.loadPermission(ctx, userID)
	if err != nil {
		return models.UserPermission{}, err
	}
	return *perm, nil
}

// Update applies p to the user's permission row. Switching to a resetting
// period rebuilds the counters from the usage ledger since that period's
// start; switching to total keeps them.
func (g *Gate) Update(ctx context.Context, userID uint64, p Patch) (models.UserPermission, error) {
	updates := map[string]any{}
	if p.LimitType != nil {
		v := strings.ToLower(strings.TrimSpace(*p.LimitType))
		if !models.ValidLimitType(v) {
			return models.UserPermission{}, fmt.Errorf("%w: limit_type must be none, token or cost", ErrInvalidPatch)
		}
		updates["limit_type"] = v
	}
	if p.LimitPeriod != nil {
		v := strings.ToLower(strings.TrimSpace(*p.LimitPeriod))
		if !models.ValidLimitPeriod(v) {
			return models.UserPermission{}, fmt.Errorf("%w: limit_period must be total, daily, weekly or monthly", ErrInvalidPatch)
		}
		updates["limit_period"] = v
	}
	if p.TokenLimit != nil {
		if *p.TokenLimit < 0 {
			return models.UserPermission{}, fmt.Errorf("%w: token_limit must not be negative", ErrInvalidPatch)
		}
		updates["token_limit"] = *p.TokenLimit
	}
	if p.CostLimit != nil {
		if *p.CostLimit < 0 {
			return models.UserPermission{}, fmt.Errorf("%w: cost_limit must not be negative", ErrInvalidPatch)
		}
		updates["cost_limit"] = *p.CostLimit
	}
	if p.AllowedModels != nil {
		ids := SplitModelList(strings.Join(*p.AllowedModels, ","))
		updates["allowed_models"] = datatypes.JSONSlice[string](ids)
	}

	now := g.now()
	var out models.UserPermission
	errTx := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if errCount := tx.Model(&models.User{}).Where("id = ?", userID).Count(&count).Error; errCount != nil {
			return errCount
		}
		if count == 0 {
			return ErrUserNotFound
		}
		out = models.DefaultPermission(userID, now)
		if errFind := tx.Where("user_id = ?", userID).FirstOrCreate(&out).Error; errFind != nil {
			return errFind
		}
		if period, ok := updates["limit_period"].(string); ok && period != out.LimitPeriod {
			if errRecount := recountForPeriod(tx, userID, period, now, updates); errRecount != nil {
				return errRecount
			}
		}
		if len(updates) == 0 {
			return nil
		}
		updates["updated_at"] = now
		if errUpdate := tx.Model(&models.UserPermission{}).Where("id = ?", out.ID).Updates(updates).Error; errUpdate != nil {
			return errUpdate
		}
		return tx.First(&out, out.ID).Error
	})
	if errTx != nil {
		return models.UserPermission{}, errTx
	}
	return out, nil
}

// recountForPeriod sets the counters to the ledger totals of the period that
// contains now, so they match what a reset at the period start would have left.
func recountForPeriod(tx *gorm.DB, userID uint64, period string, now time.Time, updates map[string]any) error {
	start, ok := PeriodStart(period, now)
	if !ok {
		return nil
	}
	var sums struct {
		Tokens int64
		Cost   float64
	}
	errSum := tx.Model(&models.TokenUsage{}).
		Select("COALESCE(SUM(total_tokens), 0) AS tokens, COALESCE(SUM(cost), 0) AS cost").
		Where("user_id = ? AND created_at >= ?", userID, start).
		Scan(&sums).Error
	if errSum != nil {
		return fmt.Errorf("permission: recount usage: %w", errSum)
	}
	updates["token_used"] = sums.Tokens
	updates["cost_used"] = sums.Cost
	updates["last_reset_at"] = start
	return nil
}
