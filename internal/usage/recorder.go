// Package usage records billable chat exchanges and keeps the per-user
// counters that limits are checked against.
package usage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fimai/fimai-chat/internal/billing"
	"github.com/fimai/fimai-chat/internal/logging"
	"github.com/fimai/fimai-chat/internal/models"
	"github.com/fimai/fimai-chat/internal/tokens"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// recordTimeout bounds one Record call when the caller's context has no deadline.
const recordTimeout = 5 * time.Second

// ErrUnknownUser is returned when the acting user does not exist.
var ErrUnknownUser = errors.New("usage: unknown user")

// Entry describes one exchange. When both token counts are zero and text is
// present, counts are estimated from InputText and OutputText.
type Entry struct {
	UserID     uint64
	ProviderID uint64
	ModelID    uint64
	ModelName  string

	PromptTokens     int64
	CompletionTokens int64
	IsEstimated      bool

	InputText  string
	OutputText string

	RequestID string
}

// Result reports what Record wrote.
type Result struct {
	Row    models.TokenUsage
	Mirror *models.TokenUsage // Host row for guest traffic.
}

// Recorder persists usage rows and bumps permission counters.
type Recorder struct {
	db *gorm.DB
}

// NewRecorder constructs a Recorder backed by GORM.
func NewRecorder(db *gorm.DB) *Recorder { return &Recorder{db: db} }

// Record computes the cost of e and, in one transaction, writes the acting
// user's row and counters plus, for a hosted guest, the host's mirrored row
// and counters.
func (r *Recorder) Record(ctx context.Context, e Entry) (Result, error) {
	if r == nil || r.db == nil {
		return Result{}, errors.New("usage: nil recorder")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, recordTimeout)
		defer cancel()
	}

	e = normalizeEntry(e)
	if e.RequestID == "" {
		e.RequestID = logging.RequestIDFromContext(ctx)
	}

	pricing, errPricing := billing.ResolvePricing(ctx, r.db, e.ModelID, e.ModelName)
	if errPricing != nil {
		log.WithError(errPricing).Warn("usage recorder: pricing lookup failed, using fallback")
		pricing = billing.FallbackPricing(e.ModelName)
	}
	cost := billing.Cost(pricing, e.PromptTokens, e.CompletionTokens)

	var user models.User
	if errFind := r.db.WithContext(ctx).Select("id", "role", "host_user_id").First(&user, e.UserID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return Result{}, ErrUnknownUser
		}
		return Result{}, fmt.Errorf("usage: load user: %w", errFind)
	}

	now := time.Now().UTC()
	row := models.TokenUsage{
		UserID:           user.ID,
		ProviderID:       e.ProviderID,
		ModelID:          e.ModelID,
		ModelName:        e.ModelName,
		RequestID:        e.RequestID,
		PromptTokens:     e.PromptTokens,
		CompletionTokens: e.CompletionTokens,
		TotalTokens:      e.PromptTokens + e.CompletionTokens,
		IsEstimated:      e.IsEstimated,
		Cost:             cost,
		CreatedAt:        now,
	}
	var mirror *models.TokenUsage
	if user.Role == models.RoleGuest && user.HostUserID != nil && *user.HostUserID != 0 {
		m := row
		m.UserID = *user.HostUserID
		guestID := user.ID
		m.SourceUserID = &guestID
		mirror = &m
	}

	errTx := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errCreate := tx.Create(&row).Error; errCreate != nil {
			return fmt.Errorf("create usage: %w", errCreate)
		}
		if errBump := bumpCounters(tx, row.UserID, row.TotalTokens, cost, now); errBump != nil {
			return errBump
		}
		if mirror == nil {
			return nil
		}
		if errCreate := tx.Create(mirror).Error; errCreate != nil {
			return fmt.Errorf("create host usage: %w", errCreate)
		}
		return bumpCounters(tx, mirror.UserID, mirror.TotalTokens, cost, now)
	})
	if errTx != nil {
		return Result{}, fmt.Errorf("usage: record: %w", errTx)
	}
	return Result{Row: row, Mirror: mirror}, nil
}

// normalizeEntry trims names and fills estimated counts.
func normalizeEntry(e Entry) Entry {
	e.ModelName = strings.TrimSpace(e.ModelName)
	if e.PromptTokens < 0 {
		e.PromptTokens = 0
	}
	if e.CompletionTokens < 0 {
		e.CompletionTokens = 0
	}
	if e.PromptTokens == 0 && e.CompletionTokens == 0 && (e.InputText != "" || e.OutputText != "") {
		e.PromptTokens = int64(tokens.Estimate(e.InputText))
		e.CompletionTokens = int64(tokens.Estimate(e.OutputText))
		e.IsEstimated = true
	}
	return e
}

// bumpCounters adds one exchange to the user's permission counters, creating
// the permission row when it is missing.
func bumpCounters(tx *gorm.DB, userID uint64, totalTokens int64, cost float64, now time.Time) error {
	res := tx.Model(&models.UserPermission{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"token_used": gorm.Expr("token_used + ?", totalTokens),
			"cost_used":  gorm.Expr("cost_used + ?", cost),
			"updated_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("bump counters: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	perm := models.DefaultPermission(userID, now)
	perm.TokenUsed = totalTokens
	perm.CostUsed = cost
	if errCreate := tx.Create(&perm).Error; errCreate != nil {
		return fmt.Errorf("create permission: %w", errCreate)
	}
	return nil
}
