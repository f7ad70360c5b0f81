// Package permission decides whether a user may chat with a model and keeps
// period-based usage counters current.
package permission

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/fimai/fimai-chat/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Denial reasons reported in Result.Error.
const (
	ReasonUserNotFound      = "user not found"
	ReasonUserInactive      = "user is inactive"
	ReasonHostNotFound      = "host user not found"
	ReasonHostInactive      = "host user is inactive"
	ReasonAccessCodeInvalid = "access code is no longer valid"
	ReasonModelNotAllowed   = "model not allowed"
	ReasonTokenLimit        = "token limit exceeded"
	ReasonCostLimit         = "cost limit exceeded"
	ReasonHostTokenLimit    = "host token limit exceeded"
	ReasonHostCostLimit     = "host cost limit exceeded"
	ReasonCheckFailed       = "permission check failed"
)

// ErrUserNotFound is returned by Reset for unknown users.
var ErrUserNotFound = errors.New("permission: user not found")

// Result is the outcome of a permission check.
type Result struct {
	CanChat           bool     `json:"can_chat"`
	CanSaveToDatabase bool     `json:"can_save_to_database"`
	AllowedModels     []string `json:"allowed_models"`
	Error             string   `json:"error,omitempty"`
}

// ModelSource lists the ids of models that are enabled and served by an
// enabled provider.
type ModelSource interface {
	EnabledModelIDs(ctx context.Context) ([]string, error)
}

// Gate evaluates chat permissions.
type Gate struct {
	db     *gorm.DB
	models ModelSource
	now    func() time.Time
}

// NewGate builds a Gate. A nil source reads enabled models straight from db.
func NewGate(db *gorm.DB, source ModelSource) *Gate {
	if source == nil {
		source = dbModelSource{db: db}
	}
	return &Gate{db: db, models: source, now: func() time.Time { return time.Now().UTC() }}
}

// Check reports whether userID may chat with modelID. It never fails: lookup
// errors are logged and reported as a denial.
func (g *Gate) Check(ctx context.Context, userID uint64, modelID string) Result {
	res := g.evaluate(ctx, userID)
	if !res.CanChat {
		return res
	}
	modelID = strings.TrimSpace(modelID)
	if !contains(res.AllowedModels, modelID) {
		res.CanChat = false
		res.Error = ReasonModelNotAllowed
	}
	return res
}

// Describe reports the caller's permission state without a model.
func (g *Gate) Describe(ctx context.Context, userID uint64) Result {
	return g.evaluate(ctx, userID)
}

func (g *Gate) evaluate(ctx context.Context, userID uint64) Result {
	res := Result{AllowedModels: []string{}}
	db := g.db.WithContext(ctx)

	var user models.User
	if errFind := db.First(&user, userID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return deny(res, ReasonUserNotFound)
		}
		log.WithError(errFind).Warn("permission: load user failed")
		return deny(res, ReasonCheckFailed)
	}
	if !user.Active {
		return deny(res, ReasonUserInactive)
	}
	res.CanSaveToDatabase = !user.IsGuest()

	var host *models.User
	if user.IsGuest() && user.HostUserID != nil {
		var h models.User
		if errFind := db.First(&h, *user.HostUserID).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return deny(res, ReasonHostNotFound)
			}
			log.WithError(errFind).Warn("permission: load host failed")
			return deny(res, ReasonCheckFailed)
		}
		if !h.Active {
			return deny(res, ReasonHostInactive)
		}
		host = &h
	}

	enabled, errModels := g.models.EnabledModelIDs(ctx)
	if errModels != nil {
		log.WithError(errModels).Warn("permission: list enabled models failed")
		return deny(res, ReasonCheckFailed)
	}

	perm, errPerm := g.loadPermission(ctx, user.ID)
	if errPerm != nil {
		log.WithError(errPerm).Warn("permission: load permission failed")
		return deny(res, ReasonCheckFailed)
	}

	if user.IsGuest() {
		allowed := enabled
		if host != nil {
			hostPerm, errHost := g.loadPermission(ctx, host.ID)
			if errHost != nil {
				log.WithError(errHost).Warn("permission: load host permission failed")
				return deny(res, ReasonCheckFailed)
			}
			allowed = allowedFor(host, hostPerm, enabled)
			if reason := limitReason(hostPerm); reason != "" {
				res.AllowedModels = allowed
				return deny(res, "host "+reason)
			}
		}
		codeModels, ok, errCode := g.accessCodeModels(ctx, &user)
		if errCode != nil {
			log.WithError(errCode).Warn("permission: load access code failed")
			return deny(res, ReasonCheckFailed)
		}
		if !ok {
			return deny(res, ReasonAccessCodeInvalid)
		}
		if len(codeModels) > 0 {
			allowed = intersect(codeModels, allowed)
		}
		res.AllowedModels = allowed
	} else {
		res.AllowedModels = allowedFor(&user, perm, enabled)
	}

	if reason := limitReason(perm); reason != "" {
		return deny(res, reason)
	}
	res.CanChat = true
	return res
}

// loadPermission returns the user's permission row, creating a default one
// when missing and applying any elapsed period reset.
func (g *Gate) loadPermission(ctx context.Context, userID uint64) (*models.UserPermission, error) {
	now := g.now()
	perm := models.DefaultPermission(userID, now)
	if errFind := g.db.WithContext(ctx).Where("user_id = ?", userID).FirstOrCreate(&perm).Error; errFind != nil {
		return nil, errFind
	}
	if _, errReset := resetIfElapsed(ctx, g.db, &perm, now); errReset != nil {
		return nil, errReset
	}
	return &perm, nil
}

// accessCodeModels returns the allow-list of the guest's access code and
// whether the code still admits the guest.
func (g *Gate) accessCodeModels(ctx context.Context, guest *models.User) ([]string, bool, error) {
	if guest.AccessCodeID == nil {
		return nil, true, nil
	}
	var code models.AccessCode
	if errFind := g.db.WithContext(ctx).First(&code, *guest.AccessCodeID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, errFind
	}
	if !code.IsActive {
		return nil, false, nil
	}
	if code.ExpiresAt != nil && !code.ExpiresAt.After(g.now()) {
		return nil, false, nil
	}
	return SplitModelList(code.AllowedModels), true, nil
}

// Reset zeroes the user's counters and stamps LastResetAt.
func (g *Gate) Reset(ctx context.Context, userID uint64) (models.UserPermission, error) {
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
		out.TokenUsed = 0
		out.CostUsed = 0
		out.LastResetAt = now
		return tx.Model(&models.UserPermission{}).Where("id = ?", out.ID).Updates(map[string]any{
			"token_used":    0,
			"cost_used":     0,
			"last_reset_at": now,
			"updated_at":    now,
		}).Error
	})
	if errTx != nil {
		return models.UserPermission{}, errTx
	}
	return out, nil
}

// allowedFor resolves the model allow-list of a non-guest user.
func allowedFor(user *models.User, perm *models.UserPermission, enabled []string) []string {
	if user.IsAdmin() || perm == nil || len(perm.AllowedModels) == 0 {
		return append([]string{}, enabled...)
	}
	return intersect(enabled, perm.AllowedModels)
}

// limitReason returns the denial reason for perm, or "" when within limits.
func limitReason(perm *models.UserPermission) string {
	if perm == nil {
		return ""
	}
	switch perm.LimitType {
	case models.LimitTypeToken:
		if perm.TokenUsed >= perm.TokenLimit {
			return ReasonTokenLimit
		}
	case models.LimitTypeCost:
		if perm.CostUsed >= perm.CostLimit {
			return ReasonCostLimit
		}
	}
	return ""
}

// SplitModelList parses a comma separated id list.
func SplitModelList(raw string) []string {
	out := []string{}
	for _, part := range strings.Split(raw, ",") {
		if id := strings.TrimSpace(part); id != "" && !contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func deny(res Result, reason string) Result {
	res.CanChat = false
	res.Error = reason
	return res
}

// intersect keeps the items of base, in order, that also appear in filter.
func intersect(base, filter []string) []string {
	out := []string{}
	for _, id := range base {
		if contains(filter, id) {
			out = append(out, id)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	if v == "" {
		return false
	}
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

type dbModelSource struct {
	db *gorm.DB
}

func (s dbModelSource) EnabledModelIDs(ctx context.Context) ([]string, error) {
	return EnabledModelIDs(ctx, s.db)
}

// EnabledModelIDs lists enabled models of enabled providers in display order.
func EnabledModelIDs(ctx context.Context, db *gorm.DB) ([]string, error) {
	var ids []uint64
	errPluck := db.WithContext(ctx).
		Model(&models.Model{}).
		Joins("JOIN providers ON providers.id = models.provider_id").
		Where("models.is_enabled = ? AND providers.is_enabled = ?", true, true).
		Order("providers.sort_order ASC, models.sort_order ASC, models.id ASC").
		Pluck("models.id", &ids).Error
	if errPluck != nil {
		return nil, errPluck
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, strconv.FormatUint(id, 10))
	}
	return out, nil
}
