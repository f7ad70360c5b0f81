package codes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fimai/fimai-chat/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AccessParams describes a new access code.
type AccessParams struct {
	Name          string
	MaxUses       int
	AllowedModels []string
	ExpiresAt     *time.Time
}

// AccessPatch updates an access code; nil fields are left unchanged.
type AccessPatch struct {
	Name          *string
	IsActive      *bool
	MaxUses       *int
	AllowedModels *[]string
	ExpiresAt     *time.Time
	ClearExpiry   bool
}

// CreateAccess issues an active access code owned by creatorID.
func (s *Service) CreateAccess(ctx context.Context, creatorID uint64, p AccessParams) (models.AccessCode, error) {
	if p.MaxUses < 0 {
		return models.AccessCode{}, fmt.Errorf("%w: max uses must not be negative", ErrInvalidInput)
	}
	if p.ExpiresAt != nil && expired(p.ExpiresAt, s.now()) {
		return models.AccessCode{}, fmt.Errorf("%w: expiry is in the past", ErrInvalidInput)
	}
	access := models.AccessCode{
		CreatedByID:   creatorID,
		Name:          strings.TrimSpace(p.Name),
		IsActive:      true,
		MaxUses:       p.MaxUses,
		AllowedModels: joinModels(p.AllowedModels),
		ExpiresAt:     utcPtr(p.ExpiresAt),
	}
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		code, errCode := uniqueCode(tx, &models.AccessCode{})
		if errCode != nil {
			return errCode
		}
		access.Code = code
		return tx.Create(&access).Error
	})
	if errTx != nil {
		return models.AccessCode{}, errTx
	}
	return access, nil
}

// ValidateAccess checks code without consuming it.
func (s *Service) ValidateAccess(ctx context.Context, code string) (models.AccessCode, error) {
	return s.validateAccess(s.db.WithContext(ctx), code)
}

func (s *Service) validateAccess(tx *gorm.DB, code string) (models.AccessCode, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return models.AccessCode{}, ErrInvalidCode
	}
	var access models.AccessCode
	if errFind := tx.Where("code = ?", code).First(&access).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return models.AccessCode{}, ErrInvalidCode
		}
		return models.AccessCode{}, errFind
	}
	if !access.IsActive {
		return models.AccessCode{}, ErrCodeInactive
	}
	var creator models.User
	if errFind := tx.Select("id", "active").First(&creator, access.CreatedByID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return models.AccessCode{}, ErrCreatorInactive
		}
		return models.AccessCode{}, errFind
	}
	if !creator.Active {
		return models.AccessCode{}, ErrCreatorInactive
	}
	if expired(access.ExpiresAt, s.now()) {
		return models.AccessCode{}, ErrCodeExpired
	}
	if access.MaxUses > 0 && access.CurrentUses >= access.MaxUses {
		return models.AccessCode{}, ErrCodeExhausted
	}
	return access, nil
}

// RedeemAccess consumes one use of code and creates a guest user hosted by the
// code's creator.
func (s *Service) RedeemAccess(ctx context.Context, code string) (models.User, models.AccessCode, error) {
	var guest models.User
	var access models.AccessCode
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var errValidate error
		access, errValidate = s.validateAccess(tx, code)
		if errValidate != nil {
			return errValidate
		}
		res := tx.Model(&models.AccessCode{}).
			Where("id = ? AND is_active = ? AND (max_uses = 0 OR current_uses < max_uses)", access.ID, true).
			Update("current_uses", gorm.Expr("current_uses + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrCodeExhausted
		}
		access.CurrentUses++

		now := s.now()
		hostID, codeID := access.CreatedByID, access.ID
		guest = models.User{
			Username:     "guest_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
			Role:         models.RoleGuest,
			Active:       true,
			HostUserID:   &hostID,
			AccessCodeID: &codeID,
		}
		if errCreate := tx.Create(&guest).Error; errCreate != nil {
			return errCreate
		}
		perm := models.DefaultPermission(guest.ID, now)
		return tx.Create(&perm).Error
	})
	if errTx != nil {
		return models.User{}, models.AccessCode{}, errTx
	}
	return guest, access, nil
}

// ListAccess returns access codes newest first. A nil owner lists every code.
func (s *Service) ListAccess(ctx context.Context, ownerID *uint64) ([]models.AccessCode, error) {
	out := []models.AccessCode{}
	q := s.db.WithContext(ctx).Order("created_at DESC, id DESC")
	if ownerID != nil {
		q = q.Where("created_by_id = ?", *ownerID)
	}
	return out, q.Find(&out).Error
}

// UpdateAccess applies patch to an access code. A nil owner may edit any code.
func (s *Service) UpdateAccess(ctx context.Context, id uint64, ownerID *uint64, patch AccessPatch) (models.AccessCode, error) {
	access, errFind := s.findAccess(ctx, id, ownerID)
	if errFind != nil {
		return models.AccessCode{}, errFind
	}
	updates := map[string]any{}
	if patch.Name != nil {
		updates["name"] = strings.TrimSpace(*patch.Name)
	}
	if patch.IsActive != nil {
		updates["is_active"] = *patch.IsActive
	}
	if patch.MaxUses != nil {
		if *patch.MaxUses < 0 {
			return models.AccessCode{}, fmt.Errorf("%w: max uses must not be negative", ErrInvalidInput)
		}
		updates["max_uses"] = *patch.MaxUses
	}
	if patch.AllowedModels != nil {
		updates["allowed_models"] = joinModels(*patch.AllowedModels)
	}
	if patch.ClearExpiry {
		updates["expires_at"] = nil
	} else if patch.ExpiresAt != nil {
		updates["expires_at"] = patch.ExpiresAt.UTC()
	}
	if len(updates) == 0 {
		return access, nil
	}
	updates["updated_at"] = s.now()
	if errUpdate := s.db.WithContext(ctx).Model(&models.AccessCode{}).Where("id = ?", access.ID).Updates(updates).Error; errUpdate != nil {
		return models.AccessCode{}, errUpdate
	}
	return s.findAccess(ctx, id, ownerID)
}

// DeleteAccess removes an access code. Guests created from it lose access.
func (s *Service) DeleteAccess(ctx context.Context, id uint64, ownerID *uint64) error {
	q := s.db.WithContext(ctx).Where("id = ?", id)
	if ownerID != nil {
		q = q.Where("created_by_id = ?", *ownerID)
	}
	res := q.Delete(&models.AccessCode{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Service) findAccess(ctx context.Context, id uint64, ownerID *uint64) (models.AccessCode, error) {
	var access models.AccessCode
	q := s.db.WithContext(ctx).Where("id = ?", id)
	if ownerID != nil {
		q = q.Where("created_by_id = ?", *ownerID)
	}
	if errFind := q.First(&access).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return models.AccessCode{}, ErrNotFound
		}
		return models.AccessCode{}, errFind
	}
	return access, nil
}

func joinModels(ids []string) string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return strings.Join(out, ",")
}
