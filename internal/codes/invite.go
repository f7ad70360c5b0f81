package codes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fimai/fimai-chat/internal/models"
	"gorm.io/gorm"
)

// InviteParams describes a new invite code.
type InviteParams struct {
	Role      string
	MaxUses   int
	ExpiresAt *time.Time
}

// CreateInvite issues an invite code on behalf of creatorID.
func (s *Service) CreateInvite(ctx context.Context, creatorID uint64, p InviteParams) (models.InviteCode, error) {
	role := strings.ToUpper(strings.TrimSpace(p.Role))
	if role == "" {
		role = models.RoleUser
	}
	if role != models.RoleUser && role != models.RoleAdmin {
		return models.InviteCode{}, fmt.Errorf("%w: role must be USER or ADMIN", ErrInvalidInput)
	}
	if p.MaxUses <= 0 {
		p.MaxUses = 1
	}
	if p.ExpiresAt != nil && expired(p.ExpiresAt, s.now()) {
		return models.InviteCode{}, fmt.Errorf("%w: expiry is in the past", ErrInvalidInput)
	}

	invite := models.InviteCode{CreatedByID: creatorID, Role: role, MaxUses: p.MaxUses, ExpiresAt: utcPtr(p.ExpiresAt)}
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		code, errCode := uniqueCode(tx, &models.InviteCode{})
		if errCode != nil {
			return errCode
		}
		invite.Code = code
		return tx.Create(&invite).Error
	})
	if errTx != nil {
		return models.InviteCode{}, errTx
	}
	return invite, nil
}

// ValidateInvite checks code without consuming it and returns the role it grants.
func (s *Service) ValidateInvite(ctx context.Context, code string) (string, error) {
	return s.validateInvite(s.db.WithContext(ctx), code)
}

func (s *Service) validateInvite(tx *gorm.DB, code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", ErrInvalidCode
	}
	if s.IsBootstrap(code) {
		ok, errAdmin := noAdmin(tx)
		if errAdmin != nil {
			return "", errAdmin
		}
		if !ok {
			return "", ErrBootstrapClosed
		}
		return models.RoleAdmin, nil
	}
	var invite models.InviteCode
	if errFind := tx.Where("code = ?", code).First(&invite).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return "", ErrInvalidCode
		}
		return "", errFind
	}
	if invite.IsUsed || invite.CurrentUses >= invite.MaxUses {
		return "", ErrCodeExhausted
	}
	if expired(invite.ExpiresAt, s.now()) {
		return "", ErrCodeExpired
	}
	return invite.Role, nil
}

// RedeemInvite validates code and, in one transaction, calls create with the
// granted role and consumes one use. create returns the new user's id.
func (s *Service) RedeemInvite(ctx context.Context, code string, create func(tx *gorm.DB, role string) (uint64, error)) error {
	code = strings.TrimSpace(code)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		role, errValidate := s.validateInvite(tx, code)
		if errValidate != nil {
			return errValidate
		}
		userID, errCreate := create(tx, role)
		if errCreate != nil {
			return errCreate
		}
		if s.IsBootstrap(code) {
			// The new admin must be the only one.
			var count int64
			if errCount := tx.Model(&models.User{}).Where("role = ?", models.RoleAdmin).Count(&count).Error; errCount != nil {
				return errCount
			}
			if count != 1 {
				return ErrBootstrapClosed
			}
			return nil
		}
		now := s.now()
		res := tx.Model(&models.InviteCode{}).
			Where("code = ? AND is_used = ? AND current_uses < max_uses", code, false).
			Where("(expires_at IS NULL OR expires_at > ?)", now).
			Updates(map[string]any{
				"current_uses":    gorm.Expr("current_uses + 1"),
				"is_used":         gorm.Expr("current_uses + 1 >= max_uses"),
				"last_used_by_id": userID,
				"last_used_at":    now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrCodeExhausted
		}
		return nil
	})
}

// ListInvites returns invite codes newest first.
func (s *Service) ListInvites(ctx context.Context) ([]models.InviteCode, error) {
	out := []models.InviteCode{}
	errFind := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Find(&out).Error
	return out, errFind
}

// DeleteInvite removes an invite code.
func (s *Service) DeleteInvite(ctx context.Context, id uint64) error {
	res := s.db.WithContext(ctx).Delete(&models.InviteCode{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
