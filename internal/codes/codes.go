// Package codes issues, validates and redeems invite and access codes.
package codes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fimai/fimai-chat/internal/models"
	"github.com/fimai/fimai-chat/internal/security"
	"gorm.io/gorm"
)

const maxGenerateAttempts = 5

var (
	ErrInvalidCode     = errors.New("codes: invalid code")
	ErrCodeExpired     = errors.New("codes: code expired")
	ErrCodeExhausted   = errors.New("codes: code exhausted")
	ErrCodeInactive    = errors.New("codes: code inactive")
	ErrCreatorInactive = errors.New("codes: code creator inactive")
	ErrBootstrapClosed = errors.New("codes: bootstrap code already used")
	ErrNotFound        = errors.New("codes: not found")
	ErrInvalidInput    = errors.New("codes: invalid input")
)

// Service owns code bookkeeping.
type Service struct {
	db            *gorm.DB
	bootstrapCode string
	now           func() time.Time
}

// NewService builds a Service. bootstrapCode is the one-time admin code; an
// empty value disables it.
func NewService(db *gorm.DB, bootstrapCode string) *Service {
	return &Service{
		db:            db,
		bootstrapCode: strings.TrimSpace(bootstrapCode),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// IsBootstrap reports whether code is the admin bootstrap code.
func (s *Service) IsBootstrap(code string) bool {
	return s.bootstrapCode != "" && strings.TrimSpace(code) == s.bootstrapCode
}

// BootstrapAvailable reports whether the bootstrap code would be accepted,
// which holds exactly while no ADMIN user exists.
func (s *Service) BootstrapAvailable(ctx context.Context) (bool, error) {
	if s.bootstrapCode == "" {
		return false, nil
	}
	return noAdmin(s.db.WithContext(ctx))
}

func noAdmin(tx *gorm.DB) (bool, error) {
	var count int64
	if errCount := tx.Model(&models.User{}).Where("role = ?", models.RoleAdmin).Count(&count).Error; errCount != nil {
		return false, errCount
	}
	return count == 0, nil
}

// uniqueCode generates a code not present in the table behind model.
func uniqueCode(tx *gorm.DB, model any) (string, error) {
	for i := 0; i < maxGenerateAttempts; i++ {
		code, errGen := security.GenerateCode()
		if errGen != nil {
			return "", errGen
		}
		var count int64
		if errCount := tx.Model(model).Where("code = ?", code).Count(&count).Error; errCount != nil {
			return "", errCount
		}
		if count == 0 {
			return code, nil
		}
	}
	return "", fmt.Errorf("codes: no unique code after %d attempts", maxGenerateAttempts)
}

func expired(expiresAt *time.Time, now time.Time) bool {
	return expiresAt != nil && !expiresAt.After(now)
}
