package codes

import (
	"time"

	"github.com/fimai/fimai-chat/internal/models"
	"github.com/fimai/fimai-chat/internal/permission"
)

// InviteView is the API shape of an invite code.
type InviteView struct {
	ID           uint64     `json:"id"`
	Code         string     `json:"code"`
	Role         string     `json:"role"`
	MaxUses      int        `json:"max_uses"`
	CurrentUses  int        `json:"current_uses"`
	IsUsed       bool       `json:"is_used"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	CreatedByID  uint64     `json:"created_by_id"`
	LastUsedByID *uint64    `json:"last_used_by_id,omitempty"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// NewInviteView converts an invite code row.
func NewInviteView(i models.InviteCode) InviteView {
	return InviteView{
		ID:           i.ID,
		Code:         i.Code,
		Role:         i.Role,
		MaxUses:      i.MaxUses,
		CurrentUses:  i.CurrentUses,
		IsUsed:       i.IsUsed || i.CurrentUses >= i.MaxUses,
		ExpiresAt:    i.ExpiresAt,
		CreatedByID:  i.CreatedByID,
		LastUsedByID: i.LastUsedByID,
		LastUsedAt:   i.LastUsedAt,
		CreatedAt:    i.CreatedAt,
	}
}

// AccessView is the API shape of an access code.
type AccessView struct {
	ID            uint64     `json:"id"`
	Code          string     `json:"code"`
	Name          string     `json:"name"`
	IsActive      bool       `json:"is_active"`
	MaxUses       int        `json:"max_uses"`
	CurrentUses   int        `json:"current_uses"`
	AllowedModels []string   `json:"allowed_models"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	CreatedByID   uint64     `json:"created_by_id"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// NewAccessView converts an access code row.
func NewAccessView(a models.AccessCode) AccessView {
	return AccessView{
		ID:            a.ID,
		Code:          a.Code,
		Name:          a.Name,
		IsActive:      a.IsActive,
		MaxUses:       a.MaxUses,
		CurrentUses:   a.CurrentUses,
		AllowedModels: permission.SplitModelList(a.AllowedModels),
		ExpiresAt:     a.ExpiresAt,
		CreatedByID:   a.CreatedByID,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}
