package models

import "time"

// InviteCode gates account registration.
type InviteCode struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Code        string `gorm:"type:text;not null;uniqueIndex"`           // Code value.
	CreatedByID uint64 `gorm:"not null;index"`                           // Issuing admin.
	Role        string `gorm:"type:varchar(16);not null;default:'USER'"` // Role granted on registration.
	MaxUses     int    `gorm:"not null;default:1"`                       // Allowed registrations.
	CurrentUses int    `gorm:"not null;default:0"`                       // Registrations so far.
	IsUsed      bool   `gorm:"not null;default:false"`                   // Set once CurrentUses reaches MaxUses.

	ExpiresAt    *time.Time // Expiration time, if any.
	LastUsedByID *uint64    // Most recent registrant.
	LastUsedAt   *time.Time // Most recent registration time.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}

// AccessCode grants guest access scoped to its creator.
type AccessCode struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Code        string `gorm:"type:text;not null;uniqueIndex"` // Code value.
	CreatedByID uint64 `gorm:"not null;index"`                 // Issuing user, host of the guests.
	Name        string `gorm:"type:text"`                      // Label.
	IsActive    bool   `gorm:"not null"`                       // Toggled by the creator.
	MaxUses     int    `gorm:"not null;default:0"`             // Allowed sign-ins, 0 means unlimited.
	CurrentUses int    `gorm:"not null;default:0"`             // Sign-ins so far.

	AllowedModels string `gorm:"type:text"` // Comma separated model ids, empty means all enabled.

	ExpiresAt *time.Time // Expiration time, if any.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
