package models

import "time"

// Role values for User.Role.
const (
	RoleAdmin = "ADMIN"
	RoleUser  = "USER"
	RoleGuest = "GUEST"
)

// User represents an account stored in the database.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Username string  `gorm:"type:text;not null;uniqueIndex"` // Unique login name.
	Email    *string `gorm:"type:text;uniqueIndex"`          // Email address, absent for guests.
	Password string  `gorm:"type:text;not null"`             // Hashed password.

	Role   string `gorm:"type:varchar(16);not null;default:'USER';index"` // ADMIN, USER or GUEST.
	Active bool   `gorm:"not null"`                                       // Whether the user can sign in.

	HostUserID   *uint64 `gorm:"index"` // Host account for guest users.
	AccessCodeID *uint64 `gorm:"index"` // Access code a guest signed in with.

	TOTPSecret string `gorm:"type:text"` // TOTP secret for MFA.

	Permission *UserPermission `gorm:"foreignKey:UserID"` // Limits and counters.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// IsGuest reports whether the user is a guest account.
func (u *User) IsGuest() bool { return u != nil && u.Role == RoleGuest }

// IsAdmin reports whether the user is an administrator.
func (u *User) IsAdmin() bool { return u != nil && u.Role == RoleAdmin }

// ValidRole reports whether role is a known role value.
func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleUser, RoleGuest:
		return true
	default:
		return false
	}
}
