package models

import (
	"time"

	"gorm.io/datatypes"
)

// Limit types for UserPermission.LimitType.
const (
	LimitTypeNone  = "none"
	LimitTypeToken = "token"
	LimitTypeCost  = "cost"
)

// Limit periods for UserPermission.LimitPeriod.
const (
	LimitPeriodTotal   = "total"
	LimitPeriodDaily   = "daily"
	LimitPeriodWeekly  = "weekly"
	LimitPeriodMonthly = "monthly"
)

// UserPermission holds a user's usage limits and running counters.
type UserPermission struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;uniqueIndex"` // Owning user.

	LimitType   string  `gorm:"type:varchar(16);not null;default:'none'"`  // none, token or cost.
	LimitPeriod string  `gorm:"type:varchar(16);not null;default:'total'"` // total, daily, weekly or monthly.
	TokenLimit  int64   `gorm:"not null;default:0"`                        // Token cap for the period.
	CostLimit   float64 `gorm:"type:decimal(20,10);not null;default:0"`    // Cost cap for the period.

	TokenUsed int64   `gorm:"not null;default:0"`                     // Tokens consumed in the period.
	CostUsed  float64 `gorm:"type:decimal(20,10);not null;default:0"` // Cost consumed in the period.

	AllowedModels datatypes.JSONSlice[string] `gorm:"type:json"` // Allowed model ids, empty means all enabled.

	LastResetAt time.Time `gorm:"not null"`                 // Start of the current period.
	CreatedAt   time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt   time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// ValidLimitType reports whether v is a known limit type.
func ValidLimitType(v string) bool {
	return v == LimitTypeNone || v == LimitTypeToken || v == LimitTypeCost
}

// ValidLimitPeriod reports whether v is a known limit period.
func ValidLimitPeriod(v string) bool {
	switch v {
	case LimitPeriodTotal, LimitPeriodDaily, LimitPeriodWeekly, LimitPeriodMonthly:
		return true
	default:
		return false
	}
}

// DefaultPermission returns an unlimited permission row for userID.
func DefaultPermission(userID uint64, now time.Time) UserPermission {
	return UserPermission{
		UserID:      userID,
		LimitType:   LimitTypeNone,
		LimitPeriod: LimitPeriodTotal,
		LastResetAt: now,
	}
}
