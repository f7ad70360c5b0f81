package models

import "time"

// UserSettings stores per-user UI preferences.
type UserSettings struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;uniqueIndex"` // Owning user.

	Theme          string  `gorm:"type:varchar(16);not null;default:'system'"` // light, dark or system.
	Language       string  `gorm:"type:varchar(16);not null;default:'en'"`     // UI language.
	DefaultModelID *uint64 `gorm:"index"`                                      // Preferred model.
	SystemPrompt   string  `gorm:"type:text"`                                  // Prompt prepended to new conversations.
	StreamEnabled  bool    `gorm:"not null"`                                   // Whether chat requests stream by default.

	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
