package models

import (
	"time"

	"gorm.io/gorm"
)

// TokenUsage is one billable chat exchange.
type TokenUsage struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID       uint64  `gorm:"not null;index:idx_token_usages_user_created,priority:1"` // Account charged.
	SourceUserID *uint64 `gorm:"index"`                                                   // Guest whose traffic this row mirrors.
	ProviderID   uint64  `gorm:"not null;index"`                                          // Provider used.
	ModelID      uint64  `gorm:"not null;index"`                                          // Model used, 0 when unknown.
	ModelName    string  `gorm:"type:text;not null"`                                      // Upstream model name.
	RequestID    string  `gorm:"type:varchar(64);index"`                                  // Request id of the chat call.

	PromptTokens     int64 `gorm:"not null;default:0"`     // Prompt token count.
	CompletionTokens int64 `gorm:"not null;default:0"`     // Completion token count.
	TotalTokens      int64 `gorm:"not null;default:0"`     // Prompt plus completion.
	IsEstimated      bool  `gorm:"not null;default:false"` // Counts came from the local estimator.

	Cost float64 `gorm:"type:decimal(20,10);not null;default:0"` // Computed cost in USD.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index:idx_token_usages_user_created,priority:2"` // Creation timestamp.
}

// BeforeSave keeps TotalTokens consistent with its parts.
func (u *TokenUsage) BeforeSave(tx *gorm.DB) error {
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return nil
}
