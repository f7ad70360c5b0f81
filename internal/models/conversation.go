package models

import "time"

// Conversation is a persisted chat thread.
type Conversation struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID  uint64  `gorm:"not null;index"`     // Owning user.
	Title   string  `gorm:"type:text;not null"` // Thread title.
	ModelID *uint64 `gorm:"index"`              // Model last used in the thread.

	Messages []Message `gorm:"foreignKey:ConversationID"` // Messages in order.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// Message is a single turn inside a Conversation.
type Message struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ConversationID uint64 `gorm:"not null;index"`            // Parent conversation.
	Role           string `gorm:"type:varchar(16);not null"` // system, user or assistant.
	Content        string `gorm:"type:text;not null"`        // Message text.
	Tokens         int64  `gorm:"not null;default:0"`        // Token count attributed to the turn.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Creation timestamp.
}
