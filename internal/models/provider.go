package models

import "time"

// Provider is an upstream OpenAI-compatible API endpoint.
type Provider struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name      string `gorm:"type:text;not null;uniqueIndex"` // Display name.
	BaseURL   string `gorm:"type:text;not null"`             // API base URL, e.g. https://api.openai.com/v1.
	APIKey    string `gorm:"type:text;not null"`             // API key, encrypted when a key is configured.
	IsEnabled bool   `gorm:"not null"`                       // Whether requests may be routed here.
	SortOrder int    `gorm:"not null;default:0"`             // Display order.

	Models []Model `gorm:"foreignKey:ProviderID"` // Models served by the provider.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
