package models

import "time"

// Pricing types for Model.PricingType.
const (
	PricingTypeToken = "token"
	PricingTypeUsage = "usage"
)

// Model is a chat model served by a Provider.
type Model struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ProviderID uint64    `gorm:"not null;index;uniqueIndex:idx_models_provider_model"` // Owning provider.
	Provider   *Provider `gorm:"foreignKey:ProviderID"`                                // Owning provider record.

	ModelID   string `gorm:"type:text;not null;uniqueIndex:idx_models_provider_model"` // Upstream model name.
	Name      string `gorm:"type:text;not null"`                                       // Display name.
	IsEnabled bool   `gorm:"not null"`                                                 // Whether users may chat with it.
	SortOrder int    `gorm:"not null;default:0"`                                       // Display order.

	MaxTokens        *int     // Default max_tokens.
	Temperature      *float64 // Default temperature.
	TopP             *float64 // Default top_p.
	FrequencyPenalty *float64 // Default frequency_penalty.
	PresencePenalty  *float64 // Default presence_penalty.

	PricingType string  `gorm:"type:varchar(16);not null;default:'token'"` // token or usage.
	InputPrice  float64 `gorm:"type:decimal(20,10);not null;default:0"`    // USD per million prompt tokens.
	OutputPrice float64 `gorm:"type:decimal(20,10);not null;default:0"`    // USD per million completion tokens.
	UsagePrice  float64 `gorm:"type:decimal(20,10);not null;default:0"`    // USD per call for usage pricing.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
