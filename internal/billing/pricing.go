// Package billing turns token counts into cost.
package billing

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/fimai/fimai-chat/internal/models"
	"gorm.io/gorm"
)

// tokensPerMillion scales per-million prices to per-token.
const tokensPerMillion = 1_000_000

// Pricing is the price configuration applied to one exchange.
type Pricing struct {
	Type        string  // models.PricingTypeToken or models.PricingTypeUsage.
	InputPrice  float64 // USD per million prompt tokens.
	OutputPrice float64 // USD per million completion tokens.
	UsagePrice  float64 // USD per call for usage pricing.
}

// PricingFromModel reads the pricing fields of a model row.
func PricingFromModel(m *models.Model) Pricing {
	return Pricing{
		Type:        m.PricingType,
		InputPrice:  m.InputPrice,
		OutputPrice: m.OutputPrice,
		UsagePrice:  m.UsagePrice,
	}
}

// Cost returns the cost of one exchange. Usage pricing ignores token counts.
func Cost(p Pricing, promptTokens, completionTokens int64) float64 {
	if p.Type == models.PricingTypeUsage {
		return p.UsagePrice
	}
	input := float64(promptTokens) * p.InputPrice / tokensPerMillion
	output := float64(completionTokens) * p.OutputPrice / tokensPerMillion
	return input + output
}

// DefaultPricing applies to model ids missing from the fallback table.
var DefaultPricing = Pricing{Type: models.PricingTypeToken, InputPrice: 2, OutputPrice: 8}

// fallbackPricing is used when no model row can be found, keyed by upstream model id.
var fallbackPricing = map[string]Pricing{
	"gpt-4o":            {Type: models.PricingTypeToken, InputPrice: 2.5, OutputPrice: 10},
	"gpt-4o-mini":       {Type: models.PricingTypeToken, InputPrice: 0.15, OutputPrice: 0.6},
	"gpt-4-turbo":       {Type: models.PricingTypeToken, InputPrice: 10, OutputPrice: 30},
	"gpt-4":             {Type: models.PricingTypeToken, InputPrice: 30, OutputPrice: 60},
	"gpt-3.5-turbo":     {Type: models.PricingTypeToken, InputPrice: 0.5, OutputPrice: 1.5},
	"claude-3-5-sonnet": {Type: models.PricingTypeToken, InputPrice: 3, OutputPrice: 15},
	"claude-3-opus":     {Type: models.PricingTypeToken, InputPrice: 15, OutputPrice: 75},
	"claude-3-haiku":    {Type: models.PricingTypeToken, InputPrice: 0.25, OutputPrice: 1.25},
	"gemini-1.5-pro":    {Type: models.PricingTypeToken, InputPrice: 1.25, OutputPrice: 5},
	"gemini-1.5-flash":  {Type: models.PricingTypeToken, InputPrice: 0.075, OutputPrice: 0.3},
	"deepseek-chat":     {Type: models.PricingTypeToken, InputPrice: 0.27, OutputPrice: 1.1},
}

// fallbackKeys lists fallbackPricing keys, longest first, for prefix matching.
var fallbackKeys = func() []string {
	keys := make([]string, 0, len(fallbackPricing))
	for k := range fallbackPricing {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	return keys
}()

// FallbackPricing returns the built-in pricing for modelName. Dated variants
// such as gpt-4o-2024-08-06 match their base id.
func FallbackPricing(modelName string) Pricing {
	name := strings.ToLower(strings.TrimSpace(modelName))
	if p, ok := fallbackPricing[name]; ok {
		return p
	}
	for _, key := range fallbackKeys {
		if strings.HasPrefix(name, key+"-") {
			return fallbackPricing[key]
		}
	}
	return DefaultPricing
}

// ResolvePricing loads the pricing for a model by row id, then by upstream
// model name, falling back to the built-in table.
func ResolvePricing(ctx context.Context, db *gorm.DB, modelID uint64, modelName string) (Pricing, error) {
	if db == nil {
		return FallbackPricing(modelName), nil
	}
	var row models.Model
	var errFind error
	switch {
	case modelID != 0:
		errFind = db.WithContext(ctx).First(&row, modelID).Error
	case strings.TrimSpace(modelName) != "":
		errFind = db.WithContext(ctx).
			Where("model_id = ?", strings.TrimSpace(modelName)).
			Order("is_enabled DESC, id ASC").
			First(&row).Error
	default:
		return DefaultPricing, nil
	}
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return FallbackPricing(modelName), nil
		}
		return Pricing{}, errFind
	}
	return PricingFromModel(&row), nil
}
