// Package usage tracks token usage, estimates cost per model invocation, and
// enforces configurable daily and monthly spending limits.
package usage

// Pricing holds per-1K-token USD rates for a model.
type Pricing struct {
	InputPer1K  float64 `yaml:"input_per_1k" json:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k" json:"output_per_1k"`
}

// Cost computes the estimated USD cost for a token count pair.
func (p Pricing) Cost(inputTokens, outputTokens int64) float64 {
	return float64(inputTokens)/1000*p.InputPer1K +
		float64(outputTokens)/1000*p.OutputPer1K
}

// DefaultModel is the pricing fallback for unknown models.
const DefaultModel = "claude-sonnet-4"

// DefaultPricing returns the built-in pricing table. Rates are
// configuration data and may be overridden from the config file.
func DefaultPricing() map[string]Pricing {
	return map[string]Pricing{
		"claude-sonnet-4":   {InputPer1K: 0.003, OutputPer1K: 0.015},
		"claude-haiku-3-5":  {InputPer1K: 0.0008, OutputPer1K: 0.004},
		"claude-opus-4":     {InputPer1K: 0.015, OutputPer1K: 0.075},
	}
}

// PriceFor returns the pricing for a model, falling back to DefaultModel
// when the model is unknown.
func PriceFor(table map[string]Pricing, model string) Pricing {
	if p, ok := table[model]; ok {
		return p
	}
	return table[DefaultModel]
}
