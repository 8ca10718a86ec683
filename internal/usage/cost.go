package usage

import "strings"

// ModelRate is the per-million-token price for a model, mirroring the
// Cost shape above but keyed by exact model name for the
// CostCalculator pure function: (model, input_tokens,
// output_tokens) -> usd.
type ModelRate struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// defaultRates carries known per-model pricing. Prefixes are matched
// longest-first so "gpt-5-mini" doesn't fall through to the bare
// "gpt-5" rate. Unknown models fall back to fallbackRate.
var defaultRates = map[string]ModelRate{
	"gpt-5":          {InputPerMillion: 5.00, OutputPerMillion: 15.00},
	"gpt-5-mini":     {InputPerMillion: 0.25, OutputPerMillion: 2.00},
	"gpt-5-nano":     {InputPerMillion: 0.05, OutputPerMillion: 0.40},
	"gpt-4.1":        {InputPerMillion: 2.00, OutputPerMillion: 8.00},
	"gpt-4.1-mini":   {InputPerMillion: 0.40, OutputPerMillion: 1.60},
	"gpt-4o":         {InputPerMillion: 2.50, OutputPerMillion: 10.00},
	"gpt-4o-mini":    {InputPerMillion: 0.15, OutputPerMillion: 0.60},
	"o1":             {InputPerMillion: 15.00, OutputPerMillion: 60.00},
	"o3":             {InputPerMillion: 2.00, OutputPerMillion: 8.00},
	"o3-mini":        {InputPerMillion: 1.10, OutputPerMillion: 4.40},
	"o4-mini":        {InputPerMillion: 1.10, OutputPerMillion: 4.40},
	"computer-use-preview": {InputPerMillion: 3.00, OutputPerMillion: 12.00},
	"gpt-image-1":    {InputPerMillion: 5.00, OutputPerMillion: 40.00},
	"gpt-image-1.5":  {InputPerMillion: 5.00, OutputPerMillion: 40.00},
}

var fallbackRate = ModelRate{InputPerMillion: 2.00, OutputPerMillion: 8.00}

// Calculator is the CostCalculator contract: a
// pure function from (model, input tokens, output tokens) to USD.
type Calculator struct {
	rates map[string]ModelRate
}

// NewCalculator builds a Calculator seeded with the known default rate
// table. Callers may override or add model rates via SetRate.
func NewCalculator() *Calculator {
	rates := make(map[string]ModelRate, len(defaultRates))
	for k, v := range defaultRates {
		rates[k] = v
	}
	return &Calculator{rates: rates}
}

// SetRate installs or overrides a model's per-million-token pricing.
func (c *Calculator) SetRate(model string, rate ModelRate) {
	c.rates[model] = rate
}

// rateFor resolves a model name to its rate, matching the longest
// known prefix so versioned/dated model names (e.g.
// "gpt-5-2025-08-01") still price against their family.
func (c *Calculator) rateFor(model string) ModelRate {
	model = strings.ToLower(strings.TrimSpace(model))
	if rate, ok := c.rates[model]; ok {
		return rate
	}
	best := ""
	for name := range c.rates {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
		}
	}
	if best != "" {
		return c.rates[best]
	}
	return fallbackRate
}

// Calculate computes the USD cost of a call: pure multiplication of
// known per-model rates by token counts, nothing fancier.
func (c *Calculator) Calculate(model string, inputTokens, outputTokens int) float64 {
	rate := c.rateFor(model)
	cost := float64(inputTokens)*rate.InputPerMillion/1_000_000 +
		float64(outputTokens)*rate.OutputPerMillion/1_000_000
	return cost
}
