// Package cost prices capability token usage and keeps a running tally per
// job so spend can be capped.
package cost

import (
	"github.com/sells-group/digest-engine/internal/config"
	"github.com/sells-group/digest-engine/internal/model"
)

// ModelRate holds per-model token pricing (USD per million tokens).
type ModelRate struct {
	Input         float64
	Output        float64
	BatchDiscount float64
	CacheWriteMul float64
	CacheReadMul  float64
}

// Rates maps model names to their pricing.
type Rates map[string]ModelRate

// Calculator computes costs for capability usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Claude computes the cost for one Claude call. Unknown models cost zero.
func (c *Calculator) Claude(modelName string, isBatch bool, usage model.TokenUsage) float64 {
	rate, ok := c.rates[modelName]
	if !ok {
		return 0
	}

	mul := 1.0
	if isBatch && rate.BatchDiscount > 0 {
		mul = rate.BatchDiscount
	}

	perTok := func(n int, price float64) float64 {
		return float64(n) / 1e6 * price * mul
	}
	return perTok(usage.InputTokens, rate.Input) +
		perTok(usage.OutputTokens, rate.Output) +
		perTok(usage.CacheCreationTokens, rate.Input*rate.CacheWriteMul) +
		perTok(usage.CacheReadTokens, rate.Input*rate.CacheReadMul)
}

// DefaultRates returns list pricing for the models the engine uses.
func DefaultRates() Rates {
	return Rates{
		"claude-haiku-4-5-20251001": {
			Input: 1.00, Output: 5.00,
			BatchDiscount: 0.5, CacheWriteMul: 1.25, CacheReadMul: 0.1,
		},
		"claude-sonnet-4-5-20250929": {
			Input: 3.00, Output: 15.00,
			BatchDiscount: 0.5, CacheWriteMul: 1.25, CacheReadMul: 0.1,
		},
		"claude-opus-4-6": {
			Input: 15.00, Output: 75.00,
			BatchDiscount: 0.5, CacheWriteMul: 1.25, CacheReadMul: 0.1,
		},
	}
}

// RatesFromConfig overlays configured pricing on the defaults.
func RatesFromConfig(cfg config.PricingConfig) Rates {
	rates := DefaultRates()
	for name, p := range cfg.Anthropic {
		rates[name] = ModelRate{
			Input:         p.Input,
			Output:        p.Output,
			BatchDiscount: p.BatchDiscount,
			CacheWriteMul: p.CacheWriteMul,
			CacheReadMul:  p.CacheReadMul,
		}
	}
	return rates
}
