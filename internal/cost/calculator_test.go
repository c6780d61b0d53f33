package cost

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/digest-engine/internal/config"
	"github.com/sells-group/digest-engine/internal/model"
)

func testRates() Rates {
	return Rates{
		"haiku": {
			Input: 1.00, Output: 5.00,
			BatchDiscount: 0.5, CacheWriteMul: 1.25, CacheReadMul: 0.1,
		},
		"sonnet": {
			Input: 3.00, Output: 15.00,
			BatchDiscount: 0.5, CacheWriteMul: 1.25, CacheReadMul: 0.1,
		},
	}
}

func TestClaude(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())

	tests := []struct {
		name    string
		model   string
		isBatch bool
		usage   model.TokenUsage
		want    float64
	}{
		{"haiku input only", "haiku", false, model.TokenUsage{InputTokens: 1_000_000}, 1.00},
		{"sonnet in and out", "sonnet", false, model.TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}, 18.00},
		{"batch halves cost", "sonnet", true, model.TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}, 9.00},
		{"cache write and read", "haiku", false, model.TokenUsage{CacheCreationTokens: 1_000_000, CacheReadTokens: 1_000_000}, 1.25 + 0.1},
		{"unknown model", "gpt", false, model.TokenUsage{InputTokens: 1_000_000}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, calc.Claude(tt.model, tt.isBatch, tt.usage), 1e-9)
		})
	}
}

func TestRatesFromConfig(t *testing.T) {
	t.Parallel()

	rates := RatesFromConfig(config.PricingConfig{Anthropic: map[string]config.ModelPricing{
		"custom": {Input: 2, Output: 4},
	}})
	assert.Contains(t, rates, "custom")
	assert.Contains(t, rates, "claude-sonnet-4-5-20250929")
	assert.InDelta(t, 2.0, rates["custom"].Input, 1e-9)
}

func TestTracker(t *testing.T) {
	t.Parallel()

	tr := NewTracker(NewCalculator(testRates()), 1.5)
	assert.False(t, tr.Exhausted())

	priced := tr.Record("screen", "haiku", false, model.TokenUsage{InputTokens: 1_000_000})
	assert.InDelta(t, 1.0, priced.Cost, 1e-9)
	tr.Record("final", "haiku", false, model.TokenUsage{OutputTokens: 200_000})

	assert.InDelta(t, 2.0, tr.Spent(), 1e-9)
	assert.True(t, tr.Exhausted())
	assert.Equal(t, 1_000_000, tr.Phase("screen").InputTokens)
	assert.Equal(t, 1_200_000, tr.Total().Total())
}

func TestTracker_UnlimitedAndConcurrent(t *testing.T) {
	t.Parallel()

	tr := NewTracker(NewCalculator(testRates()), 0)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Record("screen", "sonnet", false, model.TokenUsage{InputTokens: 1000})
		}()
	}
	wg.Wait()

	assert.False(t, tr.Exhausted())
	assert.Equal(t, 50_000, tr.Phase("screen").InputTokens)
}
