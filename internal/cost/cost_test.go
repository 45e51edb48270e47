package cost

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmgateway/gateway/internal/registry"
)

func newTestCalculator(minimumCost float64) *Calculator {
	reg := registry.New([]registry.Entry{
		{ModelID: "gpt-4o-mini", Provider: "openai", InputPricePer1K: 0.00015, OutputPricePer1K: 0.0006, Currency: "USD", ContextWindow: 128000},
		{ModelID: "gpt-4o", Provider: "openai", InputPricePer1K: 0.005, OutputPricePer1K: 0.015, Currency: "USD", ContextWindow: 128000},
	}, nil)
	return New(reg, minimumCost)
}

// Seed scenario 6: usage=(1,1) on gpt-4o-mini with rates (0.00015, 0.0006)
// -> total_cost = 0.00000075, which rounds to 0.000001.
func TestCalculate_SeedScenario6Rounding(t *testing.T) {
	c := newTestCalculator(0)
	result := c.Calculate("openai", "gpt-4o-mini", Usage{InputTokens: 1, OutputTokens: 1})

	assert.InDelta(t, 0.000001, result.TotalCost, 1e-9)
}

func TestCalculate_CostFormula(t *testing.T) {
	c := newTestCalculator(0)
	result := c.Calculate("openai", "gpt-4o", Usage{InputTokens: 1000, OutputTokens: 1000})

	assert.InDelta(t, 0.005, result.InputCost, 1e-9)
	assert.InDelta(t, 0.015, result.OutputCost, 1e-9)
	assert.InDelta(t, 0.02, result.TotalCost, 1e-9)
}

func TestCalculate_ReportedTotalWithinTolerance(t *testing.T) {
	c := newTestCalculator(0)
	inputTokens, outputTokens := 12345, 6789
	result := c.Calculate("openai", "gpt-4o", Usage{InputTokens: inputTokens, OutputTokens: outputTokens})

	expected := float64(inputTokens)/1000*0.005 + float64(outputTokens)/1000*0.015
	assert.LessOrEqual(t, math.Abs(result.TotalCost-expected), 1e-6)
}

func TestCalculate_MinimumCostFloor(t *testing.T) {
	c := newTestCalculator(0.01)
	result := c.Calculate("openai", "gpt-4o-mini", Usage{InputTokens: 1, OutputTokens: 1})

	assert.InDelta(t, 0.01, result.TotalCost, 1e-9)
}

func TestCalculate_PricingMonotone(t *testing.T) {
	c := newTestCalculator(0)

	lower := c.Calculate("openai", "gpt-4o", Usage{InputTokens: 10, OutputTokens: 10})
	higher := c.Calculate("openai", "gpt-4o", Usage{InputTokens: 20, OutputTokens: 20})

	assert.LessOrEqual(t, lower.TotalCost, higher.TotalCost)
}

func TestEstimate_KnownModel(t *testing.T) {
	c := newTestCalculator(0)
	est := c.Estimate("openai", "gpt-4o", "hello world this is a test prompt", 0)

	require.Equal(t, 150, est.EstimatedOutputTokens)
	assert.Equal(t, 0.7, est.Confidence)
	assert.Greater(t, est.EstimatedCost, 0.0)
}

func TestEstimate_UnknownModelZeroConfidence(t *testing.T) {
	c := newTestCalculator(0)
	est := c.Estimate("openai", "does-not-exist", "hello", 0)

	assert.Equal(t, 0.0, est.Confidence)
	assert.Equal(t, 0.0, est.EstimatedCost)
}

func TestHeaders_BasicFields(t *testing.T) {
	c := newTestCalculator(0)
	result := c.Calculate("openai", "gpt-4o", Usage{InputTokens: 1, OutputTokens: 1})

	h := Headers(result, 1.23, nil)
	assert.Equal(t, "USD", h.Get("X-Cost-Currency"))
	assert.NotEmpty(t, h.Get("X-Cost-Total"))
	assert.Equal(t, "1.230000", h.Get("X-Cost-Monthly-Total"))
	assert.Empty(t, h.Get("X-Cost-Monthly-Limit"))
}

func TestHeaders_WithQuotas(t *testing.T) {
	c := newTestCalculator(0)
	result := c.Calculate("openai", "gpt-4o", Usage{InputTokens: 1, OutputTokens: 1})

	monthly := 100.0
	daily := 10.0
	h := Headers(result, 5, &Quotas{MonthlyLimit: &monthly, DailyLimit: &daily})

	assert.Equal(t, "100.000000", h.Get("X-Cost-Monthly-Limit"))
	assert.Equal(t, "95.000000", h.Get("X-Cost-Monthly-Remaining"))
	assert.Equal(t, "10.000000", h.Get("X-Cost-Daily-Limit"))
}

func TestEfficiency(t *testing.T) {
	c := newTestCalculator(0)
	eff := c.Efficiency("openai", "gpt-4o")
	assert.Greater(t, eff, 0)
}
