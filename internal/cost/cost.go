// Package cost turns token usage into monetary cost against the model
// registry's price table, emits the response headers that carry cost
// information back to the caller, and provides a pre-call estimator.
package cost

import (
	"fmt"
	"math"
	"net/http"

	"github.com/llmgateway/gateway/internal/registry"
)

// Usage is the token count pair a provider response yields.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Result is a computed cost, ready to be written to response headers and
// telemetry.
type Result struct {
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	InputCost    float64
	OutputCost   float64
	TotalCost    float64
	Currency     string
	InputRate    float64
	OutputRate   float64
}

// Estimate is the pre-call cost projection used for admission checks before
// the provider has actually been called.
type Estimate struct {
	Provider           string
	Model              string
	EstimatedInputTokens  int
	EstimatedOutputTokens int
	EstimatedCost      float64
	Confidence         float64
}

// Calculator computes cost against a registry and an optional minimum-cost
// floor.
type Calculator struct {
	registry    *registry.Registry
	minimumCost float64
}

func New(reg *registry.Registry, minimumCost float64) *Calculator {
	return &Calculator{registry: reg, minimumCost: minimumCost}
}

// Estimate projects the cost of a not-yet-sent request. Token estimation is
// ⌈len(inputText)/4⌉; expectedOutputTokens defaults to 150 when 0 is passed.
func (c *Calculator) Estimate(provider, model, inputText string, expectedOutputTokens int) Estimate {
	if expectedOutputTokens <= 0 {
		expectedOutputTokens = 150
	}
	inputTokens := int(math.Ceil(float64(len(inputText)) / 4.0))

	canonical := c.registry.ResolveAlias(model)
	entry, known := c.registry.Pricing(canonical)

	confidence := 0.0
	estCost := 0.0
	if known {
		confidence = 0.7
		estCost = round6(float64(inputTokens)/1000*entry.InputPricePer1K + float64(expectedOutputTokens)/1000*entry.OutputPricePer1K)
	}

	return Estimate{
		Provider:              provider,
		Model:                 model,
		EstimatedInputTokens:  inputTokens,
		EstimatedOutputTokens: expectedOutputTokens,
		EstimatedCost:         estCost,
		Confidence:            confidence,
	}
}

// Calculate computes actual cost from provider-reported usage.
func (c *Calculator) Calculate(provider, model string, usage Usage) Result {
	canonical := c.registry.ResolveAlias(model)
	entry, _ := c.registry.Pricing(canonical)

	inputCost := float64(usage.InputTokens) / 1000 * entry.InputPricePer1K
	outputCost := float64(usage.OutputTokens) / 1000 * entry.OutputPricePer1K
	total := inputCost + outputCost

	if c.minimumCost > 0 && total < c.minimumCost {
		total = c.minimumCost
	}

	currency := entry.Currency
	if currency == "" {
		currency = "USD"
	}

	return Result{
		Provider:     provider,
		Model:        model,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		InputCost:    round6(inputCost),
		OutputCost:   round6(outputCost),
		TotalCost:    round6(total),
		Currency:     currency,
		InputRate:    entry.InputPricePer1K,
		OutputRate:   entry.OutputPricePer1K,
	}
}

// Quotas carries the optional tenant monthly/daily limits surfaced as
// headers alongside a cost result.
type Quotas struct {
	MonthlyLimit *float64
	DailyLimit   *float64
}

// Headers builds the X-Cost-* response header set for result, given the
// tenant's month-to-date spend and optional quota limits.
func Headers(result Result, tenantMonthlySoFar float64, quotas *Quotas) http.Header {
	h := http.Header{}
	h.Set("X-Cost-Input", formatCost(result.InputCost))
	h.Set("X-Cost-Output", formatCost(result.OutputCost))
	h.Set("X-Cost-Total", formatCost(result.TotalCost))
	h.Set("X-Cost-Currency", result.Currency)
	h.Set("X-Cost-Tokens-Input", fmt.Sprintf("%d", result.InputTokens))
	h.Set("X-Cost-Tokens-Output", fmt.Sprintf("%d", result.OutputTokens))
	h.Set("X-Cost-Rate-Input", fmt.Sprintf("%v", result.InputRate))
	h.Set("X-Cost-Rate-Output", fmt.Sprintf("%v", result.OutputRate))
	h.Set("X-Cost-Monthly-Total", formatCost(tenantMonthlySoFar))

	if quotas != nil {
		if quotas.MonthlyLimit != nil {
			h.Set("X-Cost-Monthly-Limit", formatCost(*quotas.MonthlyLimit))
			remaining := *quotas.MonthlyLimit - tenantMonthlySoFar
			if remaining < 0 {
				remaining = 0
			}
			h.Set("X-Cost-Monthly-Remaining", formatCost(remaining))
		}
		if quotas.DailyLimit != nil {
			h.Set("X-Cost-Daily-Limit", formatCost(*quotas.DailyLimit))
		}
	}

	return h
}

// Efficiency returns a coarse tokens-per-dollar-of-context figure:
// ⌊context_window/1000 / (((input+output)/2)×1000)⌋.
func (c *Calculator) Efficiency(provider, model string) int {
	canonical := c.registry.ResolveAlias(model)
	entry, ok := c.registry.Pricing(canonical)
	if !ok {
		return 0
	}

	avgRatePerThousand := (entry.InputPricePer1K + entry.OutputPricePer1K) / 2 * 1000
	if avgRatePerThousand == 0 {
		return 0
	}

	return int(math.Floor(float64(entry.ContextWindow) / 1000 / avgRatePerThousand))
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

func formatCost(v float64) string {
	return fmt.Sprintf("%.6f", v)
}
