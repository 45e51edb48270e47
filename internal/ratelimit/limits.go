package ratelimit

import "github.com/llmgateway/gateway/internal/tenant"

// Limits holds the resolved per-dimension ceilings for one tenant. A nil
// field means that dimension is unlimited and is skipped during admission.
type Limits struct {
	RequestsPerMinute *float64
	RequestsPerHour   *float64
	RequestsPerDay    *float64
	CostPerMinute     *float64
	CostPerHour       *float64
	CostPerDay        *float64
}

func (l Limits) forDimension(d Dimension) *float64 {
	switch d {
	case DimRequestsPerMinute:
		return l.RequestsPerMinute
	case DimRequestsPerHour:
		return l.RequestsPerHour
	case DimRequestsPerDay:
		return l.RequestsPerDay
	case DimCostPerMinute:
		return l.CostPerMinute
	case DimCostPerHour:
		return l.CostPerHour
	case DimCostPerDay:
		return l.CostPerDay
	default:
		return nil
	}
}

// TierDefaults is the static per-tier baseline, overridden by tenant-level
// overrides when present.
type TierDefaults map[tenant.Tier]Limits

func f(v float64) *float64 { return &v }

// DefaultTierLimits is the built-in baseline New uses when it is given a
// nil tier table.
func DefaultTierLimits() TierDefaults {
	return TierDefaults{
		tenant.TierFree:         {RequestsPerMinute: f(20), RequestsPerHour: f(200), RequestsPerDay: f(1000), CostPerDay: f(1)},
		tenant.TierStarter:      {RequestsPerMinute: f(120), RequestsPerHour: f(3000), RequestsPerDay: f(50000), CostPerDay: f(25)},
		tenant.TierProfessional: {RequestsPerMinute: f(600), RequestsPerHour: f(20000), RequestsPerDay: f(300000), CostPerDay: f(250)},
		tenant.TierEnterprise:   {RequestsPerMinute: nil, RequestsPerHour: nil, RequestsPerDay: nil, CostPerDay: nil},
	}
}

// Resolve computes the effective Limits for t: tier baseline, then any
// explicit per-tenant overrides layered on top field by field.
func Resolve(defaults TierDefaults, t tenant.Tenant) Limits {
	base := defaults[t.Tier]

	if t.RateLimitOverrides != nil {
		if t.RateLimitOverrides.PerMinute != nil {
			base.RequestsPerMinute = t.RateLimitOverrides.PerMinute
		}
		if t.RateLimitOverrides.PerHour != nil {
			base.RequestsPerHour = t.RateLimitOverrides.PerHour
		}
		if t.RateLimitOverrides.PerDay != nil {
			base.RequestsPerDay = t.RateLimitOverrides.PerDay
		}
	}

	if t.CostLimitOverrides != nil {
		if t.CostLimitOverrides.PerMinute != nil {
			base.CostPerMinute = t.CostLimitOverrides.PerMinute
		}
		if t.CostLimitOverrides.PerHour != nil {
			base.CostPerHour = t.CostLimitOverrides.PerHour
		}
		if t.CostLimitOverrides.PerDay != nil {
			base.CostPerDay = t.CostLimitOverrides.PerDay
		}
	}

	return base
}
