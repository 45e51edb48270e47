package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/llmgateway/gateway/internal/metrics"
	"github.com/llmgateway/gateway/internal/tenant"
)

// Reservation records one dimension's provisional sample so it can later
// be released (on rollback) or reconciled (cost dimensions, post-success).
type Reservation struct {
	Dimension Dimension
	Key       string
	Member    string
}

// DimensionOutcome is the per-dimension breakout carried in a Decision, for
// both telemetry and the X-RateLimit-* response headers.
type DimensionOutcome struct {
	Dimension Dimension
	Limit     *float64
	Used      float64
	Allowed   bool
	ResetAt   time.Time
}

// Decision is the result of Admit: either every evaluated dimension fit
// under its limit, or the first one that did not determines RetryAfter.
// InfraError distinguishes "both the distributed and local tiers failed to
// even answer" from a genuine over-limit rejection: the admission policy
// fails closed either way (never fail-open on a limiter that can't be
// consulted), but the two causes map to different error kinds downstream
// (DistributedTierError vs RateLimitExceeded).
type Decision struct {
	Allowed      bool
	Rejected     Dimension
	RetryAfter   time.Duration
	InfraError   bool
	Outcomes     []DimensionOutcome
	reservations []Reservation
}

// Limiter evaluates the six sliding-window dimensions for a tenant,
// preferring the distributed store and falling back to the local one when
// the distributed tier is unreachable. A fallback never silently relaxes
// limits: the same Limits and the same algorithm run against local state.
type Limiter struct {
	distributed Store
	local       *LocalStore
	logger      *zap.Logger
	tierLimits  TierDefaults
}

func New(distributed Store, local *LocalStore, tierLimits TierDefaults, logger *zap.Logger) *Limiter {
	if tierLimits == nil {
		tierLimits = DefaultTierLimits()
	}
	return &Limiter{distributed: distributed, local: local, tierLimits: tierLimits, logger: logger}
}

func keyFor(tenantID string, d Dimension) string {
	return fmt.Sprintf("ratelimit:%s:%s", tenantID, d)
}

func (l *Limiter) reserve(ctx context.Context, key string, now time.Time, d Dimension, amount, limit float64) (ReserveResult, error) {
	if l.distributed != nil {
		res, err := l.distributed.Reserve(ctx, key, now, d.Window(), amount, limit, d.IsCost())
		if err == nil {
			return res, nil
		}
		l.logger.Warn("ratelimit: distributed store unreachable, falling back to local tier",
			zap.String("key", key), zap.Error(err))
	}
	return l.local.Reserve(ctx, key, now, d.Window(), amount, limit, d.IsCost())
}

func (l *Limiter) release(ctx context.Context, key, member string) {
	if l.distributed != nil {
		if err := l.distributed.Release(ctx, key, member); err == nil {
			return
		}
	}
	_ = l.local.Release(ctx, key, member)
}

// Admit evaluates all request dimensions (always, amount=1) and, if
// estimatedCost > 0, the cost dimensions (amount=estimatedCost), each in
// minute/hour/day order. The first dimension whose effective usage would
// exceed its limit causes rejection: every reservation already made during
// this call — across every dimension, not just the failing one — is rolled
// back before Admit returns, so a rejected request mutates no counter.
func (l *Limiter) Admit(ctx context.Context, t tenant.Tenant, estimatedCost float64) Decision {
	limits := Resolve(l.tierLimits, t)
	now := time.Now()
	decision := Decision{Allowed: true}

	checkDim := func(d Dimension, amount float64) bool {
		limit := limits.forDimension(d)
		if limit == nil {
			return true
		}

		key := keyFor(t.ID, d)
		res, err := l.reserve(ctx, key, now, d, amount, *limit)
		if err != nil {
			l.logger.Error("ratelimit: reserve failed on both tiers, admitting by fail-open default is not permitted; rejecting",
				zap.String("key", key), zap.Error(err))
			decision.Allowed = false
			decision.Rejected = d
			decision.InfraError = true
			return false
		}

		decision.Outcomes = append(decision.Outcomes, DimensionOutcome{Dimension: d, Limit: limit, Used: res.EffectiveUsage, Allowed: res.Allowed, ResetAt: res.ResetAt})

		if !res.Allowed {
			metrics.LimiterDecisionsTotal.WithLabelValues(string(d), "rejected").Inc()
			decision.Allowed = false
			decision.Rejected = d
			decision.RetryAfter = res.RetryAfter
			return false
		}
		metrics.LimiterDecisionsTotal.WithLabelValues(string(d), "allowed").Inc()

		decision.reservations = append(decision.reservations, Reservation{Dimension: d, Key: key, Member: res.Member})
		return true
	}

	for _, d := range RequestDimensions {
		if !checkDim(d, 1) {
			l.rollback(ctx, decision.reservations)
			decision.reservations = nil
			return decision
		}
	}

	if estimatedCost > 0 {
		for _, d := range CostDimensions {
			if !checkDim(d, estimatedCost) {
				l.rollback(ctx, decision.reservations)
				decision.reservations = nil
				return decision
			}
		}
	}

	return decision
}

func (l *Limiter) rollback(ctx context.Context, reservations []Reservation) {
	for _, r := range reservations {
		l.release(ctx, r.Key, r.Member)
	}
}

// Reconcile corrects the three cost dimensions from the admission-time
// estimate to the actual cost now known from the provider response. It
// releases each estimate sample and re-adds one carrying actualCost, a
// best-effort operation: a dimension at its unlimited tier (no reservation
// was made) is skipped, and failures are logged but never surfaced, per the
// degraded-limiter rule that counters never block the already-sent
// response.
func (l *Limiter) Reconcile(ctx context.Context, t tenant.Tenant, decision Decision, actualCost float64) {
	limits := Resolve(l.tierLimits, t)
	now := time.Now()

	for _, r := range decision.reservations {
		if !r.Dimension.IsCost() {
			continue
		}
		l.release(ctx, r.Key, r.Member)

		limit := limits.forDimension(r.Dimension)
		if limit == nil {
			continue
		}
		if _, err := l.reserve(ctx, r.Key, now, r.Dimension, actualCost, math.Inf(1)); err != nil {
			l.logger.Warn("ratelimit: cost reconcile failed", zap.String("key", r.Key), zap.Error(err))
		}
	}
}
