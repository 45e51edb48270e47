// Package retry is the single retry executor every provider driver shares,
// consolidating what used to be ad-hoc per-provider backoff loops into one
// parameterized implementation.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Policy parameterizes the backoff schedule: delay(attempt) =
// min(MaxDelay, InitialDelay * Multiplier^attempt); with Jitter, up to 30%
// of that delay is added and the total wait is still capped at MaxDelay.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// DefaultPolicy matches the provider driver's §4.7 default: 3 attempts,
// 1s initial delay, 30s cap, 2x multiplier, jitter on.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Func is a single retryable attempt.
type Func func(ctx context.Context, attempt int) error

// Classifier decides whether an error returned by Func is worth retrying.
type Classifier func(error) bool

// Result reports how many attempts an operation took.
type Result struct {
	Attempts int
	Err      error
}

// Do runs fn up to policy.MaxAttempts times, sleeping with exponential
// backoff between attempts whose error satisfies isRetryable. It returns as
// soon as fn succeeds, the context is cancelled, or the retry budget is
// exhausted.
func Do(ctx context.Context, policy Policy, fn Func, isRetryable Classifier) Result {
	var lastErr error
	delay := policy.InitialDelay

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return Result{Attempts: attempt, Err: nil}
		}
		lastErr = err

		if attempt == policy.MaxAttempts {
			break
		}
		if isRetryable != nil && !isRetryable(err) {
			return Result{Attempts: attempt, Err: lastErr}
		}

		wait := delay
		if policy.Jitter {
			wait += time.Duration(rand.Float64() * 0.3 * float64(delay))
		}
		if wait > policy.MaxDelay {
			wait = policy.MaxDelay
		}

		select {
		case <-ctx.Done():
			return Result{Attempts: attempt, Err: ctx.Err()}
		case <-time.After(wait):
		}

		delay = time.Duration(math.Min(float64(policy.MaxDelay), float64(delay)*policy.Multiplier))
	}

	return Result{Attempts: policy.MaxAttempts, Err: lastErr}
}

// IsTimeoutOrCanceled classifies context-level failures as retryable,
// matching §4.7's "error kind ∈ {timeout, network}" retry trigger.
func IsTimeoutOrCanceled(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
