package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"
)

// Headers builds the X-RateLimit-* response header set: an aggregate
// Limit/Remaining/Reset/Type for the most restrictive dimension Admit
// evaluated, plus the per-dimension breakout
// X-RateLimit-{Requests,Cost}-{Minute,Hour,Day}-{Limit,Remaining,Reset}.
func Headers(d Decision) http.Header {
	h := http.Header{}

	var tightest *DimensionOutcome

	for i, o := range d.Outcomes {
		if o.Limit == nil {
			continue
		}
		remaining := *o.Limit - o.Used
		if remaining < 0 {
			remaining = 0
		}

		family := "Requests"
		if o.Dimension.IsCost() {
			family = "Cost"
		}
		prefix := fmt.Sprintf("X-RateLimit-%s-%s", family, o.Dimension.Period())
		h.Set(prefix+"-Limit", formatLimit(*o.Limit))
		h.Set(prefix+"-Remaining", formatLimit(remaining))
		h.Set(prefix+"-Reset", formatReset(o))

		if tightest == nil || remaining < *tightest.Limit-tightest.Used {
			outcome := d.Outcomes[i]
			tightest = &outcome
		}
	}

	if tightest != nil {
		remaining := *tightest.Limit - tightest.Used
		if remaining < 0 {
			remaining = 0
		}
		h.Set("X-RateLimit-Limit", formatLimit(*tightest.Limit))
		h.Set("X-RateLimit-Remaining", formatLimit(remaining))
		h.Set("X-RateLimit-Reset", formatReset(*tightest))
		h.Set("X-RateLimit-Type", string(tightest.Dimension))
	}

	if !d.Allowed {
		h.Set("X-RateLimit-Exceeded", string(d.Rejected))
		if d.RetryAfter > 0 {
			h.Set("Retry-After", fmt.Sprintf("%d", int(d.RetryAfter.Seconds()+0.999)))
		}
	}

	return h
}

func formatReset(o DimensionOutcome) string {
	if o.ResetAt.IsZero() {
		return "0"
	}
	return strconv.FormatInt(o.ResetAt.Unix(), 10)
}

func formatLimit(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.6f", v)
}
