// Package metrics is the process-wide Prometheus collector set, scraped
// externally at /metrics. It carries no dashboard and no alerting config
// (both Non-goals) — just the counters/histograms the concurrency model's
// "spawned tasks with their own... metrics for drop/error counts" and the
// pipeline's per-state design call for.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgateway_http_requests_total",
			Help: "Total HTTP requests handled by the gateway.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llmgateway_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	PipelineStateDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llmgateway_pipeline_state_duration_seconds",
			Help:    "Time spent in each request pipeline state.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"state"},
	)

	LimiterDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgateway_limiter_decisions_total",
			Help: "Rate/cost limiter admission decisions by dimension and outcome.",
		},
		[]string{"dimension", "outcome"}, // outcome: allowed, rejected
	)

	CacheResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgateway_auth_cache_results_total",
			Help: "Auth cache lookups by tier and result.",
		},
		[]string{"tier", "result"}, // tier: distributed, local; result: hit, miss
	)

	ProviderCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgateway_provider_calls_total",
			Help: "Provider driver calls by provider and final HTTP status.",
		},
		[]string{"provider", "status"},
	)

	ProviderCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llmgateway_provider_call_duration_seconds",
			Help:    "Provider driver call latency, including retries.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"provider"},
	)

	ProviderRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgateway_provider_retries_total",
			Help: "Retry attempts issued by the provider driver.",
		},
		[]string{"provider"},
	)

	FireAndForgetFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgateway_fire_and_forget_failures_total",
			Help: "Failures in spawned, non-blocking tasks (telemetry, usage cost tick).",
		},
		[]string{"task"},
	)
)
