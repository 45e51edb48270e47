package providers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/llmgateway/gateway/internal/apierror"
	"github.com/llmgateway/gateway/internal/metrics"
	"github.com/llmgateway/gateway/internal/retry"
	"github.com/llmgateway/gateway/pkg/circuitbreaker"
)

// circuitThreshold and circuitCooldown bound how much retry pressure a
// single misbehaving provider can absorb before the driver stops trying
// it on behalf of every tenant for a while.
const (
	circuitThreshold = 5
	circuitCooldown  = 30 * time.Second
)

// Result is what the driver call yields: the raw provider response body,
// returned to the client unaltered whether it's a single JSON document or
// an SSE stream, parsed usage, and retry/latency bookkeeping for
// telemetry. UsageUnknown is set for stream:true requests, where Usage is
// left zero rather than parsed out of SSE framing.
type Result struct {
	StatusCode   int
	Body         []byte
	Usage        Usage
	UsageUnknown bool
	Retries      int
	LatencyMS    int64
}

// Driver executes calls against a provider's Config, retrying according
// to the provider's own policy and retryable-status set.
type Driver struct {
	client   *http.Client
	logger   *zap.Logger
	breakers *circuitbreaker.Manager
}

func NewDriver(logger *zap.Logger) *Driver {
	return &Driver{
		client:   &http.Client{},
		logger:   logger,
		breakers: circuitbreaker.NewManager(circuitThreshold, circuitCooldown),
	}
}

// Call sends req to cfg's chat endpoint using secret as the provider
// credential, retrying on the provider's retryable statuses and on
// timeout/network errors, up to cfg.RetryPolicy.MaxAttempts. A provider
// with too many consecutive failures trips its breaker and fails fast
// for every tenant until the cooldown elapses. req.Stream requests are
// relayed byte-for-byte; see Result.UsageUnknown.
func (d *Driver) Call(ctx context.Context, cfg Config, secret string, req ChatRequest) (*Result, *apierror.Error) {
	if d.breakers.IsOpen(cfg.Name) {
		metrics.ProviderCallsTotal.WithLabelValues(cfg.Name, "circuit_open").Inc()
		return nil, apierror.New(apierror.UpstreamError, fmt.Sprintf("provider %s is temporarily unavailable", cfg.Name))
	}

	start := time.Now()

	wireBody, err := cfg.Transformer.TransformRequest(req)
	if err != nil {
		return nil, apierror.Wrap(apierror.UpstreamError, "request transform failed", err)
	}

	url := cfg.BaseURL + strings.ReplaceAll(cfg.ChatPath, "{model}", req.Model)

	var result *Result
	var lastKind apierror.Kind

	res := retry.Do(ctx, cfg.RetryPolicy, func(ctx context.Context, attempt int) error {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
			defer cancel()
		}
		httpReq, buildErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(wireBody))
		if buildErr != nil {
			return buildErr
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set(cfg.AuthHeader, cfg.AuthPrefix+secret)
		for k, v := range cfg.ExtraHeaders {
			httpReq.Header.Set(k, v)
		}

		resp, doErr := d.client.Do(httpReq)
		if doErr != nil {
			lastKind = apierror.Timeout
			if !retry.IsTimeoutOrCanceled(doErr) {
				lastKind = apierror.UpstreamError
			}
			return doErr
		}
		defer func() { _ = resp.Body.Close() }()

		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			lastKind = cfg.KindForStatus(resp.StatusCode)
			result = &Result{StatusCode: resp.StatusCode, Body: body}
			if cfg.IsRetryableStatus(resp.StatusCode) {
				return fmt.Errorf("provider %s returned retryable status %d", cfg.Name, resp.StatusCode)
			}
			return nil // terminal failure, not retried, but not an error either: result carries the status
		}

		// A streamed response is SSE framing, not the JSON envelope
		// ExtractUsage expects; re-parsing it here would cost the hot
		// streaming path the allocation- and latency-free passthrough it's
		// meant to have, so usage is left unknown for stream:true calls and
		// reconciled against the pre-call estimate instead.
		if req.Stream {
			result = &Result{StatusCode: resp.StatusCode, Body: body, UsageUnknown: true}
			return nil
		}

		usage, usageErr := cfg.Transformer.ExtractUsage(body)
		if usageErr != nil {
			d.logger.Warn("providers: usage extraction failed", zap.String("provider", cfg.Name), zap.Error(usageErr))
		}
		result = &Result{StatusCode: resp.StatusCode, Body: body, Usage: usage}
		return nil
	}, func(err error) bool {
		return err != nil
	})

	metrics.ProviderCallDuration.WithLabelValues(cfg.Name).Observe(time.Since(start).Seconds())
	if res.Attempts > 1 {
		metrics.ProviderRetriesTotal.WithLabelValues(cfg.Name).Add(float64(res.Attempts - 1))
	}

	if result == nil {
		d.breakers.RecordFailure(cfg.Name)
		metrics.ProviderCallsTotal.WithLabelValues(cfg.Name, "error").Inc()
		return nil, apierror.Wrap(lastKind, fmt.Sprintf("provider %s call failed after %d attempts", cfg.Name, res.Attempts), res.Err)
	}

	result.Retries = res.Attempts - 1
	result.LatencyMS = time.Since(start).Milliseconds()
	metrics.ProviderCallsTotal.WithLabelValues(cfg.Name, strconv.Itoa(result.StatusCode)).Inc()

	if result.StatusCode < 200 || result.StatusCode >= 300 {
		d.breakers.RecordFailure(cfg.Name)
		return result, apierror.New(cfg.KindForStatus(result.StatusCode), fmt.Sprintf("provider %s returned status %d", cfg.Name, result.StatusCode))
	}

	d.breakers.RecordSuccess(cfg.Name)
	return result, nil
}

// BreakerStates reports every provider's circuit breaker state, keyed by
// provider name, for the /status endpoint.
func (d *Driver) BreakerStates() map[string]map[string]any {
	return d.breakers.States()
}
