// Package pipeline wires the authenticator, limiter, cost calculator,
// model registry, and provider driver into the single request state
// machine every proxied call passes through: RECEIVED -> AUTHENTICATING
// -> AUTHENTICATED -> ESTIMATING -> LIMIT_CHECK -> ADMITTED ->
// RESOLVING_PROVIDER_CREDENTIAL -> CALLING_PROVIDER -> PARSING -> SCORING
// -> ACCOUNTING -> DONE. It is the sole place an internal error is turned
// into the HTTP error envelope; every component it calls returns
// (value, error) and never writes to the response itself.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/llmgateway/gateway/internal/analytics"
	"github.com/llmgateway/gateway/internal/apierror"
	"github.com/llmgateway/gateway/internal/auth"
	"github.com/llmgateway/gateway/internal/backend"
	"github.com/llmgateway/gateway/internal/cost"
	"github.com/llmgateway/gateway/internal/metrics"
	"github.com/llmgateway/gateway/internal/providers"
	"github.com/llmgateway/gateway/internal/ratelimit"
	"github.com/llmgateway/gateway/internal/tenant"
	"github.com/llmgateway/gateway/internal/webhook"
)

// Config carries process-level knobs the pipeline needs that don't belong
// to any one collaborator: the shared (system) provider API keys used when
// a tenant has no BYOK vendor key, and the master key that decrypts
// vendor-supplied keys at rest.
type Config struct {
	SharedProviderKeys map[string]string
	EncryptionKey      string
}

// Pipeline is the assembled request-path control plane.
type Pipeline struct {
	authenticator   *auth.Authenticator
	limiter         *ratelimit.Limiter
	calculator      *cost.Calculator
	driver          *providers.Driver
	providerConfigs map[string]providers.Config
	backend         *backend.Client
	analytics       analytics.Sink
	webhooks        *webhook.Notifier
	logger          *zap.Logger
	cfg             Config
}

// New assembles a Pipeline. providerConfigs is normally providers.Registry()
// in production; tests pass a map pointed at httptest servers instead.
// notifier may be nil, which disables webhook delivery entirely.
func New(
	authenticator *auth.Authenticator,
	limiter *ratelimit.Limiter,
	calculator *cost.Calculator,
	driver *providers.Driver,
	providerConfigs map[string]providers.Config,
	backendClient *backend.Client,
	sink analytics.Sink,
	notifier *webhook.Notifier,
	logger *zap.Logger,
	cfg Config,
) *Pipeline {
	return &Pipeline{
		authenticator:   authenticator,
		limiter:         limiter,
		calculator:      calculator,
		driver:          driver,
		providerConfigs: providerConfigs,
		backend:         backendClient,
		analytics:       sink,
		webhooks:        notifier,
		logger:          logger,
		cfg:             cfg,
	}
}

// Response is what the pipeline hands back to the HTTP layer on success:
// the provider's body, unaltered, plus the headers the cost calculator and
// limiter contribute.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// Handle runs one request through the full state machine. provider is the
// `<provider>` path segment from `/proxy/<provider>/<rest>`; r's body is
// the canonical (OpenAI-shaped) chat request the Provider Driver
// transforms into the target vendor's wire shape.
func (p *Pipeline) Handle(ctx context.Context, r *http.Request, provider string) (*Response, *apierror.Error) {
	state := Received
	stateStart := time.Now()
	logState := func(s State) {
		now := time.Now()
		metrics.PipelineStateDuration.WithLabelValues(string(state)).Observe(now.Sub(stateStart).Seconds())
		stateStart = now
		state = s
		p.logger.Debug("pipeline: state transition", zap.String("state", string(s)))
	}

	logState(Authenticating)
	authResult, authErr := p.authenticator.Authenticate(ctx, r)
	if authErr != nil {
		logState(AuthFailed)
		return nil, authErr
	}
	logState(Authenticated)
	tc := authResult.Context

	cfg, ok := p.providerConfigs[provider]
	if !ok {
		return nil, apierror.New(apierror.TenantNotFound, "unknown provider "+provider)
	}

	bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		return nil, apierror.Wrap(apierror.UpstreamError, "reading request body", err)
	}
	_ = r.Body.Close()

	var chatReq providers.ChatRequest
	if err := json.Unmarshal(bodyBytes, &chatReq); err != nil {
		return nil, apierror.Wrap(apierror.MalformedCredential, "request body is not a valid chat request", err)
	}

	logState(Estimating)
	estimate := p.calculator.Estimate(provider, chatReq.Model, inputTextOf(chatReq), 150)

	logState(LimitCheck)
	decision := p.limiter.Admit(ctx, tc.Tenant, estimate.EstimatedCost)
	rlHeaders := ratelimit.Headers(decision)
	if !decision.Allowed {
		logState(Rejected)
		if decision.InfraError {
			return &Response{Header: rlHeaders}, apierror.New(apierror.DistributedTierError,
				"rate limiter unreachable on both tiers for dimension "+string(decision.Rejected))
		}
		apiErr := apierror.New(apierror.RateLimitExceeded, "rate or cost limit exceeded for "+string(decision.Rejected))
		apiErr = apiErr.WithRetryAfter(decision.RetryAfter)
		return &Response{Header: rlHeaders}, apiErr
	}
	logState(Admitted)

	quotas := p.fetchQuotas(ctx, tc.Tenant.ID)
	if quotas != nil && quotas.Exceeded {
		logState(Rejected)
		return &Response{Header: rlHeaders}, apierror.New(apierror.QuotaExceeded, "monthly budget exhausted for tenant "+tc.Tenant.ID)
	}

	logState(ResolvingProviderCredential)
	secret, credErr := p.resolveProviderCredential(ctx, tc.Tenant.ID, provider)
	if credErr != nil {
		return nil, credErr
	}

	logState(CallingProvider)
	result, callErr := p.driver.Call(ctx, cfg, secret, chatReq)
	if callErr != nil {
		p.accountFailure(tc, provider, chatReq.Model, r.URL.Path, callErr)
		return nil, callErr
	}

	logState(Parsing)
	logState(Scoring)

	header := http.Header{}
	for k, v := range rlHeaders {
		header[k] = v
	}

	logState(Accounting)
	if result.UsageUnknown {
		// stream:true: actual usage is unavailable without re-parsing SSE
		// framing, which the hot streaming path deliberately never does.
		// The limiter is reconciled against the pre-call estimate instead
		// of actual cost, and no X-Cost-* headers are attached since there
		// is no actual cost to report.
		p.limiter.Reconcile(ctx, tc.Tenant, decision, estimate.EstimatedCost)
		p.emitTelemetryAsync(tc, provider, chatReq.Model, r.URL.Path, result.StatusCode, true, result.Usage, estimate.EstimatedCost, result.LatencyMS, "", true)
		p.emitUsageCostTickAsync(tc.Tenant.ID, provider, chatReq.Model, estimate.EstimatedCost)
		logState(Done)
		return &Response{StatusCode: result.StatusCode, Body: result.Body, Header: header}, nil
	}

	costResult := p.calculator.Calculate(provider, chatReq.Model, cost.Usage{
		InputTokens:  result.Usage.InputTokens,
		OutputTokens: result.Usage.OutputTokens,
	})

	p.limiter.Reconcile(ctx, tc.Tenant, decision, costResult.TotalCost)
	p.emitTelemetryAsync(tc, provider, chatReq.Model, r.URL.Path, result.StatusCode, true, result.Usage, costResult.TotalCost, result.LatencyMS, "", false)
	p.emitUsageCostTickAsync(tc.Tenant.ID, provider, chatReq.Model, costResult.TotalCost)

	// Month-to-date spend is not tracked by the limiter (its widest window
	// is one day, per the Rate-Limit Key data model) and the core does not
	// perform billing, so 0 is always reported as the month-to-date total;
	// the backend's static quotas, when available, only supply the limit
	// headers. quotas was already
	// fetched once above to check for budget exhaustion; reused here
	// instead of a second backend round trip.
	for k, v := range cost.Headers(costResult, 0, toCostQuotas(quotas)) {
		header[k] = v
	}
	logState(Done)

	return &Response{StatusCode: result.StatusCode, Body: result.Body, Header: header}, nil
}

// resolveProviderCredential queries the admin backend for a tenant-supplied
// key for provider; on NotFound (or any other backend error, logged and
// treated the same way a degraded cache tier would be) it falls back to
// the shared system key from config. No key at all is the terminal
// NoProviderCredential case.
func (p *Pipeline) resolveProviderCredential(ctx context.Context, tenantID, provider string) (string, *apierror.Error) {
	vk, err := p.backend.VendorKeyFor(ctx, tenantID, provider)
	if err == nil && vk.IsActive {
		plaintext, decErr := backend.DecryptVendorKey(p.cfg.EncryptionKey, vk.EncryptedKey)
		if decErr != nil {
			p.logger.Error("pipeline: vendor key decrypt failed, falling back to shared key",
				zap.String("tenant_id", tenantID), zap.String("provider", provider), zap.Error(decErr))
		} else {
			return plaintext, nil
		}
	} else if err != nil {
		var notFound *backend.NotFound
		if !errors.As(err, &notFound) {
			p.logger.Warn("pipeline: vendor key lookup failed, falling back to shared key",
				zap.String("tenant_id", tenantID), zap.String("provider", provider), zap.Error(err))
		}
	}

	if shared, ok := p.cfg.SharedProviderKeys[provider]; ok && shared != "" {
		return shared, nil
	}

	return "", apierror.New(apierror.NoProviderCredential, "no tenant or shared credential for provider "+provider)
}

func (p *Pipeline) accountFailure(tc *tenant.Context, provider, model, endpoint string, callErr *apierror.Error) {
	p.emitTelemetryAsync(tc, provider, model, endpoint, callErr.Kind.Status(), false, providers.Usage{}, 0, 0, string(callErr.Kind), false)
}

func (p *Pipeline) emitTelemetryAsync(tc *tenant.Context, provider, model, endpoint string, status int, success bool, usage providers.Usage, totalCost float64, latencyMS int64, errKind string, usageUnknown bool) {
	if p.analytics == nil {
		return
	}
	var meta map[string]any
	if usageUnknown {
		meta = map[string]any{"usage_unknown": true}
	}
	ev := analytics.TelemetryEvent{
		TenantID:     tc.Tenant.ID,
		CredentialID: tc.Credential.ID,
		Provider:     provider,
		Model:        model,
		Endpoint:     endpoint,
		StatusCode:   status,
		Success:      success,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		TotalCost:    totalCost,
		LatencyMS:    latencyMS,
		ClientIP:     tc.ClientIP,
		UserAgent:    tc.UserAgent,
		ErrorKind:    errKind,
		Metadata:     meta,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.analytics.RecordRequest(ctx, ev); err != nil {
			metrics.FireAndForgetFailuresTotal.WithLabelValues("telemetry").Inc()
			p.logger.Warn("pipeline: telemetry emit failed", zap.Error(err))
		}
	}()

	if p.webhooks != nil && tc.Tenant.WebhookTarget != "" {
		go p.webhooks.Notify(context.Background(), tc.Tenant.WebhookTarget, tc.Tenant.WebhookSecret, webhook.Payload{
			TenantID:   tc.Tenant.ID,
			Provider:   provider,
			Model:      model,
			StatusCode: status,
			Success:    success,
			TotalCost:  totalCost,
			LatencyMS:  latencyMS,
			ErrorKind:  errKind,
		})
	}
}

// emitUsageCostTickAsync reports the accrued cost to the admin backend's
// billing tick endpoint, fire-and-forget: a failure here never changes the
// client-visible outcome, only a dropped-task metric.
func (p *Pipeline) emitUsageCostTickAsync(tenantID, provider, model string, totalCost float64) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.backend.EmitUsageCostTick(ctx, tenantID, backend.UsageCostTick{
			Provider: provider,
			Model:    model,
			Cost:     totalCost,
		}); err != nil {
			metrics.FireAndForgetFailuresTotal.WithLabelValues("usage_cost_tick").Inc()
			p.logger.Warn("pipeline: usage cost tick failed", zap.Error(err))
		}
	}()
}

// fetchQuotas fetches the tenant's cost quotas, best-effort: a lookup
// failure (including "no quotas configured") returns nil rather than
// failing the request. The same value feeds both the QuotaExceeded
// pre-call check and the X-Cost-Monthly-* response headers, since the
// admin backend — not this gateway — is the source of truth for whether a
// tenant's monthly budget is exhausted (the core performs no billing).
func (p *Pipeline) fetchQuotas(ctx context.Context, tenantID string) *backend.Quotas {
	qctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	q, err := p.backend.Quotas(qctx, tenantID)
	if err != nil {
		return nil
	}
	return q
}

func toCostQuotas(q *backend.Quotas) *cost.Quotas {
	if q == nil {
		return nil
	}
	return &cost.Quotas{MonthlyLimit: q.MonthlyLimit, DailyLimit: q.DailyLimit}
}

func inputTextOf(req providers.ChatRequest) string {
	var sb strings.Builder
	for _, m := range req.Messages {
		sb.WriteString(m.Content)
	}
	return sb.String()
}
