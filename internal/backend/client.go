// Package backend is the client for the administrative backend service
// that owns tenant records and issues credentials. The gateway never
// persists tenant data itself; every resolution, quota check, and
// tenant-supplied provider key lookup is a call through this client.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Config configures the outbound client. ClientID/ClientSecret/TokenURL
// enable OAuth2 client-credentials bearer refresh; when any is empty the
// client falls back to the static StaticToken configured for the process.
type Config struct {
	BaseURL      string
	StaticToken  string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Timeout      time.Duration
}

// Client wraps all outbound calls to the admin backend.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
	token   oauth2.TokenSource // nil when falling back to StaticToken
	static  string
}

func New(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
		static:  cfg.StaticToken,
	}

	if cfg.ClientID != "" && cfg.ClientSecret != "" && cfg.TokenURL != "" {
		ccCfg := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		c.token = ccCfg.TokenSource(context.Background())
	}

	return c
}

func (c *Client) bearerToken(ctx context.Context) (string, error) {
	if c.token != nil {
		tok, err := c.token.Token()
		if err != nil {
			return "", fmt.Errorf("backend: refresh oauth2 token: %w", err)
		}
		return tok.AccessToken, nil
	}
	return c.static, nil
}

// NotFound is returned when the backend reports 404 for a lookup call;
// callers distinguish it from transport/5xx errors to decide fallback
// behavior (e.g. no tenant-supplied provider key -> use the shared key).
type NotFound struct{ Path string }

func (e *NotFound) Error() string { return fmt.Sprintf("backend: not found: %s", e.Path) }

// StatusError carries a non-2xx, non-404 response.
type StatusError struct {
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend: %s returned %d: %s", e.Path, e.Status, e.Body)
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("backend: marshal request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("backend: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.bearerToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend: request %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("backend: read response %s: %w", path, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return &NotFound{Path: path}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Path: path, Status: resp.StatusCode, Body: string(respBody)}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("backend: decode response %s: %w", path, err)
		}
	}
	return nil
}

// VerifyKeyRequest is the body for POST /auth/verify-key.
type VerifyKeyRequest struct {
	APIKeyHash        string `json:"api_key_hash"`
	IncludeCompany    bool   `json:"include_company"`
	IncludePermissions bool  `json:"include_permissions"`
}

// VerifyKeyResponse mirrors the backend's company/api_key envelope.
type VerifyKeyResponse struct {
	Company CompanyDTO `json:"company"`
	APIKey  APIKeyDTO  `json:"api_key"`
}

type CompanyDTO struct {
	ID                 string   `json:"id"`
	DisplayName        string   `json:"display_name"`
	Tier               string   `json:"tier"`
	Active             bool     `json:"active"`
	AllowedProviders   []string `json:"allowed_providers"`
	MonthlyBudgetCap   *float64 `json:"monthly_budget_cap"`
	WebhookTarget      string   `json:"webhook_target"`
	WebhookSecret      string   `json:"webhook_secret"`
	RateLimitOverrides *LimitOverridesDTO `json:"rate_limit_overrides"`
	CostLimitOverrides *LimitOverridesDTO `json:"cost_limit_overrides"`
}

type LimitOverridesDTO struct {
	PerMinute *float64 `json:"per_minute"`
	PerHour   *float64 `json:"per_hour"`
	PerDay    *float64 `json:"per_day"`
}

type APIKeyDTO struct {
	ID               string   `json:"id"`
	CompanyID        string   `json:"company_id"`
	Hash             string   `json:"hash"`
	Preview          string   `json:"preview"`
	Active           bool     `json:"active"`
	ExpiresAt        *time.Time `json:"expires_at"`
	Scopes           []string `json:"scopes"`
	AllowedIPs       []string `json:"allowed_ips"`
	AllowedEndpoints []string `json:"allowed_endpoints"`
	AllowedProviders []string `json:"allowed_providers"`
}

// VerifyKey resolves a credential hash to its tenant and credential record.
func (c *Client) VerifyKey(ctx context.Context, hash string) (*VerifyKeyResponse, error) {
	var out VerifyKeyResponse
	err := c.do(ctx, http.MethodPost, "/auth/verify-key", VerifyKeyRequest{
		APIKeyHash:         hash,
		IncludeCompany:     true,
		IncludePermissions: true,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Quotas is the cost-quota envelope for GET /companies/<id>/quotas. The
// admin backend owns billing/invoicing (an explicit core Non-goal), so
// Exceeded is reported by the backend, never computed here from a
// month-to-date total the gateway doesn't track.
type Quotas struct {
	MonthlyLimit *float64 `json:"monthly_limit"`
	DailyLimit   *float64 `json:"daily_limit"`
	Exceeded     bool     `json:"exceeded"`
}

func (c *Client) Quotas(ctx context.Context, companyID string) (*Quotas, error) {
	var out Quotas
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/companies/%s/quotas", companyID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VendorKey is the tenant-supplied ("BYOK") provider credential envelope.
type VendorKey struct {
	EncryptedKey string `json:"encrypted_key"`
	IsActive     bool   `json:"is_active"`
}

// VendorKeyFor fetches a tenant-supplied provider key. Callers treat a
// NotFound error as "use the shared system key for this provider."
func (c *Client) VendorKeyFor(ctx context.Context, companyID, provider string) (*VendorKey, error) {
	var out VendorKey
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/vendor-keys/%s/%s", companyID, provider), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AuthEvent is the fire-and-forget audit payload for POST /auth/events.
type AuthEvent struct {
	TenantID     string    `json:"tenant_id"`
	CredentialID string    `json:"credential_id"`
	Outcome      string    `json:"outcome"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	ClientIP     string    `json:"client_ip"`
	UserAgent    string    `json:"user_agent"`
	Timestamp    time.Time `json:"timestamp"`
}

func (c *Client) EmitAuthEvent(ctx context.Context, ev AuthEvent) error {
	return c.do(ctx, http.MethodPost, "/auth/events", ev, nil)
}

// AuthErrorLog is the fire-and-forget payload for POST /logs/auth-errors.
type AuthErrorLog struct {
	CredentialHash string    `json:"credential_hash"`
	ErrorKind      string    `json:"error_kind"`
	Detail         string    `json:"detail"`
	ClientIP       string    `json:"client_ip"`
	Timestamp      time.Time `json:"timestamp"`
}

func (c *Client) EmitAuthErrorLog(ctx context.Context, ev AuthErrorLog) error {
	return c.do(ctx, http.MethodPost, "/logs/auth-errors", ev, nil)
}

// UsageCostTick is the fire-and-forget payload for POST
// /companies/<id>/usage/cost.
type UsageCostTick struct {
	Provider string  `json:"provider"`
	Model    string  `json:"model"`
	Cost     float64 `json:"cost"`
}

func (c *Client) EmitUsageCostTick(ctx context.Context, companyID string, tick UsageCostTick) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/companies/%s/usage/cost", companyID), tick, nil)
}
