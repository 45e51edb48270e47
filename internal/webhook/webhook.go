// Package webhook delivers a best-effort notification to a tenant's
// optional webhook target after a request completes, an extension of the
// same fire-and-forget posture the request pipeline's ACCOUNTING phase
// already takes toward the telemetry sink. Delivery never blocks or
// affects the client-visible response.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Payload is what's delivered to a tenant's webhook target, one per
// completed (successful or failed) proxied request.
type Payload struct {
	TenantID   string  `json:"tenant_id"`
	Provider   string  `json:"provider"`
	Model      string  `json:"model"`
	StatusCode int     `json:"status_code"`
	Success    bool    `json:"success"`
	TotalCost  float64 `json:"total_cost"`
	LatencyMS  int64   `json:"latency_ms"`
	ErrorKind  string  `json:"error_kind,omitempty"`
}

// claims wraps Payload in a short-lived HS256 JWT so the receiving
// endpoint can verify the notification actually came from this gateway
// without a shared TLS-client-cert setup.
type claims struct {
	jwt.RegisteredClaims
	Payload Payload `json:"payload"`
}

const tokenTTL = 60 * time.Second

// Notifier delivers webhook notifications over HTTP, tolerating target
// unreachability the same way every other fire-and-forget path in this
// gateway does: log and move on.
type Notifier struct {
	client *http.Client
	logger *zap.Logger
}

func New(logger *zap.Logger) *Notifier {
	return &Notifier{client: &http.Client{Timeout: 5 * time.Second}, logger: logger}
}

// Notify signs payload for tenant secret and posts it to target. A blank
// target is the common case (no webhook configured) and is a silent no-op.
func (n *Notifier) Notify(ctx context.Context, target, secret string, payload Payload) {
	if target == "" {
		return
	}

	token, err := sign(secret, payload)
	if err != nil {
		n.logger.Warn("webhook: sign failed", zap.String("tenant_id", payload.TenantID), zap.Error(err))
		return
	}

	body, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		n.logger.Warn("webhook: marshal failed", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		n.logger.Warn("webhook: build request failed", zap.String("target", target), zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("webhook: delivery failed", zap.String("tenant_id", payload.TenantID), zap.Error(err))
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		n.logger.Warn("webhook: target rejected delivery",
			zap.String("tenant_id", payload.TenantID), zap.Int("status", resp.StatusCode))
	}
}

func sign(secret string, payload Payload) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("webhook: tenant has no signing secret configured")
	}
	now := time.Now()
	c := &claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "llmgateway",
			Subject:   payload.TenantID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
		Payload: payload,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString([]byte(secret))
}
