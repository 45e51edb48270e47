// Package providers declares, per upstream LLM vendor, the wire-shape
// configuration the driver needs: base URL, auth header shape, endpoint
// paths, retry policy, and status-to-error-kind table. Providers are
// data, not code — adding one means adding a Config and, where the wire
// shape actually differs from OpenAI's, a Transformer.
package providers

import (
	"time"

	"github.com/llmgateway/gateway/internal/apierror"
	"github.com/llmgateway/gateway/internal/retry"
)

// Config is the declarative shape of one upstream provider.
type Config struct {
	Name           string
	BaseURL        string
	AuthHeader     string // e.g. "Authorization" or "x-api-key"
	AuthPrefix     string // e.g. "Bearer " or "" for raw key
	ChatPath       string // may contain "{model}"
	ExtraHeaders   map[string]string
	RetryPolicy    retry.Policy
	RetryableCodes map[int]bool
	StatusToKind   map[int]apierror.Kind
	Transformer    Transformer
}

func defaultRetryPolicy() retry.Policy {
	return retry.DefaultPolicy()
}

// Registry is the static name -> Config table the request pipeline
// resolves a proxy path's `<provider>` segment against.
func Registry() map[string]Config {
	return map[string]Config{
		"openai":    openAIConfig(),
		"anthropic": anthropicConfig(),
		"google":    googleConfig(),
	}
}

func openAIConfig() Config {
	return Config{
		Name:        "openai",
		BaseURL:     "https://api.openai.com/v1",
		AuthHeader:  "Authorization",
		AuthPrefix:  "Bearer ",
		ChatPath:    "/chat/completions",
		RetryPolicy: defaultRetryPolicy(),
		RetryableCodes: map[int]bool{
			429: true, 500: true, 502: true, 503: true, 504: true,
		},
		StatusToKind: map[int]apierror.Kind{
			400: apierror.MalformedCredential,
			401: apierror.CredentialRevoked,
			404: apierror.TenantNotFound,
			429: apierror.RateLimitExceeded,
		},
		Transformer: OpenAITransformer{},
	}
}

func anthropicConfig() Config {
	return Config{
		Name:       "anthropic",
		BaseURL:    "https://api.anthropic.com/v1",
		AuthHeader: "x-api-key",
		AuthPrefix: "",
		ChatPath:   "/messages",
		ExtraHeaders: map[string]string{
			"anthropic-version": "2023-06-01",
		},
		RetryPolicy: defaultRetryPolicy(),
		RetryableCodes: map[int]bool{
			429: true, 500: true, 502: true, 503: true, 504: true, 529: true,
		},
		StatusToKind: map[int]apierror.Kind{
			400: apierror.MalformedCredential,
			401: apierror.CredentialRevoked,
			404: apierror.TenantNotFound,
			429: apierror.RateLimitExceeded,
		},
		Transformer: AnthropicTransformer{},
	}
}

func googleConfig() Config {
	return Config{
		Name:       "google",
		BaseURL:    "https://generativelanguage.googleapis.com/v1beta",
		AuthHeader: "x-goog-api-key",
		AuthPrefix: "",
		ChatPath:    "/models/{model}:generateContent",
		RetryPolicy: defaultRetryPolicy(),
		RetryableCodes: map[int]bool{
			429: true, 500: true, 502: true, 503: true, 504: true,
		},
		StatusToKind: map[int]apierror.Kind{
			400: apierror.MalformedCredential,
			401: apierror.CredentialRevoked,
			404: apierror.TenantNotFound,
			429: apierror.RateLimitExceeded,
		},
		Transformer: GoogleTransformer{},
	}
}

// KindForStatus maps a provider's HTTP status to a stable error kind,
// defaulting to UpstreamError when the provider's table has no entry.
func (c Config) KindForStatus(status int) apierror.Kind {
	if k, ok := c.StatusToKind[status]; ok {
		return k
	}
	return apierror.UpstreamError
}

func (c Config) IsRetryableStatus(status int) bool {
	return c.RetryableCodes[status]
}

// DefaultTimeout is the per-call deadline when the caller supplies none.
const DefaultTimeout = 30 * time.Second
