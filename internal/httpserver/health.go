package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/llmgateway/gateway/internal/providers"
	"github.com/llmgateway/gateway/internal/registry"
)

// ModelLister is the registry surface /models needs.
type ModelLister interface {
	SupportedModels() []string
	ProviderFor(model string) string
}

var _ ModelLister = (*registry.Registry)(nil)

// HealthProbe answers /status's and /health/vendors' reachability checks.
// Either field may be nil, in which case that portion of the report is
// omitted rather than failing the request.
type HealthProbe struct {
	// Distributed pings the distributed rate-limit/auth-cache tier (a
	// thin closure over the redis client, so this package doesn't need
	// to import go-redis itself).
	Distributed func(ctx context.Context) error
	Providers   map[string]providers.Config

	// Breakers reports each provider's circuit breaker state; nil omits
	// the field from /status entirely.
	Breakers func() map[string]map[string]any
}

func healthHandler(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"version":     cfg.Version,
			"environment": cfg.Environment,
			"timestamp":   time.Now().UTC(),
		})
	}
}

func statusHandler(h *HealthProbe, cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := map[string]any{
			"status":      "ok",
			"version":     cfg.Version,
			"environment": cfg.Environment,
			"timestamp":   time.Now().UTC(),
		}

		if h != nil && h.Distributed != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := h.Distributed(ctx); err != nil {
				report["status"] = "degraded"
				report["distributed_tier"] = map[string]any{"reachable": false, "error": err.Error()}
			} else {
				report["distributed_tier"] = map[string]any{"reachable": true}
			}
		} else {
			report["distributed_tier"] = map[string]any{"reachable": false, "error": "distributed tier not configured"}
		}

		if h != nil && h.Breakers != nil {
			report["circuit_breakers"] = h.Breakers()
		}

		writeJSON(w, http.StatusOK, report)
	}
}

func modelsHandler(reg ModelLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		models := reg.SupportedModels()
		type modelEntry struct {
			ID       string `json:"id"`
			Provider string `json:"provider"`
		}
		out := make([]modelEntry, 0, len(models))
		for _, m := range models {
			out = append(out, modelEntry{ID: m, Provider: reg.ProviderFor(m)})
		}
		writeJSON(w, http.StatusOK, map[string]any{"models": out, "total": len(out)})
	}
}

// vendorHealthHandler probes each configured provider's base URL with a
// lightweight request; a provider that fails is reported unreachable
// rather than failing the whole response.
func vendorHealthHandler(h *HealthProbe) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h == nil || len(h.Providers) == 0 {
			writeJSON(w, http.StatusOK, map[string]any{"vendors": map[string]any{}})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		result := make(map[string]any, len(h.Providers))
		client := &http.Client{Timeout: 3 * time.Second}
		for name, cfg := range h.Providers {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.BaseURL, nil)
			if err != nil {
				result[name] = map[string]any{"reachable": false, "error": err.Error()}
				continue
			}
			resp, err := client.Do(req)
			if err != nil {
				result[name] = map[string]any{"reachable": false, "error": err.Error()}
				continue
			}
			_ = resp.Body.Close()
			result[name] = map[string]any{"reachable": true, "status": resp.StatusCode}
		}
		writeJSON(w, http.StatusOK, map[string]any{"vendors": result})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
