package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/llmgateway/gateway/internal/analytics"
	"github.com/llmgateway/gateway/internal/auth"
	"github.com/llmgateway/gateway/internal/authcache"
	"github.com/llmgateway/gateway/internal/backend"
	"github.com/llmgateway/gateway/internal/cost"
	"github.com/llmgateway/gateway/internal/pipeline"
	"github.com/llmgateway/gateway/internal/providers"
	"github.com/llmgateway/gateway/internal/ratelimit"
	"github.com/llmgateway/gateway/internal/registry"
)

func newTestRouter(t *testing.T) (http.Handler, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	authCache := authcache.New(redisClient, zap.NewNop(), 0)

	backendMux := http.NewServeMux()
	backendMux.HandleFunc("/auth/verify-key", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	backendSrv := httptest.NewServer(backendMux)

	backendClient := backend.New(backend.Config{BaseURL: backendSrv.URL, StaticToken: "t"}, zap.NewNop())
	authenticator := auth.New(authCache, backendClient, zap.NewNop())

	reg := registry.New(registry.DefaultEntries(), registry.DefaultAliases())
	calculator := cost.New(reg, 0)

	distributed := ratelimit.NewRedisStore(redisClient)
	local := ratelimit.NewLocalStore(0)
	limiter := ratelimit.New(distributed, local, nil, zap.NewNop())

	driver := providers.NewDriver(zap.NewNop())
	sink := analytics.NewNoopSink(zap.NewNop())

	p := pipeline.New(authenticator, limiter, calculator, driver, map[string]providers.Config{}, backendClient, sink, nil, zap.NewNop(), pipeline.Config{})

	health := &HealthProbe{
		Distributed: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		Providers:   map[string]providers.Config{},
	}

	handler := New(p, reg, health, zap.NewNop(), Config{Version: "test", Environment: "test", AllowedOrigins: []string{"*"}})

	return handler, func() {
		backendSrv.Close()
		mr.Close()
	}
}

func TestHealth_ReturnsOK(t *testing.T) {
	h, cleanup := newTestRouter(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestStatus_ReportsDistributedTierReachable(t *testing.T) {
	h, cleanup := newTestRouter(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	tier := body["distributed_tier"].(map[string]any)
	assert.Equal(t, true, tier["reachable"])
}

func TestModels_ListsRegistryEntries(t *testing.T) {
	h, cleanup := newTestRouter(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/models", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Greater(t, body["total"].(float64), float64(0))
}

func TestProxy_MissingCredentialReturnsStableEnvelope(t *testing.T) {
	h, cleanup := newTestRouter(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodPost, "/proxy/openai/v1/chat/completions", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "MissingCredential", body["error"])
	assert.NotEmpty(t, body["requestId"])
}

func TestNotFound_ReturnsStableEnvelope(t *testing.T) {
	h, cleanup := newTestRouter(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_found")
}
