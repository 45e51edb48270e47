package pipeline

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

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
	"github.com/llmgateway/gateway/internal/providers"
	"github.com/llmgateway/gateway/internal/ratelimit"
	"github.com/llmgateway/gateway/internal/registry"
	"github.com/llmgateway/gateway/internal/retry"
)

const validKey = "als_aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
const testEncryptionKey = "test-master-key"

func encryptForTest(t *testing.T, masterKey, plaintext string) string {
	t.Helper()
	key := sha256.Sum256([]byte(masterKey))
	block, err := aes.NewCipher(key[:])
	require.NoError(t, err)
	gcm, err := cipher.NewGCM(block)
	require.NoError(t, err)
	nonce := make([]byte, gcm.NonceSize())
	_, err = rand.Read(nonce)
	require.NoError(t, err)
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed)
}

type testHarness struct {
	pipeline    *Pipeline
	providerSrv *httptest.Server
	backendSrv  *httptest.Server
	cleanup     func()
}

func newTestHarness(t *testing.T, vendorKeyPlaintext string, providerHandler http.HandlerFunc) *testHarness {
	return newTestHarnessWithHook(t, vendorKeyPlaintext, providerHandler, nil, false)
}

func newTestHarnessWithHook(t *testing.T, vendorKeyPlaintext string, providerHandler http.HandlerFunc, onUsageCostTick func(*http.Request), quotaExceeded bool) *testHarness {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	authCache := authcache.New(redisClient, zap.NewNop(), 0)

	providerSrv := httptest.NewServer(providerHandler)

	backendMux := http.NewServeMux()
	backendMux.HandleFunc("/auth/verify-key", func(w http.ResponseWriter, r *http.Request) {
		resp := backend.VerifyKeyResponse{
			Company: backend.CompanyDTO{ID: "tenant-1", Tier: "free", Active: true},
			APIKey:  backend.APIKeyDTO{ID: "cred-1", CompanyID: "tenant-1", Active: true},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	backendMux.HandleFunc("/companies/tenant-1/quotas", func(w http.ResponseWriter, r *http.Request) {
		if !quotaExceeded {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(backend.Quotas{Exceeded: true})
	})
	backendMux.HandleFunc("/vendor-keys/tenant-1/openai", func(w http.ResponseWriter, r *http.Request) {
		if vendorKeyPlaintext == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		resp := backend.VendorKey{EncryptedKey: encryptForTest(t, testEncryptionKey, vendorKeyPlaintext), IsActive: true}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	backendMux.HandleFunc("/auth/events", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	backendMux.HandleFunc("/logs/auth-errors", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	backendMux.HandleFunc("/companies/tenant-1/usage/cost", func(w http.ResponseWriter, r *http.Request) {
		if onUsageCostTick != nil {
			onUsageCostTick(r)
		}
		w.WriteHeader(200)
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
	providerConfigs := map[string]providers.Config{
		"openai": testOpenAIConfig(providerSrv.URL),
	}

	pipelineCfg := Config{
		SharedProviderKeys: map[string]string{"openai": "shared-key"},
		EncryptionKey:      testEncryptionKey,
	}

	sink := analytics.NewNoopSink(zap.NewNop())

	p := New(authenticator, limiter, calculator, driver, providerConfigs, backendClient, sink, nil, zap.NewNop(), pipelineCfg)

	return &testHarness{
		pipeline:    p,
		providerSrv: providerSrv,
		backendSrv:  backendSrv,
		cleanup: func() {
			providerSrv.Close()
			backendSrv.Close()
			mr.Close()
		},
	}
}

func testOpenAIConfig(baseURL string) providers.Config {
	return providers.Config{
		Name:       "openai",
		BaseURL:    baseURL,
		AuthHeader: "Authorization",
		AuthPrefix: "Bearer ",
		ChatPath:   "/v1/chat/completions",
		RetryPolicy: retry.Policy{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2,
			Jitter:       false,
		},
		RetryableCodes: map[int]bool{429: true, 500: true, 502: true, 503: true, 504: true},
		Transformer:    providers.OpenAITransformer{},
	}
}

// Accounting fire-and-forgets a usage-cost tick to the admin backend after
// a successful call; it must not block or change the client response.
func TestHandle_EmitsUsageCostTick(t *testing.T) {
	tickCh := make(chan string, 1)
	h := newTestHarnessWithHook(t, "", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"usage":{"prompt_tokens":1,"completion_tokens":1}}`))
	}, func(r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		tickCh <- string(body)
	}, false)
	defer h.cleanup()

	req := newRequest(`{"model":"gpt-4o-mini","messages":[{"role":"user","content":"hi"}]}`)
	res, apiErr := h.pipeline.Handle(req.Context(), req, "openai")
	require.Nil(t, apiErr)
	require.NotNil(t, res)

	select {
	case body := <-tickCh:
		assert.Contains(t, body, `"provider":"openai"`)
		assert.Contains(t, body, `"model":"gpt-4o-mini"`)
	case <-time.After(2 * time.Second):
		t.Fatal("usage cost tick was not delivered")
	}
}

// A stream:true request gets the provider's SSE body back verbatim, no
// X-Cost-* headers, and its usage-cost tick is reconciled against the
// pre-call estimate since actual usage was never parsed out of the stream.
func TestHandle_StreamingSkipsUsageExtractionAndCostHeaders(t *testing.T) {
	tickCh := make(chan string, 1)
	sseBody := "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\ndata: [DONE]\n\n"
	h := newTestHarnessWithHook(t, "", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(sseBody))
	}, func(r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		tickCh <- string(body)
	}, false)
	defer h.cleanup()

	req := newRequest(`{"model":"gpt-4o-mini","messages":[{"role":"user","content":"hi"}],"stream":true}`)
	res, apiErr := h.pipeline.Handle(req.Context(), req, "openai")
	require.Nil(t, apiErr)
	require.NotNil(t, res)
	assert.Equal(t, sseBody, string(res.Body))
	assert.Empty(t, res.Header.Get("X-Cost-Total"))

	select {
	case body := <-tickCh:
		assert.NotContains(t, body, `"cost":0}`, "estimate should be a nonzero reconciled cost")
	case <-time.After(2 * time.Second):
		t.Fatal("usage cost tick was not delivered")
	}
}

func newRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/proxy/openai/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+validKey)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// Seed scenario 1: happy chat path.
func TestHandle_HappyPath(t *testing.T) {
	h := newTestHarness(t, "", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer shared-key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"usage":{"prompt_tokens":1,"completion_tokens":1}}`))
	})
	defer h.cleanup()

	req := newRequest(`{"model":"gpt-4o-mini","messages":[{"role":"user","content":"hi"}]}`)
	res, apiErr := h.pipeline.Handle(req.Context(), req, "openai")
	require.Nil(t, apiErr)
	require.NotNil(t, res)
	assert.Equal(t, 200, res.StatusCode)
	assert.NotEmpty(t, res.Header.Get("X-RateLimit-Remaining"))
	// Seed scenario 6: usage=(1,1) on gpt-4o-mini rounds to 0.000001.
	assert.Equal(t, "0.000001", res.Header.Get("X-Cost-Total"))
}

func TestHandle_MissingCredentialNeverReachesProvider(t *testing.T) {
	called := false
	h := newTestHarness(t, "", func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(200)
	})
	defer h.cleanup()

	req := httptest.NewRequest(http.MethodPost, "/proxy/openai/v1/chat/completions", strings.NewReader(`{}`))
	_, apiErr := h.pipeline.Handle(req.Context(), req, "openai")
	require.NotNil(t, apiErr)
	assert.Equal(t, "MissingCredential", string(apiErr.Kind))
	assert.False(t, called)
}

func TestHandle_UsesDecryptedVendorKeyWhenPresent(t *testing.T) {
	h := newTestHarness(t, "tenant-supplied-key", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tenant-supplied-key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"usage":{"prompt_tokens":1,"completion_tokens":1}}`))
	})
	defer h.cleanup()

	req := newRequest(`{"model":"gpt-4o-mini","messages":[{"role":"user","content":"hi"}]}`)
	_, apiErr := h.pipeline.Handle(req.Context(), req, "openai")
	require.Nil(t, apiErr)
}

// A tenant the backend reports as over its monthly budget is rejected
// before the provider is ever called, and before any fire-and-forget
// usage tick fires (there is no usage to tick).
func TestHandle_QuotaExceededRejectsBeforeProviderCall(t *testing.T) {
	called := false
	h := newTestHarnessWithHook(t, "", func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(200)
	}, nil, true)
	defer h.cleanup()

	req := newRequest(`{"model":"gpt-4o-mini","messages":[{"role":"user","content":"hi"}]}`)
	_, apiErr := h.pipeline.Handle(req.Context(), req, "openai")
	require.NotNil(t, apiErr)
	assert.Equal(t, "QuotaExceeded", string(apiErr.Kind))
	assert.Equal(t, 429, apiErr.Kind.Status())
	assert.False(t, called)
}

func TestHandle_UnknownProviderRejected(t *testing.T) {
	h := newTestHarness(t, "", func(w http.ResponseWriter, r *http.Request) {})
	defer h.cleanup()

	req := newRequest(`{"model":"x","messages":[]}`)
	_, apiErr := h.pipeline.Handle(req.Context(), req, "unknown-vendor")
	require.NotNil(t, apiErr)
	assert.Equal(t, "TenantNotFound", string(apiErr.Kind))
}

func TestHandle_MalformedBodyRejectedBeforeProviderCall(t *testing.T) {
	called := false
	h := newTestHarness(t, "", func(w http.ResponseWriter, r *http.Request) {
		called = true
	})
	defer h.cleanup()

	req := newRequest(`not json`)
	_, apiErr := h.pipeline.Handle(req.Context(), req, "openai")
	require.NotNil(t, apiErr)
	assert.False(t, called)
}
