package providers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/llmgateway/gateway/internal/apierror"
)

func testConfig(baseURL string) Config {
	cfg := anthropicConfig()
	cfg.BaseURL = baseURL
	cfg.RetryPolicy.InitialDelay = time.Millisecond
	cfg.RetryPolicy.MaxDelay = 5 * time.Millisecond
	return cfg
}

func TestDriver_Call_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		_, _ = w.Write([]byte(`{"usage":{"input_tokens":2,"output_tokens":3}}`))
	}))
	defer srv.Close()

	d := NewDriver(zap.NewNop())
	req := ChatRequest{Model: "claude-3-5-sonnet-20241022", Messages: []Message{{Role: "user", Content: "hi"}}}
	res, apiErr := d.Call(context.Background(), testConfig(srv.URL), "secret", req)
	require.Nil(t, apiErr)
	require.NotNil(t, res)
	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, Usage{InputTokens: 2, OutputTokens: 3}, res.Usage)
	assert.Equal(t, 0, res.Retries)
}

// Seed scenario 4: Anthropic returns 529 twice then 200; final result
// succeeds with Retries == 2.
func TestDriver_Call_RetriesOnOverloadedThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n <= 2 {
			w.WriteHeader(529)
			_, _ = w.Write([]byte(`{"error":"overloaded"}`))
			return
		}
		_, _ = w.Write([]byte(`{"usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer srv.Close()

	d := NewDriver(zap.NewNop())
	req := ChatRequest{Model: "claude-3-5-sonnet-20241022", Messages: []Message{{Role: "user", Content: "hi"}}}
	res, apiErr := d.Call(context.Background(), testConfig(srv.URL), "secret", req)
	require.Nil(t, apiErr)
	require.NotNil(t, res)
	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, 2, res.Retries)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestDriver_Call_TerminalStatusDoesNotRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(401)
		_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
	}))
	defer srv.Close()

	d := NewDriver(zap.NewNop())
	req := ChatRequest{Model: "claude-3-5-sonnet-20241022", Messages: []Message{{Role: "user", Content: "hi"}}}
	res, apiErr := d.Call(context.Background(), testConfig(srv.URL), "secret", req)
	require.NotNil(t, apiErr)
	require.NotNil(t, res)
	assert.Equal(t, 401, res.StatusCode)
	assert.Equal(t, apierror.CredentialRevoked, apiErr.Kind)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestDriver_Call_ExhaustsRetriesOnPersistentOverload(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(529)
		_, _ = w.Write([]byte(`{"error":"overloaded"}`))
	}))
	defer srv.Close()

	d := NewDriver(zap.NewNop())
	req := ChatRequest{Model: "claude-3-5-sonnet-20241022", Messages: []Message{{Role: "user", Content: "hi"}}}
	res, apiErr := d.Call(context.Background(), testConfig(srv.URL), "secret", req)
	require.NotNil(t, apiErr)
	require.NotNil(t, res)
	assert.Equal(t, 529, res.StatusCode)
	cfg := testConfig(srv.URL)
	assert.EqualValues(t, cfg.RetryPolicy.MaxAttempts, atomic.LoadInt32(&calls))
}

func TestDriver_Call_OpensCircuitAfterRepeatedFailuresAndFailsFast(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(401)
		_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
	}))
	defer srv.Close()

	d := NewDriver(zap.NewNop())
	cfg := testConfig(srv.URL)
	req := ChatRequest{Model: "claude-3-5-sonnet-20241022", Messages: []Message{{Role: "user", Content: "hi"}}}

	for i := 0; i < circuitThreshold; i++ {
		_, apiErr := d.Call(context.Background(), cfg, "secret", req)
		require.NotNil(t, apiErr)
	}
	callsBeforeOpen := atomic.LoadInt32(&calls)
	assert.True(t, d.breakers.IsOpen(cfg.Name))

	res, apiErr := d.Call(context.Background(), cfg, "secret", req)
	require.Nil(t, res)
	require.NotNil(t, apiErr)
	assert.Equal(t, apierror.UpstreamError, apiErr.Kind)
	assert.Equal(t, callsBeforeOpen, atomic.LoadInt32(&calls), "open circuit must not reach the upstream server")
}

func TestDriver_Call_TransformRequestForwardsModelAndWireShape(t *testing.T) {
	var received []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer srv.Close()

	d := NewDriver(zap.NewNop())
	req := ChatRequest{
		Model:    "claude-3-5-sonnet-20241022",
		Messages: []Message{{Role: "system", Content: "be terse"}, {Role: "user", Content: "hi"}},
	}
	_, apiErr := d.Call(context.Background(), testConfig(srv.URL), "secret", req)
	require.Nil(t, apiErr)
	assert.Contains(t, string(received), `"system":"be terse"`)
}
