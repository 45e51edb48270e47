package webhook

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"context"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNotify_DeliversSignedToken(t *testing.T) {
	var received atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		received.Store(body["token"])
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(zap.NewNop())
	n.Notify(context.Background(), srv.URL, "tenant-secret", Payload{TenantID: "tenant-1", Provider: "openai", Success: true})

	token, ok := received.Load().(string)
	require.True(t, ok)
	require.NotEmpty(t, token)

	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(*jwt.Token) (interface{}, error) {
		return []byte("tenant-secret"), nil
	})
	require.NoError(t, err)
	c, ok := parsed.Claims.(*claims)
	require.True(t, ok)
	assert.Equal(t, "tenant-1", c.Payload.TenantID)
	assert.Equal(t, "openai", c.Payload.Provider)
}

func TestNotify_BlankTargetIsNoop(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	n := New(zap.NewNop())
	n.Notify(context.Background(), "", "secret", Payload{TenantID: "tenant-1"})
	assert.False(t, called)
}

func TestNotify_MissingSecretNeverSends(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	n := New(zap.NewNop())
	n.Notify(context.Background(), srv.URL, "", Payload{TenantID: "tenant-1"})
	assert.False(t, called)
}
