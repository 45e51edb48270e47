// Package authcache implements the two-tier authentication cache: a shared
// distributed tier (Redis) backed by a process-local tier, with coherent
// invalidation across both. It never talks to the administrative backend
// itself — that's the Authenticator's job on a full miss.
package authcache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/llmgateway/gateway/internal/localcache"
	"github.com/llmgateway/gateway/internal/metrics"
	"github.com/llmgateway/gateway/internal/tenant"
)

// ErrMiss names the condition of neither tier having a live entry for the
// hash. Get does not return it: a miss is a nil Entry with a nil error.
var ErrMiss = errors.New("authcache: miss")

// DefaultTTL is the default staleness bound for both tiers (§4.2).
const DefaultTTL = 300 * time.Second

// Entry is the value stored in both tiers.
type Entry struct {
	Tenant     tenant.Tenant     `json:"tenant"`
	Credential tenant.Credential `json:"credential"`
	CachedAt   time.Time         `json:"cached_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
}

// Cache is the two-tier cache. redisClient may be nil, in which case only
// the local tier is used (distributed-tier-unreachable fallback, logged
// once at construction).
type Cache struct {
	redisClient *redis.Client
	local       *localcache.Cache
	logger      *zap.Logger
	ttl         time.Duration
}

func New(redisClient *redis.Client, logger *zap.Logger, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if redisClient == nil {
		logger.Warn("authcache: no distributed tier configured, running local-tier-only")
	}
	return &Cache{
		redisClient: redisClient,
		local:       localcache.New(logger, time.Minute),
		logger:      logger,
		ttl:         ttl,
	}
}

func buildKey(hash string) string {
	return "auth:" + hash
}

// Get tries tier A then tier B. A hit on either tier returns the Entry; the
// bool is true only for a tier-A hit and false for a tier-B hit. A miss on
// both tiers returns a nil Entry. Any read failure on a tier is logged and
// treated as a miss on that tier, never surfaced as an authentication
// failure.
func (c *Cache) Get(ctx context.Context, hash string) (*Entry, bool, error) {
	key := buildKey(hash)

	if c.redisClient != nil {
		data, err := c.redisClient.Get(ctx, key).Result()
		switch {
		case err == nil:
			var e Entry
			if jsonErr := json.Unmarshal([]byte(data), &e); jsonErr == nil && time.Now().Before(e.ExpiresAt) {
				metrics.CacheResultsTotal.WithLabelValues("distributed", "hit").Inc()
				return &e, true, nil
			}
		case errors.Is(err, redis.Nil):
			// fall through to tier B
		default:
			c.logger.Warn("authcache: distributed tier read failed, falling back to local tier", zap.Error(err))
		}
		metrics.CacheResultsTotal.WithLabelValues("distributed", "miss").Inc()
	}

	if v, ok := c.local.Get(key); ok {
		if e, ok := v.(Entry); ok && time.Now().Before(e.ExpiresAt) {
			if c.redisClient != nil {
				go c.backfillDistributed(key, e)
			}
			metrics.CacheResultsTotal.WithLabelValues("local", "hit").Inc()
			return &e, false, nil
		}
	}

	metrics.CacheResultsTotal.WithLabelValues("local", "miss").Inc()
	return nil, false, nil
}

// backfillDistributed asynchronously repopulates tier A after a tier-B hit,
// per §4.2's "on B hit, asynchronously backfill A".
func (c *Cache) backfillDistributed(key string, e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	if err := c.redisClient.Set(ctx, key, data, time.Until(e.ExpiresAt)).Err(); err != nil {
		c.logger.Warn("authcache: failed to backfill distributed tier", zap.Error(err))
	}
}

// Set writes to both tiers in parallel with the configured TTL.
func (c *Cache) Set(ctx context.Context, hash string, t tenant.Tenant, cr tenant.Credential) {
	now := time.Now()
	entry := Entry{Tenant: t, Credential: cr, CachedAt: now, ExpiresAt: now.Add(c.ttl)}
	key := buildKey(hash)

	done := make(chan struct{}, 2)

	go func() {
		defer func() { done <- struct{}{} }()
		c.local.Set(key, entry, c.ttl)
	}()

	go func() {
		defer func() { done <- struct{}{} }()
		if c.redisClient == nil {
			return
		}
		data, err := json.Marshal(entry)
		if err != nil {
			c.logger.Error("authcache: failed to marshal entry", zap.Error(err))
			return
		}
		writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := c.redisClient.Set(writeCtx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn("authcache: distributed tier write failed", zap.Error(err))
		}
	}()

	<-done
	<-done
}

// Invalidate deletes hash from both tiers in parallel. Called when the
// admin backend notifies us of a write to the underlying tenant/credential
// record.
func (c *Cache) Invalidate(ctx context.Context, hash string) {
	key := buildKey(hash)

	done := make(chan struct{}, 2)
	go func() {
		defer func() { done <- struct{}{} }()
		c.local.Delete(key)
	}()
	go func() {
		defer func() { done <- struct{}{} }()
		if c.redisClient == nil {
			return
		}
		delCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := c.redisClient.Del(delCtx, key).Err(); err != nil {
			c.logger.Warn("authcache: distributed tier invalidation failed", zap.Error(err))
		}
	}()
	<-done
	<-done
}
