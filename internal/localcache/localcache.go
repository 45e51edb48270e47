// Package localcache is the process-local key/value tier used by the
// authentication cache as its tier B. The rate limiter's local fallback is
// a separate store (ratelimit.LocalStore) and does not use this package.
package localcache

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type entry struct {
	value     interface{}
	expiresAt time.Time
}

// Cache is a concurrency-safe map with per-entry TTL and a background
// sweep, the same shape as the auth service's simpleCache.
type Cache struct {
	mu     sync.RWMutex
	data   map[string]entry
	logger *zap.Logger

	stop chan struct{}
	once sync.Once
}

// New starts a cache whose background sweep runs every cleanupInterval,
// evicting expired entries so memory doesn't grow unbounded across a long
// process lifetime.
func New(logger *zap.Logger, cleanupInterval time.Duration) *Cache {
	c := &Cache{
		data:   make(map[string]entry),
		logger: logger,
		stop:   make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go c.sweepLoop(cleanupInterval)
	}
	return c
}

func (c *Cache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.data {
		if now.After(e.expiresAt) {
			delete(c.data, key)
		}
	}
}

// Set stores value under key with the given TTL.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
}

// Get returns the value stored under key and whether it was present and
// unexpired.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	e, ok := c.data[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// Delete removes key unconditionally.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
}

// Len reports the number of entries, including not-yet-swept expired ones;
// useful for stats/metrics endpoints.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Close stops the background sweep. Safe to call more than once.
func (c *Cache) Close() {
	c.once.Do(func() { close(c.stop) })
}
