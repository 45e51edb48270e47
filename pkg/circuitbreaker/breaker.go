// Package circuitbreaker is a minimal per-key circuit breaker: count
// consecutive failures, trip open past a threshold, and let a cooldown
// window close it again without a manual reset. The provider driver keys
// one breaker per provider name so a failing vendor stops taking traffic
// without affecting the others sharing the same process.
package circuitbreaker

import (
	"sync"
	"time"
)

// Breaker tracks one key's consecutive failures and open/closed state.
type Breaker struct {
	mu              sync.RWMutex
	failures        int
	lastFailureTime time.Time
	isOpen          bool

	threshold int
	cooldown  time.Duration
}

// New returns a breaker that opens after threshold consecutive failures
// and stays open for cooldown before probing again.
func New(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// IsOpen reports whether the breaker is currently blocking calls. Once the
// cooldown has elapsed since the last failure it self-resets and reports
// closed, so a caller never needs a separate half-open probe step.
func (b *Breaker) IsOpen() bool {
	b.mu.RLock()
	if !b.isOpen {
		b.mu.RUnlock()
		return false
	}
	tripped := time.Since(b.lastFailureTime) <= b.cooldown
	b.mu.RUnlock()
	if tripped {
		return true
	}

	b.mu.Lock()
	b.isOpen = false
	b.failures = 0
	b.mu.Unlock()
	return false
}

// RecordSuccess clears the failure count and closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.isOpen = false
}

// RecordFailure counts one failure and trips the breaker once threshold
// consecutive failures have accumulated.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailureTime = time.Now()

	if b.failures >= b.threshold {
		b.isOpen = true
	}
}

// Reset forces the breaker closed regardless of cooldown.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.isOpen = false
}

// State returns the current open flag and failure count, for /status or
// diagnostics handlers.
func (b *Breaker) State() (isOpen bool, failures int) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.isOpen, b.failures
}

// Manager lazily creates and keys one Breaker per string (the provider
// driver uses the provider name), sharing the same threshold/cooldown.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker

	defaultThreshold int
	defaultCooldown  time.Duration
}

func NewManager(threshold int, cooldown time.Duration) *Manager {
	return &Manager{
		breakers:         make(map[string]*Breaker),
		defaultThreshold: threshold,
		defaultCooldown:  cooldown,
	}
}

func (m *Manager) breakerFor(key string) *Breaker {
	m.mu.RLock()
	b, exists := m.breakers[key]
	m.mu.RUnlock()
	if exists {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, exists = m.breakers[key]; exists {
		return b
	}

	b = New(m.defaultThreshold, m.defaultCooldown)
	m.breakers[key] = b
	return b
}

func (m *Manager) IsOpen(key string) bool   { return m.breakerFor(key).IsOpen() }
func (m *Manager) RecordSuccess(key string) { m.breakerFor(key).RecordSuccess() }
func (m *Manager) RecordFailure(key string) { m.breakerFor(key).RecordFailure() }
func (m *Manager) Reset(key string)         { m.breakerFor(key).Reset() }

// States returns a snapshot of every breaker's open/failure state, keyed by
// the same key passed to IsOpen/RecordFailure, for the /status endpoint.
func (m *Manager) States() map[string]map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]map[string]any, len(m.breakers))
	for key, b := range m.breakers {
		isOpen, failures := b.State()
		out[key] = map[string]any{"is_open": isOpen, "failures": failures}
	}
	return out
}
