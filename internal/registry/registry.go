// Package registry is the static model/provider table: which provider
// serves a model, its pricing, its context window and capability tags, and
// the alias table that lets callers use a friendly model name.
package registry

import (
	"strings"
	"sync"
)

// Entry is one row of the static model table.
type Entry struct {
	ModelID        string
	Provider       string
	InputPricePer1K  float64
	OutputPricePer1K float64
	Currency       string
	ContextWindow  int
	Capabilities   []string
}

// Registry is read-only after construction — the only mutation path is
// Reload, which atomically swaps the whole table.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	aliases map[string]string
}

// New builds a registry from a static entry list and an alias map
// (alias -> canonical model id).
func New(entries []Entry, aliases map[string]string) *Registry {
	r := &Registry{}
	r.Reload(entries, aliases)
	return r
}

// Reload atomically swaps the registry's contents. New calls it to load
// the initial table; no periodic refresh calls it.
func (r *Registry) Reload(entries []Entry, aliases map[string]string) {
	m := make(map[string]Entry, len(entries))
	for _, e := range entries {
		m[e.ModelID] = e
	}
	aliasCopy := make(map[string]string, len(aliases))
	for k, v := range aliases {
		aliasCopy[k] = v
	}

	r.mu.Lock()
	r.entries = m
	r.aliases = aliasCopy
	r.mu.Unlock()
}

// ResolveAlias maps a possibly-aliased model id to its canonical form.
// Unknown ids are returned unchanged.
func (r *Registry) ResolveAlias(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if canonical, ok := r.aliases[id]; ok {
		return canonical
	}
	return id
}

// Pricing returns the pricing entry for a canonical model id, or false if
// the model is unknown.
func (r *Registry) Pricing(canonical string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[canonical]
	return e, ok
}

// prefixHeuristics maps a model-id prefix to a provider when the model is
// not in the static table at all.
var prefixHeuristics = []struct {
	prefix   string
	provider string
}{
	{"gpt-", "openai"},
	{"claude-", "anthropic"},
	{"gemini-", "google"},
}

const defaultProvider = "openai"

// ProviderFor resolves which provider serves model, aliasing first, then
// falling back to prefix heuristics, then the default provider.
func (r *Registry) ProviderFor(model string) string {
	canonical := r.ResolveAlias(model)

	if e, ok := r.Pricing(canonical); ok {
		return e.Provider
	}

	for _, h := range prefixHeuristics {
		if strings.HasPrefix(canonical, h.prefix) {
			return h.provider
		}
	}
	return defaultProvider
}

// ModelsByProvider lists every canonical model id served by provider.
func (r *Registry) ModelsByProvider(provider string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for id, e := range r.entries {
		if e.Provider == provider {
			out = append(out, id)
		}
	}
	return out
}

// SupportedModels lists every canonical model id known to the registry.
func (r *Registry) SupportedModels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.entries))
	for id := range r.entries {
		out = append(out, id)
	}
	return out
}
