package resilience

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// ErrUnknownBreaker is returned by [Registry.Reset] for a name that has no
// breaker.
var ErrUnknownBreaker = errors.New("resilience: unknown breaker")

// Registry maps dependency names to [Breaker] instances. It is created once at
// startup and passed by reference to everything that guards an external call.
type Registry struct {
	defaults  BreakerConfig
	overrides map[string]BreakerConfig

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// RegistryOption configures a [Registry].
type RegistryOption func(*Registry)

// WithOverride sets a per-name config. Zero fields fall back to the registry
// defaults.
func WithOverride(name string, cfg BreakerConfig) RegistryOption {
	return func(r *Registry) {
		r.overrides[name] = cfg
	}
}

// NewRegistry creates a [Registry] whose breakers start from defaults. The
// hooks and clock of defaults apply to every breaker.
func NewRegistry(defaults BreakerConfig, opts ...RegistryOption) *Registry {
	r := &Registry{
		defaults:  defaults,
		overrides: make(map[string]BreakerConfig),
		breakers:  make(map[string]*Breaker),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := NewBreaker(r.configFor(name))
	r.breakers[name] = b
	return b
}

// Lookup returns the breaker for name without creating it.
func (r *Registry) Lookup(name string) (*Breaker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	return b, ok
}

// Names returns the registered breaker names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.breakers))
}

// Snapshots returns the state of every registered breaker, sorted by name.
func (r *Registry) Snapshots() []BreakerSnapshot {
	names := r.Names()
	out := make([]BreakerSnapshot, 0, len(names))
	for _, name := range names {
		if b, ok := r.Lookup(name); ok {
			out = append(out, b.Snapshot())
		}
	}
	return out
}

// Reset force-closes the named breaker.
func (r *Registry) Reset(name string) error {
	b, ok := r.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownBreaker, name)
	}
	b.Reset()
	return nil
}

// configFor must be called with r.mu held.
func (r *Registry) configFor(name string) BreakerConfig {
	cfg := r.defaults
	if o, ok := r.overrides[name]; ok {
		if o.FailureThreshold > 0 {
			cfg.FailureThreshold = o.FailureThreshold
		}
		if o.Cooldown > 0 {
			cfg.Cooldown = o.Cooldown
		}
		if o.IsFailure != nil {
			cfg.IsFailure = o.IsFailure
		}
	}
	cfg.Name = name
	return cfg
}
