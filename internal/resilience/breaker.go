// Package resilience provides the circuit breaker guarding every unreliable
// external call, a name-keyed breaker [Registry] and provider failover.
//
// The central type is [Breaker], a three-state breaker (closed → open →
// half-open) with a lazy cooldown: no timer runs in the background, the first
// call after the cooldown elapses becomes the single probe. [FallbackGroup]
// composes several instances of one provider type, each behind its own
// breaker, so that a failing primary is bypassed in favour of a healthy
// fallback.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is matched by every [*OpenError] returned from a rejected call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// OpenError is returned when a breaker rejects a call. Callers should treat it
// as "service unavailable" and not retry synchronously.
type OpenError struct {
	// Name is the breaker that rejected the call.
	Name string
}

// Error implements error.
func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open", e.Name)
}

// Is reports whether target is [ErrCircuitOpen].
func (e *OpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// State represents the operating mode of a [Breaker].
type State int

const (
	// StateClosed is the normal operating state. All calls are forwarded.
	StateClosed State = iota

	// StateOpen indicates the breaker has tripped. Calls are rejected with an
	// [*OpenError] until the cooldown elapses.
	StateOpen

	// StateHalfOpen is the probe state entered lazily after the cooldown.
	// Exactly one call is let through; its outcome closes or re-opens the
	// breaker.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "closed":
		*s = StateClosed
	case "open":
		*s = StateOpen
	case "half-open":
		*s = StateHalfOpen
	default:
		return fmt.Errorf("resilience: unknown breaker state %q", b)
	}
	return nil
}

const (
	// DefaultFailureThreshold is the number of consecutive failures that trip
	// a breaker when none is configured.
	DefaultFailureThreshold = 3

	// DefaultCooldown is how long a tripped breaker rejects calls when no
	// cooldown is configured.
	DefaultCooldown = 60 * time.Second
)

// BreakerConfig holds tuning knobs for a [Breaker].
type BreakerConfig struct {
	// Name identifies the guarded dependency in errors, logs and metrics.
	Name string

	// FailureThreshold is the number of consecutive failures in the closed
	// state before the breaker opens. Default: 3.
	FailureThreshold int

	// Cooldown is how long the breaker stays open after the last failure
	// before a probe is let through. Default: 60s.
	Cooldown time.Duration

	// IsFailure decides whether an error returned by the guarded operation
	// counts against the breaker. Default: every error except
	// [context.Canceled].
	IsFailure func(error) bool

	// OnStateChange, if set, is called after every state transition. It is
	// invoked while the breaker lock is held and must not call back into the
	// breaker.
	OnStateChange func(name string, from, to State)

	// OnReject, if set, is called for every rejected call.
	OnReject func(name string)

	// Now returns the current time. Default: [time.Now].
	Now func() time.Time
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.IsFailure == nil {
		c.IsFailure = defaultIsFailure
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

func defaultIsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// BreakerSnapshot is a point-in-time view of a breaker for ops tooling.
type BreakerSnapshot struct {
	Name        string    `json:"name"`
	State       State     `json:"state"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure,omitzero"`
}

// Breaker implements the three-state circuit breaker pattern.
type Breaker struct {
	cfg BreakerConfig

	mu            sync.Mutex
	state         State
	failures      int
	lastFailure   time.Time
	probeInFlight bool
	// gen increments on Reset so a probe started before it is not mistaken
	// for a later one.
	gen uint64
}

// NewBreaker creates a [Breaker]. Zero-value config fields are replaced with
// defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg.withDefaults(), state: StateClosed}
}

// Name returns the breaker's name.
func (b *Breaker) Name() string { return b.cfg.Name }

// Call executes fn unless the breaker is open. A rejected call returns an
// [*OpenError] without invoking fn.
//
// If ctx is done before fn returns, Call returns ctx.Err() immediately; fn
// keeps running and its eventual outcome is still recorded.
//
// A call admitted while closed only counts while the breaker is still closed.
// If the breaker opened or was reset in the meantime, its late result is
// dropped: it neither extends the cooldown nor closes the breaker. Only the
// probe decides a half-open breaker.
func (b *Breaker) Call(ctx context.Context, fn func(context.Context) error) error {
	_, err := Do(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do is the value-returning form of [Breaker.Call].
func Do[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	probe, gen, err := b.acquire()
	if err != nil {
		return zero, err
	}

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		b.record(probe, gen, err)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// acquire decides under the lock whether a call may proceed and whether it
// holds the probe slot.
func (b *Breaker) acquire() (probe bool, gen uint64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.cfg.Now().Sub(b.lastFailure) < b.cfg.Cooldown {
			return false, b.gen, b.reject()
		}
		b.transition(StateHalfOpen)
		b.probeInFlight = true
		return true, b.gen, nil
	case StateHalfOpen:
		if b.probeInFlight {
			return false, b.gen, b.reject()
		}
		b.probeInFlight = true
		return true, b.gen, nil
	default:
		return false, b.gen, nil
	}
}

// reject must be called with b.mu held.
func (b *Breaker) reject() error {
	if b.cfg.OnReject != nil {
		b.cfg.OnReject(b.cfg.Name)
	}
	return &OpenError{Name: b.cfg.Name}
}

func (b *Breaker) record(probe bool, gen uint64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if gen != b.gen {
		return
	}
	failed := err != nil && b.cfg.IsFailure(err)

	if probe {
		b.probeInFlight = false
		if b.state != StateHalfOpen {
			return
		}
		if failed {
			b.lastFailure = b.cfg.Now()
			b.transition(StateOpen)
			slog.Warn("circuit breaker re-opened after failed probe", "name", b.cfg.Name, "error", err)
			return
		}
		if err == nil {
			b.failures = 0
			b.transition(StateClosed)
			slog.Info("circuit breaker closed after successful probe", "name", b.cfg.Name)
		}
		return
	}

	if b.state != StateClosed {
		return
	}
	if !failed {
		if err == nil {
			b.failures = 0
		}
		return
	}
	b.failures++
	b.lastFailure = b.cfg.Now()
	if b.failures >= b.cfg.FailureThreshold {
		b.transition(StateOpen)
		slog.Warn("circuit breaker opened",
			"name", b.cfg.Name,
			"consecutive_failures", b.failures,
			"cooldown", b.cfg.Cooldown)
	}
}

// transition must be called with b.mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if to == StateHalfOpen {
		slog.Info("circuit breaker half-open, letting probe through", "name", b.cfg.Name)
	}
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, from, to)
	}
}

// State returns the effective state. An open breaker whose cooldown has
// elapsed reports [StateHalfOpen]; the transition itself happens in the next
// call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.effectiveState()
}

// effectiveState must be called with b.mu held.
func (b *Breaker) effectiveState() State {
	if b.state == StateOpen && b.cfg.Now().Sub(b.lastFailure) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Snapshot returns the breaker's current bookkeeping.
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		Name:        b.cfg.Name,
		State:       b.effectiveState(),
		Failures:    b.failures,
		LastFailure: b.lastFailure,
	}
}

// Reset forces the breaker back to [StateClosed] and clears its counters.
// Intended for ops tooling and tests.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.gen++
	b.failures = 0
	b.lastFailure = time.Time{}
	b.probeInFlight = false
	b.transition(StateClosed)
	slog.Info("circuit breaker manually reset", "name", b.cfg.Name)
}
