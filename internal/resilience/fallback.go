package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has an
// open circuit breaker.
var ErrAllFailed = errors.New("all providers failed")

// fallbackEntry pairs a provider value with its dedicated circuit breaker.
type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// FallbackGroup wraps a primary and zero or more fallback instances of the same
// provider type. When the primary fails (or its breaker is open), the next
// healthy fallback is tried in registration order.
//
// Entries are registered during setup; AddFallback must not race with
// [ExecuteWithResult].
type FallbackGroup[T any] struct {
	entries  []fallbackEntry[T]
	breakers *Registry
	prefix   string
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
// Each entry's breaker is taken from breakers under the name prefix+name.
func NewFallbackGroup[T any](primary T, primaryName string, breakers *Registry, prefix string) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{breakers: breakers, prefix: prefix}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a fallback provider. Fallbacks are tried in the order they
// are added, after the primary.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: fg.breakers.Get(fg.prefix + name),
	})
}

// Len returns the number of entries including the primary.
func (fg *FallbackGroup[T]) Len() int { return len(fg.entries) }

// ExecuteWithResult tries fn against each entry in order until one succeeds.
// Entries whose breaker is open are skipped. If every entry fails the returned
// error matches both [ErrAllFailed] and the last entry's error.
//
// A done ctx stops the walk; its error is returned as is.
func ExecuteWithResult[T any, R any](ctx context.Context, fg *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range fg.entries {
		entry := &fg.entries[i]
		result, err := Do(ctx, entry.breaker, func(ctx context.Context) (R, error) {
			return fn(ctx, entry.value)
		})
		if err == nil {
			return result, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider (circuit open)", "provider", entry.name)
		} else {
			slog.Warn("provider failed, trying next",
				"provider", entry.name, "error", err)
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
