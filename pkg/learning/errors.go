package learning

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every store implementation and service. Callers
// match with [errors.Is].
var (
	// ErrNotFound means the referenced user, pattern or snapshot does not exist.
	ErrNotFound = errors.New("learning: not found")

	// ErrDuplicate means a concurrent insert lost a unique-constraint race.
	// Services convert it into the equivalent upsert outcome.
	ErrDuplicate = errors.New("learning: duplicate")

	// ErrUnavailable means the underlying store could not be reached.
	ErrUnavailable = errors.New("learning: store unavailable")

	// ErrValidation means the input was rejected before any mutation.
	ErrValidation = errors.New("learning: validation failed")
)

// StoreError carries the failing operation and user alongside the taxonomy
// kind and the driver error.
type StoreError struct {
	Op     string
	UserID string
	Kind   error
	Err    error
}

// Error implements error.
func (e *StoreError) Error() string {
	if e.UserID != "" {
		return fmt.Sprintf("%s (user %s): %v: %v", e.Op, e.UserID, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the taxonomy sentinel and the driver cause.
func (e *StoreError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// NewStoreError wraps err with op and userID. A nil err yields nil. When kind
// is nil the error is classified as [ErrUnavailable].
func NewStoreError(op, userID string, kind, err error) error {
	if err == nil {
		return nil
	}
	if kind == nil {
		kind = ErrUnavailable
	}
	return &StoreError{Op: op, UserID: userID, Kind: kind, Err: err}
}

// Validationf returns an error wrapping [ErrValidation].
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
