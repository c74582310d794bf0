package adapters

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the closed taxonomy adapter calls may return.
// Errors crossing the adapter boundary are always one of these (or wrap
// one of these with fmt.Errorf's %w), so the Executor can dispatch on them
// with errors.Is without knowing which concrete adapter produced them.
var (
	// ErrTransient is retried with backoff inside the Executor.
	ErrTransient = errors.New("adapter: transient error")
	// ErrPermanent marks the owning task failed; the job continues.
	ErrPermanent = errors.New("adapter: permanent error")
	// ErrCreditsExhausted sets a job-wide degraded-mode flag; scrapes are
	// replaced by FallbackSearch where possible.
	ErrCreditsExhausted = errors.New("adapter: credits exhausted")
	// ErrNotFound is a per-task Permanent outcome: the resource doesn't exist.
	ErrNotFound = errors.New("adapter: not found")
	// ErrValidation is a per-task Permanent outcome: the adapter's response
	// didn't match its expected shape.
	ErrValidation = errors.New("adapter: validation error")
)

// IsTransient reports whether err should be retried by the Executor.
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }

// IsCreditsExhausted reports whether err should flip the job into degraded mode.
func IsCreditsExhausted(err error) bool { return errors.Is(err, ErrCreditsExhausted) }

// IsPermanent reports whether err should mark the owning task failed without
// retry: Permanent, NotFound, and ValidationError are all per-task terminal.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation)
}

// WrapTransient wraps err as a Transient adapter failure.
func WrapTransient(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrTransient, err)
}

// WrapPermanent wraps err as a Permanent adapter failure.
func WrapPermanent(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrPermanent, err)
}

// WrapCreditsExhausted wraps err as a CreditsExhausted adapter failure.
func WrapCreditsExhausted(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrCreditsExhausted, err)
}

// WrapNotFound wraps err as a NotFound adapter failure.
func WrapNotFound(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrNotFound, err)
}

// WrapValidation wraps err as a ValidationError adapter failure.
func WrapValidation(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrValidation, err)
}
