package domain

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for the closed failure taxonomy. Extractors wrap their
// failures with Transient or Permanent; everything else the engine produces
// maps onto one of these values via errors.Is.
var (
	// ErrCircuitOpen marks a deliberate skip, not a real failure.
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrCancelled marks an operator-initiated stop.
	ErrCancelled = errors.New("run cancelled")

	// ErrRetryExhausted wraps the last attempt error once the retry budget is spent.
	ErrRetryExhausted = errors.New("retry budget exhausted")
)

// ErrorClass partitions errors by how the retry executor must react.
type ErrorClass int

const (
	// ClassPermanent: auth failures, missing objects, schema violations.
	// Never retried; the conservative default for unclassified errors.
	ClassPermanent ErrorClass = iota
	// ClassTransient: timeouts, connection resets, rate limiting. Retried per policy.
	ClassTransient
	// ClassCancelled: the run's cancellation signal fired.
	ClassCancelled
	// ClassCircuitOpen: the source's breaker refused the attempt.
	ClassCircuitOpen
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassCancelled:
		return "cancelled"
	case ClassCircuitOpen:
		return "circuit_open"
	default:
		return "permanent"
	}
}

type transientError struct{ err error }

func (e *transientError) Error() string { return "transient: " + e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return "permanent: " + e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Transient marks err as retriable (network/timeout/rate-limit conditions).
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Transientf is shorthand for Transient(fmt.Errorf(...)).
func Transientf(format string, args ...any) error {
	return &transientError{err: fmt.Errorf(format, args...)}
}

// Permanent marks err as non-retriable (auth, missing object, bad config).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Permanentf is shorthand for Permanent(fmt.Errorf(...)).
func Permanentf(format string, args ...any) error {
	return &permanentError{err: fmt.Errorf(format, args...)}
}

// Classify maps an error onto the failure taxonomy. Unmarked errors are
// treated as permanent: retrying an unknown condition risks hammering a
// source that will never recover, which is exactly what the breaker exists
// to prevent.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassPermanent
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return ClassCancelled
	case errors.Is(err, ErrCircuitOpen):
		return ClassCircuitOpen
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	}
	var te *transientError
	if errors.As(err, &te) {
		return ClassTransient
	}
	return ClassPermanent
}
