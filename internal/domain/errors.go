// Package domain defines core types, interfaces, and errors for the audit engine.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// APIError indicates a failed remote API call. StatusCode carries the
// HTTP-style status; RetryAfter is non-zero when the server sent an
// explicit retry hint (429).
type APIError struct {
	Message    string
	StatusCode int
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
}

// Retryable reports whether the error is transient: throttling, server
// errors, or anything without a definite status. Non-429 4xx is permanent.
func (e *APIError) Retryable() bool {
	if e.StatusCode == 429 {
		return true
	}
	if e.StatusCode >= 400 && e.StatusCode < 500 {
		return false
	}
	return true
}

// CircuitOpenError is returned without attempting a call while the
// operation's circuit breaker is open.
type CircuitOpenError struct {
	OperationKey string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for %s", e.OperationKey)
}

// MaxRetriesError indicates an operation failed after exhausting its
// retry budget. LastErr is the final attempt's error.
type MaxRetriesError struct {
	OperationKey string
	Attempts     int
	LastErr      error
}

func (e *MaxRetriesError) Error() string {
	return fmt.Sprintf("max retries exceeded for %s after %d attempts: %v",
		e.OperationKey, e.Attempts, e.LastErr)
}

func (e *MaxRetriesError) Unwrap() error { return e.LastErr }

// ErrAncestorNotPersisted signals a dependency-ordering problem: permission
// resolution reached an ancestor that discovery has not persisted yet.
// Callers defer the resource and retry after discovery catches up.
var ErrAncestorNotPersisted = errors.New("ancestor not yet persisted")

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// IsRetryable classifies an error per the transient/permanent taxonomy.
// Circuit-open errors are not retryable at the resilience layer; callers
// back off and retry the scope later.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	var circuitErr *CircuitOpenError
	if errors.As(err, &circuitErr) {
		return false
	}
	// Network-level failures (no HTTP status) are transient.
	var notFound *NotFoundError
	var validation *ValidationError
	if errors.As(err, &notFound) || errors.As(err, &validation) {
		return false
	}
	return true
}
