// Package errs defines the error kinds shared by the indexing and retrieval layers.
//
// Domain packages wrap these sentinels with their own, narrower errors so callers
// can branch with errors.Is on either level.
package errs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound marks a referenced collection, category, document or tenant that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks input rejected before any I/O.
	ErrValidation = errors.New("validation failed")
	// ErrTransient marks a network or rate-limit failure eligible for bounded retry.
	ErrTransient = errors.New("transient failure")
	// ErrConsistency marks a broken internal invariant. Never swallowed.
	ErrConsistency = errors.New("consistency violation")
	// ErrConflict marks a lost compare-and-set or a held lease.
	ErrConflict = errors.New("conflict")
)

// Validationf returns an ErrValidation with a formatted detail message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Consistencyf returns an ErrConsistency with a formatted detail message.
func Consistencyf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConsistency, fmt.Sprintf(format, args...))
}

// Transient wraps err as retryable. A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransient) {
		return err
	}
	return &transientError{err: err}
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }

func (e *transientError) Unwrap() []error { return []error{ErrTransient, e.err} }

// IsRetryable reports whether err should be retried.
// Context cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, ErrTransient)
}

// HTTPStatus maps an error kind to the status code surfaced by the HTTP and MCP layers.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrTransient):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
