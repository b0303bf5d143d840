package engine

import (
	"context"
	"errors"
	"fmt"
)

// Reason categorizes execution failures.
type Reason string

const (
	// ReasonBackendUnavailable means the dataset backend could not be
	// reached or refused the connection. Retryable; no budget is charged.
	ReasonBackendUnavailable Reason = "backend_unavailable"

	// ReasonTimeout means the query exceeded its deadline.
	ReasonTimeout Reason = "timeout"

	// ReasonDataError means the backend accepted the query but failed
	// while evaluating it.
	ReasonDataError Reason = "data_error"
)

// Error is an execution failure. Always results in the reservation being
// released: epsilon is never charged for a query that did not complete.
type Error struct {
	Reason  Reason
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsExecutionError returns true if err is an engine.Error.
// Uses errors.As to handle wrapped errors.
func IsExecutionError(err error) bool {
	var ee *Error
	return errors.As(err, &ee)
}

// newError creates an execution error with the given reason.
func newError(reason Reason, message string, err error) *Error {
	return &Error{Reason: reason, Message: message, Err: err}
}

// classify wraps a backend error, distinguishing deadline expiry from
// evaluation failures. Caller cancellation is not a timeout; it falls
// through to data_error with the cancellation preserved in the chain.
func classify(message string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(ReasonTimeout, message, err)
	}
	return newError(ReasonDataError, message, err)
}
