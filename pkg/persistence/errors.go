// Package persistence provides standardized error types for persistence
// operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrExecutionNotFound indicates no execution exists for the given ARN.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrCallbackNotFound indicates no pending callback exists for the
	// given token.
	ErrCallbackNotFound = errors.New("callback not found")

	// ErrCallbackAlreadyResolved indicates a delivery addressed a callback
	// that already reached a terminal state. First delivery wins; later
	// ones are rejected at the control-plane boundary.
	ErrCallbackAlreadyResolved = errors.New("callback already resolved")
)

// ExecutionError wraps execution-related storage errors with context.
type ExecutionError struct {
	Op  string // Operation being performed (e.g., "Save", "ByARN")
	ARN string // Execution ARN if applicable
	Err error  // Underlying error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ARN, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewExecutionError creates a new execution storage error with context.
func NewExecutionError(op, arn string, err error) *ExecutionError {
	return &ExecutionError{Op: op, ARN: arn, Err: err}
}

// IsExecutionNotFound checks if an error indicates an unknown execution.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsCallbackNotFound checks if an error indicates an unknown callback token.
func IsCallbackNotFound(err error) bool {
	return errors.Is(err, ErrCallbackNotFound)
}

// IsCallbackAlreadyResolved checks if an error indicates a duplicate
// callback delivery.
func IsCallbackAlreadyResolved(err error) bool {
	return errors.Is(err, ErrCallbackAlreadyResolved)
}
