// Package durable implements the durable execution engine: the cooperative
// scheduler that runs handler code and its parallel branches, the callback
// suspend/resume protocol, and deterministic replay over the operation tree.
package durable

import (
	"errors"

	"github.com/dukex/durion/pkg/models"
)

// Error type names recorded in failure payloads. These are part of the
// externally observable contract: callers see them in execution snapshots.
const (
	ErrorTypeTimeout        = "TimeoutError"
	ErrorTypeReplayMismatch = "ReplayMismatchError"
	ErrorTypeHandler        = "HandlerError"
	ErrorTypeRuntime        = "RuntimeError"
)

// Validation errors, surfaced immediately to handler code and never
// retried.
var (
	// ErrInvalidTimeout indicates a callback configuration without a
	// positive timeout.
	ErrInvalidTimeout = errors.New("callback timeout must be greater than zero")

	// ErrNilBranch indicates a parallel call with a nil branch function.
	ErrNilBranch = errors.New("parallel branch function cannot be nil")
)

// failureFrom normalizes an error returned by handler code into a recorded
// failure. Failures bubbling up from child operations keep their original
// error type and position.
func failureFrom(err error, operationPath string) *models.Failure {
	var failure *models.Failure
	if errors.As(err, &failure) {
		if failure.Operation == "" {
			clone := *failure
			clone.Operation = operationPath

			return &clone
		}

		return failure
	}

	return &models.Failure{
		ErrorType: ErrorTypeHandler,
		Message:   err.Error(),
		Operation: operationPath,
	}
}
