// Package executor hosts durable handler functions: it mints executions,
// brokers callback deliveries, arms deadline timers, and drives replays
// through the engine.
package executor

import (
	"errors"

	"github.com/dukex/durion/pkg/persistence"
	"github.com/dukex/durion/pkg/registry"
)

var (
	// ErrExecutionNotFound is returned when no execution exists for an ARN.
	ErrExecutionNotFound = persistence.ErrExecutionNotFound

	// ErrCallbackNotFound is returned when a delivery addresses a token no
	// pending callback carries. Malformed tokens report the same way so the
	// boundary never distinguishes unknown from unparseable.
	ErrCallbackNotFound = persistence.ErrCallbackNotFound

	// ErrCallbackAlreadyResolved is returned for duplicate deliveries. The
	// first delivery wins and the recorded result is never altered.
	ErrCallbackAlreadyResolved = persistence.ErrCallbackAlreadyResolved

	// ErrFunctionNotRegistered is returned when a start request names a
	// function no handler was registered for.
	ErrFunctionNotRegistered = registry.ErrHandlerNotRegistered

	// ErrInvalidRequest indicates a start request that failed validation.
	ErrInvalidRequest = errors.New("invalid request")
)

// IsValidationError checks if an error should surface as HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest)
}

// IsNotFoundError checks if an error should surface as HTTP 404.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrExecutionNotFound) ||
		errors.Is(err, ErrCallbackNotFound) ||
		errors.Is(err, ErrFunctionNotRegistered)
}

// IsConflictError checks if an error should surface as HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrCallbackAlreadyResolved)
}
