// Package optree maintains the operation tree of a durable execution and
// implements the match-or-create rule that makes replay deterministic.
package optree

import (
	"errors"
	"fmt"
)

// Standard operation tree error types.
var (
	// ErrReplayMismatch indicates recorded history does not match what the
	// replaying code attempted at a structural position. Fatal to the
	// execution: it cannot safely continue.
	ErrReplayMismatch = errors.New("replay mismatch")

	// ErrDuplicateOperationName indicates a sibling with the same name
	// already exists at the position being created.
	ErrDuplicateOperationName = errors.New("duplicate operation name")

	// ErrInvalidTransition indicates an attempt to move an operation
	// backwards or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid operation status transition")
)

// MismatchError carries the structural position where replay diverged.
type MismatchError struct {
	Parent   string // path of the parent scope
	Position int    // child ordinal the code attempted
	Want     string // recorded name/type at that position
	Got      string // name/type the code attempted
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("replay mismatch under %s at position %d: recorded %s, attempted %s",
		e.Parent, e.Position, e.Want, e.Got)
}

func (e *MismatchError) Unwrap() error {
	return ErrReplayMismatch
}

// IsReplayMismatch checks if an error indicates non-deterministic replay.
func IsReplayMismatch(err error) bool {
	return errors.Is(err, ErrReplayMismatch)
}
