package optree

import (
	"fmt"
	"time"

	"github.com/dukex/durion/pkg/models"
)

// Recorder observes every tree mutation so the caller can mirror state to
// the control plane. Recording must be idempotent with respect to replay:
// re-recording an already persisted operation is a no-op for the store.
type Recorder interface {
	Record(op *models.Operation) error
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(op *models.Operation) error

func (f RecorderFunc) Record(op *models.Operation) error {
	return f(op)
}

// Tree wraps one execution's operation tree for a single engine run. It
// tracks a per-scope child cursor: each Begin under a parent consumes the
// next structural position, matching recorded history or appending to it.
// A Tree is confined to the execution's scheduler and needs no locking.
type Tree struct {
	root     *models.Operation
	cursors  map[*models.Operation]int
	recorder Recorder
	now      func() time.Time
}

// New builds a Tree over an existing root operation, typically loaded from
// storage. Parent pointers are relinked so paths resolve.
func New(root *models.Operation, recorder Recorder, now func() time.Time) *Tree {
	if now == nil {
		now = time.Now
	}

	root.LinkParents()

	return &Tree{
		root:     root,
		cursors:  make(map[*models.Operation]int),
		recorder: recorder,
		now:      now,
	}
}

// Root returns the tree's root operation.
func (t *Tree) Root() *models.Operation {
	return t.root
}

// Begin creates a PENDING child of parent at the next structural position,
// or, on replay, returns the previously recorded child at that position.
// A recorded child whose name or type differs from the attempt is a replay
// mismatch, fatal to the execution.
func (t *Tree) Begin(parent *models.Operation, name string, opType models.OperationType) (*models.Operation, error) {
	position := t.cursors[parent]
	t.cursors[parent]++

	if position < len(parent.Children) {
		recorded := parent.Children[position]
		if recorded.Name != name || recorded.Type != opType {
			return nil, &MismatchError{
				Parent:   parent.Path(),
				Position: position,
				Want:     fmt.Sprintf("%s %q", recorded.Type, recorded.Name),
				Got:      fmt.Sprintf("%s %q", opType, name),
			}
		}

		return recorded, nil
	}

	if parent.ChildByName(name) != nil {
		return nil, fmt.Errorf("operation %q under %s: %w", name, parent.Path(), ErrDuplicateOperationName)
	}

	op := &models.Operation{
		Name:      name,
		Type:      opType,
		Status:    models.OperationStatusPending,
		CreatedAt: t.now(),
		UpdatedAt: t.now(),
	}

	parent.Children = append(parent.Children, op)
	parent.LinkParents()

	return op, t.record(op)
}

// BeginCallback creates a CALLBACK child with its externally visible token
// and absolute deadline, or returns the recorded child on replay. The token
// is derived from the execution ARN and the operation's tree path, so a
// replayed creation reconstructs the identical token.
func (t *Tree) BeginCallback(parent *models.Operation, name, executionARN string, deadline time.Time) (*models.Operation, error) {
	op, err := t.Begin(parent, name, models.OperationTypeCallback)
	if err != nil {
		return nil, err
	}

	if op.CallbackToken != "" {
		return op, nil
	}

	op.CallbackToken = models.CallbackToken(executionARN, op.Path())
	op.Deadline = &deadline
	op.UpdatedAt = t.now()

	return op, t.record(op)
}

// Drained reports whether the replaying code consumed every recorded child
// of the scope. A scope function that returns having performed fewer
// operations than recorded diverged from history.
func (t *Tree) Drained(scope *models.Operation) bool {
	return t.cursors[scope] >= len(scope.Children)
}

// Start transitions a PENDING operation to RUNNING. Already running or
// terminal operations are left untouched: replay re-enters recorded nodes.
func (t *Tree) Start(op *models.Operation) error {
	if op.Status != models.OperationStatusPending {
		return nil
	}

	op.Status = models.OperationStatusRunning
	op.UpdatedAt = t.now()

	return t.record(op)
}

// Complete transitions an operation to COMPLETED with the given result.
// A parent scope cannot complete while any child is non-terminal.
func (t *Tree) Complete(op *models.Operation, result []byte) error {
	if err := t.checkTerminalTransition(op); err != nil {
		return err
	}

	for _, child := range op.Children {
		if !child.Terminal() {
			return fmt.Errorf("completing %s with non-terminal child %q: %w",
				op.Path(), child.Name, ErrInvalidTransition)
		}
	}

	op.Status = models.OperationStatusCompleted
	op.Result = result
	op.UpdatedAt = t.now()

	return t.record(op)
}

// Fail transitions an operation to FAILED with the given failure reason.
func (t *Tree) Fail(op *models.Operation, failure *models.Failure) error {
	if err := t.checkTerminalTransition(op); err != nil {
		return err
	}

	op.Status = models.OperationStatusFailed
	op.Failure = failure
	op.UpdatedAt = t.now()

	return t.record(op)
}

func (t *Tree) checkTerminalTransition(op *models.Operation) error {
	if op.Terminal() {
		return fmt.Errorf("operation %s is already %s: %w", op.Path(), op.Status, ErrInvalidTransition)
	}

	return nil
}

func (t *Tree) record(op *models.Operation) error {
	if t.recorder == nil {
		return nil
	}

	return t.recorder.Record(op)
}
