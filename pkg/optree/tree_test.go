package optree

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/durion/pkg/models"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
}

func newTestTree(recorder Recorder) (*Tree, *models.Operation) {
	root := &models.Operation{
		Name:   "flow",
		Type:   models.OperationTypeContext,
		Status: models.OperationStatusRunning,
	}

	return New(root, recorder, fixedNow), root
}

func TestBeginCreatesChildInOrder(t *testing.T) {
	tree, root := newTestTree(nil)

	first, err := tree.Begin(root, "step-a", models.OperationTypeContext)
	require.NoError(t, err)

	second, err := tree.Begin(root, "step-b", models.OperationTypeCallback)
	require.NoError(t, err)

	require.Len(t, root.Children, 2)
	assert.Same(t, first, root.Children[0])
	assert.Same(t, second, root.Children[1])
	assert.Equal(t, models.OperationStatusPending, first.Status)
	assert.Equal(t, "flow/step-a", first.Path())
}

func TestBeginReplayMatchesRecordedChildren(t *testing.T) {
	tree, root := newTestTree(nil)

	created, err := tree.Begin(root, "step-a", models.OperationTypeContext)
	require.NoError(t, err)

	replay := New(root, nil, fixedNow)

	matched, err := replay.Begin(root, "step-a", models.OperationTypeContext)
	require.NoError(t, err)
	assert.Same(t, created, matched)
	assert.Len(t, root.Children, 1)
}

func TestBeginReplayMismatchIsFatal(t *testing.T) {
	tree, root := newTestTree(nil)

	_, err := tree.Begin(root, "step-a", models.OperationTypeContext)
	require.NoError(t, err)

	replay := New(root, nil, fixedNow)

	_, err = replay.Begin(root, "renamed", models.OperationTypeContext)
	require.Error(t, err)
	assert.True(t, IsReplayMismatch(err))

	var mismatch *MismatchError

	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "flow", mismatch.Parent)
	assert.Equal(t, 0, mismatch.Position)
}

func TestBeginReplayMismatchOnType(t *testing.T) {
	tree, root := newTestTree(nil)

	_, err := tree.Begin(root, "step-a", models.OperationTypeContext)
	require.NoError(t, err)

	replay := New(root, nil, fixedNow)

	_, err = replay.Begin(root, "step-a", models.OperationTypeCallback)
	assert.True(t, IsReplayMismatch(err))
}

func TestBeginRejectsDuplicateSiblingName(t *testing.T) {
	tree, root := newTestTree(nil)

	_, err := tree.Begin(root, "step-a", models.OperationTypeContext)
	require.NoError(t, err)

	_, err = tree.Begin(root, "step-a", models.OperationTypeContext)
	assert.ErrorIs(t, err, ErrDuplicateOperationName)
}

func TestBeginCallbackDerivesTokenAndDeadline(t *testing.T) {
	tree, root := newTestTree(nil)
	deadline := fixedNow().Add(5 * time.Minute)

	op, err := tree.BeginCallback(root, "wait", "arn-1", deadline)
	require.NoError(t, err)

	assert.Equal(t, models.CallbackToken("arn-1", "flow/wait"), op.CallbackToken)
	require.NotNil(t, op.Deadline)
	assert.Equal(t, deadline, *op.Deadline)
}

func TestBeginCallbackReplayKeepsRecordedDeadline(t *testing.T) {
	tree, root := newTestTree(nil)
	deadline := fixedNow().Add(5 * time.Minute)

	created, err := tree.BeginCallback(root, "wait", "arn-1", deadline)
	require.NoError(t, err)

	replay := New(root, nil, fixedNow)

	matched, err := replay.BeginCallback(root, "wait", "arn-1", fixedNow().Add(time.Hour))
	require.NoError(t, err)
	assert.Same(t, created, matched)
	assert.Equal(t, deadline, *matched.Deadline)
}

func TestDrained(t *testing.T) {
	tree, root := newTestTree(nil)

	_, err := tree.Begin(root, "step-a", models.OperationTypeContext)
	require.NoError(t, err)

	assert.True(t, tree.Drained(root))

	replay := New(root, nil, fixedNow)
	assert.False(t, replay.Drained(root))

	_, err = replay.Begin(root, "step-a", models.OperationTypeContext)
	require.NoError(t, err)
	assert.True(t, replay.Drained(root))
}

func TestTransitions(t *testing.T) {
	tree, root := newTestTree(nil)

	op, err := tree.Begin(root, "step-a", models.OperationTypeContext)
	require.NoError(t, err)

	require.NoError(t, tree.Start(op))
	assert.Equal(t, models.OperationStatusRunning, op.Status)

	// Start on a running operation is a no-op, not an error.
	require.NoError(t, tree.Start(op))

	require.NoError(t, tree.Complete(op, []byte("done")))
	assert.Equal(t, models.OperationStatusCompleted, op.Status)
	assert.Equal(t, []byte("done"), op.Result)

	err = tree.Fail(op, &models.Failure{ErrorType: "HandlerError", Message: "late"})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, models.OperationStatusCompleted, op.Status)
}

func TestCompleteRequiresTerminalChildren(t *testing.T) {
	tree, root := newTestTree(nil)

	scope, err := tree.Begin(root, "scope", models.OperationTypeContext)
	require.NoError(t, err)
	require.NoError(t, tree.Start(scope))

	child, err := tree.Begin(scope, "pending-child", models.OperationTypeCallback)
	require.NoError(t, err)

	err = tree.Complete(scope, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, tree.Complete(child, nil))
	require.NoError(t, tree.Complete(scope, nil))
}

func TestRecorderObservesEveryMutation(t *testing.T) {
	var recorded []string

	recorder := RecorderFunc(func(op *models.Operation) error {
		recorded = append(recorded, op.Path()+":"+string(op.Status))

		return nil
	})

	tree, root := newTestTree(recorder)

	op, err := tree.Begin(root, "step-a", models.OperationTypeContext)
	require.NoError(t, err)
	require.NoError(t, tree.Start(op))
	require.NoError(t, tree.Complete(op, nil))

	assert.Equal(t, []string{
		"flow/step-a:PENDING",
		"flow/step-a:RUNNING",
		"flow/step-a:COMPLETED",
	}, recorded)
}
