package durable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/durion/pkg/controlplane"
	"github.com/dukex/durion/pkg/models"
	"github.com/dukex/durion/pkg/optree"
	"github.com/dukex/durion/pkg/persistence/memory"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

type engineHarness struct {
	clock  *testClock
	store  *memory.Persistence
	engine *Engine
}

func newEngineHarness() *engineHarness {
	clock := &testClock{now: time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)}
	store := memory.NewPersistence()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	engine := NewEngine(controlplane.NewLocalClient(store), Config{
		Logger: logger,
		Now:    clock.Now,
	})

	return &engineHarness{clock: clock, store: store, engine: engine}
}

func (h *engineHarness) newExecution(functionName string, input []byte) *models.Execution {
	return &models.Execution{
		ARN:          "arn:durion:execution:" + functionName,
		FunctionName: functionName,
		Status:       models.ExecutionStatusRunning,
		Input:        input,
		StartedAt:    h.clock.now,
		UpdatedAt:    h.clock.now,
	}
}

// deliver resolves a callback the way the control plane does: load the
// stored snapshot, settle the operation, save, and hand back the fresh copy
// for the next replay.
func (h *engineHarness) deliver(t *testing.T, token string, payload []byte, failure *models.Failure) *models.Execution {
	t.Helper()

	arn, path, err := models.ParseCallbackToken(token)
	require.NoError(t, err)

	execution, err := h.store.ExecutionByARN(context.Background(), arn)
	require.NoError(t, err)

	op := execution.Root.FindByPath(path)
	require.NotNil(t, op, "no operation at %s", path)

	tree := optree.New(execution.Root, nil, h.clock.Now)
	if failure != nil {
		require.NoError(t, tree.Fail(op, failure))
	} else {
		require.NoError(t, tree.Complete(op, payload))
	}

	require.NoError(t, h.store.SaveExecution(context.Background(), execution))

	return execution
}

func waitForCallback(handler func(*Callback)) Handler {
	return func(ctx *Context, _ []byte) ([]byte, error) {
		cb, err := ctx.CreateCallback("wait", models.CallbackConfig{Timeout: 10 * time.Minute})
		if err != nil {
			return nil, err
		}

		if handler != nil {
			handler(cb)
		}

		return cb.Result()
	}
}

func TestRunCompletesWithoutCallbacks(t *testing.T) {
	h := newEngineHarness()
	execution := h.newExecution("plain", []byte(`"in"`))

	outcome, err := h.engine.Run(context.Background(), execution, func(_ *Context, input []byte) ([]byte, error) {
		return append([]byte("echo:"), input...), nil
	})
	require.NoError(t, err)

	assert.False(t, outcome.Suspended)
	assert.Equal(t, models.ExecutionStatusSucceeded, outcome.Status)
	assert.Equal(t, []byte(`echo:"in"`), outcome.Result)
	assert.Equal(t, models.OperationStatusCompleted, execution.Root.Status)
}

func TestRunSuspendsOnPendingCallback(t *testing.T) {
	h := newEngineHarness()
	execution := h.newExecution("suspend", nil)

	outcome, err := h.engine.Run(context.Background(), execution, waitForCallback(nil))
	require.NoError(t, err)

	assert.True(t, outcome.Suspended)
	assert.Equal(t, models.ExecutionStatusRunning, execution.Status)

	pending := PendingCallbacks(execution)
	require.Len(t, pending, 1)
	assert.Equal(t, models.CallbackToken(execution.ARN, "suspend/wait"), pending[0].CallbackToken)

	// The suspension was checkpointed, not just held in memory.
	stored, err := h.store.ExecutionByARN(context.Background(), execution.ARN)
	require.NoError(t, err)
	require.NotNil(t, stored.Root)
	assert.Len(t, PendingCallbacks(stored), 1)
}

func TestRunResumesAfterDelivery(t *testing.T) {
	h := newEngineHarness()
	execution := h.newExecution("resume", nil)
	handler := waitForCallback(nil)

	outcome, err := h.engine.Run(context.Background(), execution, handler)
	require.NoError(t, err)
	require.True(t, outcome.Suspended)

	token := PendingCallbacks(execution)[0].CallbackToken
	resumed := h.deliver(t, token, []byte(`{"ok":true}`), nil)

	outcome, err = h.engine.Run(context.Background(), resumed, handler)
	require.NoError(t, err)

	assert.False(t, outcome.Suspended)
	assert.Equal(t, models.ExecutionStatusSucceeded, outcome.Status)
	assert.Equal(t, []byte(`{"ok":true}`), outcome.Result)
}

func TestReplayCreatesCallbackExactlyOnce(t *testing.T) {
	h := newEngineHarness()
	execution := h.newExecution("idempotent", nil)

	creations := 0
	handler := waitForCallback(func(*Callback) { creations++ })

	for range 3 {
		outcome, err := h.engine.Run(context.Background(), execution, handler)
		require.NoError(t, err)
		require.True(t, outcome.Suspended)
	}

	// The handler body re-executes on every replay, but the recorded
	// operation stays unique.
	assert.Equal(t, 3, creations)
	require.Len(t, execution.Root.Children, 1)
	assert.Len(t, PendingCallbacks(execution), 1)
}

func TestRunFailsOnHandlerError(t *testing.T) {
	h := newEngineHarness()
	execution := h.newExecution("failing", nil)

	outcome, err := h.engine.Run(context.Background(), execution, func(_ *Context, _ []byte) ([]byte, error) {
		return nil, errors.New("downstream exploded")
	})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, outcome.Status)
	require.NotNil(t, outcome.Failure)
	assert.Equal(t, ErrorTypeHandler, outcome.Failure.ErrorType)
	assert.Equal(t, "downstream exploded", outcome.Failure.Message)
}

func TestRunRecoversHandlerPanic(t *testing.T) {
	h := newEngineHarness()
	execution := h.newExecution("panicking", nil)

	outcome, err := h.engine.Run(context.Background(), execution, func(_ *Context, _ []byte) ([]byte, error) {
		panic("unexpected state")
	})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, outcome.Status)
	require.NotNil(t, outcome.Failure)
	assert.Equal(t, ErrorTypeRuntime, outcome.Failure.ErrorType)
	assert.Contains(t, outcome.Failure.Message, "unexpected state")
}

func TestRunDetectsReplayMismatch(t *testing.T) {
	h := newEngineHarness()
	execution := h.newExecution("diverging", nil)

	outcome, err := h.engine.Run(context.Background(), execution, func(ctx *Context, _ []byte) ([]byte, error) {
		cb, err := ctx.CreateCallback("original-name", models.CallbackConfig{Timeout: time.Minute})
		if err != nil {
			return nil, err
		}

		return cb.Result()
	})
	require.NoError(t, err)
	require.True(t, outcome.Suspended)

	outcome, err = h.engine.Run(context.Background(), execution, func(ctx *Context, _ []byte) ([]byte, error) {
		cb, err := ctx.CreateCallback("different-name", models.CallbackConfig{Timeout: time.Minute})
		if err != nil {
			return nil, err
		}

		return cb.Result()
	})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, outcome.Status)
	require.NotNil(t, outcome.Failure)
	assert.Equal(t, ErrorTypeReplayMismatch, outcome.Failure.ErrorType)
	assert.True(t, outcome.Failure.NonRetryable)
}

func TestRunRejectsInvalidTimeout(t *testing.T) {
	h := newEngineHarness()
	execution := h.newExecution("bad-timeout", nil)

	outcome, err := h.engine.Run(context.Background(), execution, func(ctx *Context, _ []byte) ([]byte, error) {
		_, err := ctx.CreateCallback("wait", models.CallbackConfig{Timeout: 0})

		return nil, err
	})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, outcome.Status)
	assert.Contains(t, outcome.Failure.Message, ErrInvalidTimeout.Error())
}

func TestCallbackTimesOutExactlyOnce(t *testing.T) {
	h := newEngineHarness()
	execution := h.newExecution("timing-out", nil)
	handler := waitForCallback(nil)

	outcome, err := h.engine.Run(context.Background(), execution, handler)
	require.NoError(t, err)
	require.True(t, outcome.Suspended)

	// Before the deadline nothing changes.
	h.clock.Advance(5 * time.Minute)

	outcome, err = h.engine.Run(context.Background(), execution, handler)
	require.NoError(t, err)
	require.True(t, outcome.Suspended)

	h.clock.Advance(6 * time.Minute)

	outcome, err = h.engine.Run(context.Background(), execution, handler)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, outcome.Status)
	require.NotNil(t, outcome.Failure)
	assert.Equal(t, ErrorTypeTimeout, outcome.Failure.ErrorType)
	assert.Equal(t, "timing-out/wait", outcome.Failure.Operation)
}

func TestUnawaitedCallbackStillTimesOut(t *testing.T) {
	h := newEngineHarness()
	execution := h.newExecution("fire-and-forget", nil)

	handler := func(ctx *Context, _ []byte) ([]byte, error) {
		_, err := ctx.CreateCallback("side-signal", models.CallbackConfig{Timeout: time.Minute})
		if err != nil {
			return nil, err
		}

		return []byte(`"done"`), nil
	}

	outcome, err := h.engine.Run(context.Background(), execution, handler)
	require.NoError(t, err)

	// The scope returned but its callback child is still pending, so the
	// execution stays suspended rather than completing.
	require.True(t, outcome.Suspended)

	h.clock.Advance(2 * time.Minute)

	outcome, err = h.engine.Run(context.Background(), execution, handler)
	require.NoError(t, err)

	// The sweep settles the expired callback and the scope can complete.
	assert.Equal(t, models.ExecutionStatusSucceeded, outcome.Status)
	assert.Equal(t, []byte(`"done"`), outcome.Result)

	callback := execution.Root.Children[0]
	assert.Equal(t, models.OperationStatusFailed, callback.Status)
	assert.Equal(t, ErrorTypeTimeout, callback.Failure.ErrorType)
}

func TestRunReportsCheckpointFailure(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)}
	engine := NewEngine(failingClient{}, Config{Now: clock.Now})

	execution := &models.Execution{
		ARN:          "arn:durion:execution:unreachable",
		FunctionName: "unreachable",
		Status:       models.ExecutionStatusRunning,
	}

	_, err := engine.Run(context.Background(), execution, func(_ *Context, _ []byte) ([]byte, error) {
		return []byte("x"), nil
	})
	require.Error(t, err)

	// Infrastructure failures never settle the execution.
	assert.Equal(t, models.ExecutionStatusRunning, execution.Status)
}

type failingClient struct{}

func (failingClient) CheckpointExecution(context.Context, *models.Execution) error {
	return errors.New("control plane unreachable")
}

func parallelHandler(branches int, timeout time.Duration) Handler {
	return func(ctx *Context, _ []byte) ([]byte, error) {
		fns := make([]BranchFunc, branches)
		for i := range fns {
			name := fmt.Sprintf("api-call-%d", i+1)
			fns[i] = func(c *Context) ([]byte, error) {
				cb, err := c.CreateCallback(name, models.CallbackConfig{Timeout: timeout})
				if err != nil {
					return nil, err
				}

				return cb.Result()
			}
		}

		result, err := ctx.Parallel("api-calls", fns)
		if err != nil {
			return nil, err
		}

		results := make([]json.RawMessage, 0, result.Len())
		for _, r := range result.Results() {
			results = append(results, json.RawMessage(r))
		}

		return json.Marshal(map[string]any{
			"results":      results,
			"allCompleted": true,
		})
	}
}

func pendingTokens(execution *models.Execution) []string {
	pending := PendingCallbacks(execution)

	tokens := make([]string, 0, len(pending))
	for _, op := range pending {
		tokens = append(tokens, op.CallbackToken)
	}

	return tokens
}

func TestParallelPreservesInputOrderAcrossOutOfOrderDeliveries(t *testing.T) {
	h := newEngineHarness()
	execution := h.newExecution("fan-out", nil)
	handler := parallelHandler(3, 10*time.Minute)

	outcome, err := h.engine.Run(context.Background(), execution, handler)
	require.NoError(t, err)
	require.True(t, outcome.Suspended)

	tokens := pendingTokens(execution)
	require.Len(t, tokens, 3)

	// Deliver out of order: second, first, third.
	current := h.deliver(t, tokens[1], []byte(`"r2"`), nil)

	outcome, err = h.engine.Run(context.Background(), current, handler)
	require.NoError(t, err)
	require.True(t, outcome.Suspended)

	current = h.deliver(t, tokens[0], []byte(`"r1"`), nil)

	outcome, err = h.engine.Run(context.Background(), current, handler)
	require.NoError(t, err)
	require.True(t, outcome.Suspended)

	current = h.deliver(t, tokens[2], []byte(`"r3"`), nil)

	outcome, err = h.engine.Run(context.Background(), current, handler)
	require.NoError(t, err)

	require.Equal(t, models.ExecutionStatusSucceeded, outcome.Status)

	var result struct {
		Results      []json.RawMessage `json:"results"`
		AllCompleted bool              `json:"allCompleted"`
	}

	require.NoError(t, json.Unmarshal(outcome.Result, &result))
	assert.True(t, result.AllCompleted)
	require.Len(t, result.Results, 3)
	assert.Equal(t, `"r1"`, string(result.Results[0]))
	assert.Equal(t, `"r2"`, string(result.Results[1]))
	assert.Equal(t, `"r3"`, string(result.Results[2]))
}

func TestParallelTreeShape(t *testing.T) {
	h := newEngineHarness()
	execution := h.newExecution("shape", nil)
	handler := parallelHandler(3, 10*time.Minute)

	outcome, err := h.engine.Run(context.Background(), execution, handler)
	require.NoError(t, err)
	require.True(t, outcome.Suspended)

	root := execution.Root
	assert.Equal(t, models.OperationTypeContext, root.Type)
	require.Len(t, root.Children, 1)

	container := root.Children[0]
	assert.Equal(t, "api-calls", container.Name)
	assert.Equal(t, models.OperationTypeContext, container.Type)
	require.Len(t, container.Children, 3)

	for i, branch := range container.Children {
		assert.Equal(t, fmt.Sprintf("branch-%d", i), branch.Name)
		assert.Equal(t, models.OperationTypeContext, branch.Type)
		require.Len(t, branch.Children, 1)

		callback := branch.Children[0]
		assert.Equal(t, fmt.Sprintf("api-call-%d", i+1), callback.Name)
		assert.Equal(t, models.OperationTypeCallback, callback.Type)
	}
}

func TestParallelFirstFailureWinsByInputOrder(t *testing.T) {
	h := newEngineHarness()
	execution := h.newExecution("failing-fan-out", nil)
	handler := parallelHandler(3, 10*time.Minute)

	outcome, err := h.engine.Run(context.Background(), execution, handler)
	require.NoError(t, err)
	require.True(t, outcome.Suspended)

	tokens := pendingTokens(execution)
	require.Len(t, tokens, 3)

	// The highest-index branch fails first in wall-clock order, then the
	// middle one. The reported failure must still be the lowest-index
	// failed branch.
	current := h.deliver(t, tokens[2], nil, &models.Failure{ErrorType: "CallbackError", Message: "third down"})

	outcome, err = h.engine.Run(context.Background(), current, handler)
	require.NoError(t, err)
	require.True(t, outcome.Suspended)

	current = h.deliver(t, tokens[1], nil, &models.Failure{ErrorType: "CallbackError", Message: "second down"})

	outcome, err = h.engine.Run(context.Background(), current, handler)
	require.NoError(t, err)
	require.True(t, outcome.Suspended)

	current = h.deliver(t, tokens[0], []byte(`"r1"`), nil)

	outcome, err = h.engine.Run(context.Background(), current, handler)
	require.NoError(t, err)

	require.Equal(t, models.ExecutionStatusFailed, outcome.Status)
	require.NotNil(t, outcome.Failure)
	assert.Equal(t, "second down", outcome.Failure.Message)

	// No sibling cancellation: every branch reached its own terminal state.
	container := current.Root.Children[0]
	for _, branch := range container.Children {
		assert.True(t, branch.Terminal(), "branch %s", branch.Name)
	}
}

// parallelThenWait fans out and then parks on one more callback, so the
// parallel container settles while the execution is still resumable.
func parallelThenWait(branches int) Handler {
	return func(ctx *Context, _ []byte) ([]byte, error) {
		fns := make([]BranchFunc, branches)
		for i := range fns {
			name := fmt.Sprintf("api-call-%d", i+1)
			fns[i] = func(c *Context) ([]byte, error) {
				cb, err := c.CreateCallback(name, models.CallbackConfig{Timeout: 10 * time.Minute})
				if err != nil {
					return nil, err
				}

				return cb.Result()
			}
		}

		if _, err := ctx.Parallel("api-calls", fns); err != nil {
			return nil, err
		}

		cb, err := ctx.CreateCallback("after", models.CallbackConfig{Timeout: 10 * time.Minute})
		if err != nil {
			return nil, err
		}

		return cb.Result()
	}
}

func TestParallelBranchCountChangeIsMismatch(t *testing.T) {
	h := newEngineHarness()
	execution := h.newExecution("resized", nil)

	outcome, err := h.engine.Run(context.Background(), execution, parallelThenWait(2))
	require.NoError(t, err)
	require.True(t, outcome.Suspended)

	current := execution
	for _, token := range pendingTokens(execution) {
		current = h.deliver(t, token, []byte(`"ok"`), nil)

		outcome, err = h.engine.Run(context.Background(), current, parallelThenWait(2))
		require.NoError(t, err)
		require.True(t, outcome.Suspended)
	}

	// The container is settled; replaying with a different branch count
	// diverges from recorded history.
	outcome, err = h.engine.Run(context.Background(), current, parallelThenWait(3))
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, outcome.Status)
	assert.Equal(t, ErrorTypeReplayMismatch, outcome.Failure.ErrorType)
}

func TestTerminalExecutionShortCircuits(t *testing.T) {
	h := newEngineHarness()
	execution := h.newExecution("settled", nil)
	execution.Succeed([]byte("recorded"), h.clock.now)

	calls := 0

	outcome, err := h.engine.Run(context.Background(), execution, func(_ *Context, _ []byte) ([]byte, error) {
		calls++

		return nil, nil
	})
	require.NoError(t, err)

	assert.Zero(t, calls)
	assert.Equal(t, models.ExecutionStatusSucceeded, outcome.Status)
	assert.Equal(t, []byte("recorded"), outcome.Result)
}
