package durable

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/durion/pkg/controlplane"
	"github.com/dukex/durion/pkg/models"
	"github.com/dukex/durion/pkg/optree"
)

// Config carries the engine's explicit dependencies. The zero value uses
// the default logger and wall-clock time.
type Config struct {
	Logger *slog.Logger
	Now    func() time.Time
}

// Engine drives one handler invocation to completion or suspension. Resume
// is full deterministic replay: the handler is re-entered from the start
// against the recorded operation tree, so code before a still-pending
// callback performs no new side effects and resolved callbacks return their
// recorded results immediately.
type Engine struct {
	client controlplane.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine creates an engine whose durable state is mirrored through the
// given control-plane client.
func NewEngine(client controlplane.Client, config Config) *Engine {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := config.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{
		client: client,
		logger: logger,
		now:    now,
	}
}

// Outcome reports how a single engine run ended. Suspended means the
// execution is still RUNNING and waits for an external callback delivery or
// deadline; otherwise Status carries the terminal state.
type Outcome struct {
	Suspended bool
	Status    models.ExecutionStatus
	Result    []byte
	Failure   *models.Failure
}

// Run starts or resumes the execution with the given handler. The returned
// error is infrastructural (checkpointing to the control plane failed after
// retries): the execution is left RUNNING so a later re-invocation can
// still succeed. Workflow failures are reported through the Outcome, never
// as an error.
func (e *Engine) Run(ctx context.Context, execution *models.Execution, handler Handler) (Outcome, error) {
	logger := e.logger.With("execution_arn", execution.ARN, "function", execution.FunctionName)

	if execution.Terminal() {
		return e.terminalOutcome(execution), nil
	}

	dirty := false
	recorder := optree.RecorderFunc(func(*models.Operation) error {
		dirty = true

		return nil
	})

	if execution.Root == nil {
		execution.Root = &models.Operation{
			Name:      execution.FunctionName,
			Type:      models.OperationTypeContext,
			Status:    models.OperationStatusPending,
			CreatedAt: e.now(),
			UpdatedAt: e.now(),
		}
		dirty = true
	}

	tree := optree.New(execution.Root, recorder, e.now)

	if err := e.sweepExpiredCallbacks(tree); err != nil {
		return Outcome{}, err
	}

	flush := func() error {
		if !dirty {
			return nil
		}

		execution.UpdatedAt = e.now()

		if err := e.client.CheckpointExecution(ctx, execution); err != nil {
			return fmt.Errorf("checkpointing execution %s: %w", execution.ARN, err)
		}

		dirty = false

		return nil
	}

	sched := newScheduler(tree, execution.ARN, logger, e.now, flush)

	sched.spawn(execution.Root, func(c *Context) ([]byte, error) {
		return handler(c, execution.Input)
	})

	logger.Debug("Entering execution")

	sched.run()

	if sched.infraErr != nil {
		return Outcome{}, sched.infraErr
	}

	e.settle(execution, sched)

	dirty = true
	if err := flush(); err != nil {
		return Outcome{}, err
	}

	outcome := e.terminalOutcome(execution)

	if outcome.Suspended {
		logger.Info("Execution suspended", "pending_callbacks", len(PendingCallbacks(execution)))
	} else {
		logger.Info("Execution finished", "status", outcome.Status)
	}

	return outcome, nil
}

// settle folds the scheduler's end state into the execution. The execution
// becomes terminal exactly once, when the root operation is terminal or the
// run hit a fatal replay mismatch.
func (e *Engine) settle(execution *models.Execution, sched *scheduler) {
	root := execution.Root

	switch {
	case sched.fatal != nil:
		execution.Fail(sched.fatal, e.now())
	case root.Status == models.OperationStatusCompleted:
		execution.Succeed(root.Result, e.now())
	case root.Status == models.OperationStatusFailed:
		execution.Fail(root.Failure, e.now())
	}
}

func (e *Engine) terminalOutcome(execution *models.Execution) Outcome {
	if !execution.Terminal() {
		return Outcome{Suspended: true, Status: execution.Status}
	}

	return Outcome{
		Status:  execution.Status,
		Result:  execution.Result,
		Failure: execution.Failure,
	}
}

// sweepExpiredCallbacks fails every pending callback whose absolute
// deadline has passed. The sweep runs at (re)entry so a timed-out callback
// transitions exactly once, even when the handler never awaits it.
func (e *Engine) sweepExpiredCallbacks(tree *optree.Tree) error {
	now := e.now()

	var sweepErr error

	tree.Root().Walk(func(op *models.Operation) bool {
		if op.Type != models.OperationTypeCallback || op.Terminal() {
			return true
		}

		if op.Deadline == nil || now.Before(*op.Deadline) {
			return true
		}

		if err := tree.Fail(op, timeoutFailure(op)); err != nil {
			sweepErr = err

			return false
		}

		return true
	})

	return sweepErr
}

// PendingCallbacks lists the non-terminal CALLBACK operations of an
// execution, in tree order.
func PendingCallbacks(execution *models.Execution) []*models.Operation {
	if execution.Root == nil {
		return nil
	}

	var pending []*models.Operation

	execution.Root.Walk(func(op *models.Operation) bool {
		if op.Type == models.OperationTypeCallback && !op.Terminal() {
			pending = append(pending, op)
		}

		return true
	})

	return pending
}
