package durable

import (
	"fmt"
	"log/slog"

	"github.com/dukex/durion/pkg/models"
	"github.com/dukex/durion/pkg/optree"
)

// Handler is a durable function. It receives the execution's input payload
// and a Context, the only capability through which it may create callbacks,
// fan out into parallel branches, or nest sub-scopes. Handlers must be
// deterministic: on replay they are re-entered from the start and every
// durable operation must be attempted at the same structural position.
type Handler func(ctx *Context, input []byte) ([]byte, error)

// BranchFunc is one branch of a parallel combinator can run. It receives a
// child Context scoped to its own branch, so operations it creates are
// nested under the branch's subtree.
type BranchFunc func(ctx *Context) ([]byte, error)

// Context is the durable execution capability passed to handler code and to
// every nested scope function.
type Context struct {
	sched *scheduler
	scope *models.Operation
	task  *task
}

// Logger returns a logger annotated with the execution and scope position.
func (c *Context) Logger() *slog.Logger {
	return c.sched.logger.With("execution_arn", c.sched.arn, "scope", c.scope.Path())
}

// ExecutionARN returns the ARN of the execution this scope belongs to.
func (c *Context) ExecutionARN() string {
	return c.sched.arn
}

// CreateCallback registers a CALLBACK operation under the current scope and
// returns immediately with a handle. The handle's Result accessor is the
// suspension point: the scope yields there until an external delivery or
// the configured timeout resolves the callback. The name must be unique
// among siblings and the timeout must be positive.
func (c *Context) CreateCallback(name string, config models.CallbackConfig) (*Callback, error) {
	if config.Timeout <= 0 {
		return nil, fmt.Errorf("callback %q: %w", name, ErrInvalidTimeout)
	}

	deadline := c.sched.now().Add(config.Timeout)

	op, err := c.sched.tree.BeginCallback(c.scope, name, c.sched.arn, deadline)
	if err != nil {
		return nil, c.beginErr(err)
	}

	return &Callback{ctx: c, op: op}, nil
}

// begin enters a child scope operation, applying the replay match-or-create
// rule. Replay mismatches do not surface to handler code: they are fatal to
// the execution, so the task unwinds immediately.
func (c *Context) begin(name string, opType models.OperationType) (*models.Operation, error) {
	op, err := c.sched.tree.Begin(c.scope, name, opType)
	if err != nil {
		return nil, c.beginErr(err)
	}

	return op, nil
}

func (c *Context) beginErr(err error) error {
	if optree.IsReplayMismatch(err) {
		c.sched.setFatal(&models.Failure{
			ErrorType:    ErrorTypeReplayMismatch,
			Message:      err.Error(),
			Operation:    c.scope.Path(),
			NonRetryable: true,
		})

		// Unwind this task; the scheduler stops the rest of the run.
		panic(suspendToken{})
	}

	return err
}

// yield parks the current task and hands control back to the scheduler.
// When the run is suspending, the task unwinds instead of resuming.
func (c *Context) yield() {
	c.sched.events <- schedEvent{task: c.task, kind: eventBlocked}

	<-c.task.resume

	if c.sched.suspending {
		panic(suspendToken{})
	}
}

// yieldJoin parks the current task until all given branch tasks finished.
func (c *Context) yieldJoin(branches []*task) {
	c.task.join = branches
	c.yield()
}
