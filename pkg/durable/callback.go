package durable

import (
	"fmt"

	"github.com/dukex/durion/pkg/models"
)

// Callback is the user-facing proxy for a CALLBACK operation: pending
// asynchronous work resolved outside the engine. The token addresses the
// operation externally and is stable across replays.
type Callback struct {
	ctx *Context
	op  *models.Operation
}

// Name returns the caller-supplied callback name.
func (cb *Callback) Name() string {
	return cb.op.Name
}

// Token returns the externally visible callback token.
func (cb *Callback) Token() string {
	return cb.op.CallbackToken
}

// Result blocks until the callback is terminal and yields the delivered
// payload. A rejection or timeout is returned as the recorded failure. This
// is the engine's only suspension point: when the callback is not yet
// terminal, the scope yields and the whole execution may suspend until an
// external delivery resumes it. On replay a resolved callback returns its
// recorded result immediately.
func (cb *Callback) Result() ([]byte, error) {
	for {
		switch cb.op.Status {
		case models.OperationStatusCompleted:
			return cb.op.Result, nil
		case models.OperationStatusFailed:
			return nil, cb.op.Failure
		}

		if cb.expired() {
			cb.ctx.sched.failScope(cb.op, timeoutFailure(cb.op))

			continue
		}

		cb.ctx.yield()
	}
}

func (cb *Callback) expired() bool {
	return cb.op.Deadline != nil && !cb.ctx.sched.now().Before(*cb.op.Deadline)
}

func timeoutFailure(op *models.Operation) *models.Failure {
	return &models.Failure{
		ErrorType: ErrorTypeTimeout,
		Message:   fmt.Sprintf("callback %q received no delivery before its deadline", op.Name),
		Operation: op.Path(),
	}
}
