package durable

import (
	"fmt"

	"github.com/dukex/durion/pkg/models"
)

// ParallelResult aggregates branch outcomes in the order the branches were
// supplied, regardless of completion order.
type ParallelResult struct {
	results [][]byte
}

// Results returns the per-branch result payloads, indexed by branch input
// order. Failed branches hold a nil payload.
func (r *ParallelResult) Results() [][]byte {
	return r.results
}

// Len returns the number of branches.
func (r *ParallelResult) Len() int {
	return len(r.results)
}

// Parallel runs the given branch functions logically concurrently, each as
// a child scope of the operation tree, and aggregates their results in
// input order. It registers a CONTEXT operation named name with one child
// CONTEXT scope per branch.
//
// A failing branch does not cancel its siblings: every branch runs to its
// own terminal state before the container is settled. When branches failed,
// the returned error is the failure of the lowest-index failed branch, the
// deterministic tie-break independent of wall-clock completion order.
func (c *Context) Parallel(name string, fns []BranchFunc) (*ParallelResult, error) {
	for i, fn := range fns {
		if fn == nil {
			return nil, fmt.Errorf("parallel %q branch %d: %w", name, i, ErrNilBranch)
		}
	}

	container, err := c.begin(name, models.OperationTypeContext)
	if err != nil {
		return nil, err
	}

	if container.Terminal() {
		if len(container.Children) != len(fns) {
			c.sched.setFatal(&models.Failure{
				ErrorType:    ErrorTypeReplayMismatch,
				Message:      fmt.Sprintf("parallel %q recorded %d branches, attempted %d", name, len(container.Children), len(fns)),
				Operation:    container.Path(),
				NonRetryable: true,
			})
			panic(suspendToken{})
		}

		return aggregate(container, len(fns))
	}

	if err := c.sched.tree.Start(container); err != nil {
		c.sched.setInfraErr(err)
		panic(suspendToken{})
	}

	branchOps := make([]*models.Operation, len(fns))
	branchTasks := make([]*task, len(fns))

	for i, fn := range fns {
		op, err := c.sched.tree.Begin(container, branchName(i), models.OperationTypeContext)
		if err != nil {
			return nil, c.beginErr(err)
		}

		branchOps[i] = op

		// Terminal branches were settled on an earlier run; replay
		// must not re-execute them.
		if op.Terminal() {
			continue
		}

		branchTasks[i] = c.sched.spawn(op, fn)
	}

	if anyPending(branchTasks) {
		c.yieldJoin(branchTasks)
	}

	// Every branch task finished, but a branch that returned while one of
	// its callbacks is still pending leaves its scope non-terminal. The
	// combinator cannot settle yet; the run suspends until the callback
	// resolves and a replay re-enters this position.
	for !allTerminal(branchOps) {
		c.yield()
	}

	result, err := aggregate(container, len(fns))

	if failure := firstFailure(branchOps); failure != nil {
		c.sched.failScope(container, failure)
	} else if compErr := c.sched.tree.Complete(container, nil); compErr != nil {
		c.sched.setInfraErr(compErr)
		panic(suspendToken{})
	}

	return result, err
}

func branchName(index int) string {
	return fmt.Sprintf("branch-%d", index)
}

func anyPending(tasks []*task) bool {
	for _, t := range tasks {
		if t != nil {
			return true
		}
	}

	return false
}

func allTerminal(ops []*models.Operation) bool {
	for _, op := range ops {
		if !op.Terminal() {
			return false
		}
	}

	return true
}

// firstFailure returns the failure of the lowest-index failed branch.
func firstFailure(ops []*models.Operation) *models.Failure {
	for _, op := range ops {
		if op.Status == models.OperationStatusFailed {
			return op.Failure
		}
	}

	return nil
}

// aggregate rebuilds a ParallelResult from the container's recorded branch
// scopes, in branch input order.
func aggregate(container *models.Operation, branches int) (*ParallelResult, error) {
	results := make([][]byte, branches)

	var failure *models.Failure

	for i, op := range container.Children {
		if i >= branches {
			break
		}

		switch op.Status {
		case models.OperationStatusCompleted:
			results[i] = op.Result
		case models.OperationStatusFailed:
			if failure == nil {
				failure = op.Failure
			}
		}
	}

	result := &ParallelResult{results: results}

	if failure != nil {
		return result, failure
	}

	return result, nil
}
