package durable

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/durion/pkg/models"
	"github.com/dukex/durion/pkg/optree"
)

// suspendToken is panicked into parked tasks when the run suspends, so
// their goroutines unwind instead of leaking across the suspension.
type suspendToken struct{}

type taskState int

const (
	taskReady taskState = iota
	taskBlocked
	taskDone
)

// task is one logical thread of control: the root handler scope or a
// parallel branch scope. Tasks run on goroutines, but the scheduler admits
// exactly one at a time, so the operation tree needs no locking.
type task struct {
	scope   *models.Operation
	fn      func(*Context) ([]byte, error)
	ctx     *Context
	resume  chan struct{}
	state   taskState
	started bool

	// join holds the sibling tasks this task waits for after spawning
	// parallel branches; nil when blocked on a callback instead.
	join []*task
}

type schedEventKind int

const (
	eventBlocked schedEventKind = iota
	eventDone
	eventUnwound
)

type schedEvent struct {
	task *task
	kind schedEventKind
}

// scheduler drives one engine run: it holds the ready queue, hands control
// to one task at a time, and decides when the whole execution suspends.
type scheduler struct {
	tree   *optree.Tree
	arn    string
	logger *slog.Logger
	now    func() time.Time

	ready   []*task
	blocked []*task
	events  chan schedEvent

	suspending bool
	fatal      *models.Failure // replay mismatch; fatal to the execution
	infraErr   error           // checkpointing/transition failures

	// flush persists the tree when mutations happened since the last
	// yield point.
	flush func() error
}

func newScheduler(tree *optree.Tree, arn string, logger *slog.Logger, now func() time.Time, flush func() error) *scheduler {
	return &scheduler{
		tree:   tree,
		arn:    arn,
		logger: logger,
		now:    now,
		events: make(chan schedEvent),
		flush:  flush,
	}
}

// spawn registers a runnable scope. The task does not start until the
// scheduler dispatches it.
func (s *scheduler) spawn(scope *models.Operation, fn func(*Context) ([]byte, error)) *task {
	t := &task{
		scope:  scope,
		fn:     fn,
		resume: make(chan struct{}),
	}
	t.ctx = &Context{sched: s, scope: scope, task: t}

	s.ready = append(s.ready, t)

	return t
}

// run interleaves tasks until everything is done or everything runnable is
// exhausted. It returns once all task goroutines have finished or unwound.
func (s *scheduler) run() {
	for s.fatal == nil && s.infraErr == nil {
		s.promoteJoins()

		if len(s.ready) == 0 {
			break
		}

		t := s.ready[0]
		s.ready = s.ready[1:]

		s.step(t)

		if err := s.flush(); err != nil {
			s.infraErr = err
		}
	}

	s.unwind()
}

// step gives control to one task and waits for it to yield back.
func (s *scheduler) step(t *task) {
	if !t.started {
		t.started = true

		go s.runTask(t)
	} else {
		t.resume <- struct{}{}
	}

	ev := <-s.events

	switch ev.kind {
	case eventBlocked:
		ev.task.state = taskBlocked
		s.blocked = append(s.blocked, ev.task)
	case eventDone, eventUnwound:
		ev.task.state = taskDone
	}
}

// promoteJoins moves blocked tasks whose joined branches all finished back
// onto the ready queue. Tasks blocked on a callback stay blocked: within a
// single run callbacks only resolve externally.
func (s *scheduler) promoteJoins() {
	remaining := s.blocked[:0]

	for _, t := range s.blocked {
		if t.join != nil && allDone(t.join) {
			t.join = nil
			t.state = taskReady
			s.ready = append(s.ready, t)

			continue
		}

		remaining = append(remaining, t)
	}

	s.blocked = remaining
}

func allDone(tasks []*task) bool {
	for _, t := range tasks {
		if t != nil && t.state != taskDone {
			return false
		}
	}

	return true
}

// unwind aborts every still-parked task, including ready tasks that never
// got dispatched again after a fatal stop. Replay is the sole recovery
// mechanism, so suspended goroutines must not outlive the run.
func (s *scheduler) unwind() {
	s.suspending = true

	for _, t := range append(s.blocked, s.ready...) {
		if t.state == taskDone || !t.started {
			continue
		}

		t.resume <- struct{}{}

		ev := <-s.events
		ev.task.state = taskDone
	}

	s.blocked = nil
	s.ready = nil
}

// runTask is the goroutine body wrapping one scope function.
func (s *scheduler) runTask(t *task) {
	defer func() {
		if r := recover(); r == nil {
			return
		} else if _, ok := r.(suspendToken); ok {
			s.events <- schedEvent{task: t, kind: eventUnwound}
		} else {
			s.failScope(t.scope, &models.Failure{
				ErrorType: ErrorTypeRuntime,
				Message:   fmt.Sprintf("panic: %v", r),
				Operation: t.scope.Path(),
			})
			s.events <- schedEvent{task: t, kind: eventDone}
		}
	}()

	if err := s.tree.Start(t.scope); err != nil {
		s.setInfraErr(err)
		s.events <- schedEvent{task: t, kind: eventDone}

		return
	}

	result, err := t.fn(t.ctx)
	s.finishScope(t, result, err)

	s.events <- schedEvent{task: t, kind: eventDone}
}

// finishScope settles a scope operation after its function returned. A
// scope completes only once every child is terminal; a scope that returned
// while a child is still pending stays RUNNING and completes on a later
// replay.
func (s *scheduler) finishScope(t *task, result []byte, err error) {
	scope := t.scope

	if err != nil {
		s.failScope(scope, failureFrom(err, scope.Path()))

		return
	}

	if !s.tree.Drained(scope) {
		s.setFatal(&models.Failure{
			ErrorType:    ErrorTypeReplayMismatch,
			Message:      fmt.Sprintf("scope %s returned before re-entering all recorded operations", scope.Path()),
			Operation:    scope.Path(),
			NonRetryable: true,
		})

		return
	}

	for _, child := range scope.Children {
		if !child.Terminal() {
			return
		}
	}

	if scope.Terminal() {
		return
	}

	if err := s.tree.Complete(scope, result); err != nil {
		s.setInfraErr(err)
	}
}

func (s *scheduler) failScope(scope *models.Operation, failure *models.Failure) {
	if scope.Terminal() {
		return
	}

	if err := s.tree.Fail(scope, failure); err != nil {
		s.setInfraErr(err)
	}
}

// setFatal records the first replay mismatch. The scheduler stops
// dispatching and the engine fails the execution with a non-retryable
// reason.
func (s *scheduler) setFatal(failure *models.Failure) {
	if s.fatal == nil {
		s.fatal = failure
	}
}

func (s *scheduler) setInfraErr(err error) {
	if s.infraErr == nil {
		s.infraErr = err
	}
}
