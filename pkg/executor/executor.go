package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/durion/pkg/controlplane"
	"github.com/dukex/durion/pkg/durable"
	"github.com/dukex/durion/pkg/eventbus"
	"github.com/dukex/durion/pkg/events"
	"github.com/dukex/durion/pkg/models"
	"github.com/dukex/durion/pkg/optree"
	"github.com/dukex/durion/pkg/otelhelper"
	"github.com/dukex/durion/pkg/persistence"
	"github.com/dukex/durion/pkg/registry"
)

// errorTypeCallback is recorded when an external caller delivers a callback
// failure. The delivery payload passes through uninterpreted as the message.
const errorTypeCallback = "CallbackError"

const arnPrefix = "arn:durion:execution:"

// Config carries the executor's optional dependencies. The zero value uses
// the default logger, no tracing, and wall-clock time.
type Config struct {
	Logger *slog.Logger
	Tracer trace.Tracer
	Now    func() time.Time
}

// Executor hosts durable handler functions. It owns the lifecycle of every
// execution it starts: engine replays, callback deliveries, and deadline
// timers all serialize on a per-ARN mutex so one execution never replays
// concurrently with a delivery addressed to it.
type Executor struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	publisher   eventbus.EventPublisher
	engine      *durable.Engine
	validator   *validator.Validate
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	timers map[string]*time.Timer
}

// NewExecutor creates an executor over the given store and handler registry.
// The publisher may be nil, in which case lifecycle events are not emitted.
func NewExecutor(p persistence.Persistence, reg *registry.Registry, publisher eventbus.EventPublisher, config Config) *Executor {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := config.Now
	if now == nil {
		now = time.Now
	}

	engine := durable.NewEngine(controlplane.NewLocalClient(p), durable.Config{
		Logger: logger,
		Now:    now,
	})

	return &Executor{
		persistence: p,
		registry:    reg,
		publisher:   publisher,
		engine:      engine,
		validator:   validator.New(),
		logger:      logger,
		tracer:      config.Tracer,
		now:         now,
		locks:       make(map[string]*sync.Mutex),
		timers:      make(map[string]*time.Timer),
	}
}

// StartExecutionRequest is the validated start input. Input passes through
// to the handler uninterpreted.
type StartExecutionRequest struct {
	FunctionName string `validate:"required"`
	Input        []byte
}

// StartExecution mints a new execution for a registered function, persists
// it, and runs the engine until the first suspension or terminal state. The
// returned execution reflects the state after that first run.
func (e *Executor) StartExecution(ctx context.Context, req StartExecutionRequest) (*models.Execution, error) {
	if err := e.validator.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	if _, err := e.registry.Handler(req.FunctionName); err != nil {
		return nil, err
	}

	startedAt := e.now()
	execution := &models.Execution{
		ARN:          arnPrefix + uuid.New().String(),
		FunctionName: req.FunctionName,
		Status:       models.ExecutionStatusRunning,
		Input:        req.Input,
		StartedAt:    startedAt,
		UpdatedAt:    startedAt,
	}

	lock := e.lockFor(execution.ARN)
	lock.Lock()
	defer lock.Unlock()

	if err := e.persistence.SaveExecution(ctx, execution); err != nil {
		return nil, fmt.Errorf("saving new execution: %w", err)
	}

	started := events.ExecutionStarted{
		BaseEvent:    events.NewBaseEvent(events.ExecutionStartedEvent, execution.ARN),
		FunctionName: execution.FunctionName,
		InputSize:    len(execution.Input),
	}
	e.publish(ctx, execution.ARN, started)

	if err := e.replayLocked(ctx, execution); err != nil {
		return execution, err
	}

	return execution, nil
}

// DescribeExecution returns the stored execution snapshot.
func (e *Executor) DescribeExecution(ctx context.Context, arn string) (*models.Execution, error) {
	return e.persistence.ExecutionByARN(ctx, arn)
}

// SendCallbackSuccess resolves the callback addressed by token with the
// given result payload and resumes the execution.
func (e *Executor) SendCallbackSuccess(ctx context.Context, token string, result []byte) error {
	return e.deliver(ctx, token, result, true)
}

// SendCallbackFailure rejects the callback addressed by token and resumes
// the execution. The payload becomes the recorded failure message.
func (e *Executor) SendCallbackFailure(ctx context.Context, token string, payload []byte) error {
	return e.deliver(ctx, token, payload, false)
}

// HealthCheck checks the health of the persistence layer.
func (e *Executor) HealthCheck(ctx context.Context) (string, bool) {
	if e.persistence == nil {
		return "Persistence layer not initialized", false
	}

	if err := e.persistence.HealthCheck(ctx); err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Close stops every armed deadline timer. Stored executions stay RUNNING
// and resume on the next delivery or restart.
func (e *Executor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for arn, timer := range e.timers {
		timer.Stop()
		delete(e.timers, arn)
	}
}

// deliver records one callback resolution and replays the execution. First
// delivery wins: terminal callbacks reject duplicates without touching the
// recorded result.
func (e *Executor) deliver(ctx context.Context, token string, payload []byte, succeeded bool) error {
	arn, path, err := models.ParseCallbackToken(token)
	if err != nil {
		return fmt.Errorf("parsing token: %w", ErrCallbackNotFound)
	}

	lock := e.lockFor(arn)
	lock.Lock()
	defer lock.Unlock()

	execution, err := e.persistence.ExecutionByARN(ctx, arn)
	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			return fmt.Errorf("execution %s: %w", arn, ErrCallbackNotFound)
		}

		return fmt.Errorf("loading execution %s: %w", arn, err)
	}

	var op *models.Operation
	if execution.Root != nil {
		op = execution.Root.FindByPath(path)
	}

	if op == nil || op.Type != models.OperationTypeCallback || op.CallbackToken != token {
		return fmt.Errorf("callback %s: %w", path, ErrCallbackNotFound)
	}

	if op.Terminal() {
		return fmt.Errorf("callback %s: %w", path, ErrCallbackAlreadyResolved)
	}

	tree := optree.New(execution.Root, nil, e.now)
	if succeeded {
		err = tree.Complete(op, payload)
	} else {
		err = tree.Fail(op, &models.Failure{
			ErrorType: errorTypeCallback,
			Message:   string(payload),
			Operation: path,
		})
	}

	if err != nil {
		return fmt.Errorf("recording delivery for %s: %w", path, err)
	}

	if err := e.persistence.SaveExecution(ctx, execution); err != nil {
		return fmt.Errorf("saving delivery for %s: %w", arn, err)
	}

	delivered := events.CallbackDelivered{
		BaseEvent:     events.NewBaseEvent(events.CallbackDeliveredEvent, arn),
		CallbackToken: token,
		OperationPath: path,
		Succeeded:     succeeded,
	}
	e.publish(ctx, arn, delivered)

	return e.replayLocked(ctx, execution)
}

// replayLocked runs the engine over the execution and folds the outcome
// into lifecycle events and deadline timers. The caller holds the per-ARN
// lock.
func (e *Executor) replayLocked(ctx context.Context, execution *models.Execution) error {
	if execution.Terminal() {
		return nil
	}

	handler, err := e.registry.Handler(execution.FunctionName)
	if err != nil {
		return err
	}

	var span trace.Span

	if e.tracer != nil {
		ctx, span = otelhelper.StartSpan(ctx, e.tracer, "executor.replay",
			attribute.String(otelhelper.ExecutionARNKey, execution.ARN),
			attribute.String(otelhelper.FunctionNameKey, execution.FunctionName),
		)
		defer span.End()
	}

	known := callbackTokens(execution)

	outcome, err := e.engine.Run(ctx, execution, handler)
	if err != nil {
		if span != nil {
			otelhelper.SetError(span, err)
		}

		return fmt.Errorf("replaying execution %s: %w", execution.ARN, err)
	}

	e.publishNewCallbacks(ctx, execution, known)

	if outcome.Suspended {
		pending := durable.PendingCallbacks(execution)

		tokens := make([]string, 0, len(pending))
		for _, op := range pending {
			tokens = append(tokens, op.CallbackToken)
		}

		suspended := events.ExecutionSuspended{
			BaseEvent:        events.NewBaseEvent(events.ExecutionSuspendedEvent, execution.ARN),
			PendingCallbacks: tokens,
		}
		e.publish(ctx, execution.ARN, suspended)

		e.armDeadline(execution.ARN, pending)

		return nil
	}

	e.cancelTimer(execution.ARN)
	e.publishTerminal(ctx, execution, outcome)

	return nil
}

func (e *Executor) publishTerminal(ctx context.Context, execution *models.Execution, outcome durable.Outcome) {
	durationMs := e.now().Sub(execution.StartedAt).Milliseconds()

	if outcome.Status == models.ExecutionStatusSucceeded {
		completed := events.ExecutionCompleted{
			BaseEvent:  events.NewBaseEvent(events.ExecutionCompletedEvent, execution.ARN),
			ResultSize: len(outcome.Result),
			DurationMs: durationMs,
		}
		e.publish(ctx, execution.ARN, completed)

		return
	}

	failed := events.ExecutionFailed{
		BaseEvent:  events.NewBaseEvent(events.ExecutionFailedEvent, execution.ARN),
		DurationMs: durationMs,
	}
	if outcome.Failure != nil {
		failed.ErrorType = outcome.Failure.ErrorType
		failed.Message = outcome.Failure.Message
		failed.Operation = outcome.Failure.Operation
	}

	e.publish(ctx, execution.ARN, failed)
}

// publishNewCallbacks emits callback.created for callbacks the last engine
// run added to the tree. Replays only revisit recorded callbacks, so each
// creation is announced exactly once.
func (e *Executor) publishNewCallbacks(ctx context.Context, execution *models.Execution, known map[string]bool) {
	if execution.Root == nil {
		return
	}

	execution.Root.Walk(func(op *models.Operation) bool {
		if op.Type != models.OperationTypeCallback || known[op.CallbackToken] {
			return true
		}

		created := events.CallbackCreated{
			BaseEvent:     events.NewBaseEvent(events.CallbackCreatedEvent, execution.ARN),
			CallbackToken: op.CallbackToken,
			OperationPath: op.Path(),
		}
		if op.Deadline != nil {
			created.Deadline = *op.Deadline
		}

		e.publish(ctx, execution.ARN, created)

		return true
	})
}

// armDeadline schedules a replay at the earliest pending callback deadline.
// The engine's entry sweep converts expired callbacks to timeout failures,
// so the timer only has to trigger a replay.
func (e *Executor) armDeadline(arn string, pending []*models.Operation) {
	var earliest *time.Time

	for _, op := range pending {
		if op.Deadline == nil {
			continue
		}

		if earliest == nil || op.Deadline.Before(*earliest) {
			earliest = op.Deadline
		}
	}

	if earliest == nil {
		e.cancelTimer(arn)

		return
	}

	delay := earliest.Sub(e.now())
	if delay < 0 {
		delay = 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if timer, ok := e.timers[arn]; ok {
		timer.Stop()
	}

	e.timers[arn] = time.AfterFunc(delay, func() {
		e.onDeadline(arn)
	})
}

func (e *Executor) cancelTimer(arn string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if timer, ok := e.timers[arn]; ok {
		timer.Stop()
		delete(e.timers, arn)
	}
}

// onDeadline replays an execution whose earliest callback deadline passed.
func (e *Executor) onDeadline(arn string) {
	ctx := context.Background()
	logger := e.logger.With("execution_arn", arn)

	lock := e.lockFor(arn)
	lock.Lock()
	defer lock.Unlock()

	execution, err := e.persistence.ExecutionByARN(ctx, arn)
	if err != nil {
		logger.Error("Loading execution for deadline replay failed", "error", err)

		return
	}

	if execution.Terminal() {
		return
	}

	now := e.now()

	var expired []*models.Operation

	for _, op := range durable.PendingCallbacks(execution) {
		if op.Deadline != nil && !now.Before(*op.Deadline) {
			expired = append(expired, op)
		}
	}

	if err := e.replayLocked(ctx, execution); err != nil {
		logger.Error("Deadline replay failed", "error", err)

		return
	}

	for _, op := range expired {
		timedOut := events.CallbackTimedOut{
			BaseEvent:     events.NewBaseEvent(events.CallbackTimedOutEvent, arn),
			CallbackToken: op.CallbackToken,
			OperationPath: op.Path(),
		}
		if op.Deadline != nil {
			timedOut.Deadline = *op.Deadline
		}

		e.publish(ctx, arn, timedOut)
	}
}

func (e *Executor) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(ctx, key, event); err != nil {
		e.logger.Warn("Publishing lifecycle event failed",
			"event_type", event.GetType(), "execution_arn", key, "error", err)
	}
}

func (e *Executor) lockFor(arn string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	lock, ok := e.locks[arn]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[arn] = lock
	}

	return lock
}

func callbackTokens(execution *models.Execution) map[string]bool {
	tokens := make(map[string]bool)

	if execution.Root == nil {
		return tokens
	}

	execution.Root.Walk(func(op *models.Operation) bool {
		if op.Type == models.OperationTypeCallback {
			tokens[op.CallbackToken] = true
		}

		return true
	})

	return tokens
}
