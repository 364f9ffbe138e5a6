// Package events defines event types and structures for durable execution
// lifecycle notifications.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic is the stream all durable execution lifecycle events publish to.
const Topic = "durion.executions"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Execution lifecycle events.
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionSuspendedEvent EventType = "execution.suspended"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"

	// Callback lifecycle events.
	CallbackCreatedEvent   EventType = "callback.created"
	CallbackDeliveredEvent EventType = "callback.delivered"
	CallbackTimedOutEvent  EventType = "callback.timedout"
)

type BaseEvent struct {
	ID           string         `json:"id"`
	Type         EventType      `json:"type"`
	Timestamp    time.Time      `json:"timestamp"`
	ExecutionARN string         `json:"execution_arn"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type ExecutionStarted struct {
	BaseEvent

	FunctionName string `json:"function_name"`
	InputSize    int    `json:"input_size"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

// ExecutionSuspended is emitted when a replay pass parks on one or more
// unresolved callbacks.
type ExecutionSuspended struct {
	BaseEvent

	PendingCallbacks []string `json:"pending_callbacks"`
}

func (e ExecutionSuspended) GetType() EventType {
	return ExecutionSuspendedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	ResultSize int   `json:"result_size"`
	DurationMs int64 `json:"duration_ms"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	ErrorType  string `json:"error_type"`
	Message    string `json:"message"`
	Operation  string `json:"operation,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type CallbackCreated struct {
	BaseEvent

	CallbackToken string    `json:"callback_token"`
	OperationPath string    `json:"operation_path"`
	Deadline      time.Time `json:"deadline"`
}

func (e CallbackCreated) GetType() EventType {
	return CallbackCreatedEvent
}

// CallbackDelivered records an accepted external result, success or failure.
type CallbackDelivered struct {
	BaseEvent

	CallbackToken string `json:"callback_token"`
	OperationPath string `json:"operation_path"`
	Succeeded     bool   `json:"succeeded"`
}

func (e CallbackDelivered) GetType() EventType {
	return CallbackDeliveredEvent
}

type CallbackTimedOut struct {
	BaseEvent

	CallbackToken string    `json:"callback_token"`
	OperationPath string    `json:"operation_path"`
	Deadline      time.Time `json:"deadline"`
}

func (e CallbackTimedOut) GetType() EventType {
	return CallbackTimedOutEvent
}

func NewBaseEvent(eventType EventType, executionARN string) BaseEvent {
	return BaseEvent{
		ID:           uuid.New().String(),
		Type:         eventType,
		Timestamp:    time.Now().UTC(),
		ExecutionARN: executionARN,
		Metadata:     make(map[string]any),
	}
}
