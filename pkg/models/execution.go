// Package models defines the core domain models for durable executions.
package models

import "time"

// ExecutionStatus represents the lifecycle state of a durable execution.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "RUNNING"
	ExecutionStatusSucceeded ExecutionStatus = "SUCCEEDED"
	ExecutionStatusFailed    ExecutionStatus = "FAILED"
)

// Execution represents one durable invocation of a handler function. It owns
// the operation tree recording every durable side effect the handler
// performed, and it becomes terminal exactly once, when its root operation
// completes or fails.
type Execution struct {
	ARN          string          `json:"arn"`
	FunctionName string          `json:"function_name" validate:"required"`
	Status       ExecutionStatus `json:"status"`
	Input        []byte          `json:"input,omitempty"`
	Result       []byte          `json:"result,omitempty"`
	Failure      *Failure        `json:"failure,omitempty"`
	Root         *Operation      `json:"root,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// Terminal reports whether the execution reached SUCCEEDED or FAILED.
func (e *Execution) Terminal() bool {
	return e.Status == ExecutionStatusSucceeded || e.Status == ExecutionStatusFailed
}

// Succeed marks the execution terminal with the given result payload. It is a
// no-op when the execution is already terminal: terminal state is set once.
func (e *Execution) Succeed(result []byte, now time.Time) {
	if e.Terminal() {
		return
	}

	e.Status = ExecutionStatusSucceeded
	e.Result = result
	e.UpdatedAt = now
	e.CompletedAt = &now
}

// Fail marks the execution terminal with the given failure.
func (e *Execution) Fail(failure *Failure, now time.Time) {
	if e.Terminal() {
		return
	}

	e.Status = ExecutionStatusFailed
	e.Failure = failure
	e.UpdatedAt = now
	e.CompletedAt = &now
}

// Failure describes why an execution or operation failed. ErrorType carries
// the exception kind name surfaced to external callers; Operation is the
// slash-separated path of the failing node in the operation tree.
type Failure struct {
	ErrorType    string `json:"error_type"`
	Message      string `json:"message"`
	Operation    string `json:"operation,omitempty"`
	NonRetryable bool   `json:"non_retryable,omitempty"`
}

func (f *Failure) Error() string {
	if f.Operation != "" {
		return f.ErrorType + " at " + f.Operation + ": " + f.Message
	}

	return f.ErrorType + ": " + f.Message
}
