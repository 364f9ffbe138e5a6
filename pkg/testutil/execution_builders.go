// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/dukex/durion/pkg/models"
)

// CreateTestExecution creates a RUNNING execution with default values that
// can be overridden.
func CreateTestExecution(overrides ...func(*models.Execution)) *models.Execution {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	execution := &models.Execution{
		ARN:          "arn:durion:execution:" + uuid.New().String(),
		FunctionName: "test-function",
		Status:       models.ExecutionStatusRunning,
		Input:        []byte(`{"value":1}`),
		StartedAt:    now,
		UpdatedAt:    now,
	}

	for _, override := range overrides {
		override(execution)
	}

	return execution
}

// WithFunctionName sets the function name.
func WithFunctionName(name string) func(*models.Execution) {
	return func(e *models.Execution) {
		e.FunctionName = name
	}
}

// WithInput sets the input payload.
func WithInput(input []byte) func(*models.Execution) {
	return func(e *models.Execution) {
		e.Input = input
	}
}

// WithRoot sets the recorded operation tree and relinks parent pointers.
func WithRoot(root *models.Operation) func(*models.Execution) {
	return func(e *models.Execution) {
		root.LinkParents()
		e.Root = root
	}
}

// CreateTestOperation creates a PENDING context operation with default
// values that can be overridden.
func CreateTestOperation(name string, overrides ...func(*models.Operation)) *models.Operation {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	op := &models.Operation{
		Name:      name,
		Type:      models.OperationTypeContext,
		Status:    models.OperationStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, override := range overrides {
		override(op)
	}

	return op
}

// AsCallback configures the operation as a pending callback with a deadline.
func AsCallback(token string, deadline time.Time) func(*models.Operation) {
	return func(o *models.Operation) {
		o.Type = models.OperationTypeCallback
		o.CallbackToken = token
		o.Deadline = &deadline
	}
}

// WithStatus sets the operation status.
func WithStatus(status models.OperationStatus) func(*models.Operation) {
	return func(o *models.Operation) {
		o.Status = status
	}
}

// WithChildren appends child operations.
func WithChildren(children ...*models.Operation) func(*models.Operation) {
	return func(o *models.Operation) {
		o.Children = append(o.Children, children...)
	}
}
