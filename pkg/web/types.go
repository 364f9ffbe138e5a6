// Package web provides the HTTP boundary of the durable execution control
// plane.
package web

import "encoding/json"

// APIVersion is the current date-based version accepted in versioned paths.
const APIVersion = "2025-12-01"

// StartDurableExecutionRequest is the body of a start request. Input is
// passed to the handler uninterpreted.
type StartDurableExecutionRequest struct {
	FunctionName string          `json:"functionName" validate:"required"`
	Input        json.RawMessage `json:"input,omitempty"`
}

// StartDurableExecutionResponse carries the ARN of the new execution.
type StartDurableExecutionResponse struct {
	ExecutionARN string `json:"executionArn"`
}
