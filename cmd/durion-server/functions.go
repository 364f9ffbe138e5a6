package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/durion/pkg/durable"
	"github.com/dukex/durion/pkg/models"
	"github.com/dukex/durion/pkg/registry"
)

// newFunctionRegistry registers the built-in durable functions the server
// hosts. Embedders replace this with their own handler set.
func newFunctionRegistry(logger *slog.Logger) *registry.Registry {
	reg := registry.NewRegistry(logger)

	reg.Register("echo", echoHandler)
	reg.Register("parallel-api-calls", parallelAPICallsHandler)

	return reg
}

func echoHandler(_ *durable.Context, input []byte) ([]byte, error) {
	return input, nil
}

// parallelAPICallsHandler fans out N callback-backed branches and aggregates
// their delivered payloads in branch order. Deliveries must be JSON.
func parallelAPICallsHandler(ctx *durable.Context, input []byte) ([]byte, error) {
	req := struct {
		Count          int `json:"count"`
		TimeoutSeconds int `json:"timeoutSeconds"`
	}{Count: 3, TimeoutSeconds: 300}

	if len(input) > 0 {
		if err := json.Unmarshal(input, &req); err != nil {
			return nil, err
		}
	}

	timeout := time.Duration(req.TimeoutSeconds) * time.Second

	fns := make([]durable.BranchFunc, req.Count)
	for i := range fns {
		name := fmt.Sprintf("api-call-%d", i+1)
		fns[i] = func(c *durable.Context) ([]byte, error) {
			callback, err := c.CreateCallback(name, models.CallbackConfig{Timeout: timeout})
			if err != nil {
				return nil, err
			}

			return callback.Result()
		}
	}

	result, err := ctx.Parallel("api-calls", fns)
	if err != nil {
		return nil, err
	}

	results := make([]json.RawMessage, 0, result.Len())
	for _, r := range result.Results() {
		results = append(results, json.RawMessage(r))
	}

	return json.Marshal(map[string]any{
		"results":      results,
		"allCompleted": true,
	})
}
