// Package controlplane defines the boundary between the durable execution
// engine and the external service that persists execution state and brokers
// callback delivery.
package controlplane

import (
	"context"

	"github.com/dukex/durion/pkg/models"
)

// Client is the narrow contract the engine needs from the control plane.
// CheckpointExecution must be idempotent with respect to replay: re-sending
// an already recorded operation tree is a no-op, not a duplicate.
type Client interface {
	CheckpointExecution(ctx context.Context, execution *models.Execution) error
}

// Store abstracts the persistence calls the in-process control plane is
// built on. Any persistence.Persistence implementation satisfies it.
type Store interface {
	SaveExecution(ctx context.Context, execution *models.Execution) error
}

// LocalClient checkpoints executions straight into a store. It is the
// client used when the engine and the control plane run in one process,
// which is how the test service hosts durable functions.
type LocalClient struct {
	store Store
}

// NewLocalClient creates a control-plane client backed by the given store.
func NewLocalClient(store Store) *LocalClient {
	return &LocalClient{store: store}
}

func (c *LocalClient) CheckpointExecution(ctx context.Context, execution *models.Execution) error {
	return c.store.SaveExecution(ctx, execution)
}
