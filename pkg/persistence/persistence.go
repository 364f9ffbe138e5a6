// Package persistence provides the data storage abstraction for durable
// executions and their operation trees.
package persistence

import (
	"context"

	"github.com/dukex/durion/pkg/models"
)

// Persistence stores execution snapshots. SaveExecution persists the whole
// execution including its operation tree and must be idempotent with
// respect to replay: re-saving an already recorded snapshot overwrites it
// in place, never duplicates it. Loaded executions carry a relinked
// operation tree.
type Persistence interface {
	Executions(ctx context.Context) ([]*models.Execution, error)
	SaveExecution(ctx context.Context, execution *models.Execution) error
	ExecutionByARN(ctx context.Context, arn string) (*models.Execution, error)
	DeleteExecution(ctx context.Context, arn string) error
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}
