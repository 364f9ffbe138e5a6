// Package redis provides a Redis-backed persistence implementation for
// durable executions.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dukex/durion/pkg/models"
	"github.com/dukex/durion/pkg/persistence"
)

const executionKeyPrefix = "durion:executions:"

// Persistence implements persistence.Persistence on top of Redis. Each
// execution snapshot is one JSON value keyed by ARN, overwritten in place
// on every checkpoint.
type Persistence struct {
	client goredis.UniversalClient
}

// NewPersistence connects to the Redis instance addressed by the given URL
// (redis://host:port/db).
func NewPersistence(url string) (*Persistence, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	return &Persistence{client: goredis.NewClient(opts)}, nil
}

// NewPersistenceWithClient wraps an existing client, used by tests.
func NewPersistenceWithClient(client goredis.UniversalClient) *Persistence {
	return &Persistence{client: client}
}

func (p *Persistence) SaveExecution(ctx context.Context, execution *models.Execution) error {
	data, err := json.Marshal(execution)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ARN, err)
	}

	if err := p.client.Set(ctx, executionKey(execution.ARN), data, 0).Err(); err != nil {
		return persistence.NewExecutionError("Save", execution.ARN, err)
	}

	return nil
}

func (p *Persistence) ExecutionByARN(ctx context.Context, arn string) (*models.Execution, error) {
	data, err := p.client.Get(ctx, executionKey(arn)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, persistence.NewExecutionError("ByARN", arn, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("ByARN", arn, err)
	}

	return decodeExecution(arn, data)
}

func (p *Persistence) Executions(ctx context.Context) ([]*models.Execution, error) {
	var (
		executions []*models.Execution
		cursor     uint64
	)

	for {
		keys, next, err := p.client.Scan(ctx, cursor, executionKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan executions: %w", err)
		}

		for _, key := range keys {
			data, err := p.client.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, goredis.Nil) {
					continue
				}

				return nil, fmt.Errorf("failed to read execution %s: %w", key, err)
			}

			execution, err := decodeExecution(strings.TrimPrefix(key, executionKeyPrefix), data)
			if err != nil {
				return nil, err
			}

			executions = append(executions, execution)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return executions, nil
}

func (p *Persistence) DeleteExecution(ctx context.Context, arn string) error {
	deleted, err := p.client.Del(ctx, executionKey(arn)).Result()
	if err != nil {
		return persistence.NewExecutionError("Delete", arn, err)
	}

	if deleted == 0 {
		return persistence.NewExecutionError("Delete", arn, persistence.ErrExecutionNotFound)
	}

	return nil
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *Persistence) Close(_ context.Context) error {
	return p.client.Close()
}

func executionKey(arn string) string {
	return executionKeyPrefix + arn
}

func decodeExecution(ref string, data []byte) (*models.Execution, error) {
	var execution models.Execution
	if err := json.Unmarshal(data, &execution); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution %s: %w", ref, err)
	}

	if execution.Root != nil {
		execution.Root.LinkParents()
	}

	return &execution, nil
}
