// Package postgresql provides a PostgreSQL persistence implementation for
// durable executions.
package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // postgres driver

	"github.com/dukex/durion/pkg/models"
	"github.com/dukex/durion/pkg/persistence"
	"github.com/dukex/durion/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPersistence creates a new PostgreSQL persistence layer and runs
// pending schema migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	if err := database.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())
	if err := migrationManager.RunMigrations(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{db: database, logger: logger}, nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies database connectivity.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Persistence) SaveExecution(ctx context.Context, execution *models.Execution) error {
	failureJSON, err := marshalNullable(execution.Failure)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ARN, fmt.Errorf("failed to marshal failure: %w", err))
	}

	rootJSON, err := marshalNullable(execution.Root)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ARN, fmt.Errorf("failed to marshal operation tree: %w", err))
	}

	query := `
		INSERT INTO durable_executions (
			arn, function_name, status, input, result, failure, root,
			started_at, updated_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (arn) DO UPDATE SET
			status = EXCLUDED.status,
			result = EXCLUDED.result,
			failure = EXCLUDED.failure,
			root = EXCLUDED.root,
			updated_at = EXCLUDED.updated_at,
			completed_at = EXCLUDED.completed_at
	`

	_, err = p.db.ExecContext(ctx, query,
		execution.ARN,
		execution.FunctionName,
		string(execution.Status),
		execution.Input,
		execution.Result,
		failureJSON,
		rootJSON,
		execution.StartedAt,
		execution.UpdatedAt,
		execution.CompletedAt,
	)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ARN, err)
	}

	return nil
}

func (p *Persistence) ExecutionByARN(ctx context.Context, arn string) (*models.Execution, error) {
	query := `
		SELECT arn, function_name, status, input, result, failure, root,
			started_at, updated_at, completed_at
		FROM durable_executions
		WHERE arn = $1
	`

	execution, err := scanExecution(p.db.QueryRowContext(ctx, query, arn))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("ByARN", arn, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("ByARN", arn, err)
	}

	return execution, nil
}

func (p *Persistence) Executions(ctx context.Context) ([]*models.Execution, error) {
	query := `
		SELECT arn, function_name, status, input, result, failure, root,
			started_at, updated_at, completed_at
		FROM durable_executions
		ORDER BY started_at
	`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var executions []*models.Execution

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	return executions, rows.Err()
}

func (p *Persistence) DeleteExecution(ctx context.Context, arn string) error {
	result, err := p.db.ExecContext(ctx, "DELETE FROM durable_executions WHERE arn = $1", arn)
	if err != nil {
		return persistence.NewExecutionError("Delete", arn, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewExecutionError("Delete", arn, err)
	}

	if affected == 0 {
		return persistence.NewExecutionError("Delete", arn, persistence.ErrExecutionNotFound)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*models.Execution, error) {
	var (
		execution   models.Execution
		status      string
		failureJSON []byte
		rootJSON    []byte
		completedAt sql.NullTime
	)

	err := row.Scan(
		&execution.ARN,
		&execution.FunctionName,
		&status,
		&execution.Input,
		&execution.Result,
		&failureJSON,
		&rootJSON,
		&execution.StartedAt,
		&execution.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	execution.Status = models.ExecutionStatus(status)

	if completedAt.Valid {
		execution.CompletedAt = &completedAt.Time
	}

	if len(failureJSON) > 0 {
		if err := json.Unmarshal(failureJSON, &execution.Failure); err != nil {
			return nil, fmt.Errorf("failed to unmarshal failure: %w", err)
		}
	}

	if len(rootJSON) > 0 {
		if err := json.Unmarshal(rootJSON, &execution.Root); err != nil {
			return nil, fmt.Errorf("failed to unmarshal operation tree: %w", err)
		}

		execution.Root.LinkParents()
	}

	return &execution, nil
}

func marshalNullable(v any) ([]byte, error) {
	switch value := v.(type) {
	case *models.Failure:
		if value == nil {
			return nil, nil
		}
	case *models.Operation:
		if value == nil {
			return nil, nil
		}
	}

	return json.Marshal(v)
}
