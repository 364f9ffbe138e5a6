// Package file provides a file-based persistence implementation for durable
// executions.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/durion/pkg/models"
	"github.com/dukex/durion/pkg/persistence"
)

const executionsDir = "executions"

// Persistence implements the persistence.Persistence interface using the
// file system. Each execution snapshot lives in its own JSON file named by
// the execution ARN.
type Persistence struct {
	root string
}

// NewPersistence creates a new instance of Persistence with the specified
// root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{root: cleanRoot}
}

// Close performs any necessary cleanup. For file-based persistence, there
// is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) SaveExecution(_ context.Context, execution *models.Execution) error {
	if err := validateARN(execution.ARN); err != nil {
		return persistence.NewExecutionError("Save", execution.ARN, err)
	}

	dir := filepath.Join(fp.root, executionsDir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return persistence.NewExecutionError("Save", execution.ARN, fmt.Errorf("failed to create executions directory: %w", err))
	}

	data, err := json.Marshal(execution)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ARN, fmt.Errorf("failed to marshal execution: %w", err))
	}

	path := filepath.Join(dir, executionFileName(execution.ARN))
	if err := os.WriteFile(path, data, 0600); err != nil {
		return persistence.NewExecutionError("Save", execution.ARN, fmt.Errorf("failed to write execution: %w", err))
	}

	return nil
}

func (fp *Persistence) ExecutionByARN(_ context.Context, arn string) (*models.Execution, error) {
	if err := validateARN(arn); err != nil {
		return nil, persistence.NewExecutionError("ByARN", arn, err)
	}

	path := filepath.Join(fp.root, executionsDir, executionFileName(arn))

	data, err := os.ReadFile(path) //nolint:gosec // path is derived from a validated ARN
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewExecutionError("ByARN", arn, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("ByARN", arn, err)
	}

	return decodeExecution(arn, data)
}

func (fp *Persistence) Executions(_ context.Context) ([]*models.Execution, error) {
	dir := filepath.Join(fp.root, executionsDir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.Execution{}, nil
		}

		return nil, fmt.Errorf("failed to read executions directory: %w", err)
	}

	executions := make([]*models.Execution, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name())) //nolint:gosec // directory listing under the store root
		if err != nil {
			return nil, fmt.Errorf("failed to read execution file %s: %w", entry.Name(), err)
		}

		execution, err := decodeExecution(entry.Name(), data)
		if err != nil {
			return nil, err
		}

		executions = append(executions, execution)
	}

	return executions, nil
}

func (fp *Persistence) DeleteExecution(_ context.Context, arn string) error {
	if err := validateARN(arn); err != nil {
		return persistence.NewExecutionError("Delete", arn, err)
	}

	path := filepath.Join(fp.root, executionsDir, executionFileName(arn))

	err := os.Remove(path)
	if os.IsNotExist(err) {
		return persistence.NewExecutionError("Delete", arn, persistence.ErrExecutionNotFound)
	}

	return err
}

// validateARN rejects ARNs that are unsafe as file names.
func validateARN(arn string) error {
	if arn == "" {
		return errors.New("execution ARN cannot be empty")
	}

	if strings.Contains(arn, "..") || strings.Contains(arn, "/") || strings.Contains(arn, "\\") {
		return errors.New("execution ARN contains invalid characters")
	}

	return nil
}

func executionFileName(arn string) string {
	return arn + ".json"
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
