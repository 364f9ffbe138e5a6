// Package memory provides an in-memory persistence implementation, used by
// unit tests and by the embedded control-plane service in local mode.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/dukex/durion/pkg/models"
	"github.com/dukex/durion/pkg/persistence"
)

// Persistence implements persistence.Persistence with a process-local map.
// Snapshots are stored serialized so callers never share mutable state with
// the store, mirroring what a real backend round-trip does.
type Persistence struct {
	mu         sync.RWMutex
	executions map[string][]byte
}

// NewPersistence creates an empty in-memory store.
func NewPersistence() *Persistence {
	return &Persistence{
		executions: make(map[string][]byte),
	}
}

func (p *Persistence) Executions(_ context.Context) ([]*models.Execution, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	arns := make([]string, 0, len(p.executions))
	for arn := range p.executions {
		arns = append(arns, arn)
	}

	sort.Strings(arns)

	executions := make([]*models.Execution, 0, len(arns))

	for _, arn := range arns {
		execution, err := decodeExecution(p.executions[arn])
		if err != nil {
			return nil, persistence.NewExecutionError("List", arn, err)
		}

		executions = append(executions, execution)
	}

	return executions, nil
}

func (p *Persistence) SaveExecution(_ context.Context, execution *models.Execution) error {
	data, err := json.Marshal(execution)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ARN, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.executions[execution.ARN] = data

	return nil
}

func (p *Persistence) ExecutionByARN(_ context.Context, arn string) (*models.Execution, error) {
	p.mu.RLock()
	data, ok := p.executions[arn]
	p.mu.RUnlock()

	if !ok {
		return nil, persistence.NewExecutionError("ByARN", arn, persistence.ErrExecutionNotFound)
	}

	execution, err := decodeExecution(data)
	if err != nil {
		return nil, persistence.NewExecutionError("ByARN", arn, err)
	}

	return execution, nil
}

func (p *Persistence) DeleteExecution(_ context.Context, arn string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.executions[arn]; !ok {
		return persistence.NewExecutionError("Delete", arn, persistence.ErrExecutionNotFound)
	}

	delete(p.executions, arn)

	return nil
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func decodeExecution(data []byte) (*models.Execution, error) {
	var execution models.Execution
	if err := json.Unmarshal(data, &execution); err != nil {
		return nil, err
	}

	if execution.Root != nil {
		execution.Root.LinkParents()
	}

	return &execution, nil
}
