package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/dukex/durion/pkg/models"
)

// MockPersistence is a mock implementation of the persistence.Persistence
// interface.
type MockPersistence struct {
	mock.Mock
}

func (m *MockPersistence) Executions(ctx context.Context) ([]*models.Execution, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Execution), args.Error(1)
}

func (m *MockPersistence) SaveExecution(ctx context.Context, execution *models.Execution) error {
	args := m.Called(ctx, execution)

	return args.Error(0)
}

func (m *MockPersistence) ExecutionByARN(ctx context.Context, arn string) (*models.Execution, error) {
	args := m.Called(ctx, arn)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Execution), args.Error(1)
}

func (m *MockPersistence) DeleteExecution(ctx context.Context, arn string) error {
	args := m.Called(ctx, arn)

	return args.Error(0)
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
