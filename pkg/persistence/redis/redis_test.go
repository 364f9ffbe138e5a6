package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/durion/pkg/models"
	"github.com/dukex/durion/pkg/persistence"
	"github.com/dukex/durion/pkg/testutil"
)

func newTestStore(t *testing.T) *Persistence {
	t.Helper()

	server := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: server.Addr()})

	t.Cleanup(func() {
		if err := client.Close(); err != nil {
			t.Logf("Failed to close redis client: %v", err)
		}
	})

	return NewPersistenceWithClient(client)
}

func TestNewPersistenceRejectsBadURL(t *testing.T) {
	_, err := NewPersistence("not-a-redis-url")
	assert.Error(t, err)
}

func TestSaveAndLoadExecution(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	deadline := time.Date(2026, 1, 15, 11, 0, 0, 0, time.UTC)
	root := testutil.CreateTestOperation("test-function",
		testutil.WithStatus(models.OperationStatusRunning),
		testutil.WithChildren(
			testutil.CreateTestOperation("wait",
				testutil.AsCallback("tok-wait", deadline)),
		),
	)

	execution := testutil.CreateTestExecution(testutil.WithRoot(root))
	require.NoError(t, store.SaveExecution(ctx, execution))

	loaded, err := store.ExecutionByARN(ctx, execution.ARN)
	require.NoError(t, err)

	assert.Equal(t, execution.ARN, loaded.ARN)

	wait := loaded.Root.FindByPath("test-function/wait")
	require.NotNil(t, wait)
	assert.Equal(t, "tok-wait", wait.CallbackToken)
	assert.Equal(t, loaded.Root, wait.Parent())
}

func TestSaveOverwritesSnapshot(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	execution := testutil.CreateTestExecution()
	require.NoError(t, store.SaveExecution(ctx, execution))

	execution.Succeed([]byte(`"done"`), time.Now().UTC())
	require.NoError(t, store.SaveExecution(ctx, execution))

	loaded, err := store.ExecutionByARN(ctx, execution.ARN)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSucceeded, loaded.Status)
	assert.Equal(t, []byte(`"done"`), loaded.Result)
}

func TestExecutionByARNNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.ExecutionByARN(context.Background(), "arn:durion:execution:ghost")
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestExecutionsScansAllKeys(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.SaveExecution(ctx, testutil.CreateTestExecution()))
	require.NoError(t, store.SaveExecution(ctx, testutil.CreateTestExecution()))

	executions, err := store.Executions(ctx)
	require.NoError(t, err)
	assert.Len(t, executions, 2)
}

func TestDeleteExecution(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	execution := testutil.CreateTestExecution()
	require.NoError(t, store.SaveExecution(ctx, execution))
	require.NoError(t, store.DeleteExecution(ctx, execution.ARN))

	err := store.DeleteExecution(ctx, execution.ARN)
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestHealthCheck(t *testing.T) {
	store := newTestStore(t)

	assert.NoError(t, store.HealthCheck(context.Background()))
}
