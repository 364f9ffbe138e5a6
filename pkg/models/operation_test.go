package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTree() *Operation {
	root := &Operation{
		Name: "order-flow",
		Type: OperationTypeContext,
		Children: []*Operation{
			{
				Name: "fan-out",
				Type: OperationTypeContext,
				Children: []*Operation{
					{
						Name: "branch-0",
						Type: OperationTypeContext,
						Children: []*Operation{
							{Name: "charge", Type: OperationTypeCallback, CallbackToken: "tok-0"},
						},
					},
					{
						Name: "branch-1",
						Type: OperationTypeContext,
						Children: []*Operation{
							{Name: "refund", Type: OperationTypeCallback, CallbackToken: "tok-1"},
						},
					},
				},
			},
		},
	}
	root.LinkParents()

	return root
}

func TestOperationPath(t *testing.T) {
	root := sampleTree()

	charge := root.Children[0].Children[0].Children[0]
	assert.Equal(t, "order-flow/fan-out/branch-0/charge", charge.Path())
	assert.Equal(t, "order-flow", root.Path())
}

func TestOperationFindByPath(t *testing.T) {
	root := sampleTree()

	op := root.FindByPath("order-flow/fan-out/branch-1/refund")
	require.NotNil(t, op)
	assert.Equal(t, "refund", op.Name)

	assert.Nil(t, root.FindByPath("order-flow/fan-out/branch-2"))
	assert.Nil(t, root.FindByPath("other-flow"))
	assert.Same(t, root, root.FindByPath("order-flow"))
}

func TestOperationFindByToken(t *testing.T) {
	root := sampleTree()

	op := root.FindByToken("tok-1")
	require.NotNil(t, op)
	assert.Equal(t, "refund", op.Name)

	assert.Nil(t, root.FindByToken("tok-9"))
}

func TestOperationWalkOrder(t *testing.T) {
	root := sampleTree()

	var visited []string

	root.Walk(func(op *Operation) bool {
		visited = append(visited, op.Name)

		return true
	})

	assert.Equal(t, []string{"order-flow", "fan-out", "branch-0", "charge", "branch-1", "refund"}, visited)
}

func TestOperationParentPointersSurviveSerialization(t *testing.T) {
	root := sampleTree()

	data, err := json.Marshal(root)
	require.NoError(t, err)

	var decoded Operation

	require.NoError(t, json.Unmarshal(data, &decoded))
	decoded.LinkParents()

	charge := decoded.FindByPath("order-flow/fan-out/branch-0/charge")
	require.NotNil(t, charge)
	assert.Equal(t, "branch-0", charge.Parent().Name)
}

func TestExecutionTerminalIsSetOnce(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(time.Hour)

	execution := &Execution{ARN: "arn-1", Status: ExecutionStatusRunning}

	execution.Succeed([]byte("first"), now)
	assert.Equal(t, ExecutionStatusSucceeded, execution.Status)
	require.NotNil(t, execution.CompletedAt)
	assert.Equal(t, now, *execution.CompletedAt)

	execution.Fail(&Failure{ErrorType: "HandlerError", Message: "late"}, later)
	assert.Equal(t, ExecutionStatusSucceeded, execution.Status)
	assert.Equal(t, []byte("first"), execution.Result)
	assert.Nil(t, execution.Failure)
	assert.Equal(t, now, *execution.CompletedAt)
}

func TestFailureError(t *testing.T) {
	failure := &Failure{ErrorType: "TimeoutError", Message: "no delivery", Operation: "f/cb"}
	assert.Equal(t, "TimeoutError at f/cb: no delivery", failure.Error())

	bare := &Failure{ErrorType: "HandlerError", Message: "boom"}
	assert.Equal(t, "HandlerError: boom", bare.Error())
}
