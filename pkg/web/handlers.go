package web

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/dukex/durion/pkg/executor"
)

type APIHandlers struct {
	executor *executor.Executor
}

func NewAPIHandlers(exec *executor.Executor) *APIHandlers {
	return &APIHandlers{executor: exec}
}

func (h *APIHandlers) StartDurableExecution(c fiber.Ctx) error {
	var req StartDurableExecutionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	execution, err := h.executor.StartExecution(c.Context(), executor.StartExecutionRequest{
		FunctionName: req.FunctionName,
		Input:        req.Input,
	})
	if err != nil {
		return handleExecutorError(c, err)
	}

	return c.JSON(StartDurableExecutionResponse{ExecutionARN: execution.ARN})
}

func (h *APIHandlers) GetDurableExecution(c fiber.Ctx) error {
	arn := c.Params("arn")
	if arn == "" {
		return badRequest(c, "Execution ARN is required")
	}

	execution, err := h.executor.DescribeExecution(c.Context(), arn)
	if err != nil {
		return handleExecutorError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) CallbackSuccess(c fiber.Ctx) error {
	token := c.Query("callback-id")
	if token == "" {
		return badRequest(c, "callback-id query parameter is required")
	}

	// The delivery body passes through uninterpreted.
	payload := append([]byte(nil), c.Body()...)

	if err := h.executor.SendCallbackSuccess(c.Context(), token, payload); err != nil {
		return handleExecutorError(c, err)
	}

	return c.SendStatus(fiber.StatusOK)
}

func (h *APIHandlers) CallbackFailure(c fiber.Ctx) error {
	token := c.Query("callback-id")
	if token == "" {
		return badRequest(c, "callback-id query parameter is required")
	}

	payload := append([]byte(nil), c.Body()...)

	if err := h.executor.SendCallbackFailure(c.Context(), token, payload); err != nil {
		return handleExecutorError(c, err)
	}

	return c.SendStatus(fiber.StatusOK)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	check, ok := h.executor.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Durion control plane is unhealthy"
	httpStatus := http.StatusServiceUnavailable

	if ok {
		status = "healthy"
		message = "Durion control plane is healthy"
		httpStatus = http.StatusOK
	}

	if !ok {
		return writeError(c, httpStatus, ExceptionServiceUnavailable, check)
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"persistence": check,
		},
		"timestamp": time.Now().UTC(),
	})
}

// UnknownRoute answers every unmatched path or method with the contract's
// 404 body.
func (h *APIHandlers) UnknownRoute(c fiber.Ctx) error {
	return writeError(c, fiber.StatusNotFound, ExceptionUnknownRoute,
		"No route matches "+c.Method()+" "+c.Path())
}
