package web

import (
	"github.com/gofiber/fiber/v3"

	"github.com/dukex/durion/pkg/executor"
)

// Exception kind names surfaced in error bodies. The body shape is part of
// the service contract: {"Type": "<kind>", "message": "..."}.
const (
	ExceptionInvalidParameter   = "InvalidParameterValueException"
	ExceptionResourceNotFound   = "ResourceNotFoundException"
	ExceptionUnknownRoute       = "UnknownRouteError"
	ExceptionIllegalState       = "IllegalStateException"
	ExceptionSerialization      = "SerializationError"
	ExceptionInternal           = "InternalError"
	ExceptionServiceUnavailable = "ServiceUnavailableException"
)

// ErrorResponse is the uniform error body for every non-2xx response.
type ErrorResponse struct {
	Type    string `json:"Type"`
	Message string `json:"message"`
}

func writeError(c fiber.Ctx, status int, kind, message string) error {
	return c.Status(status).JSON(ErrorResponse{Type: kind, Message: message})
}

func badRequest(c fiber.Ctx, message string) error {
	return writeError(c, fiber.StatusBadRequest, ExceptionInvalidParameter, message)
}

func notFound(c fiber.Ctx, message string) error {
	return writeError(c, fiber.StatusNotFound, ExceptionResourceNotFound, message)
}

func conflict(c fiber.Ctx, message string) error {
	return writeError(c, fiber.StatusConflict, ExceptionIllegalState, message)
}

func internalError(c fiber.Ctx, err error) error {
	return writeError(c, fiber.StatusInternalServerError, ExceptionInternal, err.Error())
}

// handleExecutorError maps executor errors onto the contract's status codes.
func handleExecutorError(c fiber.Ctx, err error) error {
	switch {
	case executor.IsValidationError(err):
		return badRequest(c, err.Error())
	case executor.IsNotFoundError(err):
		return notFound(c, err.Error())
	case executor.IsConflictError(err):
		return conflict(c, err.Error())
	default:
		return internalError(c, err)
	}
}
