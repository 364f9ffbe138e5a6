package web

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

// NewApp builds the fiber application with every control-plane route. The
// unknown-route fallback registers last so unmatched paths and methods get
// the contract's 404 body instead of fiber's default.
func NewApp(handlers *APIHandlers) *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Post("/start-durable-execution", handlers.StartDurableExecution)
	app.Get("/:version/durable-executions/:arn", handlers.GetDurableExecution)
	app.Post("/callback-success", handlers.CallbackSuccess)
	app.Post("/callback-failure", handlers.CallbackFailure)
	app.Get("/health", handlers.HealthCheck)

	app.Use(handlers.UnknownRoute)

	return app
}
