package main

import (
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/dukex/durion/pkg/executor"
	"github.com/dukex/durion/pkg/web"
)

type API struct {
	logger   *slog.Logger
	executor *executor.Executor
}

func NewAPI(logger *slog.Logger, exec *executor.Executor) *API {
	return &API{
		logger:   logger,
		executor: exec,
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.executor)

	return web.NewApp(handlers)
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
