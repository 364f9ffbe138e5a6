// Package cmd provides common initialization functions for command-line
// applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/durion/pkg/persistence"
	"github.com/dukex/durion/pkg/persistence/file"
	"github.com/dukex/durion/pkg/persistence/memory"
	"github.com/dukex/durion/pkg/persistence/postgresql"
	"github.com/dukex/durion/pkg/persistence/redis"
)

// NewPersistence selects an execution store by URL scheme. Unknown schemes
// fall back to the file store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch parseProvider(databaseURL) {
	case "memory":
		return memory.NewPersistence()
	case "redis", "rediss":
		p, err := redis.NewPersistence(databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to create redis persistence: %w", err))
		}

		return p
	case "postgres", "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to create postgresql persistence: %w", err))
		}

		return p
	default:
		return file.NewPersistence(databaseURL)
	}
}

func parseProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	return provider
}
