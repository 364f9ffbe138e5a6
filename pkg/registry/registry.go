// Package registry maps function names to durable handlers.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/dukex/durion/pkg/durable"
)

var ErrHandlerNotRegistered = errors.New("handler not registered")

// Registry holds the durable handlers an executor can dispatch to, keyed by
// function name. Registration normally happens at process startup; lookups
// happen on every replay, so reads take the cheap path.
type Registry struct {
	logger   *slog.Logger
	mu       sync.RWMutex
	handlers map[string]durable.Handler
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:   log,
		handlers: make(map[string]durable.Handler),
	}
}

func (r *Registry) Register(functionName string, handler durable.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[functionName]; exists {
		r.logger.Warn("overwriting registered handler", "function_name", functionName)
	}

	r.handlers[functionName] = handler
}

func (r *Registry) Handler(functionName string) (durable.Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[functionName]
	if !ok {
		return nil, fmt.Errorf("function '%s': %w", functionName, ErrHandlerNotRegistered)
	}

	return handler, nil
}

// FunctionNames returns the registered function names in sorted order.
func (r *Registry) FunctionNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
