// Package command defines the contracts between hostbridge and external command
// modules, and the registry that holds live command instances.
package command

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mattjoyce/hostbridge/internal/host"
)

// Command is the capability every external command implements.
type Command interface {
	// Name is matched against the descriptor's configured command name.
	Name() string
	// Execute runs the command, usually off the main thread. Host-affecting work
	// must go through an execution handle obtained from env.Handles.
	Execute(ctx context.Context, env Env, params json.RawMessage) (any, error)
}

// Initializer is implemented by commands that need the host handle after
// zero-argument construction.
type Initializer interface {
	Initialize(app host.Application) error
}

// HandleProvider hands out cached execution handles keyed by a stable identity.
type HandleProvider interface {
	GetOrCreateHandle(ctx context.Context, handler host.Handler, key string) (*host.Event, error)
}

// Env is passed to Execute.
type Env struct {
	App     host.Application
	Handles HandleProvider
	Logger  *slog.Logger
}
