// Package app wires the stores, caches, feeds, services, scheduler and API
// together and runs them in the configured mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/wallwatch/internal/config"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
	}
}

// Run wires the dependencies, starts the configured mode and blocks until
// ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("symbol", a.cfg.Exchange.Symbol),
		slog.Any("venues", a.cfg.Exchange.Venues),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	c, err := a.buildCore(deps)
	if err != nil {
		return fmt.Errorf("app: build core: %w", err)
	}

	switch strings.ToLower(a.cfg.Mode) {
	case "collect":
		return a.CollectMode(ctx, deps, c)
	case "server":
		return a.ServerMode(ctx, deps, c)
	case "full":
		return a.FullMode(ctx, deps, c)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
