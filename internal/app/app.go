// Package app provides the top-level application lifecycle for the position
// watcher. It wires together the exchange clients, the optional journal,
// bus and blob backends, and the watcher service, and blocks until
// shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pinbar/polywatcher/internal/config"
	"github.com/pinbar/polywatcher/internal/render"
	"github.com/pinbar/polywatcher/internal/watcher"
)

// App is the root application object. It owns the configuration, logger,
// and a list of cleanup functions that are called in reverse order on
// shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the watcher, and blocks until the
// context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	if err := deps.Service.Start(ctx); err != nil {
		return fmt.Errorf("app: start watcher: %w", err)
	}

	go a.dumpOnSignal(ctx, deps.Service)

	<-ctx.Done()
	deps.Service.Stop()
	return ctx.Err()
}

// dumpOnSignal prints the current positions and tracked orders as console
// tables whenever the process receives SIGUSR1.
func (a *App) dumpOnSignal(ctx context.Context, svc *watcher.Service) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			positions := svc.Positions()
			render.Positions(os.Stdout, positions)
			render.Orders(os.Stdout, svc.Orders())
			for _, p := range positions {
				render.Lots(os.Stdout, p.AssetID, svc.Lots(p.AssetID))
			}
		}
	}
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
