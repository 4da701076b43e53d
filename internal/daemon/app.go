// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon runs an engine as a long-lived process: admin HTTP server,
// config hot reload and orderly shutdown.
package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/stageflow/internal/config"
	"github.com/ManuGH/stageflow/internal/engine"
	"github.com/ManuGH/stageflow/internal/log"
)

// App owns the long-lived runtime lifecycle (watcher, reload wiring) and
// delegates server management to Manager.
type App struct {
	logger       zerolog.Logger
	manager      Manager
	cfgHolder    *config.Holder
	engine       *engine.Engine
	reloadSignal os.Signal
}

// NewApp creates a new App orchestrator. cfgHolder may be nil.
func NewApp(logger zerolog.Logger, manager Manager, cfgHolder *config.Holder, eng *engine.Engine) *App {
	return &App{
		logger:       logger,
		manager:      manager,
		cfgHolder:    cfgHolder,
		engine:       eng,
		reloadSignal: syscall.SIGHUP,
	}
}

// Run starts all owned background subsystems and blocks until ctx is cancelled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}

	g, ctx := errgroup.WithContext(ctx)

	// The watcher is best effort: startup does not fail without it.
	if a.cfgHolder != nil {
		if err := a.cfgHolder.StartWatcher(ctx); err != nil {
			a.logger.Warn().Err(err).Str(log.FieldEvent, "config.watcher_start_failed").Msg("failed to start config watcher")
		}
		defer a.cfgHolder.Stop()
	}

	if a.cfgHolder != nil && a.engine != nil {
		applyCh := make(chan config.File, 1)
		a.cfgHolder.RegisterListener(applyCh)
		applied := a.cfgHolder.Get()

		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case next := <-applyCh:
					a.apply(applied, next)
					applied = next
				}
			}
		})
	}

	if a.cfgHolder != nil && a.reloadSignal != nil {
		g.Go(func() error {
			hupChan := make(chan os.Signal, 1)
			signal.Notify(hupChan, a.reloadSignal)
			defer signal.Stop(hupChan)

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-hupChan:
					a.logger.Info().
						Str(log.FieldEvent, "config.reload_signal").
						Str("signal", a.reloadSignal.String()).
						Msg("received reload signal, reloading config")

					if err := a.cfgHolder.Reload(context.Background()); err != nil {
						a.logger.Warn().
							Err(err).
							Str(log.FieldEvent, "config.reload_failed").
							Msg("config reload failed")
					}
				}
			}
		})
	}

	g.Go(func() error {
		err := a.manager.Start(ctx)
		if err != nil {
			_ = a.manager.Shutdown(context.Background())
		}
		return err
	})

	return g.Wait()
}

// apply pushes a reloaded file onto the running engine.
func (a *App) apply(prev, next config.File) {
	if next.Engine.LogLevel != prev.Engine.LogLevel {
		if !log.SetLevel(next.Engine.LogLevel) {
			a.logger.Warn().Str("level", next.Engine.LogLevel).Msg("ignoring invalid log level")
		}
	}

	changed := config.ChangedStages(prev, next)
	if len(changed) == 0 {
		return
	}
	if err := a.engine.ApplyTunables(next, changed); err != nil {
		a.logger.Warn().
			Err(err).
			Str(log.FieldEvent, "config.apply_failed").
			Msg("some stage settings were not applied")
		return
	}
	a.logger.Info().
		Strs("stages", changed).
		Str(log.FieldEvent, "config.applied").
		Msg("applied reloaded stage settings")
}
