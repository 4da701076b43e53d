// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ManuGH/stageflow/internal/config"
	"github.com/ManuGH/stageflow/internal/daemon"
	"github.com/ManuGH/stageflow/internal/engine"
	"github.com/ManuGH/stageflow/internal/handlers"
	"github.com/ManuGH/stageflow/internal/log"
	"github.com/ManuGH/stageflow/internal/telemetry"
	"github.com/ManuGH/stageflow/internal/version"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the engine and admin API until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := configPath(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, path)
		},
	}
}

// runDaemon wires config, telemetry, engine and admin server, then blocks
// until ctx is cancelled.
func runDaemon(ctx context.Context, path string) error {
	log.Configure(log.Config{Level: config.DefaultLogLevel, Service: "stageflowd"})
	logger := log.WithComponent("daemon")

	loader := config.NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		logger.Error().
			Err(err).
			Str(log.FieldEvent, "config.load_failed").
			Str(log.FieldPath, path).
			Msg("failed to load configuration")
		return err
	}
	log.SetLevel(cfg.Engine.LogLevel)
	logger.Info().
		Str(log.FieldEvent, "config.loaded").
		Str(log.FieldPath, path).
		Int("stages", len(cfg.Stages)).
		Str("version", version.Version).
		Msg("loaded configuration from file")

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Engine.Tracing.Enabled,
		ServiceName:    "stageflowd",
		ServiceVersion: version.Version,
		ExporterType:   cfg.Engine.Tracing.Exporter,
		Endpoint:       cfg.Engine.Tracing.Endpoint,
		SamplingRate:   cfg.Engine.Tracing.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	var opts []engine.Option
	if cfg.Engine.DefaultCapacity != nil {
		opts = append(opts, engine.WithDefaultCapacity(*cfg.Engine.DefaultCapacity))
	}
	eng := engine.New(opts...)
	if err := eng.Bootstrap(ctx, cfg, handlers.Builtin()); err != nil {
		_ = eng.Stop(context.WithoutCancel(ctx))
		_ = tp.Shutdown(context.WithoutCancel(ctx))
		return err
	}

	adminOpts := daemon.DefaultAdminOptions()
	adminOpts.Version = version.Version

	serverCfg := daemon.DefaultServerConfig(cfg.Engine.AdminAddr)
	serverCfg.ShutdownTimeout = cfg.Engine.ShutdownTimeout
	mgr, err := daemon.NewManager(serverCfg, daemon.Deps{
		Logger:       logger,
		Engine:       eng,
		AdminHandler: daemon.NewAdminRouter(eng, adminOpts),
	})
	if err != nil {
		_ = eng.Stop(context.WithoutCancel(ctx))
		_ = tp.Shutdown(context.WithoutCancel(ctx))
		return err
	}
	mgr.RegisterShutdownHook("telemetry", tp.Shutdown)

	app := daemon.NewApp(logger, mgr, config.NewHolder(cfg, loader), eng)
	return app.Run(ctx)
}
