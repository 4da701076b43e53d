// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/ManuGH/stageflow/internal/config"
	"github.com/ManuGH/stageflow/internal/log"
	"github.com/ManuGH/stageflow/internal/queue"
	"github.com/ManuGH/stageflow/internal/signalbus"
	"github.com/ManuGH/stageflow/internal/stage"
)

// Registry builds handlers by kind name, as referenced from the config file.
type Registry interface {
	New(kind string) (stage.Handler, error)
}

// StageConfig converts a file entry into a stage.Config. defaultCapacity
// applies when the entry does not set queueCapacity.
func StageConfig(sf config.StageFile, defaultCapacity int) stage.Config {
	cfg := stage.Config{
		QueueCapacity:    stage.Capacity(defaultCapacity),
		Threshold:        sf.Threshold,
		MinThreads:       sf.MinThreads,
		MaxThreads:       sf.MaxThreads,
		BatchSize:        sf.BatchSize,
		PollTimeout:      sf.PollTimeout,
		JoinTimeout:      sf.JoinTimeout,
		FailureThreshold: sf.FailureThreshold,
		Options:          sf.Options.Clone(),
	}
	if sf.QueueCapacity != nil {
		cfg.QueueCapacity = stage.Capacity(*sf.QueueCapacity)
	}
	if sf.RateLimit != nil {
		cfg.RateLimit = &stage.RateLimit{TargetRate: sf.RateLimit.TargetRate, Depth: sf.RateLimit.Depth}
	}
	if g := sf.Governor; g != nil {
		cfg.Governor = stage.GovernorConfig{
			Enabled:        g.Enabled,
			SampleInterval: g.SampleInterval,
			Cooldown:       g.Cooldown,
			GrowDepth:      g.GrowDepth,
		}
	}
	return cfg
}

// Bootstrap creates every stage in f, starts the engine if needed and fires
// StagesInitialized. Every stage is created before any is initialized, so
// handlers may look up sinks declared later in the file.
func (e *Engine) Bootstrap(ctx context.Context, f config.File, reg Registry) error {
	defaultCap := e.defaultCapacity
	if f.Engine.DefaultCapacity != nil {
		defaultCap = *f.Engine.DefaultCapacity
	}

	e.mu.RLock()
	started := e.started
	e.mu.RUnlock()
	if started {
		return fmt.Errorf("bootstrap: engine already started")
	}

	for _, sf := range f.Stages {
		h, err := reg.New(sf.Handler)
		if err != nil {
			return fmt.Errorf("bootstrap stage %q: %w", sf.Name, err)
		}
		if _, err := e.CreateStage(sf.Name, h, StageConfig(sf, defaultCap)); err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
	}

	if err := e.Start(ctx); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	if err := e.bus.Fire(signalbus.Basic{Type: signalbus.StagesInitialized}); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	e.logger.Info().
		Str(log.FieldEvent, "engine.bootstrapped").
		Int("stages", len(f.Stages)).
		Msg("stages initialized")
	return nil
}

// ApplyTunables pushes the runtime-adjustable settings of the named stages
// from f onto the live stages. Unknown names are reported, not fatal to others.
func (e *Engine) ApplyTunables(f config.File, names []string) error {
	defaultCap := e.defaultCapacity
	if f.Engine.DefaultCapacity != nil {
		defaultCap = *f.Engine.DefaultCapacity
	}

	var err error
	for _, name := range names {
		sf, ok := f.Stage(name)
		if !ok {
			err = multierr.Append(err, fmt.Errorf("%q: %w", name, ErrStageNotFound))
			continue
		}
		s, gerr := e.GetStage(name)
		if gerr != nil {
			err = multierr.Append(err, gerr)
			continue
		}

		cfg := StageConfig(sf, defaultCap)
		if cerr := s.SetCapacity(*cfg.QueueCapacity); cerr != nil {
			err = multierr.Append(err, cerr)
		}
		s.SetThreshold(cfg.Threshold)
		if cfg.RateLimit != nil {
			s.SetRateLimit(cfg.RateLimit.TargetRate, cfg.RateLimit.Depth)
		} else {
			s.SetRateLimit(queue.UnlimitedRate, 1)
		}

		minT, maxT := cfg.MinThreads, cfg.MaxThreads
		if minT <= 0 {
			minT = stage.DefaultMinThreads
		}
		if maxT < minT {
			maxT = minT
		}
		if terr := s.SetThreadBounds(minT, maxT); terr != nil {
			err = multierr.Append(err, terr)
		}

		e.logger.Info().
			Str(log.FieldStage, name).
			Str(log.FieldEvent, "stage.tuned").
			Msg("applied reloaded stage settings")
	}
	return err
}
