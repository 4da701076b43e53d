// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package engine is the explicit context that owns every stage, the timer and
// the signal bus. It replaces process-wide registries: everything a handler
// can reach is reached through the Engine it was created by.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/ManuGH/stageflow/internal/log"
	"github.com/ManuGH/stageflow/internal/queue"
	"github.com/ManuGH/stageflow/internal/signalbus"
	"github.com/ManuGH/stageflow/internal/stage"
	"github.com/ManuGH/stageflow/internal/timer"
)

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used by the timer and by stages that do not set their own.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithDefaultCapacity sets the queue capacity for bootstrapped stages that do
// not configure one.
func WithDefaultCapacity(n int) Option {
	return func(e *Engine) {
		e.defaultCapacity = n
	}
}

// Engine owns the stage registry, the timer and the signal bus.
type Engine struct {
	id     uuid.UUID
	logger zerolog.Logger
	clock  clock.Clock

	defaultCapacity int

	timer *timer.Timer
	bus   *signalbus.Bus

	mu      sync.RWMutex
	stages  map[string]*stage.Stage
	order   []string
	started bool
	stopped bool
	runCtx  context.Context
	cancel  context.CancelFunc
}

var _ stage.Manager = (*Engine)(nil)

// New creates an engine. Stages may be created before Start.
func New(opts ...Option) *Engine {
	e := &Engine{
		id:              uuid.New(),
		clock:           clock.New(),
		defaultCapacity: queue.Unbounded,
		bus:             signalbus.New(),
		stages:          make(map[string]*stage.Stage),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.timer = timer.New(timer.WithClock(e.clock))
	e.logger = log.Derive(func(c *zerolog.Context) {
		*c = c.Str(log.FieldComponent, "engine").Str(log.FieldEngineID, e.id.String())
	})
	return e
}

// ID returns the engine instance id.
func (e *Engine) ID() string { return e.id.String() }

// Timer returns the engine timer.
func (e *Engine) Timer() *timer.Timer { return e.timer }

// Signals returns the engine signal bus.
func (e *Engine) Signals() *signalbus.Bus { return e.bus }

// Start launches the timer and bus, then initializes and starts every stage
// created so far. Stages whose Init fails stay Created; their errors are
// combined into the result.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return ErrEngineStopped
	}
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.runCtx, e.cancel = context.WithCancel(context.WithoutCancel(ctx))
	pending := e.snapshotLocked()
	e.mu.Unlock()

	e.timer.Start()
	e.bus.Start()

	var err error
	for _, s := range pending {
		err = multierr.Append(err, e.launch(s))
	}

	e.logger.Info().
		Str(log.FieldEvent, "engine.started").
		Int("stages", len(pending)).
		Msg("engine started")
	return err
}

func (e *Engine) launch(s *stage.Stage) error {
	if s.State() != stage.StateCreated {
		return nil
	}
	if err := s.Init(e); err != nil {
		return err
	}
	return s.Start(e.runCtx)
}

// CreateStage registers a new stage. On a running engine the stage is
// initialized and started immediately; if Init fails it is not registered.
func (e *Engine) CreateStage(name string, h stage.Handler, cfg stage.Config) (*stage.Stage, error) {
	if name == "" {
		return nil, fmt.Errorf("create stage: empty name")
	}
	if h == nil {
		return nil, fmt.Errorf("create stage %q: nil handler", name)
	}
	if cfg.Clock == nil {
		cfg.Clock = e.clock
	}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil, ErrEngineStopped
	}
	if _, exists := e.stages[name]; exists {
		e.mu.Unlock()
		return nil, fmt.Errorf("create stage %q: %w", name, ErrDuplicateStage)
	}
	s := stage.New(name, h, cfg)
	e.stages[name] = s
	e.order = append(e.order, name)
	started := e.started
	e.mu.Unlock()

	e.logger.Debug().Str(log.FieldStage, name).Msg("stage created")

	if !started {
		return s, nil
	}
	if err := e.launch(s); err != nil {
		e.remove(name)
		_ = s.Destroy(context.Background())
		return nil, err
	}
	return s, nil
}

// GetStage looks a stage up by name.
func (e *Engine) GetStage(name string) (*stage.Stage, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.stages[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrStageNotFound)
	}
	return s, nil
}

// Sink returns the input queue of the named stage.
func (e *Engine) Sink(name string) (queue.Sink, error) {
	s, err := e.GetStage(name)
	if err != nil {
		return nil, err
	}
	return s.Queue(), nil
}

// Stages returns the registered stages in creation order.
func (e *Engine) Stages() []*stage.Stage {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() []*stage.Stage {
	out := make([]*stage.Stage, 0, len(e.order))
	for _, name := range e.order {
		out = append(out, e.stages[name])
	}
	return out
}

// DestroyStage removes and destroys one stage.
func (e *Engine) DestroyStage(ctx context.Context, name string) error {
	s, err := e.GetStage(name)
	if err != nil {
		return err
	}
	e.remove(name)
	return s.Destroy(ctx)
}

func (e *Engine) remove(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.stages, name)
	for i, n := range e.order {
		if n == name {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

// Stop fires EngineStopping, destroys stages in reverse creation order, stops
// the timer and drains the signal bus within ctx.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	all := e.snapshotLocked()
	e.stages = make(map[string]*stage.Stage)
	e.order = nil
	cancel := e.cancel
	e.mu.Unlock()

	e.logger.Info().Str(log.FieldEvent, "engine.stopping").Msg("engine stopping")
	if err := e.bus.Fire(signalbus.Basic{Type: signalbus.EngineStopping}); err != nil {
		e.logger.Debug().Err(err).Msg("stopping signal not fired")
	}

	var err error
	for i := len(all) - 1; i >= 0; i-- {
		err = multierr.Append(err, all[i].Destroy(ctx))
	}

	e.timer.Stop()
	err = multierr.Append(err, e.bus.Stop(ctx))
	if cancel != nil {
		cancel()
	}

	if err != nil {
		e.logger.Error().Err(err).Str(log.FieldEvent, "engine.stop_failed").Msg("engine stopped with errors")
	} else {
		e.logger.Info().Str(log.FieldEvent, "engine.stopped").Msg("engine stopped")
	}
	return err
}
