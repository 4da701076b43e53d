// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package handlers

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/stageflow/internal/log"
	"github.com/ManuGH/stageflow/internal/queue"
	"github.com/ManuGH/stageflow/internal/stage"
	"github.com/ManuGH/stageflow/internal/timer"
)

// Tick is the payload a Generator schedules into its own queue.
type Tick struct {
	Seq uint64
}

// Generated is what a Generator emits into its target.
type Generated struct {
	Seq     uint64
	Payload string
	At      time.Time
}

// Generator emits an element into target every interval, driven by the engine
// timer looping through the stage's own queue.
//
// Options: target (required), interval (default 1s), payload (default
// "tick"), count (default 0 = unlimited). A tick the stage's own queue refuses
// is retried one interval later.
type Generator struct {
	target   queue.Sink
	self     queue.Sink
	timer    *timer.Timer
	interval time.Duration
	payload  string
	limit    uint64

	seq    atomic.Uint64
	stalls atomic.Uint64
	logger zerolog.Logger

	mu      sync.Mutex
	pending *timer.Event
	done    bool
}

// Init resolves the target and schedules the first tick.
func (h *Generator) Init(cfg *stage.HandlerConfig) error {
	name := cfg.Options.String("target", "")
	if name == "" {
		return fmt.Errorf("generator handler: target: %w", ErrMissingOption)
	}
	if cfg.Manager == nil || cfg.Manager.Timer() == nil {
		return fmt.Errorf("generator handler: no timer available")
	}
	target, err := cfg.Manager.Sink(name)
	if err != nil {
		return fmt.Errorf("generator handler: %w", err)
	}

	h.target = target
	h.self = cfg.Self
	h.timer = cfg.Manager.Timer()
	h.interval = cfg.Options.Duration("interval", time.Second)
	if h.interval <= 0 {
		return fmt.Errorf("generator handler: interval must be positive")
	}
	h.logger = log.Derive(func(c *zerolog.Context) {
		*c = c.Str(log.FieldComponent, "handler").Str(log.FieldHandler, KindGenerator).Str(log.FieldStage, cfg.StageName)
	})
	h.payload = cfg.Options.String("payload", "tick")
	if n := cfg.Options.Int("count", 0); n > 0 {
		h.limit = uint64(n)
	}
	return h.schedule()
}

func (h *Generator) schedule() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return nil
	}
	ev, err := h.timer.RegisterEvent(h.interval, Tick{Seq: h.seq.Load() + 1}, tickSink{h})
	if err != nil {
		return fmt.Errorf("generator handler: schedule: %w", err)
	}
	h.pending = ev
	return nil
}

// tickSink delivers ticks into the stage's own queue and reschedules a tick
// the queue refused, so a full or gated queue delays the generator instead of
// stopping it.
type tickSink struct{ g *Generator }

func (s tickSink) EnqueueLossy(e queue.Element) bool {
	if s.g.self.EnqueueLossy(e) {
		return true
	}
	n := s.g.stalls.Add(1)
	if n == 1 || n%100 == 0 {
		s.g.logger.Warn().
			Uint64("stalls", n).
			Str(log.FieldEvent, "generator.tick_refused").
			Msg("own queue refused tick, retrying")
	}
	if err := s.g.schedule(); err != nil && !errors.Is(err, timer.ErrTimerStopped) {
		s.g.logger.Error().Err(err).Msg("generator stopped")
	}
	return false
}

// HandleEvent emits one element per tick and schedules the next tick until
// count is reached.
func (h *Generator) HandleEvent(e queue.Element) error {
	if _, ok := e.(Tick); !ok {
		return fmt.Errorf("generator handler: unexpected element %T", e)
	}
	n := h.seq.Add(1)
	if h.limit > 0 && n > h.limit {
		return nil
	}
	err := h.target.Enqueue(Generated{Seq: n, Payload: h.payload, At: time.Now()})
	if h.limit > 0 && n >= h.limit {
		h.mu.Lock()
		h.done = true
		h.mu.Unlock()
		return err
	}
	if serr := h.schedule(); serr != nil {
		return serr
	}
	return err
}

// HandleEvents handles each tick in order.
func (h *Generator) HandleEvents(batch []queue.Element) error {
	return stage.HandleEach(batch, h.HandleEvent)
}

// Destroy cancels the pending tick.
func (h *Generator) Destroy() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.done = true
	if h.pending != nil && h.timer != nil {
		h.timer.CancelEvent(h.pending)
	}
	return nil
}

// Emitted returns the number of ticks handled.
func (h *Generator) Emitted() uint64 { return h.seq.Load() }

// Stalls returns how many ticks the stage's own queue refused.
func (h *Generator) Stalls() uint64 { return h.stalls.Load() }
