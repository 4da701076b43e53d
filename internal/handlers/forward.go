// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package handlers

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ManuGH/stageflow/internal/log"
	"github.com/ManuGH/stageflow/internal/queue"
	"github.com/ManuGH/stageflow/internal/stage"
	"github.com/ManuGH/stageflow/internal/timer"
)

// ErrMissingOption is returned by Init when a required option is absent.
var ErrMissingOption = errors.New("missing required option")

// Forward passes elements on to another stage, optionally after a delay.
//
// Options: target (required), delay (duration, default 0), rate (events per
// second, default unlimited) and burst (default 1). With a delay the element is
// scheduled on the engine timer and delivery is best effort. Elements above
// rate are dropped and counted.
type Forward struct {
	target  queue.Sink
	delay   time.Duration
	timer   *timer.Timer
	shaper  *queue.SmoothLimiter
	dropped atomic.Uint64
	logger  zerolog.Logger
}

// Init resolves the target stage and the optional delay and rate shaping.
func (h *Forward) Init(cfg *stage.HandlerConfig) error {
	name := cfg.Options.String("target", "")
	if name == "" {
		return fmt.Errorf("forward handler: target: %w", ErrMissingOption)
	}
	if cfg.Manager == nil {
		return fmt.Errorf("forward handler: no manager")
	}
	target, err := cfg.Manager.Sink(name)
	if err != nil {
		return fmt.Errorf("forward handler: %w", err)
	}
	h.target = target
	h.delay = cfg.Options.Duration("delay", 0)
	if r := cfg.Options.Float("rate", 0); r > 0 {
		h.shaper = queue.NewSmoothLimiter(rate.Limit(r), cfg.Options.Int("burst", 1))
	}
	h.logger = log.Derive(func(c *zerolog.Context) {
		*c = c.Str(log.FieldComponent, "handler").Str(log.FieldHandler, KindForward).Str(log.FieldStage, cfg.StageName)
	})
	if h.delay > 0 {
		h.timer = cfg.Manager.Timer()
		if h.timer == nil {
			return fmt.Errorf("forward handler: delay set but no timer available")
		}
	}
	return nil
}

// HandleEvent forwards e, dropping it when above rate and scheduling it on the
// timer when a delay is set.
func (h *Forward) HandleEvent(e queue.Element) error {
	if h.shaper != nil && !h.shaper.Accept(queue.Admission{Element: e}) {
		if n := h.dropped.Add(1); n == 1 || n%1000 == 0 {
			h.logger.Debug().Uint64("dropped", n).Str(log.FieldEvent, "forward.shaped").Msg("dropping elements above rate")
		}
		return nil
	}
	if h.delay > 0 {
		_, err := h.timer.RegisterEvent(h.delay, e, h.target)
		return err
	}
	return h.target.Enqueue(e)
}

// HandleEvents forwards the whole batch atomically when undelayed and unshaped.
func (h *Forward) HandleEvents(batch []queue.Element) error {
	if h.delay > 0 || h.shaper != nil {
		return stage.HandleEach(batch, h.HandleEvent)
	}
	return h.target.EnqueueMany(batch)
}

// Destroy is a no-op; delayed elements already on the timer still fire.
func (h *Forward) Destroy() error { return nil }

// Dropped returns how many elements were shed by the rate option.
func (h *Forward) Dropped() uint64 { return h.dropped.Load() }
