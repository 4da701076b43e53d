// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package handlers

import (
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/ManuGH/stageflow/internal/log"
	"github.com/ManuGH/stageflow/internal/queue"
	"github.com/ManuGH/stageflow/internal/stage"
)

// Handler kinds as written in the config file.
const (
	KindLog       = "log"
	KindDiscard   = "discard"
	KindForward   = "forward"
	KindGenerator = "generator"
)

// Log writes every element to the structured log.
//
// Options: level (default "info").
type Log struct {
	logger zerolog.Logger
	level  zerolog.Level
	count  atomic.Uint64
}

// Init parses the level option.
func (h *Log) Init(cfg *stage.HandlerConfig) error {
	lvl, err := zerolog.ParseLevel(cfg.Options.String("level", "info"))
	if err != nil {
		return fmt.Errorf("log handler: %w", err)
	}
	h.level = lvl
	h.logger = log.Derive(func(c *zerolog.Context) {
		*c = c.Str(log.FieldComponent, "handler").Str(log.FieldHandler, KindLog).Str(log.FieldStage, cfg.StageName)
	})
	return nil
}

func (h *Log) HandleEvent(e queue.Element) error {
	n := h.count.Add(1)
	h.logger.WithLevel(h.level).
		Uint64("seq", n).
		Interface("element", e).
		Msg("event")
	return nil
}

func (h *Log) HandleEvents(batch []queue.Element) error {
	return stage.HandleEach(batch, h.HandleEvent)
}

func (h *Log) Destroy() error { return nil }

// Count returns the number of elements logged.
func (h *Log) Count() uint64 { return h.count.Load() }

// Discard drops every element, counting them.
type Discard struct {
	count atomic.Uint64
}

func (h *Discard) Init(*stage.HandlerConfig) error { return nil }

func (h *Discard) HandleEvent(queue.Element) error {
	h.count.Add(1)
	return nil
}

func (h *Discard) HandleEvents(batch []queue.Element) error {
	h.count.Add(uint64(len(batch)))
	return nil
}

func (h *Discard) Destroy() error { return nil }

// Count returns the number of elements dropped.
func (h *Discard) Count() uint64 { return h.count.Load() }
