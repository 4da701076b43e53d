// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package stage

import (
	"context"
	"time"

	"github.com/ManuGH/stageflow/internal/log"
	"github.com/ManuGH/stageflow/internal/metrics"
)

type decision int

const (
	hold decision = iota
	growOne
	shrinkOne
)

func (d decision) String() string {
	switch d {
	case growOne:
		return "grow"
	case shrinkOne:
		return "shrink"
	default:
		return "hold"
	}
}

// sample is what the governor observes on one tick.
type sample struct {
	depth       int
	prevDepth   int
	size        int
	busy        int
	minThreads  int
	maxThreads  int
	growDepth   int
	sinceResize time.Duration
	cooldown    time.Duration
}

// decide is the sizing policy. Grow when a backlog is building and every
// worker is busy; shrink when the queue is empty and the pool has been stable
// for the cooldown. Bounds violations are corrected first.
func decide(s sample) decision {
	switch {
	case s.size < s.minThreads:
		return growOne
	case s.size > s.maxThreads:
		return shrinkOne
	case s.size < s.maxThreads &&
		s.depth >= s.growDepth &&
		s.depth > s.prevDepth &&
		s.busy >= s.size:
		return growOne
	case s.size > s.minThreads &&
		s.depth == 0 &&
		s.sinceResize >= s.cooldown:
		return shrinkOne
	default:
		return hold
	}
}

func (s *Stage) governLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	clk := s.cfg.Clock
	gcfg := s.cfg.Governor
	ticker := clk.Ticker(gcfg.SampleInterval)
	defer ticker.Stop()

	lastResize := clk.Now()
	prevDepth := s.q.Size()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		minT, maxT := s.bounds()
		now := clk.Now()
		smp := sample{
			depth:       s.q.Size(),
			prevDepth:   prevDepth,
			size:        s.pool.size(),
			busy:        s.pool.busyCount(),
			minThreads:  minT,
			maxThreads:  maxT,
			growDepth:   gcfg.GrowDepth,
			sinceResize: now.Sub(lastResize),
			cooldown:    gcfg.Cooldown,
		}
		prevDepth = smp.depth

		d := decide(smp)
		switch d {
		case growOne:
			s.pool.grow(1)
		case shrinkOne:
			if !s.pool.shrink() {
				continue
			}
		default:
			continue
		}

		lastResize = now
		metrics.RecordResize(s.name, d.String())
		s.logger.Debug().
			Str(log.FieldEvent, "stage.resized").
			Str("direction", d.String()).
			Int("depth", smp.depth).
			Int(log.FieldWorkers, s.pool.size()).
			Msg("worker pool resized")
	}
}
