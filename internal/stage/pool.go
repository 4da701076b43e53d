// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package stage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/stageflow/internal/metrics"
)

type worker struct {
	id     int
	cancel context.CancelFunc
}

// workerPool runs the stage's workers. Each worker has its own context so the
// governor can retire one without touching the others; a retired worker
// finishes its current batch before exiting.
type workerPool struct {
	stage *Stage

	mu      sync.Mutex
	ctx     context.Context
	group   *errgroup.Group
	workers []*worker
	nextID  int
	stopped bool

	busy atomic.Int32
}

func newWorkerPool(s *Stage) *workerPool {
	return &workerPool{stage: s}
}

func (p *workerPool) start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ctx = ctx
	p.group = new(errgroup.Group)
}

func (p *workerPool) grow(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped || p.group == nil {
		return
	}
	for i := 0; i < n; i++ {
		wctx, cancel := context.WithCancel(p.ctx)
		w := &worker{id: p.nextID, cancel: cancel}
		p.nextID++
		p.workers = append(p.workers, w)
		p.group.Go(func() error {
			p.run(wctx, w.id)
			return nil
		})
	}
	metrics.SetWorkers(p.stage.name, len(p.workers))
}

// shrink retires the most recently started worker.
func (p *workerPool) shrink() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped || len(p.workers) == 0 {
		return false
	}
	last := len(p.workers) - 1
	p.workers[last].cancel()
	p.workers[last] = nil
	p.workers = p.workers[:last]
	metrics.SetWorkers(p.stage.name, len(p.workers))
	return true
}

func (p *workerPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

func (p *workerPool) busyCount() int {
	return int(p.busy.Load())
}

// stop cancels every worker and waits for all of them, including retired
// ones still finishing a batch, for at most timeout.
func (p *workerPool) stop(ctx context.Context, timeout time.Duration) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	for _, w := range p.workers {
		w.cancel()
	}
	p.workers = nil
	g := p.group
	p.mu.Unlock()

	metrics.SetWorkers(p.stage.name, 0)
	if g == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return nil
	case <-t.C:
		return fmt.Errorf("stage %q after %s: %w", p.stage.name, timeout, ErrJoinTimeout)
	case <-ctx.Done():
		return fmt.Errorf("stage %q: %w", p.stage.name, ctx.Err())
	}
}

func (p *workerPool) run(ctx context.Context, id int) {
	s := p.stage
	for ctx.Err() == nil {
		batch := s.q.DequeueBatch(ctx, s.cfg.BatchSize, s.cfg.PollTimeout)
		if len(batch) == 0 {
			continue
		}
		p.busy.Add(1)
		s.invoke(ctx, id, batch)
		p.busy.Add(-1)
	}
}
