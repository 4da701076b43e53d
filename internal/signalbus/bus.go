// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package signalbus broadcasts typed signals to registered handlers. Firing a
// signal reaches every handler registered for its type or any ancestor type.
package signalbus

import (
	"context"
	"fmt"
	"reflect"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/stageflow/internal/log"
	"github.com/ManuGH/stageflow/internal/metrics"
	"github.com/ManuGH/stageflow/internal/queue"
)

// pollInterval bounds how long the dispatcher waits before rechecking for stop.
const pollInterval = 250 * time.Millisecond

// Handler receives signals. Implementations must be comparable (typically
// pointers) so that duplicate registrations can be detected; Register rejects
// the rest with ErrUncomparableHandler.
type Handler interface {
	HandleSignal(sig Signal) error
}

type funcHandler struct {
	fn func(Signal) error
}

func (h *funcHandler) HandleSignal(sig Signal) error { return h.fn(sig) }

// HandlerFunc wraps fn in a comparable Handler. Each call returns a distinct handler.
func HandlerFunc(fn func(Signal) error) Handler {
	return &funcHandler{fn: fn}
}

type registration struct {
	seq     uint64
	handler Handler
}

// Bus is a broadcast bus with a single dispatch goroutine.
type Bus struct {
	logger zerolog.Logger

	mu       sync.RWMutex
	handlers map[*Type][]registration
	seq      uint64

	pending *queue.Queue

	lifeMu  sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	exited  chan struct{}
}

// New creates a bus. Call Start to begin delivery.
func New() *Bus {
	return &Bus{
		logger:   log.WithComponent("signalbus"),
		handlers: make(map[*Type][]registration),
		pending:  queue.New("signalbus", queue.WithCapacity(queue.Unbounded)),
		exited:   make(chan struct{}),
	}
}

// Register binds h to t. Signals of t and of every subtype of t reach h.
func (b *Bus) Register(t *Type, h Handler) error {
	if t == nil || h == nil {
		return fmt.Errorf("register: nil type or handler")
	}
	if !reflect.TypeOf(h).Comparable() {
		return fmt.Errorf("register %s: %T: %w", t.Name(), h, ErrUncomparableHandler)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, r := range b.handlers[t] {
		if sameHandler(r.handler, h) {
			return fmt.Errorf("register %s: %w", t.Name(), ErrDuplicateHandler)
		}
	}
	b.seq++
	b.handlers[t] = append(b.handlers[t], registration{seq: b.seq, handler: h})
	return nil
}

// Deregister removes h from t.
func (b *Bus) Deregister(t *Type, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	regs := b.handlers[t]
	for i, r := range regs {
		if sameHandler(r.handler, h) {
			out := append(regs[:i:i], regs[i+1:]...)
			if len(out) == 0 {
				delete(b.handlers, t)
			} else {
				b.handlers[t] = out
			}
			return nil
		}
	}
	return fmt.Errorf("deregister %s: %w", t.Name(), ErrNotRegistered)
}

// Fire queues sig for delivery and returns immediately.
func (b *Bus) Fire(sig Signal) error {
	if sig == nil || sig.SignalType() == nil {
		return ErrNilSignal
	}
	b.lifeMu.Lock()
	stopped := b.stopped
	b.lifeMu.Unlock()
	if stopped {
		return ErrBusStopped
	}

	metrics.IncSignalFired(sig.SignalType().Name())
	return b.pending.Enqueue(sig)
}

// Pending returns the number of signals waiting for delivery.
func (b *Bus) Pending() int {
	return b.pending.Size()
}

// Start launches the dispatch goroutine.
func (b *Bus) Start() {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()
	if b.started || b.stopped {
		return
	}
	b.started = true

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	go b.run(ctx)
}

// Stop refuses new signals and drains those already fired until ctx ends;
// anything left after that is discarded.
func (b *Bus) Stop(ctx context.Context) error {
	b.lifeMu.Lock()
	if b.stopped {
		b.lifeMu.Unlock()
		return nil
	}
	b.stopped = true
	started := b.started
	b.lifeMu.Unlock()

	if !started {
		return nil
	}

	var err error
	if b.pending.Size() > 0 {
		tick := time.NewTicker(5 * time.Millisecond)
	drain:
		for b.pending.Size() > 0 {
			select {
			case <-ctx.Done():
				err = ctx.Err()
				break drain
			case <-tick.C:
			}
		}
		tick.Stop()
	}
	b.cancel()
	<-b.exited

	if dropped := b.pending.Size(); dropped > 0 {
		b.logger.Warn().
			Int("dropped", dropped).
			Str(log.FieldEvent, "signalbus.drain_incomplete").
			Msg("signal bus stopped before draining")
	}
	return err
}

func (b *Bus) run(ctx context.Context) {
	defer close(b.exited)
	for {
		batch := b.pending.DequeueBatch(ctx, 1, pollInterval)
		for _, e := range batch {
			b.dispatch(e.(Signal))
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// handlersFor returns the delivery set in registration order, each handler once.
func (b *Bus) handlersFor(t *Type) []Handler {
	b.mu.RLock()
	var regs []registration
	for _, anc := range t.Ancestors() {
		regs = append(regs, b.handlers[anc]...)
	}
	b.mu.RUnlock()

	sort.Slice(regs, func(i, j int) bool { return regs[i].seq < regs[j].seq })

	out := make([]Handler, 0, len(regs))
next:
	for _, r := range regs {
		for _, h := range out {
			if sameHandler(h, r.handler) {
				continue next
			}
		}
		out = append(out, r.handler)
	}
	return out
}

// sameHandler compares two handlers, treating a comparison that panics on a
// dynamically uncomparable value as unequal.
func sameHandler(a, b Handler) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()
	return a == b
}

func (b *Bus) dispatch(sig Signal) {
	t := sig.SignalType()
	for _, h := range b.handlersFor(t) {
		b.invoke(t, h, sig)
	}
}

func (b *Bus) invoke(t *Type, h Handler, sig Signal) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncSignalHandlerFailure(t.Name(), "panic")
			b.logger.Error().
				Str(log.FieldSignal, t.Name()).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("signal handler panicked")
		}
	}()

	if err := h.HandleSignal(sig); err != nil {
		metrics.IncSignalHandlerFailure(t.Name(), "error")
		b.logger.Error().
			Err(err).
			Str(log.FieldSignal, t.Name()).
			Msg("signal handler failed")
	}
}
