// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package timer delivers payloads into sinks after a delay. A single dispatch
// goroutine owns the schedule; callers only insert and cancel through the
// synchronized entry points.
package timer

import (
	"container/heap"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/stageflow/internal/log"
	"github.com/ManuGH/stageflow/internal/metrics"
	"github.com/ManuGH/stageflow/internal/queue"
)

// Sink receives fired payloads. Delivery is best effort: a sink that refuses
// the payload simply drops it.
type Sink interface {
	EnqueueLossy(e queue.Element) bool
}

// Event is the handle for one scheduled delivery.
type Event struct {
	id      uuid.UUID
	seq     uint64
	fireAt  time.Time
	payload queue.Element
	sink    Sink
	active  atomic.Bool
	index   int
}

// ID returns a unique identifier for logging.
func (e *Event) ID() string { return e.id.String() }

// IsActive reports whether the event is still scheduled.
func (e *Event) IsActive() bool { return e.active.Load() }

// FireAt returns the scheduled delivery time.
func (e *Event) FireAt() time.Time { return e.fireAt }

// Payload returns the element that will be delivered.
func (e *Event) Payload() queue.Element { return e.payload }

// Option configures a Timer.
type Option func(*Timer)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(t *Timer) {
		if c != nil {
			t.clock = c
		}
	}
}

// Timer schedules delayed, cancellable deliveries.
type Timer struct {
	clock  clock.Clock
	logger zerolog.Logger

	mu      sync.Mutex
	events  eventHeap
	seq     uint64
	started bool
	stopped bool

	wake   chan struct{}
	done   chan struct{}
	exited chan struct{}
}

// New creates a timer. Call Start to launch the dispatch goroutine.
func New(opts ...Option) *Timer {
	t := &Timer{
		clock:  clock.New(),
		logger: log.WithComponent("timer"),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start launches the dispatch goroutine. It is a no-op if already started or stopped.
func (t *Timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started || t.stopped {
		return
	}
	t.started = true
	go t.run()
}

// RegisterEvent schedules payload for delivery into sink after delay.
// A zero delay fires on the next dispatch pass.
func (t *Timer) RegisterEvent(delay time.Duration, payload queue.Element, sink Sink) (*Event, error) {
	if delay < 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDelay, delay)
	}
	return t.RegisterAt(t.clock.Now().Add(delay), payload, sink)
}

// RegisterAt schedules payload for delivery at an absolute time. Times in the
// past fire on the next dispatch pass.
func (t *Timer) RegisterAt(at time.Time, payload queue.Element, sink Sink) (*Event, error) {
	if sink == nil {
		return nil, ErrNilSink
	}

	ev := &Event{
		id:      uuid.New(),
		fireAt:  at,
		payload: payload,
		sink:    sink,
		index:   -1,
	}

	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil, ErrTimerStopped
	}
	t.seq++
	ev.seq = t.seq
	ev.active.Store(true)
	heap.Push(&t.events, ev)
	earliest := ev.index == 0
	size := len(t.events)
	t.mu.Unlock()

	metrics.TimerScheduled.Set(float64(size))
	t.logger.Debug().
		Str(log.FieldTimerID, ev.ID()).
		Time("fire_at", at).
		Msg("timer event registered")

	if earliest {
		t.signal()
	}
	return ev, nil
}

// CancelEvent unschedules ev. Cancelling a fired or cancelled event is a no-op.
func (t *Timer) CancelEvent(ev *Event) {
	if ev == nil {
		return
	}

	t.mu.Lock()
	if !ev.active.CompareAndSwap(true, false) {
		t.mu.Unlock()
		return
	}
	if ev.index >= 0 && ev.index < len(t.events) && t.events[ev.index] == ev {
		heap.Remove(&t.events, ev.index)
	}
	size := len(t.events)
	t.mu.Unlock()

	metrics.TimerScheduled.Set(float64(size))
	metrics.TimerCancelledTotal.Inc()
	t.signal()
}

// Size returns the number of scheduled events.
func (t *Timer) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.events)
}

// CancelAll clears the schedule. The timer keeps running.
func (t *Timer) CancelAll() {
	t.mu.Lock()
	t.clearLocked()
	t.mu.Unlock()

	metrics.TimerScheduled.Set(0)
	t.signal()
}

// Stop clears the schedule and stops the dispatch goroutine, waiting for it
// to exit. Later registrations fail with ErrTimerStopped.
func (t *Timer) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	started := t.started
	t.clearLocked()
	t.mu.Unlock()

	metrics.TimerScheduled.Set(0)
	close(t.done)
	if started {
		<-t.exited
	}
	t.logger.Debug().Msg("timer stopped")
}

func (t *Timer) clearLocked() {
	for _, ev := range t.events {
		ev.active.Store(false)
		ev.index = -1
	}
	t.events = nil
}

func (t *Timer) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *Timer) run() {
	defer close(t.exited)

	for {
		t.mu.Lock()
		now := t.clock.Now()
		var due []*Event
		for len(t.events) > 0 && !t.events[0].fireAt.After(now) {
			ev := heap.Pop(&t.events).(*Event)
			ev.active.Store(false)
			due = append(due, ev)
		}
		wait := time.Duration(-1)
		if len(t.events) > 0 {
			wait = t.events[0].fireAt.Sub(now)
		}
		size := len(t.events)
		t.mu.Unlock()

		if len(due) > 0 {
			metrics.TimerScheduled.Set(float64(size))
			for _, ev := range due {
				t.deliver(ev)
			}
			continue
		}

		var fire <-chan time.Time
		var tm *clock.Timer
		if wait >= 0 {
			tm = t.clock.Timer(wait)
			fire = tm.C
		}

		select {
		case <-t.done:
			if tm != nil {
				tm.Stop()
			}
			return
		case <-t.wake:
		case <-fire:
		}
		if tm != nil {
			tm.Stop()
		}
	}
}

func (t *Timer) deliver(ev *Event) {
	delivered := ev.sink.EnqueueLossy(ev.payload)
	metrics.RecordTimerFire(delivered)
	if !delivered {
		t.logger.Debug().
			Str(log.FieldTimerID, ev.ID()).
			Msg("timer payload dropped by sink")
	}
}
