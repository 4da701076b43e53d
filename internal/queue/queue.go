// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package queue implements the bounded FIFO event queue that sits in front of
// every stage, together with the admission predicates that gate it.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/stageflow/internal/metrics"
)

// Element is an opaque payload. The engine moves and counts elements but never
// looks inside them.
type Element = any

const (
	// Unbounded disables the capacity check.
	Unbounded = -1

	// Forever makes a blocking operation wait until it succeeds or its context ends.
	Forever time.Duration = -1

	// admissionRetry is how often a blocked producer re-evaluates a rejecting
	// predicate. Predicates such as token buckets change with time, not with
	// queue activity, so nothing else would wake the producer.
	admissionRetry = 5 * time.Millisecond
)

// Sink is any destination that accepts elements.
type Sink interface {
	Name() string
	Size() int
	Enqueue(e Element) error
	EnqueueMany(batch []Element) error
	EnqueueLossy(e Element) bool
}

// Stats is a point-in-time snapshot of queue counters.
type Stats struct {
	Name           string `json:"name"`
	Size           int    `json:"size"`
	Capacity       int    `json:"capacity"`
	Enqueued       uint64 `json:"enqueued"`
	Dequeued       uint64 `json:"dequeued"`
	RejectedFull   uint64 `json:"rejected_full"`
	RejectedDenied uint64 `json:"rejected_denied"`
	Timeouts       uint64 `json:"timeouts"`
}

// Option configures a Queue.
type Option func(*Queue)

// WithCapacity sets the initial capacity. Use Unbounded to disable the limit.
func WithCapacity(n int) Option {
	return func(q *Queue) {
		if n >= 0 || n == Unbounded {
			q.capacity = n
		}
	}
}

// WithPredicate installs an admission predicate.
func WithPredicate(p Predicate) Option {
	return func(q *Queue) {
		q.pred = p
	}
}

// Queue is a bounded FIFO safe for many concurrent producers and consumers.
// All state, including predicate evaluation, is guarded by a single mutex.
type Queue struct {
	name string

	mu       sync.Mutex
	items    []Element
	capacity int
	pred     Predicate

	// Broadcast channels, created lazily by waiters and closed on change.
	dataCh chan struct{}
	roomCh chan struct{}

	stats Stats
}

var _ Sink = (*Queue)(nil)

// New creates an unbounded queue unless WithCapacity is supplied.
func New(name string, opts ...Option) *Queue {
	q := &Queue{
		name:     name,
		capacity: Unbounded,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Name returns the queue identity.
func (q *Queue) Name() string {
	return q.name
}

// Size returns the number of buffered elements.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Capacity returns the current capacity or Unbounded.
func (q *Queue) Capacity() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.capacity
}

// SetCapacity changes the capacity for future enqueues. Elements already
// buffered beyond the new capacity are kept.
func (q *Queue) SetCapacity(n int) error {
	if n < 0 && n != Unbounded {
		return fmt.Errorf("%w: %d", ErrInvalidCapacity, n)
	}
	q.mu.Lock()
	q.capacity = n
	q.wakeRoomLocked()
	q.mu.Unlock()
	return nil
}

// Predicate returns the installed admission predicate, or nil.
func (q *Queue) Predicate() Predicate {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pred
}

// SetPredicate swaps the admission predicate. nil accepts everything that fits.
func (q *Queue) SetPredicate(p Predicate) {
	q.mu.Lock()
	q.pred = p
	q.wakeRoomLocked()
	q.mu.Unlock()
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Name = q.name
	s.Size = len(q.items)
	s.Capacity = q.capacity
	return s
}

// Enqueue appends e or fails with ErrQueueFull / ErrAdmissionDenied.
// The predicate runs inline in the caller's goroutine.
func (q *Queue) Enqueue(e Element) error {
	q.mu.Lock()
	if err := q.admitLocked(e, len(q.items)); err != nil {
		q.mu.Unlock()
		return q.reject(err)
	}
	depth := q.appendLocked(e)
	q.mu.Unlock()

	metrics.RecordEnqueue(q.name, 1, depth)
	return nil
}

// EnqueueMany appends the whole batch or nothing. A BatchPredicate admits the
// batch atomically, so a rejected batch does not charge a token bucket.
func (q *Queue) EnqueueMany(batch []Element) error {
	if len(batch) == 0 {
		return nil
	}

	q.mu.Lock()
	size := len(q.items)
	if q.capacity != Unbounded && size+len(batch) > q.capacity {
		q.mu.Unlock()
		return q.reject(ErrQueueFull)
	}
	if q.pred != nil {
		adm := make([]Admission, len(batch))
		for i, e := range batch {
			adm[i] = Admission{Element: e, Size: size + i, Capacity: q.capacity}
		}
		if !acceptBatch(q.pred, adm) {
			q.mu.Unlock()
			return q.reject(ErrAdmissionDenied)
		}
	}
	q.items = append(q.items, batch...)
	q.stats.Enqueued += uint64(len(batch))
	depth := len(q.items)
	q.wakeDataLocked()
	q.mu.Unlock()

	metrics.RecordEnqueue(q.name, len(batch), depth)
	return nil
}

// EnqueueLossy is Enqueue without the error: it reports whether e was accepted.
func (q *Queue) EnqueueLossy(e Element) bool {
	return q.Enqueue(e) == nil
}

// EnqueueBlocking waits until e is accepted, the timeout elapses (ErrTimeout)
// or ctx ends (ctx.Err()). A zero timeout behaves like Enqueue; Forever waits
// without a deadline.
func (q *Queue) EnqueueBlocking(ctx context.Context, e Element, timeout time.Duration) error {
	if timeout == 0 {
		return q.Enqueue(e)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}

	for {
		q.mu.Lock()
		err := q.admitLocked(e, len(q.items))
		if err == nil {
			depth := q.appendLocked(e)
			q.mu.Unlock()
			metrics.RecordEnqueue(q.name, 1, depth)
			return nil
		}
		room := q.waitRoomLocked()
		q.mu.Unlock()

		var retry *time.Timer
		var retryC <-chan time.Time
		if errors.Is(err, ErrAdmissionDenied) {
			retry = time.NewTimer(admissionRetry)
			retryC = retry.C
		}

		select {
		case <-room:
		case <-retryC:
		case <-deadline:
			if retry != nil {
				retry.Stop()
			}
			q.mu.Lock()
			q.stats.Timeouts++
			q.mu.Unlock()
			metrics.RecordQueueReject(q.name, "timeout")
			return fmt.Errorf("queue %q: %w", q.name, ErrTimeout)
		case <-ctx.Done():
			if retry != nil {
				retry.Stop()
			}
			return ctx.Err()
		}
		if retry != nil {
			retry.Stop()
		}
	}
}

// Dequeue removes the head element without blocking.
func (q *Queue) Dequeue() (Element, bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return nil, false
	}
	out := q.takeLocked(1)
	depth := len(q.items)
	q.mu.Unlock()

	metrics.RecordDequeue(q.name, 1, depth)
	return out[0], true
}

// DequeueAll removes every buffered element, waiting up to timeout for the
// first one to arrive.
func (q *Queue) DequeueAll(ctx context.Context, timeout time.Duration) []Element {
	return q.DequeueBatch(ctx, 0, timeout)
}

// DequeueBatch removes up to limit elements (all when limit <= 0) in FIFO order.
// It waits up to timeout for data; a zero timeout polls and Forever waits
// until data arrives or ctx ends. Expiry is not an error: the result is nil.
func (q *Queue) DequeueBatch(ctx context.Context, limit int, timeout time.Duration) []Element {
	if ctx == nil {
		ctx = context.Background()
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}

	for {
		q.mu.Lock()
		if n := len(q.items); n > 0 {
			take := limit
			if take <= 0 || take > n {
				take = n
			}
			out := q.takeLocked(take)
			depth := len(q.items)
			q.mu.Unlock()
			metrics.RecordDequeue(q.name, len(out), depth)
			return out
		}
		if timeout == 0 {
			q.mu.Unlock()
			return nil
		}
		data := q.waitDataLocked()
		q.mu.Unlock()

		select {
		case <-data:
		case <-deadline:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func (q *Queue) admitLocked(e Element, size int) error {
	if q.capacity != Unbounded && size >= q.capacity {
		return ErrQueueFull
	}
	if q.pred != nil && !q.pred.Accept(Admission{Element: e, Size: size, Capacity: q.capacity}) {
		return ErrAdmissionDenied
	}
	return nil
}

func (q *Queue) reject(err error) error {
	reason := "denied"
	q.mu.Lock()
	if errors.Is(err, ErrQueueFull) {
		reason = "full"
		q.stats.RejectedFull++
	} else {
		q.stats.RejectedDenied++
	}
	q.mu.Unlock()
	metrics.RecordQueueReject(q.name, reason)
	return fmt.Errorf("queue %q: %w", q.name, err)
}

func (q *Queue) appendLocked(e Element) int {
	q.items = append(q.items, e)
	q.stats.Enqueued++
	q.wakeDataLocked()
	return len(q.items)
}

func (q *Queue) takeLocked(n int) []Element {
	out := make([]Element, n)
	copy(out, q.items[:n])
	if n == len(q.items) {
		clear(q.items)
		q.items = q.items[:0]
	} else {
		clear(q.items[:n])
		q.items = q.items[n:]
	}
	q.stats.Dequeued += uint64(n)
	q.wakeRoomLocked()
	return out
}

func (q *Queue) waitDataLocked() <-chan struct{} {
	if q.dataCh == nil {
		q.dataCh = make(chan struct{})
	}
	return q.dataCh
}

func (q *Queue) waitRoomLocked() <-chan struct{} {
	if q.roomCh == nil {
		q.roomCh = make(chan struct{})
	}
	return q.roomCh
}

func (q *Queue) wakeDataLocked() {
	if q.dataCh != nil {
		close(q.dataCh)
		q.dataCh = nil
	}
}

func (q *Queue) wakeRoomLocked() {
	if q.roomCh != nil {
		close(q.roomCh)
		q.roomCh = nil
	}
}
