// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package queue

import (
	"sync/atomic"

	"github.com/ManuGH/stageflow/internal/metrics"
)

// Admission describes one enqueue attempt as seen by a predicate.
type Admission struct {
	Element  Element
	Size     int // elements buffered before this one
	Capacity int // queue capacity or Unbounded
}

// Predicate decides whether an element may enter a queue. Accept is called
// with the queue lock held, in the producer's goroutine: it must be O(1) and
// must never block or call back into the queue.
type Predicate interface {
	Accept(a Admission) bool
}

// BatchPredicate is implemented by predicates that can admit a whole batch
// atomically. EnqueueMany prefers it so that a rejected batch consumes nothing.
type BatchPredicate interface {
	Predicate
	AcceptBatch(batch []Admission) bool
}

// acceptBatch admits batch through p, all or nothing when p supports it.
// Plain predicates see each element in order and stop at the first rejection.
func acceptBatch(p Predicate, batch []Admission) bool {
	if bp, ok := p.(BatchPredicate); ok {
		return bp.AcceptBatch(batch)
	}
	for _, a := range batch {
		if !p.Accept(a) {
			return false
		}
	}
	return true
}

// PredicateFunc adapts a function to Predicate.
type PredicateFunc func(a Admission) bool

// Accept calls f(a).
func (f PredicateFunc) Accept(a Admission) bool {
	return f(a)
}

// Threshold accepts while the queue holds fewer than max elements. A max of
// zero or less defers to the queue's own capacity.
type Threshold struct {
	max atomic.Int64
}

// NewThreshold creates a threshold predicate.
func NewThreshold(max int) *Threshold {
	t := &Threshold{}
	t.max.Store(int64(max))
	return t
}

// SetMax changes the threshold; it applies to the next Accept.
func (t *Threshold) SetMax(max int) {
	t.max.Store(int64(max))
}

// Max returns the configured threshold.
func (t *Threshold) Max() int {
	return int(t.max.Load())
}

// Accept implements Predicate.
func (t *Threshold) Accept(a Admission) bool {
	limit := int(t.max.Load())
	if limit <= 0 {
		limit = a.Capacity
	}
	if limit == Unbounded {
		return true
	}
	if a.Size < limit {
		return true
	}
	metrics.RecordAdmissionReject("threshold")
	return false
}

// AcceptBatch implements BatchPredicate: the last element decides.
func (t *Threshold) AcceptBatch(batch []Admission) bool {
	if len(batch) == 0 {
		return true
	}
	return t.Accept(batch[len(batch)-1])
}

// allOf is the composite predicate.
type allOf []Predicate

// consumer marks predicates that spend capacity when they accept (token
// buckets). AllOf evaluates them after every other predicate.
type consumer interface {
	consumesTokens()
}

// AllOf accepts only when every predicate accepts. Non-consuming predicates
// run first, then consuming ones in the given order; evaluation stops at the
// first rejection. Only a consumer rejecting after an earlier consumer
// accepted can leave capacity spent on a rejected element.
func AllOf(preds ...Predicate) Predicate {
	out := make(allOf, 0, len(preds))
	for _, p := range preds {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

// Accept implements Predicate.
func (c allOf) Accept(a Admission) bool {
	for _, p := range c {
		if _, ok := p.(consumer); !ok && !p.Accept(a) {
			return false
		}
	}
	for _, p := range c {
		if _, ok := p.(consumer); ok && !p.Accept(a) {
			return false
		}
	}
	return true
}

// AcceptBatch implements BatchPredicate with the same ordering as Accept.
func (c allOf) AcceptBatch(batch []Admission) bool {
	for _, p := range c {
		if _, ok := p.(consumer); !ok && !acceptBatch(p, batch) {
			return false
		}
	}
	for _, p := range c {
		if _, ok := p.(consumer); ok && !acceptBatch(p, batch) {
			return false
		}
	}
	return true
}
