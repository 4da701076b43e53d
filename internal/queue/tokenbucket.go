// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package queue

import (
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ManuGH/stageflow/internal/metrics"
)

// UnlimitedRate disables rate limiting; any negative rate has the same effect.
const UnlimitedRate = -1.0

// minRegenQuantumMs is the smallest elapsed time that triggers a refill.
const minRegenQuantumMs = 1

// TokenBucket is a rate-limiting predicate. Bursts of up to depth elements pass
// immediately; sustained throughput is capped at targetRate elements/second.
//
// Time is measured in whole milliseconds and the regeneration interval never
// drops below 1ms, so very high rates regenerate several tokens per tick.
type TokenBucket struct {
	mu         sync.Mutex
	clock      clock.Clock
	targetRate float64
	depth      int
	tokens     float64
	regenMs    float64
	lastRefill time.Time
}

// TokenBucketOption configures a TokenBucket.
type TokenBucketOption func(*TokenBucket)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) TokenBucketOption {
	return func(b *TokenBucket) {
		if c != nil {
			b.clock = c
		}
	}
}

// NewTokenBucket creates a full bucket.
func NewTokenBucket(targetRate float64, depth int, opts ...TokenBucketOption) *TokenBucket {
	if depth < 0 {
		depth = 0
	}
	b := &TokenBucket{
		clock:      clock.New(),
		targetRate: targetRate,
		depth:      depth,
		tokens:     float64(depth),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.regenMs = regenInterval(targetRate)
	b.lastRefill = b.clock.Now()
	return b
}

// regenInterval returns milliseconds per token: max(1, 1000/rate).
func regenInterval(rate float64) float64 {
	if rate <= 0 {
		return math.Inf(1)
	}
	ms := 1000.0 / rate
	if ms < 1 {
		ms = 1
	}
	return ms
}

// Accept implements Predicate. The element itself is ignored.
func (b *TokenBucket) Accept(Admission) bool {
	if b.Take() {
		return true
	}
	metrics.RecordAdmissionReject("token_bucket")
	return false
}

// AcceptBatch implements BatchPredicate: the batch passes only if the bucket
// holds a token for every element, and a rejection consumes nothing.
func (b *TokenBucket) AcceptBatch(batch []Admission) bool {
	if b.TakeN(len(batch)) {
		return true
	}
	metrics.RecordAdmissionReject("token_bucket")
	return false
}

func (b *TokenBucket) consumesTokens() {}

// Take refills the bucket and consumes one token if available.
func (b *TokenBucket) Take() bool {
	return b.TakeN(1)
}

// TakeN refills the bucket and consumes n tokens if all are available.
func (b *TokenBucket) TakeN(n int) bool {
	if n <= 0 {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.targetRate < 0 {
		return true
	}

	now := b.clock.Now()
	elapsed := now.Sub(b.lastRefill).Milliseconds()
	if elapsed >= minRegenQuantumMs {
		b.tokens += float64(elapsed) / b.regenMs
		if b.tokens > float64(b.depth) {
			b.tokens = float64(b.depth)
		}
		b.lastRefill = now
	}

	if b.tokens >= float64(n) {
		b.tokens -= float64(n)
		return true
	}
	return false
}

// SetTargetRate changes the rate; it applies to the next Accept.
func (b *TokenBucket) SetTargetRate(rate float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.targetRate = rate
	b.regenMs = regenInterval(rate)
}

// SetDepth changes the bucket size, trimming surplus tokens.
func (b *TokenBucket) SetDepth(depth int) {
	if depth < 0 {
		depth = 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.depth = depth
	if b.tokens > float64(depth) {
		b.tokens = float64(depth)
	}
}

// TargetRate returns the configured rate.
func (b *TokenBucket) TargetRate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.targetRate
}

// Depth returns the bucket size.
func (b *TokenBucket) Depth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.depth
}

// Tokens returns the current token count without refilling.
func (b *TokenBucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}
