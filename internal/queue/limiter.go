// SPDX-License-Identifier: MIT

package queue

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/ManuGH/stageflow/internal/metrics"
)

// SmoothLimiter is an admission predicate backed by golang.org/x/time/rate.
// Unlike TokenBucket it refills continuously with nanosecond precision.
type SmoothLimiter struct {
	lim *rate.Limiter
}

// NewSmoothLimiter creates a limiter allowing r events/second with the given burst.
func NewSmoothLimiter(r rate.Limit, burst int) *SmoothLimiter {
	return &SmoothLimiter{lim: rate.NewLimiter(r, burst)}
}

// Accept implements Predicate.
func (s *SmoothLimiter) Accept(Admission) bool {
	if !s.lim.Allow() {
		metrics.RecordAdmissionReject("smooth")
		return false
	}
	return true
}

func (s *SmoothLimiter) consumesTokens() {}

// AcceptBatch implements BatchPredicate.
func (s *SmoothLimiter) AcceptBatch(batch []Admission) bool {
	if len(batch) == 0 {
		return true
	}
	if !s.lim.AllowN(time.Now(), len(batch)) {
		metrics.RecordAdmissionReject("smooth")
		return false
	}
	return true
}

// SetLimit changes the refill rate.
func (s *SmoothLimiter) SetLimit(r rate.Limit) {
	s.lim.SetLimit(r)
}

// SetBurst changes the burst size.
func (s *SmoothLimiter) SetBurst(burst int) {
	s.lim.SetBurst(burst)
}

// Limit returns the refill rate.
func (s *SmoothLimiter) Limit() rate.Limit {
	return s.lim.Limit()
}

// Burst returns the burst size.
func (s *SmoothLimiter) Burst() int {
	return s.lim.Burst()
}
