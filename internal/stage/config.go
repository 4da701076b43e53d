// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package stage

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ManuGH/stageflow/internal/config"
	"github.com/ManuGH/stageflow/internal/queue"
)

// Defaults for zero-valued Config fields.
const (
	DefaultMinThreads       = 1
	DefaultBatchSize        = 1
	DefaultPollTimeout      = 100 * time.Millisecond
	DefaultJoinTimeout      = 5 * time.Second
	DefaultFailureThreshold = 5
	DefaultSampleInterval   = time.Second
	DefaultCooldown         = 5 * time.Second
	DefaultGrowDepth        = 1
)

// RateLimit configures the token bucket in front of the queue.
// A negative TargetRate means unlimited.
type RateLimit struct {
	TargetRate float64
	Depth      int
}

// GovernorConfig configures pool sizing between MinThreads and MaxThreads.
type GovernorConfig struct {
	Enabled        bool
	SampleInterval time.Duration
	Cooldown       time.Duration
	GrowDepth      int
}

// Config describes a stage. Zero values take the package defaults.
type Config struct {
	// QueueCapacity bounds the queue. Nil or queue.Unbounded is unbounded;
	// zero rejects every element.
	QueueCapacity *int
	// Threshold, when positive, rejects admission once the queue holds that many elements.
	Threshold int
	RateLimit *RateLimit

	MinThreads int
	// MaxThreads defaults to MinThreads.
	MaxThreads  int
	BatchSize   int
	PollTimeout time.Duration
	JoinTimeout time.Duration

	// FailureThreshold is the number of consecutive failed batches that fires
	// a HandlerFailing signal. Negative disables the signal.
	FailureThreshold int

	Governor GovernorConfig
	Options  config.Options

	// Clock drives the governor and token bucket. Defaults to the wall clock.
	Clock clock.Clock
}

// Capacity returns a pointer to n for Config.QueueCapacity.
func Capacity(n int) *int {
	return &n
}

func (c Config) withDefaults() Config {
	if c.QueueCapacity == nil {
		c.QueueCapacity = Capacity(queue.Unbounded)
	}
	if c.MinThreads <= 0 {
		c.MinThreads = DefaultMinThreads
	}
	if c.MaxThreads < c.MinThreads {
		c.MaxThreads = c.MinThreads
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = DefaultJoinTimeout
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.Governor.SampleInterval <= 0 {
		c.Governor.SampleInterval = DefaultSampleInterval
	}
	if c.Governor.Cooldown <= 0 {
		c.Governor.Cooldown = DefaultCooldown
	}
	if c.Governor.GrowDepth <= 0 {
		c.Governor.GrowDepth = DefaultGrowDepth
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	return c
}
