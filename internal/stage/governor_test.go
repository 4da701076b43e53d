// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package stage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/stageflow/internal/queue"
)

func TestDecide(t *testing.T) {
	base := sample{
		size:        2,
		busy:        2,
		minThreads:  1,
		maxThreads:  4,
		growDepth:   3,
		cooldown:    time.Second,
		sinceResize: 2 * time.Second,
	}
	with := func(mut func(*sample)) sample {
		s := base
		mut(&s)
		return s
	}

	tests := []struct {
		name string
		in   sample
		want decision
	}{
		{"grow on rising backlog", with(func(s *sample) { s.depth, s.prevDepth = 5, 3 }), growOne},
		{"hold when backlog shrinking", with(func(s *sample) { s.depth, s.prevDepth = 5, 8 }), hold},
		{"hold when backlog flat", with(func(s *sample) { s.depth, s.prevDepth = 5, 5 }), hold},
		{"hold below grow depth", with(func(s *sample) { s.depth, s.prevDepth = 2, 0 }), hold},
		{"hold with idle workers", with(func(s *sample) { s.depth, s.prevDepth, s.busy = 5, 3, 1 }), hold},
		{"hold at max", with(func(s *sample) { s.depth, s.prevDepth, s.size, s.busy = 5, 3, 4, 4 }), hold},
		{"shrink when empty", with(func(s *sample) { s.depth = 0 }), shrinkOne},
		{"hold within cooldown", with(func(s *sample) { s.sinceResize = 500 * time.Millisecond }), hold},
		{"hold at min", with(func(s *sample) { s.size, s.busy = 1, 0 }), hold},
		{"grow below min", with(func(s *sample) { s.size, s.minThreads = 1, 2 }), growOne},
		{"shrink above max", with(func(s *sample) { s.size, s.maxThreads = 5, 4 }), shrinkOne},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want.String(), decide(tt.in).String())
		})
	}
}

func TestGovernor_GrowsUnderLoadAndShrinksWhenIdle(t *testing.T) {
	release := make(chan struct{})
	h := &recordingHandler{onEvent: func(queue.Element) error {
		<-release
		return nil
	}}
	s := New("governed", h, Config{
		MinThreads:  1,
		MaxThreads:  3,
		PollTimeout: 5 * time.Millisecond,
		Governor: GovernorConfig{
			Enabled:        true,
			SampleInterval: 10 * time.Millisecond,
			Cooldown:       30 * time.Millisecond,
			GrowDepth:      1,
		},
	})
	runStage(t, s, nil)

	ctx, stopProducer := context.WithCancel(context.Background())
	producerDone := make(chan struct{})
	go func() {
		defer close(producerDone)
		ticker := time.NewTicker(2 * time.Millisecond)
		defer ticker.Stop()
		for i := 0; ; i++ {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = s.Queue().Enqueue(i)
			}
		}
	}()

	require.Eventually(t, func() bool { return s.Stats().Workers == 3 }, 5*time.Second, 5*time.Millisecond)

	stopProducer()
	<-producerDone
	close(release)

	require.Eventually(t, func() bool {
		st := s.Stats()
		return st.Workers == 1 && st.Queue.Size == 0
	}, 5*time.Second, 5*time.Millisecond)
}
