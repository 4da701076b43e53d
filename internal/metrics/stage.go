// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

var (
	stageBatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stageflow_stage_batches_total",
		Help: "Total handler invocations by stage and result.",
	}, []string{"stage", "result"}) // result: ok, error, panic

	stageBatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stageflow_stage_batch_duration_seconds",
		Help:    "Handler invocation latency per stage.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"stage"})

	stageBatchSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stageflow_stage_batch_size",
		Help:    "Number of elements per handler invocation.",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
	}, []string{"stage"})

	stageWorkers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stageflow_stage_workers",
		Help: "Current worker pool size per stage.",
	}, []string{"stage"})

	stageResizeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stageflow_stage_resize_total",
		Help: "Worker pool resize decisions by stage and direction.",
	}, []string{"stage", "direction"})

	stageTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stageflow_stage_transitions_total",
		Help: "Stage lifecycle transitions.",
	}, []string{"stage", "state_to"})
)

// ObserveBatch records one handler invocation.
func ObserveBatch(stage, result string, size int, d time.Duration) {
	stageBatchesTotal.WithLabelValues(stage, result).Inc()
	stageBatchDuration.WithLabelValues(stage).Observe(d.Seconds())
	stageBatchSize.WithLabelValues(stage).Observe(float64(size))
}

// SetWorkers sets the pool size gauge for a stage.
func SetWorkers(stage string, n int) {
	stageWorkers.WithLabelValues(stage).Set(float64(n))
}

// RecordResize counts a governor decision ("grow" or "shrink").
func RecordResize(stage, direction string) {
	stageResizeTotal.WithLabelValues(stage, direction).Inc()
}

// RecordTransition counts a lifecycle transition.
func RecordTransition(stage, to string) {
	stageTransitions.WithLabelValues(stage, to).Inc()
}

// GetStageBatches returns the invocation count for a stage/result pair (for testing).
func GetStageBatches(stage, result string) float64 {
	var m dto.Metric
	if err := stageBatchesTotal.WithLabelValues(stage, result).Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
