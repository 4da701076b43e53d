// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TimerScheduled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stageflow_timer_scheduled",
		Help: "Current number of active timer events.",
	})

	TimerFiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stageflow_timer_fired_total",
		Help: "Total number of timer events delivered to their sink.",
	})

	TimerDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stageflow_timer_dropped_total",
		Help: "Total number of timer payloads dropped by a full or denying sink.",
	})

	TimerCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stageflow_timer_cancelled_total",
		Help: "Total number of timer events cancelled before firing.",
	})
)

// RecordTimerFire records one fired event; delivered reports whether the sink accepted it.
func RecordTimerFire(delivered bool) {
	if delivered {
		TimerFiredTotal.Inc()
		return
	}
	TimerDroppedTotal.Inc()
}
