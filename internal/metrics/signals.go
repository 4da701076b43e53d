// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SignalsFiredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stageflow_signals_fired_total",
		Help: "Total number of signals fired, by signal type.",
	}, []string{"type"})

	SignalHandlerFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stageflow_signal_handler_failures_total",
		Help: "Total number of signal handler failures, by signal type and reason.",
	}, []string{"type", "reason"})
)

// IncSignalFired records a fired signal.
func IncSignalFired(signalType string) {
	if signalType == "" {
		signalType = "unknown"
	}
	SignalsFiredTotal.WithLabelValues(signalType).Inc()
}

// IncSignalHandlerFailure records a handler failure with a concrete reason (error, panic).
func IncSignalHandlerFailure(signalType, reason string) {
	if signalType == "" {
		signalType = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	SignalHandlerFailuresTotal.WithLabelValues(signalType, reason).Inc()
}
