// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics provides Prometheus metrics for the stageflow engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Labels are bounded by the number of configured queues and stages.
// Never label by element content.

var (
	// QueueEnqueuedTotal counts accepted elements per queue.
	QueueEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stageflow_queue_enqueued_total",
		Help: "Total number of elements accepted by a queue.",
	}, []string{"queue"})

	// QueueDequeuedTotal counts elements handed to consumers per queue.
	QueueDequeuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stageflow_queue_dequeued_total",
		Help: "Total number of elements removed from a queue by consumers.",
	}, []string{"queue"})

	// QueueRejectedTotal counts enqueue rejections by reason (full, denied, timeout).
	QueueRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stageflow_queue_rejected_total",
		Help: "Total number of rejected enqueue attempts, by queue and reason.",
	}, []string{"queue", "reason"})

	// QueueDepth tracks the current number of buffered elements.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stageflow_queue_depth",
		Help: "Current number of elements buffered in a queue.",
	}, []string{"queue"})

	// AdmissionRejectTotal counts predicate rejections by predicate kind.
	AdmissionRejectTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stageflow_admission_reject_total",
		Help: "Total number of admission predicate rejections, by predicate kind.",
	}, []string{"kind"})
)

// RecordEnqueue records n accepted elements and the resulting depth.
func RecordEnqueue(queue string, n, depth int) {
	QueueEnqueuedTotal.WithLabelValues(queue).Add(float64(n))
	QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordDequeue records n removed elements and the resulting depth.
func RecordDequeue(queue string, n, depth int) {
	QueueDequeuedTotal.WithLabelValues(queue).Add(float64(n))
	QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordQueueReject increments the rejection counter.
func RecordQueueReject(queue, reason string) {
	if reason == "" {
		reason = "unknown"
	}
	QueueRejectedTotal.WithLabelValues(queue, reason).Inc()
}

// RecordAdmissionReject increments the predicate rejection counter.
func RecordAdmissionReject(kind string) {
	AdmissionRejectTotal.WithLabelValues(kind).Inc()
}

// GetQueueDepth returns the current value of the depth gauge (for testing).
func GetQueueDepth(queue string) float64 {
	var m dto.Metric
	if err := QueueDepth.WithLabelValues(queue).Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

// GetQueueRejected returns the current rejection count (for testing).
func GetQueueRejected(queue, reason string) float64 {
	var m dto.Metric
	if err := QueueRejectedTotal.WithLabelValues(queue, reason).Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
