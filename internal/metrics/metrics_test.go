// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ManuGH/stageflow/internal/metrics"
)

func TestPromhttpExposure(t *testing.T) {
	srv := httptest.NewServer(promhttp.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
}

func TestQueueMetrics(t *testing.T) {
	metrics.RecordEnqueue("mt-queue", 3, 3)
	metrics.RecordDequeue("mt-queue", 2, 1)

	if got := metrics.GetQueueDepth("mt-queue"); got != 1 {
		t.Errorf("depth = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.QueueEnqueuedTotal.WithLabelValues("mt-queue")); got != 3 {
		t.Errorf("enqueued = %v, want 3", got)
	}
	if got := testutil.ToFloat64(metrics.QueueDequeuedTotal.WithLabelValues("mt-queue")); got != 2 {
		t.Errorf("dequeued = %v, want 2", got)
	}
}

func TestRecordQueueReject(t *testing.T) {
	tests := []struct {
		name   string
		reason string
		want   string
	}{
		{name: "full", reason: "full", want: "full"},
		{name: "denied", reason: "denied", want: "denied"},
		{name: "empty reason", reason: "", want: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := metrics.GetQueueRejected("mt-reject", tt.want)
			metrics.RecordQueueReject("mt-reject", tt.reason)
			if got := metrics.GetQueueRejected("mt-reject", tt.want); got != before+1 {
				t.Errorf("rejected{%s} = %v, want %v", tt.want, got, before+1)
			}
		})
	}
}

func TestStageMetricsExposed(t *testing.T) {
	metrics.ObserveBatch("mt-stage", "ok", 4, 10*time.Millisecond)
	metrics.ObserveBatch("mt-stage", "error", 1, time.Millisecond)
	metrics.SetWorkers("mt-stage", 3)
	metrics.RecordResize("mt-stage", "grow")
	metrics.RecordTransition("mt-stage", "running")

	if got := metrics.GetStageBatches("mt-stage", "ok"); got != 1 {
		t.Errorf("batches{ok} = %v, want 1", got)
	}

	recorder := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := recorder.Body.String()
	for _, want := range []string{
		`stageflow_stage_workers{stage="mt-stage"} 3`,
		`stageflow_stage_resize_total{direction="grow",stage="mt-stage"} 1`,
		`stageflow_stage_transitions_total{stage="mt-stage",state_to="running"} 1`,
		`stageflow_stage_batch_size_count{stage="mt-stage"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestSignalMetrics(t *testing.T) {
	before := testutil.ToFloat64(metrics.SignalsFiredTotal.WithLabelValues("unknown"))
	metrics.IncSignalFired("")
	if got := testutil.ToFloat64(metrics.SignalsFiredTotal.WithLabelValues("unknown")); got != before+1 {
		t.Errorf("fired{unknown} = %v, want %v", got, before+1)
	}

	metrics.IncSignalHandlerFailure("mt.signal", "panic")
	if got := testutil.ToFloat64(metrics.SignalHandlerFailuresTotal.WithLabelValues("mt.signal", "panic")); got != 1 {
		t.Errorf("handler failures = %v, want 1", got)
	}
}

func TestTimerFireCounters(t *testing.T) {
	fired := testutil.ToFloat64(metrics.TimerFiredTotal)
	dropped := testutil.ToFloat64(metrics.TimerDroppedTotal)

	metrics.RecordTimerFire(true)
	metrics.RecordTimerFire(false)

	if got := testutil.ToFloat64(metrics.TimerFiredTotal); got != fired+1 {
		t.Errorf("fired = %v, want %v", got, fired+1)
	}
	if got := testutil.ToFloat64(metrics.TimerDroppedTotal); got != dropped+1 {
		t.Errorf("dropped = %v, want %v", got, dropped+1)
	}
}
