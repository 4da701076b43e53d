// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/stageflow/internal/queue"
	"github.com/ManuGH/stageflow/internal/signalbus"
	"github.com/ManuGH/stageflow/internal/stage"
	"github.com/ManuGH/stageflow/internal/timer"
)

type mockChecker struct {
	name   string
	status Status
}

func (m *mockChecker) Name() string { return m.name }

func (m *mockChecker) Check(context.Context) CheckResult {
	return CheckResult{Status: m.status}
}

type blockingHandler struct{ release chan struct{} }

func (h *blockingHandler) Init(*stage.HandlerConfig) error { return nil }
func (h *blockingHandler) HandleEvent(queue.Element) error {
	<-h.release
	return nil
}
func (h *blockingHandler) HandleEvents([]queue.Element) error {
	<-h.release
	return nil
}
func (h *blockingHandler) Destroy() error { return nil }

type stageList []*stage.Stage

func (l stageList) Stages() []*stage.Stage { return l }

type nopManager struct{}

func (nopManager) Sink(string) (queue.Sink, error) { return nil, nil }
func (nopManager) Timer() *timer.Timer              { return nil }
func (nopManager) Signals() *signalbus.Bus          { return nil }

func TestManager_Ready_NoCheckers(t *testing.T) {
	resp := NewManager("v1.0.0").Ready(context.Background(), true)
	assert.True(t, resp.Ready)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "v1.0.0", resp.Version)
	assert.Nil(t, resp.Checks)
}

func TestManager_Ready_Aggregates(t *testing.T) {
	tests := []struct {
		name      string
		statuses  []Status
		wantReady bool
		want      Status
	}{
		{"all healthy", []Status{StatusHealthy, StatusHealthy}, true, StatusHealthy},
		{"degraded stays ready", []Status{StatusHealthy, StatusDegraded}, true, StatusDegraded},
		{"unhealthy wins", []Status{StatusUnhealthy, StatusDegraded}, false, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager("")
			for i, s := range tt.statuses {
				m.RegisterChecker(&mockChecker{name: string(rune('a' + i)), status: s})
			}
			resp := m.Ready(context.Background(), false)
			assert.Equal(t, tt.wantReady, resp.Ready)
			assert.Equal(t, tt.want, resp.Status)
			assert.Nil(t, resp.Checks, "non-verbose response omits checks")
		})
	}
}

func TestManager_ServeReady(t *testing.T) {
	m := NewManager("v1")
	m.RegisterChecker(&mockChecker{name: "broken", status: StatusUnhealthy})

	rec := httptest.NewRecorder()
	m.ServeReady(rec, httptest.NewRequest(http.MethodGet, "/readyz?verbose=true", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Ready)
	assert.Equal(t, StatusUnhealthy, resp.Checks["broken"].Status)
}

func TestStagesChecker(t *testing.T) {
	h := &blockingHandler{release: make(chan struct{})}
	s := stage.New("busy", h, stage.Config{QueueCapacity: stage.Capacity(10), PollTimeout: 5 * time.Millisecond})
	checker := NewStagesChecker(stageList{s})

	assert.Equal(t, StatusDegraded, NewStagesChecker(stageList{}).Check(context.Background()).Status)
	assert.Equal(t, StatusUnhealthy, checker.Check(context.Background()).Status, "created stage is not ready")

	require.NoError(t, s.Init(nopManager{}))
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() {
		close(h.release)
		_ = s.Destroy(context.Background())
	})
	assert.Equal(t, StatusHealthy, checker.Check(context.Background()).Status)

	// One element occupies the single worker, nine more fill the queue to 90%.
	require.NoError(t, s.Queue().Enqueue(0))
	require.Eventually(t, func() bool { return s.Queue().Size() == 0 }, time.Second, 5*time.Millisecond)
	for i := 1; i <= 9; i++ {
		require.NoError(t, s.Queue().Enqueue(i))
	}
	res := checker.Check(context.Background())
	assert.Equal(t, StatusDegraded, res.Status)
	assert.Contains(t, res.Message, "busy: queue 9/10")
}
