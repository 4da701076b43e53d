// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/stageflow/internal/engine"
	"github.com/ManuGH/stageflow/internal/queue"
	"github.com/ManuGH/stageflow/internal/stage"
)

type nopHandler struct{}

func (nopHandler) Init(*stage.HandlerConfig) error { return nil }
func (nopHandler) HandleEvent(queue.Element) error { return nil }
func (nopHandler) HandleEvents([]queue.Element) error { return nil }
func (nopHandler) Destroy() error { return nil }

// newTestEngine returns an unstarted engine so enqueued events stay queued.
func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	e := engine.New()
	t.Cleanup(func() { _ = e.Stop(context.Background()) })

	_, err := e.CreateStage("bounded", nopHandler{}, stage.Config{QueueCapacity: stage.Capacity(1)})
	require.NoError(t, err)
	_, err = e.CreateStage("limited", nopHandler{}, stage.Config{RateLimit: &stage.RateLimit{TargetRate: 0, Depth: 1}})
	require.NoError(t, err)
	return e
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAdminAPI_Health(t *testing.T) {
	h := NewAdminRouter(newTestEngine(t), DefaultAdminOptions())
	rec := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestAdminAPI_Ready(t *testing.T) {
	e := newTestEngine(t)
	h := NewAdminRouter(e, DefaultAdminOptions())

	rec := do(t, h, http.MethodGet, "/readyz?verbose=true", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "unstarted stages are not ready")

	require.NoError(t, e.Start(context.Background()))
	rec = do(t, h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ready":true`)
}

func TestAdminAPI_Stages(t *testing.T) {
	h := NewAdminRouter(newTestEngine(t), DefaultAdminOptions())

	rec := do(t, h, http.MethodGet, "/api/v1/stages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []stage.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "bounded", list[0].Name)
	assert.Equal(t, "created", list[0].State)
	assert.Equal(t, 1, list[0].Queue.Capacity)

	rec = do(t, h, http.MethodGet, "/api/v1/stages/limited", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var one stage.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	assert.Equal(t, "limited", one.Name)

	rec = do(t, h, http.MethodGet, "/api/v1/stages/ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminAPI_PostEventStatusCodes(t *testing.T) {
	h := NewAdminRouter(newTestEngine(t), DefaultAdminOptions())

	tests := []struct {
		name string
		path string
		want int
	}{
		{"accepted", "/api/v1/stages/bounded/events", http.StatusAccepted},
		{"queue full", "/api/v1/stages/bounded/events", http.StatusServiceUnavailable},
		{"admitted by bucket", "/api/v1/stages/limited/events", http.StatusAccepted},
		{"denied by bucket", "/api/v1/stages/limited/events", http.StatusTooManyRequests},
		{"unknown stage", "/api/v1/stages/ghost/events", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := do(t, h, http.MethodPost, tt.path, "payload")
		assert.Equal(t, tt.want, rec.Code, tt.name)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"), tt.name)
	}
}

func TestAdminAPI_EventRateLimitedPerIP(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.CreateStage("open", nopHandler{}, stage.Config{})
	require.NoError(t, err)

	h := NewAdminRouter(e, AdminOptions{EventRequestLimit: 2, EventWindow: time.Minute})
	assert.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/api/v1/stages/open/events", "a").Code)
	assert.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/api/v1/stages/open/events", "b").Code)

	rec := do(t, h, http.MethodPost, "/api/v1/stages/open/events", "c")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate_limit_exceeded")
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	// Reads are not limited.
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/v1/stages/open", "").Code)
}

func TestAdminAPI_Metrics(t *testing.T) {
	e := newTestEngine(t)
	h := NewAdminRouter(e, DefaultAdminOptions())
	require.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/api/v1/stages/bounded/events", "x").Code)

	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "stageflow_queue_enqueued_total")
}
