// SPDX-License-Identifier: MIT

package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/ManuGH/stageflow/internal/engine"
	"github.com/ManuGH/stageflow/internal/health"
	"github.com/ManuGH/stageflow/internal/log"
	"github.com/ManuGH/stageflow/internal/queue"
	"github.com/ManuGH/stageflow/internal/stage"
)

// maxEventBody caps the size of an injected event payload.
const maxEventBody = 1 << 20

// AdminOptions tunes the admin router.
type AdminOptions struct {
	// EventRequestLimit is the number of event injections allowed per IP per EventWindow.
	EventRequestLimit int
	EventWindow       time.Duration

	// Version is reported by /readyz.
	Version string
}

// DefaultAdminOptions allows 600 injected events per minute per IP.
func DefaultAdminOptions() AdminOptions {
	return AdminOptions{EventRequestLimit: 600, EventWindow: time.Minute}
}

type adminAPI struct {
	engine *engine.Engine
}

// NewAdminRouter builds the admin HTTP surface for eng.
func NewAdminRouter(eng *engine.Engine, opts AdminOptions) http.Handler {
	if opts.EventRequestLimit <= 0 || opts.EventWindow <= 0 {
		def := DefaultAdminOptions()
		opts.EventRequestLimit, opts.EventWindow = def.EventRequestLimit, def.EventWindow
	}
	a := &adminAPI{engine: eng}
	ready := health.NewManager(opts.Version)
	ready.RegisterChecker(health.NewStagesChecker(eng))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.handleHealth)
	r.Get("/readyz", ready.ServeReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/stages", func(r chi.Router) {
		r.Get("/", a.handleListStages)
		r.Get("/{name}", a.handleGetStage)
		r.With(httprate.Limit(
			opts.EventRequestLimit,
			opts.EventWindow,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(opts.EventWindow.Seconds())))
				writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate_limit_exceeded"})
			}),
		)).Post("/{name}/events", a.handlePostEvent)
	})

	return otelhttp.NewHandler(r, "stageflow-admin",
		otelhttp.WithTracerProvider(otel.GetTracerProvider()),
		otelhttp.WithFilter(shouldTrace),
		otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
			return operation + " " + r.Method + " " + r.URL.Path
		}),
	)
}

// shouldTrace skips probes and metrics scrapes.
func shouldTrace(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/readyz", "/metrics":
		return false
	}
	return true
}

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

type acceptedBody struct {
	Stage string `json:"stage"`
	Size  int    `json:"size"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *adminAPI) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok")
}

func (a *adminAPI) handleListStages(w http.ResponseWriter, _ *http.Request) {
	stages := a.engine.Stages()
	out := make([]stage.Stats, 0, len(stages))
	for _, s := range stages {
		out = append(out, s.Stats())
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *adminAPI) handleGetStage(w http.ResponseWriter, r *http.Request) {
	s, err := a.engine.GetStage(chi.URLParam(r, "name"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Detail: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.Stats())
}

func (a *adminAPI) handlePostEvent(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	sink, err := a.engine.Sink(name)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Detail: err.Error()})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBody))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "body_too_large", Detail: err.Error()})
		return
	}

	ctx := log.ContextWithCorrelationID(log.ContextWithStage(r.Context(), name), middleware.GetReqID(r.Context()))
	logger := log.WithComponentFromContext(ctx, "admin")

	err = sink.Enqueue(string(body))
	if err != nil {
		logger.Debug().Err(err).Str(log.FieldEvent, "admin.event_rejected").Msg("injected event rejected")
	}
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, acceptedBody{Stage: name, Size: sink.Size()})
	case errors.Is(err, queue.ErrQueueFull):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "queue_full", Detail: err.Error()})
	case errors.Is(err, queue.ErrAdmissionDenied):
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "admission_denied", Detail: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "enqueue_failed", Detail: err.Error()})
	}
}
