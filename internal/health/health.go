// SPDX-License-Identifier: MIT

// Package health provides readiness checks over the engine's stages.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ManuGH/stageflow/internal/log"
	"github.com/ManuGH/stageflow/internal/stage"
)

// Status represents the overall health/readiness status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult represents the result of a component health check
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ReadinessResponse represents the readiness check response
type ReadinessResponse struct {
	Ready     bool                   `json:"ready"`
	Status    Status                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker defines the interface for health checks
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Manager manages readiness checks
type Manager struct {
	version  string
	checkers []Checker
}

// NewManager creates a new health check manager
func NewManager(version string) *Manager {
	return &Manager{version: version}
}

// RegisterChecker adds a health checker to the manager
func (m *Manager) RegisterChecker(checker Checker) {
	m.checkers = append(m.checkers, checker)
}

// Ready runs every checker. Any unhealthy result makes the process not ready;
// degraded results are reported but still ready.
func (m *Manager) Ready(ctx context.Context, verbose bool) ReadinessResponse {
	resp := ReadinessResponse{
		Ready:     true,
		Status:    StatusHealthy,
		Version:   m.version,
		Timestamp: time.Now(),
	}

	checks := make(map[string]CheckResult, len(m.checkers))
	for _, checker := range m.checkers {
		result := checker.Check(ctx)
		checks[checker.Name()] = result

		switch result.Status {
		case StatusUnhealthy:
			resp.Ready = false
			resp.Status = StatusUnhealthy
		case StatusDegraded:
			if resp.Status == StatusHealthy {
				resp.Status = StatusDegraded
			}
		}
	}
	if verbose && len(checks) > 0 {
		resp.Checks = checks
	}
	return resp
}

// ServeReady handles HTTP readiness check requests
func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "readiness")
	verbose := r.URL.Query().Get("verbose") == "true"

	resp := m.Ready(r.Context(), verbose)

	w.Header().Set("Content-Type", "application/json")
	if resp.Ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "readiness.encode_error").Msg("failed to encode readiness response")
	}

	logger.Debug().
		Str(log.FieldEvent, "readiness.checked").
		Str("status", string(resp.Status)).
		Bool("ready", resp.Ready).
		Bool("verbose", verbose).
		Msg("readiness check performed")
}

// StageLister is satisfied by *engine.Engine.
type StageLister interface {
	Stages() []*stage.Stage
}

// StagesChecker reports unhealthy while any stage is not running, and
// degraded while a stage's handler is failing or its queue is nearly full.
type StagesChecker struct {
	stages StageLister

	// FillRatio is the queue fill level reported as degraded. Zero means 0.9.
	FillRatio float64
}

// NewStagesChecker creates a checker over the given stages.
func NewStagesChecker(stages StageLister) *StagesChecker {
	return &StagesChecker{stages: stages}
}

func (c *StagesChecker) Name() string {
	return "stages"
}

func (c *StagesChecker) Check(context.Context) CheckResult {
	fill := c.FillRatio
	if fill <= 0 {
		fill = 0.9
	}

	stages := c.stages.Stages()
	if len(stages) == 0 {
		return CheckResult{Status: StatusDegraded, Message: "no stages configured"}
	}

	var degraded []string
	for _, s := range stages {
		st := s.Stats()
		if s.State() != stage.StateRunning {
			return CheckResult{
				Status: StatusUnhealthy,
				Error:  fmt.Sprintf("stage %q is %s", st.Name, st.State),
			}
		}
		switch {
		case st.ConsecutiveFailures > 0:
			degraded = append(degraded, fmt.Sprintf("%s: %d consecutive failures", st.Name, st.ConsecutiveFailures))
		case st.Queue.Capacity > 0 && float64(st.Queue.Size) >= fill*float64(st.Queue.Capacity):
			degraded = append(degraded, fmt.Sprintf("%s: queue %d/%d", st.Name, st.Queue.Size, st.Queue.Capacity))
		}
	}

	if len(degraded) > 0 {
		return CheckResult{Status: StatusDegraded, Message: strings.Join(degraded, "; ")}
	}
	return CheckResult{
		Status:  StatusHealthy,
		Message: fmt.Sprintf("%d stages running", len(stages)),
	}
}
