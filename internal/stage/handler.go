// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package stage

import (
	"go.uber.org/multierr"

	"github.com/ManuGH/stageflow/internal/config"
	"github.com/ManuGH/stageflow/internal/queue"
	"github.com/ManuGH/stageflow/internal/signalbus"
	"github.com/ManuGH/stageflow/internal/timer"
)

// Handler is the application code behind a stage. HandleEvent and
// HandleEvents are called from every worker of the pool concurrently, so
// implementations must be safe for concurrent use.
type Handler interface {
	// Init is called once before any event is delivered.
	Init(cfg *HandlerConfig) error
	// HandleEvent processes a batch of exactly one element.
	HandleEvent(e queue.Element) error
	// HandleEvents processes a batch of two or more elements.
	HandleEvents(batch []queue.Element) error
	// Destroy is called once after all workers have stopped.
	Destroy() error
}

// Manager exposes the engine services a handler may use.
type Manager interface {
	Sink(name string) (queue.Sink, error)
	Timer() *timer.Timer
	Signals() *signalbus.Bus
}

// HandlerConfig is passed to Handler.Init.
type HandlerConfig struct {
	StageName string
	Options   config.Options
	// Self is the stage's own queue, e.g. for re-enqueueing.
	Self    queue.Sink
	Manager Manager
}

// HandleEach applies fn to every element of batch and combines the failures.
// Handlers whose batch logic is just a loop can implement HandleEvents with it.
func HandleEach(batch []queue.Element, fn func(queue.Element) error) error {
	var err error
	for _, e := range batch {
		err = multierr.Append(err, fn(e))
	}
	return err
}
