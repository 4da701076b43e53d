// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package stage binds a queue, a handler and a worker pool into one unit of
// the event pipeline.
//
// Lifecycle: Created -> Initialized -> Running -> Destroyed. Destroy is also
// valid from Created and Initialized; every other transition returns
// ErrInvalidState.
package stage

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"

	"github.com/ManuGH/stageflow/internal/log"
	"github.com/ManuGH/stageflow/internal/metrics"
	"github.com/ManuGH/stageflow/internal/queue"
	"github.com/ManuGH/stageflow/internal/signalbus"
	"github.com/ManuGH/stageflow/internal/telemetry"
)

// State is a stage lifecycle state.
type State int32

const (
	StateCreated State = iota
	StateInitialized
	StateRunning
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Stats is a point-in-time snapshot of a stage.
type Stats struct {
	Name                string      `json:"name"`
	State               string      `json:"state"`
	Queue               queue.Stats `json:"queue"`
	Workers             int         `json:"workers"`
	BusyWorkers         int         `json:"busy_workers"`
	MinThreads          int         `json:"min_threads"`
	MaxThreads          int         `json:"max_threads"`
	Processed           uint64      `json:"processed"`
	FailedBatches       uint64      `json:"failed_batches"`
	ConsecutiveFailures int64       `json:"consecutive_failures"`
}

// Stage is a queue drained by a pool of workers that call one handler.
type Stage struct {
	name    string
	handler Handler
	cfg     Config
	logger  zerolog.Logger
	tracer  trace.Tracer

	q         *queue.Queue
	threshold *queue.Threshold
	bucket    *queue.TokenBucket

	mu       sync.Mutex
	state    atomic.Int32
	mgr      Manager
	pool     *workerPool
	govStop  context.CancelFunc
	govDone  chan struct{}
	runStop  context.CancelFunc
	initDone bool

	boundsMu sync.Mutex
	minMax   [2]int

	processed   atomic.Uint64
	failed      atomic.Uint64
	consecutive atomic.Int64
}

// New creates a stage in the Created state. The queue exists immediately, so
// producers may enqueue before the stage starts.
func New(name string, h Handler, cfg Config) *Stage {
	cfg = cfg.withDefaults()

	rate, depth := queue.UnlimitedRate, 1
	if cfg.RateLimit != nil {
		rate, depth = cfg.RateLimit.TargetRate, cfg.RateLimit.Depth
	}

	s := &Stage{
		name:      name,
		handler:   h,
		cfg:       cfg,
		logger:    log.Derive(func(c *zerolog.Context) { *c = c.Str(log.FieldComponent, "stage").Str(log.FieldStage, name) }),
		tracer:    telemetry.Tracer(telemetry.InstrumentationName),
		threshold: queue.NewThreshold(cfg.Threshold),
		bucket:    queue.NewTokenBucket(rate, depth, queue.WithClock(cfg.Clock)),
		minMax:    [2]int{cfg.MinThreads, cfg.MaxThreads},
	}
	s.q = queue.New(name,
		queue.WithCapacity(*cfg.QueueCapacity),
		queue.WithPredicate(queue.AllOf(s.threshold, s.bucket)),
	)
	s.pool = newWorkerPool(s)
	return s
}

// Name returns the stage name.
func (s *Stage) Name() string { return s.name }

// State returns the current lifecycle state.
func (s *Stage) State() State { return State(s.state.Load()) }

// Queue returns the stage's input queue.
func (s *Stage) Queue() *queue.Queue { return s.q }

// Handler returns the stage handler.
func (s *Stage) Handler() Handler { return s.handler }

func (s *Stage) transition(to State) {
	from := State(s.state.Swap(int32(to)))
	metrics.RecordTransition(s.name, to.String())
	s.logger.Debug().
		Str(log.FieldOldState, from.String()).
		Str(log.FieldNewState, to.String()).
		Msg("stage state changed")
}

// Init calls the handler's Init. On failure the stage stays Created and can
// never be started.
func (s *Stage) Init(mgr Manager) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st := s.State(); st != StateCreated {
		return invalidState("init", st)
	}

	hc := &HandlerConfig{
		StageName: s.name,
		Options:   s.cfg.Options.Clone(),
		Self:      s.q,
		Manager:   mgr,
	}
	if err := s.handler.Init(hc); err != nil {
		s.logger.Error().Err(err).Str(log.FieldEvent, "stage.init_failed").Msg("handler init failed")
		return fmt.Errorf("stage %q: %w: %w", s.name, ErrInitFailed, err)
	}

	s.mgr = mgr
	s.initDone = true
	s.transition(StateInitialized)
	return nil
}

// Start spawns MinThreads workers and, when enabled, the governor. Workers
// run until Destroy or until ctx ends.
func (s *Stage) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st := s.State(); st != StateInitialized {
		return invalidState("start", st)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.runStop = cancel
	minT, _ := s.bounds()
	s.pool.start(runCtx)
	s.pool.grow(minT)

	if s.cfg.Governor.Enabled {
		govCtx, govCancel := context.WithCancel(runCtx)
		s.govStop = govCancel
		s.govDone = make(chan struct{})
		go s.governLoop(govCtx, s.govDone)
	}

	s.transition(StateRunning)
	s.logger.Info().
		Str(log.FieldEvent, "stage.started").
		Int(log.FieldWorkers, s.pool.size()).
		Msg("stage started")
	s.fire(signalbus.StageSignal{Type: signalbus.StageStarted, Stage: s.name})
	return nil
}

// Destroy stops the workers (waiting at most JoinTimeout, bounded further by
// ctx) and then calls the handler's Destroy. Elements still queued are dropped.
func (s *Stage) Destroy(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.State()
	if st == StateDestroyed {
		return invalidState("destroy", st)
	}

	var err error
	if st == StateRunning {
		if s.govStop != nil {
			s.govStop()
			<-s.govDone
		}
		err = multierr.Append(err, s.pool.stop(ctx, s.cfg.JoinTimeout))
		s.runStop()
	}

	if s.initDone {
		err = multierr.Append(err, s.destroyHandler())
	}

	if left := s.q.Size(); left > 0 {
		s.logger.Warn().Int("dropped", left).Msg("stage destroyed with queued elements")
	}

	s.transition(StateDestroyed)
	s.logger.Info().Str(log.FieldEvent, "stage.destroyed").Msg("stage destroyed")
	s.fire(signalbus.StageSignal{Type: signalbus.StageDestroyed, Stage: s.name})
	return err
}

func (s *Stage) destroyHandler() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage %q: handler destroy panicked: %v", s.name, r)
		}
	}()
	if derr := s.handler.Destroy(); derr != nil {
		return fmt.Errorf("stage %q: handler destroy: %w", s.name, derr)
	}
	return nil
}

// fire is best effort: a stage without a manager or bus just skips the signal.
func (s *Stage) fire(sig signalbus.Signal) {
	if s.mgr == nil {
		return
	}
	bus := s.mgr.Signals()
	if bus == nil {
		return
	}
	if err := bus.Fire(sig); err != nil {
		s.logger.Debug().Err(err).Str(log.FieldSignal, sig.SignalType().Name()).Msg("signal not fired")
	}
}

// invoke runs one batch inside the failure boundary.
func (s *Stage) invoke(ctx context.Context, worker int, batch []queue.Element) {
	start := time.Now()
	_, span := telemetry.StartBatchSpan(ctx, s.tracer, s.name, worker, len(batch))
	panicked, err := s.callHandler(batch)
	telemetry.EndSpan(span, err, panicked)

	result := "ok"
	switch {
	case panicked:
		result = "panic"
	case err != nil:
		result = "error"
	}
	metrics.ObserveBatch(s.name, result, len(batch), time.Since(start))

	if err == nil {
		s.processed.Add(uint64(len(batch)))
		s.consecutive.Store(0)
		return
	}

	s.failed.Add(1)
	herr := &HandlerError{Stage: s.name, BatchSize: len(batch), Panicked: panicked, Err: err}
	s.logger.Error().
		Err(herr).
		Int("worker", worker).
		Int(log.FieldBatchSize, len(batch)).
		Interface("batch", batch).
		Str(log.FieldEvent, "stage.handler_failed").
		Msg("handler failed")

	n := s.consecutive.Add(1)
	if limit := s.cfg.FailureThreshold; limit > 0 && n%int64(limit) == 0 {
		s.logger.Warn().
			Int64("consecutive_failures", n).
			Str(log.FieldEvent, "stage.handler_failing").
			Msg("handler keeps failing")
		s.fire(signalbus.HandlerFailingSignal{Stage: s.name, ConsecutiveFailures: int(n), Err: herr})
	}
}

func (s *Stage) callHandler(batch []queue.Element) (panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	if len(batch) == 1 {
		return false, s.handler.HandleEvent(batch[0])
	}
	return false, s.handler.HandleEvents(batch)
}

// SetCapacity changes the queue bound at runtime. queue.Unbounded removes the
// bound and zero closes intake; other negative values are rejected.
func (s *Stage) SetCapacity(n int) error {
	return s.q.SetCapacity(n)
}

// SetThreshold changes the admission threshold; zero or negative disables it.
func (s *Stage) SetThreshold(n int) {
	s.threshold.SetMax(n)
}

// SetRateLimit reconfigures the token bucket. A negative rate is unlimited.
func (s *Stage) SetRateLimit(rate float64, depth int) {
	s.bucket.SetTargetRate(rate)
	s.bucket.SetDepth(depth)
}

// SetThreadBounds changes the pool bounds. A running pool is resized into range.
func (s *Stage) SetThreadBounds(minThreads, maxThreads int) error {
	if minThreads < 1 || maxThreads < minThreads {
		return fmt.Errorf("stage %q: invalid thread bounds [%d, %d]", s.name, minThreads, maxThreads)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.boundsMu.Lock()
	s.minMax = [2]int{minThreads, maxThreads}
	s.boundsMu.Unlock()

	if s.State() != StateRunning {
		return nil
	}
	for s.pool.size() < minThreads {
		s.pool.grow(1)
		metrics.RecordResize(s.name, "grow")
	}
	for s.pool.size() > maxThreads {
		s.pool.shrink()
		metrics.RecordResize(s.name, "shrink")
	}
	return nil
}

func (s *Stage) bounds() (int, int) {
	s.boundsMu.Lock()
	defer s.boundsMu.Unlock()
	return s.minMax[0], s.minMax[1]
}

// Stats returns a snapshot.
func (s *Stage) Stats() Stats {
	minT, maxT := s.bounds()
	return Stats{
		Name:                s.name,
		State:               s.State().String(),
		Queue:               s.q.Stats(),
		Workers:             s.pool.size(),
		BusyWorkers:         s.pool.busyCount(),
		MinThreads:          minT,
		MaxThreads:          maxT,
		Processed:           s.processed.Load(),
		FailedBatches:       s.failed.Load(),
		ConsecutiveFailures: s.consecutive.Load(),
	}
}
