// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/stageflow/internal/config"
	"github.com/ManuGH/stageflow/internal/queue"
	"github.com/ManuGH/stageflow/internal/signalbus"
	"github.com/ManuGH/stageflow/internal/stage"
)

// relay forwards each element to the stage named by the "next" option, or
// records it when there is none.
type relay struct {
	initErr error

	next queue.Sink
	mu   sync.Mutex
	got  []queue.Element
}

func (r *relay) Init(cfg *stage.HandlerConfig) error {
	if r.initErr != nil {
		return r.initErr
	}
	if name := cfg.Options.String("next", ""); name != "" {
		sink, err := cfg.Manager.Sink(name)
		if err != nil {
			return err
		}
		r.next = sink
	}
	return nil
}

func (r *relay) HandleEvent(e queue.Element) error {
	if r.next != nil {
		return r.next.Enqueue(e)
	}
	r.mu.Lock()
	r.got = append(r.got, e)
	r.mu.Unlock()
	return nil
}

func (r *relay) HandleEvents(batch []queue.Element) error {
	return stage.HandleEach(batch, r.HandleEvent)
}

func (r *relay) Destroy() error { return nil }

func (r *relay) received() []queue.Element {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]queue.Element(nil), r.got...)
}

type mapRegistry map[string]func() stage.Handler

func (m mapRegistry) New(kind string) (stage.Handler, error) {
	f, ok := m[kind]
	if !ok {
		return nil, ErrUnknownHandler
	}
	return f(), nil
}

func fastCfg(opts config.Options) stage.Config {
	return stage.Config{PollTimeout: 5 * time.Millisecond, Options: opts}
}

func stopEngine(t *testing.T, e *Engine) {
	t.Helper()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Stop(ctx)
	})
}

func TestEngine_Registry(t *testing.T) {
	e := New()
	stopEngine(t, e)

	s, err := e.CreateStage("a", &relay{}, fastCfg(nil))
	require.NoError(t, err)
	assert.Equal(t, stage.StateCreated, s.State())

	_, err = e.CreateStage("a", &relay{}, fastCfg(nil))
	require.ErrorIs(t, err, ErrDuplicateStage)

	_, err = e.CreateStage("", &relay{}, fastCfg(nil))
	require.Error(t, err)

	got, err := e.GetStage("a")
	require.NoError(t, err)
	assert.Same(t, s, got)

	_, err = e.GetStage("missing")
	require.ErrorIs(t, err, ErrStageNotFound)
	_, err = e.Sink("missing")
	require.ErrorIs(t, err, ErrStageNotFound)

	sink, err := e.Sink("a")
	require.NoError(t, err)
	assert.Equal(t, "a", sink.Name())
}

func TestEngine_StartLaunchesPendingStagesAndForwards(t *testing.T) {
	e := New()
	stopEngine(t, e)

	last := &relay{}
	_, err := e.CreateStage("first", &relay{}, fastCfg(config.Options{"next": "second"}))
	require.NoError(t, err)
	_, err = e.CreateStage("second", last, fastCfg(nil))
	require.NoError(t, err)

	require.NoError(t, e.Start(context.Background()))
	for _, s := range e.Stages() {
		assert.Equal(t, stage.StateRunning, s.State(), s.Name())
	}

	sink, err := e.Sink("first")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, sink.Enqueue(i))
	}
	require.Eventually(t, func() bool { return len(last.received()) == 5 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []queue.Element{0, 1, 2, 3, 4}, last.received())
}

func TestEngine_CreateAfterStart(t *testing.T) {
	e := New()
	stopEngine(t, e)
	require.NoError(t, e.Start(context.Background()))

	s, err := e.CreateStage("late", &relay{}, fastCfg(nil))
	require.NoError(t, err)
	assert.Equal(t, stage.StateRunning, s.State())

	_, err = e.CreateStage("broken", &relay{initErr: errors.New("nope")}, fastCfg(nil))
	require.ErrorIs(t, err, stage.ErrInitFailed)
	_, err = e.GetStage("broken")
	require.ErrorIs(t, err, ErrStageNotFound)
}

func TestEngine_StartReportsInitFailures(t *testing.T) {
	e := New()
	stopEngine(t, e)

	_, err := e.CreateStage("good", &relay{}, fastCfg(nil))
	require.NoError(t, err)
	bad, err := e.CreateStage("bad", &relay{initErr: errors.New("nope")}, fastCfg(nil))
	require.NoError(t, err)

	err = e.Start(context.Background())
	require.ErrorIs(t, err, stage.ErrInitFailed)
	assert.Equal(t, stage.StateCreated, bad.State())

	good, err := e.GetStage("good")
	require.NoError(t, err)
	assert.Equal(t, stage.StateRunning, good.State())
}

func TestEngine_DestroyStage(t *testing.T) {
	e := New()
	stopEngine(t, e)
	require.NoError(t, e.Start(context.Background()))

	s, err := e.CreateStage("temp", &relay{}, fastCfg(nil))
	require.NoError(t, err)
	require.NoError(t, e.DestroyStage(context.Background(), "temp"))
	assert.Equal(t, stage.StateDestroyed, s.State())
	require.ErrorIs(t, e.DestroyStage(context.Background(), "temp"), ErrStageNotFound)
	assert.Empty(t, e.Stages())
}

func TestEngine_BootstrapFiresLifecycleSignals(t *testing.T) {
	e := New()
	stopEngine(t, e)

	var mu sync.Mutex
	var seen []string
	require.NoError(t, e.Signals().Register(signalbus.Lifecycle, signalbus.HandlerFunc(func(sig signalbus.Signal) error {
		mu.Lock()
		seen = append(seen, sig.SignalType().Name())
		mu.Unlock()
		return nil
	})))

	capacity := 3
	f := config.File{Stages: []config.StageFile{
		{Name: "in", Handler: "relay", Options: config.Options{"next": "out"}, PollTimeout: 5 * time.Millisecond},
		{Name: "out", Handler: "relay", QueueCapacity: &capacity, PollTimeout: 5 * time.Millisecond},
	}}
	reg := mapRegistry{"relay": func() stage.Handler { return &relay{} }}
	require.NoError(t, e.Bootstrap(context.Background(), f, reg))

	out, err := e.GetStage("out")
	require.NoError(t, err)
	assert.Equal(t, 3, out.Queue().Capacity())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{
		signalbus.StageStarted.Name(),
		signalbus.StageStarted.Name(),
		signalbus.StagesInitialized.Name(),
	}, seen)
	mu.Unlock()

	require.Error(t, e.Bootstrap(context.Background(), f, reg), "second bootstrap must fail")
}

func TestEngine_BootstrapUnknownHandler(t *testing.T) {
	e := New()
	stopEngine(t, e)
	f := config.File{Stages: []config.StageFile{{Name: "x", Handler: "nope"}}}
	err := e.Bootstrap(context.Background(), f, mapRegistry{})
	require.ErrorIs(t, err, ErrUnknownHandler)
}

func TestEngine_ApplyTunables(t *testing.T) {
	e := New()
	stopEngine(t, e)
	capacity := 2
	f := config.File{Stages: []config.StageFile{{Name: "s", Handler: "relay", QueueCapacity: &capacity}}}
	require.NoError(t, e.Bootstrap(context.Background(), f, mapRegistry{"relay": func() stage.Handler { return &relay{} }}))

	newCap := 10
	f.Stages[0].QueueCapacity = &newCap
	f.Stages[0].MinThreads = 2
	f.Stages[0].MaxThreads = 3
	f.Stages[0].RateLimit = &config.RateLimitFile{TargetRate: 5, Depth: 4}

	require.NoError(t, e.ApplyTunables(f, []string{"s"}))
	s, err := e.GetStage("s")
	require.NoError(t, err)
	st := s.Stats()
	assert.Equal(t, 10, st.Queue.Capacity)
	assert.Equal(t, 2, st.Workers)
	assert.Equal(t, 3, st.MaxThreads)

	require.ErrorIs(t, e.ApplyTunables(f, []string{"ghost"}), ErrStageNotFound)
}

func TestEngine_ApplyTunablesZeroCapacityClosesIntake(t *testing.T) {
	e := New()
	stopEngine(t, e)
	capacity := 4
	f := config.File{Stages: []config.StageFile{{Name: "s", Handler: "relay", QueueCapacity: &capacity}}}
	require.NoError(t, e.Bootstrap(context.Background(), f, mapRegistry{"relay": func() stage.Handler { return &relay{} }}))

	closed := 0
	f.Stages[0].QueueCapacity = &closed
	require.NoError(t, e.ApplyTunables(f, []string{"s"}))

	s, err := e.GetStage("s")
	require.NoError(t, err)
	assert.Equal(t, 0, s.Queue().Capacity())
	require.ErrorIs(t, s.Queue().Enqueue("x"), queue.ErrQueueFull)

	unbounded := queue.Unbounded
	f.Stages[0].QueueCapacity = &unbounded
	require.NoError(t, e.ApplyTunables(f, []string{"s"}))
	assert.Equal(t, queue.Unbounded, s.Queue().Capacity())
}

func TestStageConfig_DefaultCapacity(t *testing.T) {
	cfg := StageConfig(config.StageFile{Name: "a"}, 64)
	require.NotNil(t, cfg.QueueCapacity)
	assert.Equal(t, 64, *cfg.QueueCapacity)

	explicit := 8
	cfg = StageConfig(config.StageFile{Name: "a", QueueCapacity: &explicit, RateLimit: &config.RateLimitFile{TargetRate: 1, Depth: 2}}, 64)
	assert.Equal(t, 8, *cfg.QueueCapacity)

	closed := 0
	cfg = StageConfig(config.StageFile{Name: "a", QueueCapacity: &closed}, 64)
	assert.Equal(t, 0, *cfg.QueueCapacity, "explicit zero is kept")
	require.NotNil(t, cfg.RateLimit)
	assert.Equal(t, 2, cfg.RateLimit.Depth)
}

func TestEngine_StopIsCleanAndFinal(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	e := New()
	_, err := e.CreateStage("a", &relay{}, fastCfg(nil))
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))

	_, err = e.Timer().RegisterEvent(time.Hour, "later", mustSink(t, e, "a"))
	require.NoError(t, err)

	require.NoError(t, e.Stop(context.Background()))
	require.NoError(t, e.Stop(context.Background()))
	assert.Equal(t, 0, e.Timer().Size())

	_, err = e.CreateStage("b", &relay{}, fastCfg(nil))
	require.ErrorIs(t, err, ErrEngineStopped)
	require.ErrorIs(t, e.Start(context.Background()), ErrEngineStopped)
}

func mustSink(t *testing.T, e *Engine, name string) *queue.Queue {
	t.Helper()
	s, err := e.GetStage(name)
	require.NoError(t, err)
	return s.Queue()
}
