// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
engine:
  logLevel: debug
  adminAddr: "127.0.0.1:9191"
  defaultCapacity: 256
  shutdownTimeout: 3s
stages:
  - name: ingest
    handler: forward
    queueCapacity: 2
    rateLimit:
      targetRate: 10
      depth: 5
    minThreads: 1
    maxThreads: 4
    batchSize: 8
    pollTimeout: 50ms
    governor:
      enabled: true
      sampleInterval: 200ms
      cooldown: 1s
      growDepth: 4
    options:
      target: "sink"
      delay: "10ms"
  - name: sink
    handler: log
`

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "stageflow.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func noEnv(string) (string, bool) { return "", false }

func TestLoader_LoadFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), sampleConfig)

	f, err := NewLoader(path).WithLookup(noEnv).Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", f.Engine.LogLevel)
	assert.Equal(t, "127.0.0.1:9191", f.Engine.AdminAddr)
	require.NotNil(t, f.Engine.DefaultCapacity)
	assert.Equal(t, 256, *f.Engine.DefaultCapacity)
	assert.Equal(t, 3*time.Second, f.Engine.ShutdownTimeout)

	require.Len(t, f.Stages, 2)
	ingest := f.Stages[0]
	assert.Equal(t, "forward", ingest.Handler)
	require.NotNil(t, ingest.QueueCapacity)
	assert.Equal(t, 2, *ingest.QueueCapacity)
	assert.Equal(t, RateLimitFile{TargetRate: 10, Depth: 5}, *ingest.RateLimit)
	assert.Equal(t, 50*time.Millisecond, ingest.PollTimeout)
	require.NotNil(t, ingest.Governor)
	assert.Equal(t, 200*time.Millisecond, ingest.Governor.SampleInterval)
	assert.Equal(t, "sink", ingest.Options.String("target", ""))
	assert.Equal(t, 10*time.Millisecond, ingest.Options.Duration("delay", 0))

	sink, ok := f.Stage("sink")
	require.True(t, ok)
	assert.Nil(t, sink.QueueCapacity)
}

func TestLoader_DefaultsWithoutFile(t *testing.T) {
	f, err := NewLoader("").WithLookup(noEnv).Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultLogLevel, f.Engine.LogLevel)
	assert.Equal(t, DefaultAdminAddr, f.Engine.AdminAddr)
	assert.Equal(t, DefaultShutdownTimeout, f.Engine.ShutdownTimeout)
	assert.Nil(t, f.Engine.DefaultCapacity)
	assert.Empty(t, f.Stages)
}

func TestLoader_EnvOverrides(t *testing.T) {
	path := writeConfig(t, t.TempDir(), sampleConfig)
	env := map[string]string{
		EnvLogLevel:        "warn",
		EnvAdminAddr:       ":7000",
		EnvDefaultCapacity: "16",
		EnvShutdownTimeout: "not-a-duration",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	f, err := NewLoader(path).WithLookup(lookup).Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", f.Engine.LogLevel)
	assert.Equal(t, ":7000", f.Engine.AdminAddr)
	assert.Equal(t, 16, *f.Engine.DefaultCapacity)
	assert.Equal(t, 3*time.Second, f.Engine.ShutdownTimeout, "invalid env keeps file value")
}

func TestParse_Strict(t *testing.T) {
	t.Run("unknown field", func(t *testing.T) {
		_, err := Parse([]byte("engine:\n  logLevl: info\n"))
		require.Error(t, err)
		if !errors.Is(err, ErrUnknownConfigField) {
			t.Fatalf("expected ErrUnknownConfigField, got: %v", err)
		}
	})
	t.Run("multiple documents", func(t *testing.T) {
		_, err := Parse([]byte("engine: {}\n---\nengine: {}\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "multiple documents")
	})
	t.Run("empty", func(t *testing.T) {
		f, err := Parse(nil)
		require.NoError(t, err)
		assert.Empty(t, f.Stages)
	})
}

func TestLoader_RejectsNonYAMLExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))
	_, err := NewLoader(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported config format")
}

func TestValidate(t *testing.T) {
	neg := -5
	tests := []struct {
		name    string
		file    File
		wantErr []string
	}{
		{
			name: "valid",
			file: File{Stages: []StageFile{{Name: "a", Handler: "log"}}},
		},
		{
			name: "missing name and handler",
			file: File{Stages: []StageFile{{}}},
			wantErr: []string{
				"stages[0].name: required",
				"stages[0].handler: required",
			},
		},
		{
			name: "duplicate",
			file: File{Stages: []StageFile{
				{Name: "a", Handler: "log"},
				{Name: "a", Handler: "log"},
			}},
			wantErr: []string{"stages[a]: duplicate stage name"},
		},
		{
			name: "bounds",
			file: File{Stages: []StageFile{{
				Name: "a", Handler: "log",
				QueueCapacity: &neg,
				MinThreads:    4, MaxThreads: 2,
				RateLimit: &RateLimitFile{TargetRate: 1, Depth: 0},
			}}},
			wantErr: []string{
				"queueCapacity: must be >= -1",
				"minThreads (4) exceeds maxThreads (2)",
				"rateLimit.depth: must be >= 1",
			},
		},
		{
			name:    "tracing",
			file:    File{Engine: EngineFile{Tracing: TracingFile{Exporter: "zipkin", SamplingRate: 2}}},
			wantErr: []string{"unsupported \"zipkin\"", "samplingRate"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.file)
			if len(tt.wantErr) == 0 {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidConfig)
			for _, want := range tt.wantErr {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestChangedStages(t *testing.T) {
	two, three := 2, 3
	old := File{Stages: []StageFile{
		{Name: "a", QueueCapacity: &two},
		{Name: "b", RateLimit: &RateLimitFile{TargetRate: 1, Depth: 1}},
		{Name: "c", MaxThreads: 2},
		{Name: "gone"},
	}}
	cur := File{Stages: []StageFile{
		{Name: "a", QueueCapacity: &three},
		{Name: "b", RateLimit: &RateLimitFile{TargetRate: 1, Depth: 1}},
		{Name: "c", MaxThreads: 4},
		{Name: "new"},
	}}
	assert.Equal(t, []string{"a", "c"}, ChangedStages(old, cur))
}
