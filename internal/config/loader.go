// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/ManuGH/stageflow/internal/log"
)

// Loader reads the engine file and applies environment overrides.
type Loader struct {
	path   string
	lookup LookupFunc
	logger zerolog.Logger
}

// NewLoader creates a loader. An empty path yields an engine section built
// from defaults and environment only, with no stages.
func NewLoader(path string) *Loader {
	return &Loader{
		path:   path,
		lookup: os.LookupEnv,
		logger: log.WithComponent("config"),
	}
}

// WithLookup replaces the environment source.
func (l *Loader) WithLookup(fn LookupFunc) *Loader {
	if fn != nil {
		l.lookup = fn
	}
	return l
}

// Path returns the configured file path.
func (l *Loader) Path() string {
	return l.path
}

// Load parses, overrides and validates.
func (l *Loader) Load() (File, error) {
	var f File
	if l.path != "" {
		parsed, err := l.loadFile(l.path)
		if err != nil {
			return File{}, err
		}
		f = *parsed
	}

	l.applyEnv(&f)
	applyDefaults(&f)

	if err := Validate(f); err != nil {
		return File{}, err
	}

	l.logger.Debug().
		Str(log.FieldPath, l.path).
		Int("stages", len(f.Stages)).
		Msg("configuration loaded")
	return f, nil
}

// loadFile loads configuration from a YAML file with STRICT parsing.
func (l *Loader) loadFile(path string) (*File, error) {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a single YAML document, rejecting unknown fields.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &File{}, nil
		}
		if strings.Contains(err.Error(), "not found in type") {
			return nil, fmt.Errorf("strict config parse error: %w: %v", ErrUnknownConfigField, err)
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return &f, nil
}

func (l *Loader) applyEnv(f *File) {
	f.Engine.LogLevel = parseString(l.lookup, l.logger, EnvLogLevel, f.Engine.LogLevel)
	f.Engine.AdminAddr = parseString(l.lookup, l.logger, EnvAdminAddr, f.Engine.AdminAddr)
	f.Engine.ShutdownTimeout = parseDuration(l.lookup, l.logger, EnvShutdownTimeout, f.Engine.ShutdownTimeout)

	if _, ok := l.lookup(EnvDefaultCapacity); ok {
		current := -1
		if f.Engine.DefaultCapacity != nil {
			current = *f.Engine.DefaultCapacity
		}
		v := parseInt(l.lookup, l.logger, EnvDefaultCapacity, current)
		f.Engine.DefaultCapacity = &v
	}
}

func applyDefaults(f *File) {
	if f.Engine.LogLevel == "" {
		f.Engine.LogLevel = DefaultLogLevel
	}
	if f.Engine.AdminAddr == "" {
		f.Engine.AdminAddr = DefaultAdminAddr
	}
	if f.Engine.ShutdownTimeout <= 0 {
		f.Engine.ShutdownTimeout = DefaultShutdownTimeout
	}
}

// Validate checks structural rules and reports every violation at once.
func Validate(f File) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c := f.Engine.DefaultCapacity; c != nil && *c < -1 {
		add("engine.defaultCapacity: must be >= -1 (got %d)", *c)
	}
	switch f.Engine.Tracing.Exporter {
	case "", "grpc", "http":
	default:
		add("engine.tracing.exporter: unsupported %q (grpc, http)", f.Engine.Tracing.Exporter)
	}
	if r := f.Engine.Tracing.SamplingRate; r < 0 || r > 1 {
		add("engine.tracing.samplingRate: must be within [0, 1] (got %v)", r)
	}

	seen := make(map[string]struct{}, len(f.Stages))
	for i, s := range f.Stages {
		where := fmt.Sprintf("stages[%d]", i)
		if s.Name == "" {
			add("%s.name: required", where)
		} else {
			where = fmt.Sprintf("stages[%s]", s.Name)
			if _, dup := seen[s.Name]; dup {
				add("%s: duplicate stage name", where)
			}
			seen[s.Name] = struct{}{}
		}
		if s.Handler == "" {
			add("%s.handler: required", where)
		}
		if c := s.QueueCapacity; c != nil && *c < -1 {
			add("%s.queueCapacity: must be >= -1 (got %d)", where, *c)
		}
		if s.Threshold < 0 {
			add("%s.threshold: must be >= 0", where)
		}
		if s.RateLimit != nil && s.RateLimit.Depth < 1 {
			add("%s.rateLimit.depth: must be >= 1", where)
		}
		if s.MinThreads < 0 || s.MaxThreads < 0 {
			add("%s: thread bounds must be >= 0", where)
		}
		if s.MaxThreads > 0 && s.MinThreads > s.MaxThreads {
			add("%s: minThreads (%d) exceeds maxThreads (%d)", where, s.MinThreads, s.MaxThreads)
		}
		if s.BatchSize < 0 {
			add("%s.batchSize: must be >= 0", where)
		}
		if s.PollTimeout < 0 || s.JoinTimeout < 0 {
			add("%s: timeouts must be >= 0", where)
		}
		if s.FailureThreshold < 0 {
			add("%s.failureThreshold: must be >= 0", where)
		}
		if g := s.Governor; g != nil && (g.SampleInterval < 0 || g.Cooldown < 0 || g.GrowDepth < 0) {
			add("%s.governor: values must be >= 0", where)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}
