// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// File is the engine description document.
//
//	engine:
//	  logLevel: info
//	  adminAddr: ":9090"
//	stages:
//	  - name: ingest
//	    handler: forward
//	    queueCapacity: 128
//	    rateLimit: {targetRate: 50, depth: 10}
//	    options: {target: sink}
type File struct {
	Engine EngineFile  `yaml:"engine"`
	Stages []StageFile `yaml:"stages"`
}

// EngineFile holds process-wide settings.
type EngineFile struct {
	LogLevel        string        `yaml:"logLevel"`
	AdminAddr       string        `yaml:"adminAddr"`
	DefaultCapacity *int          `yaml:"defaultCapacity"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	Tracing         TracingFile   `yaml:"tracing"`
}

// TracingFile configures the OpenTelemetry exporter.
type TracingFile struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// StageFile describes one stage. Zero values mean "use the engine default".
type StageFile struct {
	Name             string         `yaml:"name"`
	Handler          string         `yaml:"handler"`
	// QueueCapacity: unset takes engine.defaultCapacity, -1 is unbounded, 0 closes intake.
	QueueCapacity    *int           `yaml:"queueCapacity"`
	Threshold        int            `yaml:"threshold"`
	RateLimit        *RateLimitFile `yaml:"rateLimit"`
	MinThreads       int            `yaml:"minThreads"`
	MaxThreads       int            `yaml:"maxThreads"`
	BatchSize        int            `yaml:"batchSize"`
	PollTimeout      time.Duration  `yaml:"pollTimeout"`
	JoinTimeout      time.Duration  `yaml:"joinTimeout"`
	FailureThreshold int            `yaml:"failureThreshold"`
	Governor         *GovernorFile  `yaml:"governor"`
	Options          Options        `yaml:"options"`
}

// RateLimitFile configures a token bucket. A negative targetRate is unlimited.
type RateLimitFile struct {
	TargetRate float64 `yaml:"targetRate"`
	Depth      int     `yaml:"depth"`
}

// GovernorFile configures pool sizing.
type GovernorFile struct {
	Enabled        bool          `yaml:"enabled"`
	SampleInterval time.Duration `yaml:"sampleInterval"`
	Cooldown       time.Duration `yaml:"cooldown"`
	GrowDepth      int           `yaml:"growDepth"`
}

// Defaults applied by the loader to the engine section.
const (
	DefaultLogLevel        = "info"
	DefaultAdminAddr       = ":9090"
	DefaultShutdownTimeout = 10 * time.Second
)

// Stage returns the stage named name.
func (f File) Stage(name string) (StageFile, bool) {
	for _, s := range f.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return StageFile{}, false
}

// ChangedStages lists stages present in both files whose runtime tunables
// (capacity, threshold, rate limit, thread bounds) differ.
func ChangedStages(old, cur File) []string {
	var out []string
	for _, s := range cur.Stages {
		prev, ok := old.Stage(s.Name)
		if !ok {
			continue
		}
		if !tunablesEqual(prev, s) {
			out = append(out, s.Name)
		}
	}
	return out
}

func tunablesEqual(a, b StageFile) bool {
	if !intPtrEqual(a.QueueCapacity, b.QueueCapacity) {
		return false
	}
	if a.Threshold != b.Threshold || a.MinThreads != b.MinThreads || a.MaxThreads != b.MaxThreads {
		return false
	}
	switch {
	case a.RateLimit == nil && b.RateLimit == nil:
		return true
	case a.RateLimit == nil || b.RateLimit == nil:
		return false
	default:
		return *a.RateLimit == *b.RateLimit
	}
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
