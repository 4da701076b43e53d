// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/stageflow/internal/log"
)

// Environment variables recognised by the loader.
const (
	EnvLogLevel        = "STAGEFLOW_LOG_LEVEL"
	EnvAdminAddr       = "STAGEFLOW_ADMIN_ADDR"
	EnvDefaultCapacity = "STAGEFLOW_DEFAULT_CAPACITY"
	EnvShutdownTimeout = "STAGEFLOW_SHUTDOWN_TIMEOUT"

	// EnvConfigPath is read by the daemon when --config is not given.
	EnvConfigPath = "STAGEFLOW_CONFIG"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ParseString reads a string from environment variable or returns default value.
func ParseString(key, defaultValue string) string {
	return parseString(os.LookupEnv, log.WithComponent("config"), key, defaultValue)
}

// ParseInt reads an integer from environment variable or returns default value.
// It falls back to default on parse errors.
func ParseInt(key string, defaultValue int) int {
	return parseInt(os.LookupEnv, log.WithComponent("config"), key, defaultValue)
}

// ParseDuration reads a duration in Go duration format (e.g. "5s").
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	return parseDuration(os.LookupEnv, log.WithComponent("config"), key, defaultValue)
}

func parseString(lookup LookupFunc, logger zerolog.Logger, key, defaultValue string) string {
	v, ok := lookup(key)
	if !ok || v == "" {
		return defaultValue
	}
	logger.Debug().
		Str("key", key).
		Str("value", v).
		Str("source", "environment").
		Msg("using environment variable")
	return v
}

func parseInt(lookup LookupFunc, logger zerolog.Logger, key string, defaultValue int) int {
	v, ok := lookup(key)
	if !ok || v == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Int("default", defaultValue).
			Msg("invalid integer in environment variable, using default")
		return defaultValue
	}
	logger.Debug().
		Str("key", key).
		Int("value", i).
		Str("source", "environment").
		Msg("using environment variable")
	return i
}

func parseDuration(lookup LookupFunc, logger zerolog.Logger, key string, defaultValue time.Duration) time.Duration {
	v, ok := lookup(key)
	if !ok || v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Dur("default", defaultValue).
			Msg("invalid duration in environment variable, using default")
		return defaultValue
	}
	logger.Debug().
		Str("key", key).
		Dur("value", d).
		Str("source", "environment").
		Msg("using environment variable")
	return d
}
