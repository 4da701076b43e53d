// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/stageflow/internal/log"
)

// Options is the flat key/value map handed to a stage handler at init.
// Getters never fail: a missing or malformed value yields the default, and a
// malformed one is logged.
type Options map[string]string

// Clone returns an independent copy.
func (o Options) Clone() Options {
	if o == nil {
		return nil
	}
	out := make(Options, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

// Has reports whether key is set.
func (o Options) Has(key string) bool {
	_, ok := o[key]
	return ok
}

// String returns the value for key or def.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		return v
	}
	return def
}

// Int returns the integer value for key or def.
func (o Options) Int(key string, def int) int {
	v, ok := o[key]
	if !ok || v == "" {
		return def
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		o.warn(key, v, "integer")
		return def
	}
	return i
}

// Float returns the float value for key or def.
func (o Options) Float(key string, def float64) float64 {
	v, ok := o[key]
	if !ok || v == "" {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		o.warn(key, v, "float")
		return def
	}
	return f
}

// Bool accepts true/false, 1/0 and yes/no (case-insensitive).
func (o Options) Bool(key string, def bool) bool {
	v, ok := o[key]
	if !ok || v == "" {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		o.warn(key, v, "boolean")
		return def
	}
}

// Duration parses Go duration syntax (e.g. "250ms").
func (o Options) Duration(key string, def time.Duration) time.Duration {
	v, ok := o[key]
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		o.warn(key, v, "duration")
		return def
	}
	return d
}

func (o Options) warn(key, value, kind string) {
	logger := log.WithComponent("config")
	logger.Warn().
		Str("key", key).
		Str("value", value).
		Str("expected", kind).
		Msg("invalid option value, using default")
}
