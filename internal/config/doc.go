// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the engine description file, applies environment
// overrides and hands per-stage Options to handlers.
//
// Files:
//   - options.go: flat key/value Options with typed getters
//   - file.go: YAML document model
//   - loader.go: strict YAML parsing, env overrides, validation
//   - env.go: environment variable helpers
//   - reload.go: Holder with fsnotify-driven hot reload
package config
