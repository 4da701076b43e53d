// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package handlers contains the built-in stage handlers and the registry that
// maps config handler names to them.
package handlers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ManuGH/stageflow/internal/engine"
	"github.com/ManuGH/stageflow/internal/stage"
)

// Factory creates a fresh handler for one stage.
type Factory func() stage.Handler

// Registry maps handler kinds to factories. It satisfies engine.Registry.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

var _ engine.Registry = (*Registry)(nil)

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Builtin returns a registry holding every built-in handler.
func Builtin() *Registry {
	r := NewRegistry()
	r.MustRegister(KindLog, func() stage.Handler { return &Log{} })
	r.MustRegister(KindDiscard, func() stage.Handler { return &Discard{} })
	r.MustRegister(KindForward, func() stage.Handler { return &Forward{} })
	r.MustRegister(KindGenerator, func() stage.Handler { return &Generator{} })
	return r
}

// Register adds a factory. Kinds are unique.
func (r *Registry) Register(kind string, f Factory) error {
	if kind == "" || f == nil {
		return fmt.Errorf("register handler: empty kind or nil factory")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[kind]; exists {
		return fmt.Errorf("register handler %q: already registered", kind)
	}
	r.factories[kind] = f
	return nil
}

// MustRegister is Register for static setup.
func (r *Registry) MustRegister(kind string, f Factory) {
	if err := r.Register(kind, f); err != nil {
		panic(err)
	}
}

// New implements engine.Registry.
func (r *Registry) New(kind string) (stage.Handler, error) {
	r.mu.RLock()
	f, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%q: %w", kind, engine.ErrUnknownHandler)
	}
	return f(), nil
}

// Kinds lists the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
