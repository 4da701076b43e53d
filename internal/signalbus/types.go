// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package signalbus

// Type identifies a kind of signal. Every type names its parent when it is
// created, so the ancestor chain is fixed and known without reflection.
type Type struct {
	name   string
	parent *Type
}

// NewType declares a signal type. parent may be nil for a root type.
func NewType(name string, parent *Type) *Type {
	return &Type{name: name, parent: parent}
}

// Name returns the type name.
func (t *Type) Name() string {
	if t == nil {
		return ""
	}
	return t.name
}

// Parent returns the supertype or nil.
func (t *Type) Parent() *Type {
	if t == nil {
		return nil
	}
	return t.parent
}

// Ancestors returns the chain from t up to its root, t first.
func (t *Type) Ancestors() []*Type {
	var chain []*Type
	for cur := t; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	return chain
}

// IsA reports whether t is other or descends from it.
func (t *Type) IsA(other *Type) bool {
	for cur := t; cur != nil; cur = cur.parent {
		if cur == other {
			return true
		}
	}
	return false
}

// String implements fmt.Stringer.
func (t *Type) String() string {
	return t.Name()
}

// Signal is a typed notification.
type Signal interface {
	SignalType() *Type
}

// Built-in hierarchy.
var (
	Any               = NewType("any", nil)
	Lifecycle         = NewType("lifecycle", Any)
	StagesInitialized = NewType("lifecycle.stages_initialized", Lifecycle)
	StageStarted      = NewType("lifecycle.stage_started", Lifecycle)
	StageDestroyed    = NewType("lifecycle.stage_destroyed", Lifecycle)
	EngineStopping    = NewType("lifecycle.engine_stopping", Lifecycle)
	Control           = NewType("control", Any)
	HandlerFailing    = NewType("control.handler_failing", Control)
)

// Basic is a signal carrying only a type and an optional message.
type Basic struct {
	Type    *Type
	Message string
}

// SignalType implements Signal.
func (b Basic) SignalType() *Type { return b.Type }

// StageSignal reports something about one stage.
type StageSignal struct {
	Type  *Type
	Stage string
}

// SignalType implements Signal.
func (s StageSignal) SignalType() *Type { return s.Type }

// HandlerFailingSignal is fired when a stage handler keeps failing.
type HandlerFailingSignal struct {
	Stage               string
	ConsecutiveFailures int
	Err                 error
}

// SignalType implements Signal.
func (HandlerFailingSignal) SignalType() *Type { return HandlerFailing }
