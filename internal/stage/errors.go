// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package stage

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is returned for a lifecycle call that does not match the current state.
	ErrInvalidState = errors.New("invalid stage state")

	// ErrJoinTimeout is returned when workers do not exit within the join timeout.
	ErrJoinTimeout = errors.New("worker join timed out")

	// ErrInitFailed wraps a handler Init error.
	ErrInitFailed = errors.New("handler init failed")
)

// HandlerError describes one failed handler invocation. It is logged and
// counted; the worker that hit it keeps running.
type HandlerError struct {
	Stage     string
	BatchSize int
	Panicked  bool
	Err       error
}

func (e *HandlerError) Error() string {
	kind := "failed"
	if e.Panicked {
		kind = "panicked"
	}
	return fmt.Sprintf("stage %q: handler %s on batch of %d: %v", e.Stage, kind, e.BatchSize, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

func invalidState(op string, from State) error {
	return fmt.Errorf("%s from %s: %w", op, from, ErrInvalidState)
}
