// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import "errors"

var (
	// ErrDuplicateStage is returned when a stage name is already registered.
	ErrDuplicateStage = errors.New("stage already exists")

	// ErrStageNotFound is returned for lookups of unknown stages.
	ErrStageNotFound = errors.New("stage not found")

	// ErrEngineStopped is returned when creating stages on a stopped engine.
	ErrEngineStopped = errors.New("engine stopped")

	// ErrUnknownHandler is returned by a Registry for an unregistered handler kind.
	ErrUnknownHandler = errors.New("unknown handler kind")
)
