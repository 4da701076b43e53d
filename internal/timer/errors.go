// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package timer

import "errors"

var (
	// ErrInvalidDelay is returned for negative delays.
	ErrInvalidDelay = errors.New("invalid timer delay")

	// ErrNilSink is returned when an event has no delivery target.
	ErrNilSink = errors.New("timer sink is nil")

	// ErrTimerStopped is returned when registering on a stopped timer.
	ErrTimerStopped = errors.New("timer stopped")
)
