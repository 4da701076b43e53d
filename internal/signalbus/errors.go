// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package signalbus

import "errors"

var (
	// ErrDuplicateHandler is returned when a handler is registered twice for the same type.
	ErrDuplicateHandler = errors.New("handler already registered")

	// ErrUncomparableHandler is returned when a handler's dynamic type cannot be compared.
	ErrUncomparableHandler = errors.New("handler type is not comparable")

	// ErrNotRegistered is returned when deregistering an unknown handler.
	ErrNotRegistered = errors.New("handler not registered")

	// ErrBusStopped is returned when firing on a stopped bus.
	ErrBusStopped = errors.New("signal bus stopped")

	// ErrNilSignal is returned when firing nil or a signal without a type.
	ErrNilSignal = errors.New("signal is nil")
)
