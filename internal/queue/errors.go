// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package queue

import "errors"

var (
	// ErrQueueFull is returned when an enqueue would exceed the queue capacity.
	ErrQueueFull = errors.New("queue full")

	// ErrAdmissionDenied is returned when the admission predicate rejects an element.
	ErrAdmissionDenied = errors.New("admission denied")

	// ErrTimeout is returned when a blocking enqueue is not accepted before its deadline.
	ErrTimeout = errors.New("enqueue timed out")

	// ErrInvalidCapacity is returned for capacities below zero other than Unbounded.
	ErrInvalidCapacity = errors.New("invalid queue capacity")
)
