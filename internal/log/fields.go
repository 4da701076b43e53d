// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldEngineID      = "engine_id"
	FieldCorrelationID = "correlation_id"
	FieldTimerID       = "timer_id"

	// Engine fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldStage     = "stage"
	FieldQueue     = "queue"
	FieldSignal    = "signal"
	FieldHandler   = "handler"
	FieldBatchSize = "batch_size"
	FieldWorkers   = "workers"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path fields
	FieldPath = "path"
)
