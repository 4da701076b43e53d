// SPDX-License-Identifier: MIT

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared by engine spans.
const (
	StageNameKey   = "stage.name"
	BatchSizeKey   = "stage.batch_size"
	WorkerIDKey    = "stage.worker_id"
	QueueDepthKey  = "queue.depth"
	SignalTypeKey  = "signal.type"
	ErrorKey       = "error"
	ErrorTypeKey   = "error.type"
	PanicKey       = "handler.panic"
	HandlerKindKey = "handler.kind"
)

// Span names.
const (
	SpanHandleEvent  = "stage.handle_event"
	SpanHandleEvents = "stage.handle_events"
)

// BatchAttributes describes one handler invocation.
func BatchAttributes(stage string, worker, size int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(StageNameKey, stage),
		attribute.Int(WorkerIDKey, worker),
		attribute.Int(BatchSizeKey, size),
	}
}

// ErrorAttributes describes a failed invocation. panicked marks recovered panics.
func ErrorAttributes(err error, panicked bool) []attribute.KeyValue {
	if err == nil {
		return nil
	}
	errType := "handler"
	if panicked {
		errType = "panic"
	}
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errType),
		attribute.Bool(PanicKey, panicked),
	}
}

// StartBatchSpan opens the span wrapping one handler invocation.
func StartBatchSpan(ctx context.Context, tracer trace.Tracer, stage string, worker, size int) (context.Context, trace.Span) {
	name := SpanHandleEvents
	if size == 1 {
		name = SpanHandleEvent
	}
	return tracer.Start(ctx, name, trace.WithAttributes(BatchAttributes(stage, worker, size)...))
}

// EndSpan records err (if any) and ends the span.
func EndSpan(span trace.Span, err error, panicked bool) {
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(ErrorAttributes(err, panicked)...)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
