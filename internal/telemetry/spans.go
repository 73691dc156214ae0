// Package telemetry starts OpenTelemetry spans around batch processing.
// Spans go to the globally registered tracer provider, which is a no-op
// until the host process installs one.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "gatekeeper"

// StartBatchSpan starts a span for one batch.
func StartBatchSpan(ctx context.Context, batchID string, operations, maxPasses int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "batch",
		trace.WithAttributes(
			attribute.String("batch.id", batchID),
			attribute.Int("batch.operations", operations),
			attribute.Int("batch.max_passes", maxPasses),
		),
	)
}

// StartPassSpan starts a span for one processing pass within a batch.
func StartPassSpan(ctx context.Context, pass int, threshold float64, queued int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "pass",
		trace.WithAttributes(
			attribute.Int("pass.number", pass),
			attribute.Float64("pass.threshold", threshold),
			attribute.Int("pass.queued", queued),
		),
	)
}

// StartOperationSpan starts a span for executing one operation.
func StartOperationSpan(ctx context.Context, envelopeID, operation string, confidence float64) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "operation",
		trace.WithAttributes(
			attribute.String("envelope.id", envelopeID),
			attribute.String("operation.name", operation),
			attribute.Float64("operation.confidence", confidence),
		),
	)
}

// EndSpan records the final status and ends span. A nil err marks success.
func EndSpan(span trace.Span, status string, err error) {
	span.SetAttributes(attribute.String("status", status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, status)
	}
	span.End()
}
