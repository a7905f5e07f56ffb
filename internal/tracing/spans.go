package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

var noopTracer = noop.NewTracerProvider().Tracer("noop")

// Span attribute keys.
const (
	AttrBoxID      = "box.id"
	AttrUnitID     = "unit.id"
	AttrPartNumber = "part.number"
	AttrProjectID  = "project.id"
	AttrStage      = "unit.stage"
	AttrQuantity   = "unit.quantity"
	AttrAttempt    = "allocation.attempt"
	AttrFileName   = "import.file"
)

// Span names.
const (
	SpanAllocate       = "allocator.allocate"
	SpanAllocateMany   = "allocator.allocate_many"
	SpanRelease        = "allocator.release"
	SpanTransition     = "lifecycle.transition"
	SpanRegister       = "production.register"
	SpanImport         = "production.import"
	SpanImportFile     = "production.import_file"
	SpanReportDefect   = "production.report_defect"
	SpanReserveLabels  = "allocator.reserve_labels"
	EventConflictRetry = "allocation.conflict"
)

// Start opens a span. A nil tracer yields a non-recording span.
func Start(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if tracer == nil {
		tracer = noopTracer
	}
	return tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// End records err on the span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
