package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the murmur tracer.
const tracerName = "github.com/MrWong99/murmur"

// Span attribute keys shared by the simulation packages.
const (
	AttrSessionID = attribute.Key("murmur.session_id")
	AttrStage     = attribute.Key("murmur.stage")
	AttrNPCID     = attribute.Key("murmur.npc_id")
	AttrTick      = attribute.Key("murmur.tick")
)

// Tracer returns the package-level [trace.Tracer] for murmur. It uses the
// globally registered [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartStage starts the span of one simulation stage. The span is named
// "stage <name>" and carries the stage and tick attributes.
func StartStage(ctx context.Context, stage string, tick int64) (context.Context, trace.Span) {
	return StartSpan(ctx, "stage "+stage,
		trace.WithAttributes(AttrStage.String(stage), AttrTick.Int64(tick)),
	)
}

// CorrelationID extracts the trace ID from the OTel span context in ctx.
// Returns the empty string when no active span with a valid trace ID exists.
// The API echoes it in the X-Correlation-ID header.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns an [slog.Logger] enriched with trace_id and span_id from
// the OTel span context in ctx. When no active span is present, the returned
// logger is the default slog logger without extra attributes.
func Logger(ctx context.Context) *slog.Logger {
	return LoggerFrom(ctx, slog.Default())
}

// LoggerFrom is [Logger] with an explicit base logger. A nil base selects
// the default logger.
func LoggerFrom(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return base.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return base
}
