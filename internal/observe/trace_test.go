package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newTestTracerProvider returns a TracerProvider with an in-memory exporter
// for inspecting recorded spans.
func newTestTracerProvider(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, exp
}

func TestCorrelationID(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}

	tp, _ := newTestTracerProvider(t)
	ctx, span := tp.Tracer("test").Start(context.Background(), "test-span")
	defer span.End()

	cid := CorrelationID(ctx)
	if len(cid) != 32 {
		t.Fatalf("correlation ID length = %d, want 32", len(cid))
	}
	if strings.Trim(cid, "0123456789abcdef") != "" {
		t.Errorf("correlation ID %q is not lowercase hex", cid)
	}
}

func TestStartStage(t *testing.T) {
	tp, exp := newTestTracerProvider(t)
	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	_, span := StartStage(context.Background(), "memory-update", 7)
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name != "stage memory-update" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "stage memory-update")
	}
	var stage string
	var tick int64
	for _, a := range spans[0].Attributes {
		switch a.Key {
		case AttrStage:
			stage = a.Value.AsString()
		case AttrTick:
			tick = a.Value.AsInt64()
		}
	}
	if stage != "memory-update" || tick != 7 {
		t.Errorf("attributes stage=%q tick=%d, want memory-update/7", stage, tick)
	}
}

func TestLoggerFrom(t *testing.T) {
	tp, _ := newTestTracerProvider(t)

	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	LoggerFrom(context.Background(), base).Info("no span")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("log without span contains trace_id: %s", buf.String())
	}

	buf.Reset()
	ctx, span := tp.Tracer("test").Start(context.Background(), "log-test")
	defer span.End()
	LoggerFrom(ctx, base).Info("with span")
	for _, want := range []string{"trace_id=", "span_id="} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("log output missing %s, got: %s", want, buf.String())
		}
	}
}
