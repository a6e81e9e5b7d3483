// Package observe provides application-wide observability primitives for
// murmur: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all murmur metrics.
const meterName = "github.com/MrWong99/murmur"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Simulation ---

	// Ticks counts executed ticks. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	Ticks metric.Int64Counter

	// StageVisits counts stage executions. Use with attribute:
	//   attribute.String("stage", ...)
	StageVisits metric.Int64Counter

	// StageDuration tracks per-stage latency.
	StageDuration metric.Float64Histogram

	// RoutingDeadEnds counts ticks aborted by the step cap.
	RoutingDeadEnds metric.Int64Counter

	// QuestTransitions counts quest life-cycle moves. Use with attribute:
	//   attribute.String("transition", "offered"|"accepted"|"declined"|"completed"|"introduced")
	QuestTransitions metric.Int64Counter

	// NPCUtterances counts NPC responses. Use with attribute:
	//   attribute.String("npc_id", ...)
	NPCUtterances metric.Int64Counter

	// --- Memory ---

	// MemoryAppends counts records written to character stores. Use with
	// attributes: attribute.String("npc_id", ...), attribute.String("status", ...)
	MemoryAppends metric.Int64Counter

	// RecallDuration tracks Store.Recall latency including the query embed.
	RecallDuration metric.Float64Histogram

	// RecallResults tracks how many recollections a recall returned.
	RecallResults metric.Int64Histogram

	// --- Providers ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes: attribute.String("provider", ...), attribute.String("kind", ...),
	// attribute.String("state", "closed"|"open"|"half-open")
	BreakerTransitions metric.Int64Counter

	// --- Surfaces ---

	// ToolCalls counts MCP tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// ToolExecutionDuration tracks MCP tool execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// ActiveSessions tracks the number of loaded simulation sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Most
// stages finish in microseconds; stages that call a model take seconds.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 20,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Simulation.
	if met.Ticks, err = m.Int64Counter("murmur.ticks",
		metric.WithDescription("Total simulation ticks by status."),
	); err != nil {
		return nil, err
	}
	if met.StageVisits, err = m.Int64Counter("murmur.stage.visits",
		metric.WithDescription("Total stage executions by stage."),
	); err != nil {
		return nil, err
	}
	if met.StageDuration, err = m.Float64Histogram("murmur.stage.duration",
		metric.WithDescription("Latency of a single stage execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RoutingDeadEnds, err = m.Int64Counter("murmur.routing.dead_ends",
		metric.WithDescription("Ticks aborted because they exceeded the step cap."),
	); err != nil {
		return nil, err
	}
	if met.QuestTransitions, err = m.Int64Counter("murmur.quest.transitions",
		metric.WithDescription("Quest life-cycle transitions by kind."),
	); err != nil {
		return nil, err
	}
	if met.NPCUtterances, err = m.Int64Counter("murmur.npc.utterances",
		metric.WithDescription("Total NPC utterances by NPC ID."),
	); err != nil {
		return nil, err
	}

	// Memory.
	if met.MemoryAppends, err = m.Int64Counter("murmur.memory.appends",
		metric.WithDescription("Records appended to character memory stores."),
	); err != nil {
		return nil, err
	}
	if met.RecallDuration, err = m.Float64Histogram("murmur.recall.duration",
		metric.WithDescription("Latency of memory recall including the query embedding."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecallResults, err = m.Int64Histogram("murmur.recall.results",
		metric.WithDescription("Number of recollections returned per recall."),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 3, 5, 10),
	); err != nil {
		return nil, err
	}

	// Providers.
	if met.ProviderRequests, err = m.Int64Counter("murmur.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("murmur.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("murmur.provider.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by provider, kind, and new state."),
	); err != nil {
		return nil, err
	}

	// Surfaces.
	if met.ToolCalls, err = m.Int64Counter("murmur.mcp.tool_calls",
		metric.WithDescription("Total MCP tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("murmur.mcp.tool.duration",
		metric.WithDescription("Latency of MCP tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("murmur.sessions.active",
		metric.WithDescription("Number of loaded simulation sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("murmur.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTick records a finished tick.
func (m *Metrics) RecordTick(ctx context.Context, status string) {
	m.Ticks.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordStage records one stage execution and its latency.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("stage", stage))
	m.StageVisits.Add(ctx, 1, attrs)
	m.StageDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordDeadEnd records a tick aborted by the step cap.
func (m *Metrics) RecordDeadEnd(ctx context.Context) {
	m.RoutingDeadEnds.Add(ctx, 1)
}

// RecordQuestTransition records a quest life-cycle transition.
func (m *Metrics) RecordQuestTransition(ctx context.Context, transition string) {
	m.QuestTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("transition", transition)))
}

// RecordMemoryAppend records a memory append attempt for npcID.
func (m *Metrics) RecordMemoryAppend(ctx context.Context, npcID, status string) {
	m.MemoryAppends.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("npc_id", npcID),
			attribute.String("status", status),
		),
	)
}

// RecordRecall records the latency and result size of one recall.
func (m *Metrics) RecordRecall(ctx context.Context, d time.Duration, results int) {
	m.RecallDuration.Record(ctx, d.Seconds())
	m.RecallResults.Record(ctx, int64(results))
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordToolCall is a convenience method that records a tool call counter
// increment with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordNPCUtterance is a convenience method that records an NPC utterance
// counter increment.
func (m *Metrics) RecordNPCUtterance(ctx context.Context, npcID string) {
	m.NPCUtterances.Add(ctx, 1,
		metric.WithAttributes(attribute.String("npc_id", npcID)),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordBreakerTransition records a provider's circuit breaker entering state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, kind, state string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("state", state),
		),
	)
}
