package observe

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// ProviderConfig configures the telemetry pipeline of a murmur process.
type ProviderConfig struct {
	// ServiceName is reported as service.name. Default: "murmur".
	ServiceName string

	// ServiceVersion is reported as service.version.
	ServiceVersion string

	// TraceExporter receives finished tick and stage spans. When nil, spans
	// are still created so log lines carry trace IDs, but nothing leaves the
	// process.
	TraceExporter sdktrace.SpanExporter

	// Registerer receives the murmur_* Prometheus collectors served on
	// /metrics. Default: prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// Telemetry is the installed pipeline. Its Metrics are bound to the
// Prometheus-backed meter provider rather than the global one.
type Telemetry struct {
	Metrics *Metrics

	shutdown []func(context.Context) error
}

// InitProvider builds the meter and tracer providers, installs them as the
// OTel globals and creates the murmur instruments on them. Call
// [Telemetry.Shutdown] before exit to flush pending spans.
func InitProvider(ctx context.Context, cfg ProviderConfig) (*Telemetry, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "murmur"
	}
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.DefaultRegisterer
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	exp, err := promexporter.New(promexporter.WithRegisterer(cfg.Registerer))
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exp),
	)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	tel := &Telemetry{shutdown: []func(context.Context) error{mp.Shutdown, tp.Shutdown}}
	if tel.Metrics, err = NewMetrics(mp); err != nil {
		return nil, errors.Join(fmt.Errorf("observe: create instruments: %w", err), tel.Shutdown(ctx))
	}

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)
	return tel, nil
}

// Shutdown flushes and stops both providers. Errors of each are joined.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range t.shutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
