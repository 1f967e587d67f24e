// Package telemetry wires OpenTelemetry tracing and metrics for the
// service, following the same enable-by-config, no-op-by-default shape the
// teacher repository uses for its own observability setup.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config holds OpenTelemetry settings, sourced from environment variables
// rather than a config file (see internal/config).
type Config struct {
	Enabled     bool
	Endpoint    string
	Insecure    bool
	ServiceName string
}

// Meters collects the instruments the rest of the service records against.
type Meters struct {
	IngestRunsTotal     metric.Int64Counter
	IngestMessagesTotal metric.Int64Counter
	SearchRequestsTotal metric.Int64Counter
	SearchLatencyMillis metric.Float64Histogram
	UpstreamRetries     metric.Int64Counter
}

// Setup initializes tracing and metrics when cfg.Enabled and cfg.Endpoint
// are both set; otherwise it returns no-op providers and a no-op shutdown so
// callers can instrument unconditionally. The exporter is OTLP-over-HTTP,
// matching this service's direct otlptracehttp dependency.
func Setup(ctx context.Context, cfg Config) (*Meters, func(context.Context) error, error) {
	if !cfg.Enabled || cfg.Endpoint == "" {
		return noopMeters(), func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, nil, err
	}

	traceOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
	}
	traceExporter, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)

	meters, err := newMeters(mp.Meter(cfg.ServiceName))
	if err != nil {
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			return err
		}
		return mp.Shutdown(ctx)
	}
	return meters, shutdown, nil
}

func newMeters(m metric.Meter) (*Meters, error) {
	ingestRuns, err := m.Int64Counter("ingest_runs_total")
	if err != nil {
		return nil, err
	}
	ingestMessages, err := m.Int64Counter("ingest_messages_total")
	if err != nil {
		return nil, err
	}
	searchRequests, err := m.Int64Counter("search_requests_total")
	if err != nil {
		return nil, err
	}
	searchLatency, err := m.Float64Histogram("search_latency_milliseconds")
	if err != nil {
		return nil, err
	}
	upstreamRetries, err := m.Int64Counter("upstream_retries_total")
	if err != nil {
		return nil, err
	}
	return &Meters{
		IngestRunsTotal:     ingestRuns,
		IngestMessagesTotal: ingestMessages,
		SearchRequestsTotal: searchRequests,
		SearchLatencyMillis: searchLatency,
		UpstreamRetries:     upstreamRetries,
	}, nil
}

func noopMeters() *Meters {
	m := otel.GetMeterProvider().Meter("noop")
	meters, _ := newMeters(m)
	return meters
}
