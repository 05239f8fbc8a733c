// Package telemetry wires OpenTelemetry metrics and tracing for the service
// and exposes them on a Prometheus endpoint.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	// OTLPEndpoint, when set, also pushes metrics to an OTLP gRPC collector.
	OTLPEndpoint string
}

// Telemetry is safe to use when nil or disabled; every recording method is
// then a no-op.
type Telemetry struct {
	provider *sdkmetric.MeterProvider
	tracer   trace.Tracer
	inst     *instruments
}

func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	readers, err := metricReaders(ctx, cfg)
	if err != nil {
		return nil, err
	}

	opts := make([]sdkmetric.Option, 0, len(readers))
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	provider := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(provider)

	if err := otelruntime.Start(otelruntime.WithMeterProvider(provider)); err != nil {
		return nil, fmt.Errorf("failed to start runtime instrumentation: %w", err)
	}

	meter := provider.Meter(cfg.ServiceName, metric.WithInstrumentationVersion(cfg.ServiceVersion))

	inst, err := newInstruments(meter, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return &Telemetry{
		provider: provider,
		tracer:   otel.Tracer(cfg.ServiceName),
		inst:     inst,
	}, nil
}

// metricReaders returns the Prometheus pull reader and, when configured, an
// OTLP push reader.
func metricReaders(ctx context.Context, cfg Config) ([]sdkmetric.Reader, error) {
	prom, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	readers := []sdkmetric.Reader{prom}

	if cfg.OTLPEndpoint == "" {
		return readers, nil
	}

	otlp, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
	}

	return append(readers, sdkmetric.NewPeriodicReader(otlp)), nil
}

func (t *Telemetry) enabled() bool {
	return t != nil && t.inst != nil
}

// Tracer returns the service tracer, or a no-op tracer when disabled.
func (t *Telemetry) Tracer() trace.Tracer {
	if t == nil || t.tracer == nil {
		return otel.Tracer("")
	}

	return t.tracer
}

// Handler serves the Prometheus scrape endpoint.
func (t *Telemetry) Handler() http.Handler {
	if !t.enabled() {
		return http.NotFoundHandler()
	}

	return promhttp.Handler()
}

// Shutdown flushes pending exports.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}

	return t.provider.Shutdown(ctx)
}
