// Package telemetry wires the OpenTelemetry trace and metric providers.
//
// Guardian exports spans and metrics through the stdout exporters: traces
// for the per-intent pipeline, periodic metric snapshots for long-running
// workers. When disabled, the global providers stay at their no-op defaults
// and instrumentation costs nothing.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/guardian-hq/guardian"

// metricInterval is how often the periodic reader exports metric snapshots.
const metricInterval = 30 * time.Second

// Provider holds the configured telemetry providers and their shutdown.
type Provider struct {
	tracer         trace.Tracer
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
}

// Setup initializes tracing and metrics for the named service. When enabled
// is false it returns a provider whose tracer is a no-op and whose Shutdown
// does nothing.
func Setup(ctx context.Context, enabled bool, serviceName, version string) (*Provider, error) {
	if !enabled {
		return &Provider{tracer: noop.NewTracerProvider().Tracer(instrumentationName)}, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create telemetry resource: %w", err)
	}

	traceExporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	metricExporter, err := stdoutmetric.New()
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter,
			sdkmetric.WithInterval(metricInterval),
		)),
	)
	otel.SetMeterProvider(mp)

	return &Provider{
		tracer:         tp.Tracer(instrumentationName),
		tracerProvider: tp,
		meterProvider:  mp,
	}, nil
}

// Tracer returns the tracer for pipeline spans.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// Meter returns a meter for OTLP-side instruments. Falls back to the global
// no-op meter provider when telemetry is disabled.
func (p *Provider) Meter() metric.Meter {
	if p.meterProvider == nil {
		return otel.GetMeterProvider().Meter(instrumentationName)
	}
	return p.meterProvider.Meter(instrumentationName)
}

// Shutdown flushes and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer provider: %w", err))
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}
