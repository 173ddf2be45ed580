// Package telemetry provides OpenTelemetry instrumentation for the
// monitor and orchestrator: decision counters, a risk-score histogram,
// and evaluation latency. Metric export is Prometheus-based; traces go to
// an OTLP endpoint when one is configured.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/ShirePyDev/runtime-agent-guard/internal/guard"
)

// Config holds telemetry configuration.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
}

// Provider manages the OpenTelemetry providers and the guard metrics.
type Provider struct {
	config         Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter

	decisionCounter metric.Int64Counter
	riskHistogram   metric.Float64Histogram
	evalDuration    metric.Float64Histogram
}

// NewProvider creates a telemetry provider.
func NewProvider(cfg Config) (*Provider, error) {
	ctx := context.Background()

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	p := &Provider{config: cfg}

	// Traces are optional; metrics always export via Prometheus.
	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.OTLPEndpoint != "" {
		exporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("creating OTLP trace exporter: %w", err)
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(exporter))
	}
	p.tracerProvider = sdktrace.NewTracerProvider(traceOpts...)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExporter),
	)
	otel.SetMeterProvider(p.meterProvider)

	p.tracer = p.tracerProvider.Tracer(cfg.ServiceName)
	p.meter = p.meterProvider.Meter(cfg.ServiceName)

	if err := p.initMetrics(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) initMetrics() error {
	var err error

	p.decisionCounter, err = p.meter.Int64Counter(
		"guard.decisions",
		metric.WithDescription("Monitor decisions by tool and verdict"),
	)
	if err != nil {
		return fmt.Errorf("creating decision counter: %w", err)
	}

	p.riskHistogram, err = p.meter.Float64Histogram(
		"guard.risk_score",
		metric.WithDescription("Risk score distribution of monitor decisions"),
	)
	if err != nil {
		return fmt.Errorf("creating risk histogram: %w", err)
	}

	p.evalDuration, err = p.meter.Float64Histogram(
		"guard.eval_duration_ms",
		metric.WithDescription("Monitor evaluation latency in milliseconds"),
	)
	if err != nil {
		return fmt.Errorf("creating duration histogram: %w", err)
	}
	return nil
}

// Tracer returns the service tracer.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// RecordDecision implements the monitor's DecisionRecorder.
func (p *Provider) RecordDecision(ctx context.Context, tool string, verdict guard.Verdict, risk float64, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("verdict", string(verdict)),
	)
	p.decisionCounter.Add(ctx, 1, attrs)
	p.riskHistogram.Record(ctx, risk, attrs)
	p.evalDuration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
}

// Shutdown flushes and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
