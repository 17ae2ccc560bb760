// Package telemetry instruments seal duration, difficulty-adjustment
// events, and anchor round-trips with OpenTelemetry, without changing
// the single-threaded cooperative contract of spec.md §5. It is
// grounded on the teacher's core/pkg/observability/observability.go
// Provider (OTLP trace/metric exporters, RED-style counters), trimmed
// to the handful of spans and counters BitQuill's own components emit
// rather than HELM's general-purpose RED middleware.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the telemetry Provider. A zero Config (Enabled
// false) yields a fully functional no-op Provider, since telemetry is
// an ambient concern a host may simply not wire up.
type Config struct {
	ServiceName    string
	ServiceVersion string
	OTLPEndpoint   string
	Insecure       bool
	Enabled        bool
}

// DefaultConfig mirrors observability.DefaultConfig's defaults, renamed
// to BitQuill's own service identity.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "bitquill-engine",
		ServiceVersion: "1.0.0",
		OTLPEndpoint:   "localhost:4317",
		Insecure:       true,
		Enabled:        false,
	}
}

// Provider wraps the tracer/meter pair and the instruments BitQuill's
// components emit: seal duration, difficulty adjustments, anchor
// round-trips.
type Provider struct {
	cfg Config

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter

	sealDuration     metric.Float64Histogram
	sealCount        metric.Int64Counter
	difficultyGauge  metric.Int64UpDownCounter
	anchorRoundTrips metric.Int64Counter
	anchorErrors     metric.Int64Counter
}

// New constructs a Provider. When cfg.Enabled is false, it returns a
// Provider whose Tracer/Meter are the global no-op implementations, so
// callers never need to branch on whether telemetry is wired.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	p := &Provider{cfg: cfg}
	if !cfg.Enabled {
		p.tracer = otel.Tracer(cfg.ServiceName)
		p.meter = otel.Meter(cfg.ServiceName)
		return p, p.initInstruments()
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource merge failed: %w", err)
	}

	if err := p.initTracing(ctx, res); err != nil {
		return nil, err
	}
	if err := p.initMetrics(ctx, res); err != nil {
		return nil, err
	}

	p.tracer = otel.Tracer(cfg.ServiceName, trace.WithInstrumentationVersion(cfg.ServiceVersion))
	p.meter = otel.Meter(cfg.ServiceName, metric.WithInstrumentationVersion(cfg.ServiceVersion))

	return p, p.initInstruments()
}

func (p *Provider) initTracing(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.cfg.OTLPEndpoint)}
	if p.cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("telemetry: trace exporter init failed: %w", err)
	}
	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
	)
	otel.SetTracerProvider(p.tracerProvider)
	return nil
}

func (p *Provider) initMetrics(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.cfg.OTLPEndpoint)}
	if p.cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("telemetry: metric exporter init failed: %w", err)
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initInstruments() error {
	var err error
	p.sealDuration, err = p.meter.Float64Histogram("bitquill.pow.seal.duration",
		metric.WithDescription("Seconds spent sealing an edit's proof-of-work"),
		metric.WithUnit("s"))
	if err != nil {
		return err
	}
	p.sealCount, err = p.meter.Int64Counter("bitquill.pow.seal.count",
		metric.WithDescription("Number of PoW seals performed"))
	if err != nil {
		return err
	}
	p.difficultyGauge, err = p.meter.Int64UpDownCounter("bitquill.difficulty.current",
		metric.WithDescription("Current PoW difficulty after the last adjustment"))
	if err != nil {
		return err
	}
	p.anchorRoundTrips, err = p.meter.Int64Counter("bitquill.anchor.roundtrips",
		metric.WithDescription("Anchor submit/upgrade round-trips performed"))
	if err != nil {
		return err
	}
	p.anchorErrors, err = p.meter.Int64Counter("bitquill.anchor.errors",
		metric.WithDescription("Anchor round-trips that returned AnchorUnavailable"))
	return err
}

// StartSpan starts a span under the provider's tracer.
func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name)
}

// RecordSeal records a completed PoW seal's elapsed time and difficulty.
func (p *Provider) RecordSeal(ctx context.Context, elapsed time.Duration, difficulty uint8) {
	p.sealDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.Int("difficulty", int(difficulty))))
	p.sealCount.Add(ctx, 1)
}

// RecordDifficultyAdjustment records a difficulty controller tick by
// adding the change from previous to next to the difficulty counter.
func (p *Provider) RecordDifficultyAdjustment(ctx context.Context, previous, next uint8) {
	p.difficultyGauge.Add(ctx, int64(next)-int64(previous))
}

// RecordAnchorRoundTrip records one anchor submit or upgrade call.
func (p *Provider) RecordAnchorRoundTrip(ctx context.Context, failed bool) {
	p.anchorRoundTrips.Add(ctx, 1)
	if failed {
		p.anchorErrors.Add(ctx, 1)
	}
}

// Shutdown flushes and releases the trace/metric providers, a no-op
// when telemetry was never enabled.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("telemetry: tracer shutdown failed: %w", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("telemetry: meter shutdown failed: %w", err)
		}
	}
	return nil
}
