// Package observability provides OpenTelemetry tracing and metrics for the
// governance daemon: OTLP export over gRPC, plus domain counters fed from
// the event bus.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/kara-bolt/karadao/pkg/events"
)

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string  // e.g. "localhost:4317"
	SampleRate     float64 // 0.0 to 1.0
	BatchTimeout   time.Duration
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns development defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "karadao",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        true,
		Insecure:       true,
	}
}

// Provider manages the trace and metric providers plus the governance
// domain counters.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	proposals  metric.Int64Counter
	votes      metric.Int64Counter
	executions metric.Int64Counter
	breakers   metric.Int64Counter
	slashes    metric.Int64Counter
}

// New creates an observability provider. With Enabled false every method is
// a no-op and nothing is exported.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}
	if !config.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init metric provider: %w", err)
	}

	p.tracer = otel.Tracer("karadao",
		trace.WithInstrumentationVersion(config.ServiceVersion))
	p.meter = otel.Meter("karadao",
		metric.WithInstrumentationVersion(config.ServiceVersion))

	if err := p.initCounters(); err != nil {
		return nil, fmt.Errorf("failed to init counters: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initCounters() error {
	var err error
	if p.proposals, err = p.meter.Int64Counter("karadao.proposals.total",
		metric.WithDescription("Proposals submitted"),
		metric.WithUnit("{proposal}")); err != nil {
		return err
	}
	if p.votes, err = p.meter.Int64Counter("karadao.votes.total",
		metric.WithDescription("Votes cast"),
		metric.WithUnit("{vote}")); err != nil {
		return err
	}
	if p.executions, err = p.meter.Int64Counter("karadao.executions.total",
		metric.WithDescription("Executions confirmed"),
		metric.WithUnit("{execution}")); err != nil {
		return err
	}
	if p.breakers, err = p.meter.Int64Counter("karadao.breaker_trips.total",
		metric.WithDescription("Circuit breaker trips and signals"),
		metric.WithUnit("{trip}")); err != nil {
		return err
	}
	if p.slashes, err = p.meter.Int64Counter("karadao.slashes.total",
		metric.WithDescription("Slashing actions"),
		metric.WithUnit("{slash}")); err != nil {
		return err
	}
	return nil
}

// Tracer returns the karadao tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer("karadao")
	}
	return p.tracer
}

// EventHandler returns a bus subscriber translating lifecycle events into
// counter increments.
func (p *Provider) EventHandler() events.Handler {
	return func(ev events.Event) {
		if !p.config.Enabled {
			return
		}
		ctx := context.Background()
		attrs := metric.WithAttributes(attribute.String("event", string(ev.Type)))
		switch ev.Type {
		case events.TypeProposalSubmitted:
			p.proposals.Add(ctx, 1, attrs)
		case events.TypeVoteCast:
			p.votes.Add(ctx, 1, attrs)
		case events.TypeExecutionDone, events.TypeExecutionForced:
			p.executions.Add(ctx, 1, attrs)
		case events.TypeBreakerTripped, events.TypeBreakerSignal:
			p.breakers.Add(ctx, 1, attrs)
		case events.TypeSlashCreated:
			p.slashes.Add(ctx, 1, attrs)
		}
	}
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if !p.config.Enabled {
		return nil
	}
	var firstErr error
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
