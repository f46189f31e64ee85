// ABOUTME: OpenTelemetry SDK backed implementation of the Telemetry interface
// ABOUTME: Wires meter and tracer providers to stdout exporters or an injected metric reader

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/KevoDB/lsmcore"

// Option configures the SDK provider
type Option func(*providerOptions)

type providerOptions struct {
	reader sdkmetric.Reader
	output io.Writer
}

// WithMetricReader replaces the stdout metric exporter with the given reader.
// Tests use it with sdkmetric.NewManualReader to collect recorded values.
func WithMetricReader(reader sdkmetric.Reader) Option {
	return func(o *providerOptions) {
		o.reader = reader
	}
}

// WithOutput sets where the stdout exporters write to
func WithOutput(w io.Writer) Option {
	return func(o *providerOptions) {
		o.output = w
	}
}

// provider implements Telemetry on top of the OpenTelemetry SDK
type provider struct {
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	metrics        *metricsServer // nil unless prometheus is enabled
	meter          metric.Meter
	tracer         trace.Tracer

	mu         sync.RWMutex
	histograms map[string]metric.Float64Histogram
	counters   map[string]metric.Int64Counter

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a Telemetry instance from the configuration. A disabled
// configuration yields the no-op implementation.
func New(cfg Config, opts ...Option) (Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}
	if !cfg.Enabled {
		return NewNoop(), nil
	}

	options := providerOptions{output: os.Stdout}
	for _, opt := range opts {
		opt(&options)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	readers, metrics, err := createMetricReaders(cfg, options)
	if err != nil {
		return nil, err
	}

	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, reader := range readers {
		meterOpts = append(meterOpts, sdkmetric.WithReader(reader))
	}
	meterProvider := sdkmetric.NewMeterProvider(meterOpts...)

	spanExporters, err := createTraceExporters(cfg, options.output)
	if err != nil {
		_ = meterProvider.Shutdown(context.Background())
		if metrics != nil {
			_ = metrics.shutdown(context.Background())
		}
		return nil, err
	}

	traceOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	}
	for _, exporter := range spanExporters {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(cfg.BatchTimeout)))
	}
	tracerProvider := sdktrace.NewTracerProvider(traceOpts...)

	return &provider{
		meterProvider:  meterProvider,
		tracerProvider: tracerProvider,
		metrics:        metrics,
		meter:          meterProvider.Meter(instrumentationName),
		tracer:         tracerProvider.Tracer(instrumentationName),
		histograms:     make(map[string]metric.Float64Histogram),
		counters:       make(map[string]metric.Int64Counter),
	}, nil
}

func (p *provider) histogram(name string) (metric.Float64Histogram, error) {
	p.mu.RLock()
	h, ok := p.histograms[name]
	p.mu.RUnlock()
	if ok {
		return h, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.histograms[name]; ok {
		return h, nil
	}
	h, err := p.meter.Float64Histogram(name)
	if err != nil {
		return nil, err
	}
	p.histograms[name] = h
	return h, nil
}

func (p *provider) counter(name string) (metric.Int64Counter, error) {
	p.mu.RLock()
	c, ok := p.counters[name]
	p.mu.RUnlock()
	if ok {
		return c, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.counters[name]; ok {
		return c, nil
	}
	c, err := p.meter.Int64Counter(name)
	if err != nil {
		return nil, err
	}
	p.counters[name] = c
	return c, nil
}

// RecordHistogram records a value in the named histogram.
// Instrument creation failures are dropped, telemetry never fails an operation.
func (p *provider) RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue) {
	h, err := p.histogram(name)
	if err != nil {
		return
	}
	h.Record(ctx, value, metric.WithAttributes(attrs...))
}

// RecordCounter adds value to the named counter.
func (p *provider) RecordCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue) {
	c, err := p.counter(name)
	if err != nil {
		return
	}
	c.Add(ctx, value, metric.WithAttributes(attrs...))
}

// StartSpan starts a span on the SDK tracer.
func (p *provider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// MetricsAddr returns the address of the Prometheus endpoint, or nil when
// the prometheus exporter is not enabled
func (p *provider) MetricsAddr() net.Addr {
	if p.metrics == nil {
		return nil
	}
	return p.metrics.Addr()
}

// Shutdown flushes and stops both providers. Repeated calls return the first result.
func (p *provider) Shutdown(ctx context.Context) error {
	p.shutdownOnce.Do(func() {
		errs := []error{
			p.tracerProvider.Shutdown(ctx),
			p.meterProvider.Shutdown(ctx),
		}
		if p.metrics != nil {
			errs = append(errs, p.metrics.shutdown(ctx))
		}
		p.shutdownErr = errors.Join(errs...)
	})
	return p.shutdownErr
}
