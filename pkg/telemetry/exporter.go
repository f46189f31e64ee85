// ABOUTME: Exporter factory creating metric readers and span exporters (stdout, Prometheus, OTLP)
// ABOUTME: Owns the HTTP endpoint Prometheus scrapes when that exporter is enabled

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// metricsServer serves a Prometheus registry over HTTP
type metricsServer struct {
	listener net.Listener
	server   *http.Server
}

// createMetricReaders creates one reader per configured metric exporter.
// An injected reader takes the place of the stdout exporter.
func createMetricReaders(cfg Config, options providerOptions) ([]sdkmetric.Reader, *metricsServer, error) {
	var readers []sdkmetric.Reader

	switch {
	case options.reader != nil:
		readers = append(readers, options.reader)
	case cfg.HasExporter("stdout"):
		exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(options.output))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create stdout metric exporter: %w", err)
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.ExportInterval)))
	}

	if !cfg.HasExporter("prometheus") {
		return readers, nil, nil
	}

	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	server, err := startMetricsServer(cfg.PrometheusPort, registry)
	if err != nil {
		exporter.Shutdown(context.Background())
		return nil, nil, err
	}
	return append(readers, exporter), server, nil
}

func startMetricsServer(port int, registry *prometheus.Registry) (*metricsServer, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen for prometheus scrapes: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	s := &metricsServer{
		listener: listener,
		server:   &http.Server{Handler: mux},
	}
	go s.server.Serve(listener)
	return s, nil
}

// Addr returns the address the endpoint listens on
func (s *metricsServer) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *metricsServer) shutdown(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// createTraceExporters creates span exporters based on configuration
func createTraceExporters(cfg Config, out io.Writer) ([]sdktrace.SpanExporter, error) {
	var exporters []sdktrace.SpanExporter

	for _, name := range cfg.Exporters {
		switch name {
		case "stdout":
			exporter, err := stdouttrace.New(stdouttrace.WithWriter(out))
			if err != nil {
				return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
			}
			exporters = append(exporters, exporter)

		case "otlp":
			exporter, err := otlptracegrpc.New(
				context.Background(),
				otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
				otlptracegrpc.WithInsecure(),
			)
			if err != nil {
				return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
			}
			exporters = append(exporters, exporter)

		default:
			// prometheus carries metrics only
			continue
		}
	}

	return exporters, nil
}
