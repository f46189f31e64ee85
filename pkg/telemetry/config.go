// ABOUTME: Telemetry configuration including exporters, sampling, intervals and validation
// ABOUTME: Supports environment variable overrides on top of defaults

package telemetry

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the configuration of the telemetry providers.
type Config struct {
	// ServiceName identifies the service in telemetry data
	ServiceName string `json:"service_name"`

	// ServiceVersion identifies the service version in telemetry data
	ServiceVersion string `json:"service_version"`

	// Enabled controls whether telemetry is active
	Enabled bool `json:"enabled"`

	// Exporters lists the export destinations (stdout, prometheus, otlp)
	Exporters []string `json:"exporters"`

	// SampleRate controls trace sampling (0.0 to 1.0)
	SampleRate float64 `json:"sample_rate"`

	// PrometheusPort is where the /metrics endpoint listens; 0 picks a free port
	PrometheusPort int `json:"prometheus_port"`

	// OTLPEndpoint is the host:port of the OTLP gRPC trace collector
	OTLPEndpoint string `json:"otlp_endpoint"`

	// ExportInterval is how often metrics are pushed to the exporters
	ExportInterval time.Duration `json:"export_interval"`

	// BatchTimeout controls how long spans wait before being exported
	BatchTimeout time.Duration `json:"batch_timeout"`
}

// DefaultConfig returns a configuration with telemetry disabled.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "lsmcore",
		ServiceVersion: "development",
		Enabled:        false,
		Exporters:      []string{"stdout"},
		SampleRate:     1.0,
		PrometheusPort: 9090,
		OTLPEndpoint:   "localhost:4317",
		ExportInterval: 30 * time.Second,
		BatchTimeout:   5 * time.Second,
	}
}

// LoadFromEnv overrides fields from LSMCORE_TELEMETRY_* environment variables.
func (c *Config) LoadFromEnv() {
	if val := os.Getenv("LSMCORE_TELEMETRY_SERVICE_NAME"); val != "" {
		c.ServiceName = val
	}

	if val := os.Getenv("LSMCORE_TELEMETRY_ENABLED"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.Enabled = enabled
		}
	}

	if val := os.Getenv("LSMCORE_TELEMETRY_EXPORTERS"); val != "" {
		c.Exporters = strings.Split(val, ",")
		for i := range c.Exporters {
			c.Exporters[i] = strings.TrimSpace(c.Exporters[i])
		}
	}

	if val := os.Getenv("LSMCORE_TELEMETRY_SAMPLE_RATE"); val != "" {
		if rate, err := strconv.ParseFloat(val, 64); err == nil {
			c.SampleRate = rate
		}
	}

	if val := os.Getenv("LSMCORE_TELEMETRY_PROMETHEUS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.PrometheusPort = port
		}
	}

	if val := os.Getenv("LSMCORE_TELEMETRY_OTLP_ENDPOINT"); val != "" {
		c.OTLPEndpoint = val
	}

	if val := os.Getenv("LSMCORE_TELEMETRY_EXPORT_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.ExportInterval = d
		}
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name cannot be empty")
	}

	if c.SampleRate < 0.0 || c.SampleRate > 1.0 {
		return fmt.Errorf("sample_rate must be between 0.0 and 1.0, got %f", c.SampleRate)
	}

	if c.ExportInterval <= 0 {
		return fmt.Errorf("export_interval must be positive, got %s", c.ExportInterval)
	}

	if c.BatchTimeout <= 0 {
		return fmt.Errorf("batch_timeout must be positive, got %s", c.BatchTimeout)
	}

	validExporters := map[string]bool{
		"stdout":     true,
		"prometheus": true,
		"otlp":       true,
	}
	for _, exporter := range c.Exporters {
		if !validExporters[exporter] {
			return fmt.Errorf("invalid exporter: %s, valid options are: stdout, prometheus, otlp", exporter)
		}
	}

	if c.HasExporter("prometheus") && (c.PrometheusPort < 0 || c.PrometheusPort > 65535) {
		return fmt.Errorf("prometheus_port must be between 0 and 65535, got %d", c.PrometheusPort)
	}

	if c.HasExporter("otlp") && c.OTLPEndpoint == "" {
		return fmt.Errorf("otlp_endpoint cannot be empty when the otlp exporter is enabled")
	}

	return nil
}

// HasExporter returns true if the specified exporter is configured.
func (c *Config) HasExporter(name string) bool {
	for _, exporter := range c.Exporters {
		if exporter == name {
			return true
		}
	}
	return false
}
