package pagefile

import (
	"github.com/KevoDB/lsmcore/pkg/common/log"
	"github.com/KevoDB/lsmcore/pkg/stats"
	"github.com/KevoDB/lsmcore/pkg/telemetry"
)

type options struct {
	stats  stats.Collector
	tel    telemetry.Telemetry
	logger log.Logger
}

// Option configures a Writer or Reader
type Option func(*options)

// WithStats sets the statistics collector
func WithStats(c stats.Collector) Option {
	return func(o *options) {
		o.stats = c
	}
}

// WithTelemetry records byte counts and read latencies through tel
func WithTelemetry(tel telemetry.Telemetry) Option {
	return func(o *options) {
		o.tel = tel
	}
}

// WithLogger sets the logger
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func buildOptions(opts []Option) options {
	o := options{
		stats:  stats.NewAtomicCollector(),
		tel:    telemetry.NewNoop(),
		logger: log.Discard(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
