package flush

import (
	"context"
	"errors"
	"time"

	"github.com/KevoDB/lsmcore/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// FlushMetrics records flush activity. Implementations may be no-op.
type FlushMetrics interface {
	telemetry.ComponentMetrics

	// RecordFlush records a finished flush, successful or not
	RecordFlush(ctx context.Context, duration time.Duration, pages, entries int, err error)

	// RecordPageSealed records how many entries a sealed page holds and how full it is
	RecordPageSealed(ctx context.Context, entries int, fill float64)
}

type flushMetrics struct {
	tel telemetry.Telemetry
}

// NewFlushMetrics creates flush metrics backed by tel, or no-op metrics when tel is nil
func NewFlushMetrics(tel telemetry.Telemetry) FlushMetrics {
	if tel == nil {
		return &noopFlushMetrics{}
	}
	return &flushMetrics{tel: tel}
}

// NewNoopFlushMetrics creates a no-op implementation
func NewNoopFlushMetrics() FlushMetrics {
	return &noopFlushMetrics{}
}

func (m *flushMetrics) RecordFlush(ctx context.Context, duration time.Duration, pages, entries int, err error) {
	status := telemetry.StatusSuccess
	attrs := []attribute.KeyValue{
		attribute.String(telemetry.AttrComponent, telemetry.ComponentFlush),
	}
	if err != nil {
		status = telemetry.StatusError
		attrs = append(attrs, attribute.String(telemetry.AttrErrorType, errorTypeName(err)))
	}
	attrs = append(attrs, attribute.String(telemetry.AttrStatus, status))

	m.tel.RecordHistogram(ctx, "lsmcore.flush.duration", duration.Seconds(), attrs...)
	m.tel.RecordCounter(ctx, "lsmcore.flush.total", 1, attrs...)
	m.tel.RecordCounter(ctx, "lsmcore.flush.pages", int64(pages),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentFlush))
	m.tel.RecordCounter(ctx, "lsmcore.flush.entries", int64(entries),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentFlush))
}

func (m *flushMetrics) RecordPageSealed(ctx context.Context, entries int, fill float64) {
	m.tel.RecordHistogram(ctx, "lsmcore.page.fill_ratio", fill,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentBlock),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeSeal),
	)
	m.tel.RecordHistogram(ctx, "lsmcore.page.entries", float64(entries),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentBlock),
	)
}

func (m *flushMetrics) Close() error {
	return nil
}

type noopFlushMetrics struct{}

func (n *noopFlushMetrics) RecordFlush(ctx context.Context, duration time.Duration, pages, entries int, err error) {
}

func (n *noopFlushMetrics) RecordPageSealed(ctx context.Context, entries int, fill float64) {
}

func (n *noopFlushMetrics) Close() error {
	return nil
}

func errorTypeName(err error) string {
	switch {
	case errors.Is(err, ErrEntryTooLarge):
		return "entry_too_large"
	case errors.Is(err, ErrOutOfOrder):
		return "out_of_order"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "unknown"
	}
}
