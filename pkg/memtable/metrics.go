// ABOUTME: Telemetry hooks for the memtable: put/get outcomes, arena growth and freezes
// ABOUTME: The noop variant is used whenever no telemetry is configured

package memtable

import (
	"context"
	"errors"
	"time"

	"github.com/KevoDB/lsmcore/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// MemTableMetrics receives the measurements a MemTable produces
type MemTableMetrics interface {
	telemetry.ComponentMetrics

	// RecordOperation records one Put or Get with its outcome
	RecordOperation(ctx context.Context, opType string, duration time.Duration, err error)

	// RecordSizeChange records the approximate size after an insert and what it added
	RecordSizeChange(ctx context.Context, newSize int64, delta int64, memTableType string)

	// RecordFlushTrigger records a freeze, its reason, and the table size and age in seconds
	RecordFlushTrigger(ctx context.Context, reason string, memTableSize int64, memTableAge float64)
}

var memTableAttr = attribute.String(telemetry.AttrComponent, telemetry.ComponentMemTable)

type memTableMetrics struct {
	tel telemetry.Telemetry
}

// NewMemTableMetrics records through tel, or returns the noop variant for a nil tel
func NewMemTableMetrics(tel telemetry.Telemetry) MemTableMetrics {
	if tel == nil {
		return NewNoopMemTableMetrics()
	}
	return &memTableMetrics{tel: tel}
}

// NewNoopMemTableMetrics returns metrics that drop everything
func NewNoopMemTableMetrics() MemTableMetrics {
	return &noopMemTableMetrics{}
}

func (m *memTableMetrics) RecordOperation(ctx context.Context, opType string, duration time.Duration, err error) {
	op := attribute.String(telemetry.AttrOperationType, opType)
	m.tel.RecordHistogram(ctx, "lsmcore.memtable.operation.duration", duration.Seconds(), memTableAttr, op)

	status := attribute.String(telemetry.AttrStatus, telemetry.StatusSuccess)
	if err != nil {
		m.tel.RecordCounter(ctx, "lsmcore.memtable.operations.total", 1, memTableAttr, op,
			attribute.String(telemetry.AttrStatus, telemetry.StatusError),
			attribute.String(telemetry.AttrErrorType, getErrorTypeName(err)))
		return
	}
	m.tel.RecordCounter(ctx, "lsmcore.memtable.operations.total", 1, memTableAttr, op, status)
}

func (m *memTableMetrics) RecordSizeChange(ctx context.Context, newSize int64, delta int64, memTableType string) {
	kind := attribute.String("memtable.type", memTableType)
	m.tel.RecordHistogram(ctx, "lsmcore.memtable.size.bytes", float64(newSize), memTableAttr, kind)
	m.tel.RecordHistogram(ctx, "lsmcore.memtable.size.delta", float64(delta), memTableAttr, kind)
}

func (m *memTableMetrics) RecordFlushTrigger(ctx context.Context, reason string, memTableSize int64, memTableAge float64) {
	why := attribute.String(telemetry.AttrReason, reason)
	m.tel.RecordCounter(ctx, "lsmcore.memtable.flush.trigger.total", 1, memTableAttr, why)
	m.tel.RecordHistogram(ctx, "lsmcore.memtable.flush.trigger.size", float64(memTableSize), memTableAttr, why)
	m.tel.RecordHistogram(ctx, "lsmcore.memtable.flush.trigger.age", memTableAge, memTableAttr, why)
}

func (m *memTableMetrics) Close() error {
	return nil
}

type noopMemTableMetrics struct{}

func (*noopMemTableMetrics) RecordOperation(context.Context, string, time.Duration, error) {}

func (*noopMemTableMetrics) RecordSizeChange(context.Context, int64, int64, string) {}

func (*noopMemTableMetrics) RecordFlushTrigger(context.Context, string, int64, float64) {}

func (*noopMemTableMetrics) Close() error { return nil }

// getFlushReasonName reports "size" when the table crossed its limit
func getFlushReasonName(sizeTriggered bool) string {
	if sizeTriggered {
		return "size"
	}
	return "manual"
}

func getMemTableTypeName(immutable bool) string {
	if immutable {
		return "immutable"
	}
	return "active"
}

// getErrorTypeName maps memtable errors to the error.type attribute
func getErrorTypeName(err error) string {
	switch {
	case errors.Is(err, ErrDuplicateKey):
		return "duplicate_key"
	case errors.Is(err, ErrImmutable):
		return "immutable"
	case errors.Is(err, ErrArenaFull):
		return "arena_full"
	}
	return "unknown"
}
