// Package flush turns an ordered stream of key/value pairs into sealed,
// fixed-size pages.
package flush

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KevoDB/lsmcore/pkg/block"
	"github.com/KevoDB/lsmcore/pkg/common/iterator"
	"github.com/KevoDB/lsmcore/pkg/common/log"
	"github.com/KevoDB/lsmcore/pkg/stats"
	"github.com/KevoDB/lsmcore/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// ErrEntryTooLarge is returned for a record that does not fit an empty page
	ErrEntryTooLarge = errors.New("entry does not fit in an empty page")
	// ErrOutOfOrder is returned when the source yields keys that are not strictly ascending
	ErrOutOfOrder = errors.New("keys are not in ascending order")
	// ErrInvalidPageSize is returned for a page size that cannot hold a header
	ErrInvalidPageSize = errors.New("invalid page size")
)

// Allocator provides the buffers pages are built in
type Allocator interface {
	Allocate(size int) ([]byte, error)
}

// Sink receives every sealed page in key order
type Sink interface {
	WritePage(ctx context.Context, page *block.Block) error
}

// HeapAllocator allocates page buffers on the Go heap
type HeapAllocator struct{}

// Allocate returns a zeroed buffer of size bytes
func (HeapAllocator) Allocate(size int) ([]byte, error) {
	return make([]byte, size), nil
}

// Result summarizes a completed flush
type Result struct {
	Pages   int
	Entries int
	Bytes   int64 // page bytes handed to the sink
}

// Flusher packs iterator output into pages of a fixed size
type Flusher struct {
	pageSize  int
	sink      Sink
	allocator Allocator
	stats     stats.Collector
	metrics   FlushMetrics
	tel       telemetry.Telemetry
	logger    log.Logger
}

// Option configures a Flusher
type Option func(*Flusher)

// WithAllocator sets where page buffers come from
func WithAllocator(a Allocator) Option {
	return func(f *Flusher) {
		f.allocator = a
	}
}

// WithStats sets the statistics collector
func WithStats(c stats.Collector) Option {
	return func(f *Flusher) {
		f.stats = c
	}
}

// WithTelemetry records flush metrics and spans through tel
func WithTelemetry(tel telemetry.Telemetry) Option {
	return func(f *Flusher) {
		f.tel = tel
		f.metrics = NewFlushMetrics(tel)
	}
}

// WithLogger sets the logger
func WithLogger(logger log.Logger) Option {
	return func(f *Flusher) {
		f.logger = logger
	}
}

// New creates a Flusher writing pages of pageSize bytes to sink
func New(pageSize int, sink Sink, opts ...Option) (*Flusher, error) {
	if pageSize <= block.HeaderSize || int64(pageSize)-block.HeaderSize > block.MaxCapacity {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPageSize, pageSize)
	}

	f := &Flusher{
		pageSize:  pageSize,
		sink:      sink,
		allocator: HeapAllocator{},
		stats:     stats.NewAtomicCollector(),
		metrics:   NewNoopFlushMetrics(),
		tel:       telemetry.NewNoop(),
		logger:    log.Discard(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func (f *Flusher) newPage() (*block.Block, error) {
	buf, err := f.allocator.Allocate(f.pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate page: %w", err)
	}
	return block.New(buf)
}

// Flush drains iter from its first entry into pages. Cancellation is
// checked before each new page; pages already handed to the sink stay there.
func (f *Flusher) Flush(ctx context.Context, iter iterator.Iterator) (res Result, err error) {
	start := time.Now()
	ctx, span := f.tel.StartSpan(ctx, "flush", attribute.Int("page_size", f.pageSize))
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
		f.metrics.RecordFlush(ctx, time.Since(start), res.Pages, res.Entries, err)
		if err == nil {
			f.stats.TrackFlush(uint64(res.Pages), uint64(res.Entries))
			f.stats.TrackOperationWithLatency(stats.OpFlush, uint64(time.Since(start).Nanoseconds()))
		}
	}()

	if err := ctx.Err(); err != nil {
		return res, err
	}

	page, err := f.newPage()
	if err != nil {
		return res, err
	}

	var prev []byte
	for iter.SeekToFirst(); iter.Valid(); iter.Next() {
		key, value := iter.Key(), iter.Value()
		if res.Entries > 0 && bytes.Compare(prev, key) >= 0 {
			return res, fmt.Errorf("%w: %q after %q", ErrOutOfOrder, key, prev)
		}
		prev = append(prev[:0], key...)

		_, err := page.Insert(key, value)
		if errors.Is(err, block.ErrFullPage) && page.Len() > 0 {
			if err := f.emit(ctx, page, &res); err != nil {
				return res, err
			}
			if err := ctx.Err(); err != nil {
				return res, err
			}
			if page, err = f.newPage(); err != nil {
				return res, err
			}
			_, err = page.Insert(key, value)
		}
		if errors.Is(err, block.ErrFullPage) {
			f.stats.TrackError(stats.ErrKindEntryTooLarge)
			return res, fmt.Errorf("%w: key %q needs %d bytes, page holds %d",
				ErrEntryTooLarge, key, block.EncodedSize(key, value), page.Capacity())
		}
		if err != nil {
			return res, err
		}
		res.Entries++
	}
	if err := iter.Err(); err != nil {
		f.stats.TrackError(stats.ErrKindCorruption)
		return res, fmt.Errorf("flush source failed: %w", err)
	}

	if page.Len() > 0 {
		if err := f.emit(ctx, page, &res); err != nil {
			return res, err
		}
	}

	f.logger.WithFields(map[string]interface{}{
		"pages":   res.Pages,
		"entries": res.Entries,
		"bytes":   res.Bytes,
	}).Info("flush completed in %s", time.Since(start))

	return res, nil
}

// emit seals page and hands it to the sink
func (f *Flusher) emit(ctx context.Context, page *block.Block, res *Result) error {
	page.Seal()

	used := uint64(page.Size()) + uint64(page.SnapshotCount())*block.SnapshotSize
	f.stats.TrackPageSealed(uint64(page.Len()), used, uint64(page.Capacity()))
	f.metrics.RecordPageSealed(ctx, int(page.Len()), float64(used)/float64(page.Capacity()))

	if err := f.sink.WritePage(ctx, page); err != nil {
		f.stats.TrackError(stats.ErrKindIO)
		return fmt.Errorf("failed to write page %d: %w", res.Pages, err)
	}

	res.Pages++
	res.Bytes += int64(len(page.Bytes()))
	f.logger.Debug("sealed page %d with %d entries", res.Pages, page.Len())
	return nil
}
