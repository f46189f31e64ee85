package flush

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/KevoDB/lsmcore/pkg/block"
	"github.com/KevoDB/lsmcore/pkg/memtable"
	"github.com/KevoDB/lsmcore/pkg/stats"
	"github.com/KevoDB/lsmcore/pkg/telemetry"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// memorySink keeps every page it receives
type memorySink struct {
	pages   []*block.Block
	failAt  int // fail the nth write (1-based), 0 never
	onWrite func(n int)
}

func (s *memorySink) WritePage(ctx context.Context, page *block.Block) error {
	if s.failAt > 0 && len(s.pages)+1 == s.failAt {
		return io.ErrShortWrite
	}
	s.pages = append(s.pages, page)
	if s.onWrite != nil {
		s.onWrite(len(s.pages))
	}
	return nil
}

// sliceIterator yields pairs in the order given, ordered or not
type sliceIterator struct {
	pairs [][2]string
	index int
	err   error
}

func (it *sliceIterator) SeekToFirst()            { it.index = 0 }
func (it *sliceIterator) SeekToLast()             { it.index = len(it.pairs) - 1 }
func (it *sliceIterator) Seek(target []byte) bool { return false }
func (it *sliceIterator) Next() bool              { it.index++; return it.Valid() }
func (it *sliceIterator) Key() []byte             { return []byte(it.pairs[it.index][0]) }
func (it *sliceIterator) Value() []byte           { return []byte(it.pairs[it.index][1]) }
func (it *sliceIterator) Valid() bool             { return it.index >= 0 && it.index < len(it.pairs) }
func (it *sliceIterator) Err() error              { return it.err }

// fillMemTable inserts n keys "key-000".. with 2-byte values, 11 encoded bytes each
func fillMemTable(t *testing.T, n int) *memtable.MemTable {
	t.Helper()
	mt := memtable.NewMemTable(memtable.WithHeightSource(memtable.NewLockedSource(1)))
	for i := n - 1; i >= 0; i-- {
		key := []byte(fmt.Sprintf("key-%03d", i))
		if err := mt.Put(key, []byte(fmt.Sprintf("%02d", i%100))); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	return mt
}

// 25 records of 11 bytes plus two snapshot slots fill the region exactly
const pageSize25 = block.HeaderSize + 25*11 + 2*block.SnapshotSize

func TestFlushPacksPages(t *testing.T) {
	mt := fillMemTable(t, 60)
	sink := &memorySink{}
	collector := stats.NewAtomicCollector()

	f, err := New(pageSize25, sink, WithStats(collector))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	res, err := f.Flush(context.Background(), mt.NewIterator())
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	if res.Pages != 3 || res.Entries != 60 || res.Bytes != 3*pageSize25 {
		t.Errorf("unexpected result %+v", res)
	}

	expectedCounts := []uint32{25, 25, 10}
	next := 0
	for i, page := range sink.pages {
		if !page.IsSealed() {
			t.Errorf("page %d not sealed", i)
		}
		if page.Len() != expectedCounts[i] {
			t.Errorf("page %d: expected %d entries, got %d", i, expectedCounts[i], page.Len())
		}
		it := page.Iterator()
		for it.SeekToFirst(); it.Valid(); it.Next() {
			if want := fmt.Sprintf("key-%03d", next); string(it.Key()) != want {
				t.Fatalf("page %d: expected %s, got %s", i, want, it.Key())
			}
			next++
		}
		if it.Err() != nil {
			t.Errorf("page %d iteration error: %v", i, it.Err())
		}
	}
	if next != 60 {
		t.Errorf("expected 60 entries across pages, got %d", next)
	}

	pages := collector.GetStats()["pages"].(map[string]interface{})
	if pages["sealed"].(uint64) != 3 || pages["flushed_entries"].(uint64) != 60 {
		t.Errorf("unexpected page stats: %v", pages)
	}
}

func TestFlushEmptySource(t *testing.T) {
	sink := &memorySink{}
	f, _ := New(4096, sink)

	res, err := f.Flush(context.Background(), memtable.NewMemTable().NewIterator())
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if res.Pages != 0 || len(sink.pages) != 0 {
		t.Errorf("expected no pages, got %d", len(sink.pages))
	}
}

func TestFlushEntryTooLarge(t *testing.T) {
	sink := &memorySink{}
	f, _ := New(32, sink)

	src := &sliceIterator{pairs: [][2]string{
		{"a", "small"},
		{"b", string(bytes.Repeat([]byte{'x'}, 40))},
	}}
	_, err := f.Flush(context.Background(), src)
	if !errors.Is(err, ErrEntryTooLarge) {
		t.Fatalf("expected ErrEntryTooLarge, got %v", err)
	}

	// The page holding "a" was emitted before the oversized record was rejected
	if len(sink.pages) != 1 || sink.pages[0].Len() != 1 {
		t.Errorf("expected one page with one entry, got %d pages", len(sink.pages))
	}
}

func TestFlushOutOfOrder(t *testing.T) {
	testCases := []struct {
		name  string
		pairs [][2]string
	}{
		{"descending", [][2]string{{"b", "1"}, {"a", "2"}}},
		{"duplicate", [][2]string{{"a", "1"}, {"a", "2"}}},
		{"duplicate empty key", [][2]string{{"", "1"}, {"", "2"}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f, _ := New(4096, &memorySink{})
			_, err := f.Flush(context.Background(), &sliceIterator{pairs: tc.pairs})
			if !errors.Is(err, ErrOutOfOrder) {
				t.Errorf("expected ErrOutOfOrder, got %v", err)
			}
		})
	}
}

func TestFlushCancellation(t *testing.T) {
	mt := fillMemTable(t, 60)

	t.Run("before start", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		sink := &memorySink{}
		f, _ := New(pageSize25, sink)
		_, err := f.Flush(ctx, mt.NewIterator())
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if len(sink.pages) != 0 {
			t.Errorf("expected no pages, got %d", len(sink.pages))
		}
	})

	t.Run("between pages", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sink := &memorySink{onWrite: func(n int) { cancel() }}
		f, _ := New(pageSize25, sink)
		res, err := f.Flush(ctx, mt.NewIterator())
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if res.Pages != 1 || len(sink.pages) != 1 {
			t.Errorf("expected exactly one page before cancellation, got %d", len(sink.pages))
		}
	})
}

func TestFlushSinkError(t *testing.T) {
	mt := fillMemTable(t, 60)
	collector := stats.NewAtomicCollector()
	sink := &memorySink{failAt: 2}

	f, _ := New(pageSize25, sink, WithStats(collector))
	res, err := f.Flush(context.Background(), mt.NewIterator())
	if !errors.Is(err, io.ErrShortWrite) {
		t.Fatalf("expected sink error, got %v", err)
	}
	if res.Pages != 1 {
		t.Errorf("expected one page written before the failure, got %d", res.Pages)
	}
	if collector.GetStats()["errors"].(map[string]uint64)[stats.ErrKindIO] != 1 {
		t.Errorf("expected io error to be tracked")
	}
}

func TestFlushSourceError(t *testing.T) {
	corrupt := errors.New("corrupt source")
	src := &sliceIterator{pairs: [][2]string{{"a", "1"}}, err: corrupt}

	sink := &memorySink{}
	f, _ := New(4096, sink)
	_, err := f.Flush(context.Background(), src)
	if !errors.Is(err, corrupt) {
		t.Fatalf("expected source error, got %v", err)
	}
	if len(sink.pages) != 0 {
		t.Errorf("partial page must not be emitted after a source error")
	}
}

type failingAllocator struct{}

func (failingAllocator) Allocate(size int) ([]byte, error) {
	return nil, errors.New("out of memory")
}

func TestFlushAllocatorError(t *testing.T) {
	f, _ := New(4096, &memorySink{}, WithAllocator(failingAllocator{}))
	if _, err := f.Flush(context.Background(), &sliceIterator{}); err == nil {
		t.Error("expected allocator error")
	}
}

func TestNewInvalidPageSize(t *testing.T) {
	for _, size := range []int{0, block.HeaderSize} {
		if _, err := New(size, &memorySink{}); !errors.Is(err, ErrInvalidPageSize) {
			t.Errorf("page size %d: expected ErrInvalidPageSize, got %v", size, err)
		}
	}
}

func TestFlushTelemetry(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	cfg := telemetry.DefaultConfig()
	cfg.Enabled = true
	cfg.Exporters = nil
	tel, err := telemetry.New(cfg, telemetry.WithMetricReader(reader))
	if err != nil {
		t.Fatalf("telemetry.New failed: %v", err)
	}
	ctx := context.Background()
	defer tel.Shutdown(ctx)

	f, _ := New(pageSize25, &memorySink{}, WithTelemetry(tel))
	if _, err := f.Flush(ctx, fillMemTable(t, 60).NewIterator()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	sums := map[string]int64{}
	var fillSamples uint64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					sums[m.Name] += dp.Value
				}
			case metricdata.Histogram[float64]:
				if m.Name == "lsmcore.page.fill_ratio" {
					for _, dp := range data.DataPoints {
						fillSamples += dp.Count
					}
				}
			}
		}
	}

	if sums["lsmcore.flush.pages"] != 3 || sums["lsmcore.flush.entries"] != 60 || sums["lsmcore.flush.total"] != 1 {
		t.Errorf("unexpected flush counters: %v", sums)
	}
	if fillSamples != 3 {
		t.Errorf("expected 3 fill ratio samples, got %d", fillSamples)
	}
}
