package memtable

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KevoDB/lsmcore/pkg/common/log"
)

// ErrImmutable is returned when writing to a MemTable that was frozen for flushing
var ErrImmutable = errors.New("memtable is immutable")

// MemTable is an in-memory write buffer backed by a concurrent skip list
type MemTable struct {
	skipList     *SkipList
	src          HeightSource
	sizeLimit    int64
	metrics      MemTableMetrics
	logger       log.Logger
	creationTime time.Time
	immutable    atomic.Bool

	// Writers share the read side; SetImmutable takes the write side to
	// wait for in-flight inserts.
	mu sync.RWMutex
}

// Option configures a MemTable
type Option func(*MemTable)

// WithHeightSource sets the source used to draw node heights
func WithHeightSource(src HeightSource) Option {
	return func(m *MemTable) {
		m.src = src
	}
}

// WithSizeLimit sets the approximate size at which ShouldFlush reports true
func WithSizeLimit(limit int64) Option {
	return func(m *MemTable) {
		m.sizeLimit = limit
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(metrics MemTableMetrics) Option {
	return func(m *MemTable) {
		m.metrics = metrics
	}
}

// WithLogger sets the logger
func WithLogger(logger log.Logger) Option {
	return func(m *MemTable) {
		m.logger = logger
	}
}

// NewMemTable creates a new memory table
func NewMemTable(opts ...Option) *MemTable {
	m := &MemTable{
		creationTime: time.Now(),
		metrics:      NewNoopMemTableMetrics(),
		logger:       log.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.src == nil {
		m.src = newTimeSeededSource()
	}
	m.skipList = NewSkipListWithSource(m.src)
	return m
}

// Put adds a key-value pair to the MemTable
func (m *MemTable) Put(key, value []byte) error {
	start := time.Now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.immutable.Load() {
		return ErrImmutable
	}

	err := m.skipList.Insert(key, value, m.src)
	switch {
	case errors.Is(err, ErrDuplicateKey):
		m.logger.Debug("rejected duplicate key %q", key)
		m.metrics.RecordOperation(context.Background(), "put", time.Since(start), err)
		return err
	case err != nil:
		m.metrics.RecordOperation(context.Background(), "put", time.Since(start), err)
		return fmt.Errorf("memtable put: %w", err)
	}

	delta := int64(len(key) + len(value) + nodeOverhead)
	m.metrics.RecordOperation(context.Background(), "put", time.Since(start), nil)
	m.metrics.RecordSizeChange(context.Background(), m.skipList.ApproximateSize(), delta, getMemTableTypeName(false))
	return nil
}

// Get retrieves the value associated with the given key
func (m *MemTable) Get(key []byte) ([]byte, bool) {
	start := time.Now()
	value, ok := m.skipList.Get(key)
	m.metrics.RecordOperation(context.Background(), "get", time.Since(start), nil)
	return value, ok
}

// Contains checks if the key exists in the MemTable
func (m *MemTable) Contains(key []byte) bool {
	return m.skipList.Contains(key)
}

// Len returns the number of entries
func (m *MemTable) Len() int {
	return m.skipList.Len()
}

// ApproximateSize returns the approximate size of the MemTable in bytes
func (m *MemTable) ApproximateSize() int64 {
	return m.skipList.ApproximateSize()
}

// ShouldFlush reports whether the MemTable reached its size limit.
// A MemTable without a limit never asks to be flushed.
func (m *MemTable) ShouldFlush() bool {
	return m.sizeLimit > 0 && m.ApproximateSize() >= m.sizeLimit
}

// SetImmutable marks the MemTable as immutable once in-flight writes finish.
// After this is called, Put returns ErrImmutable.
func (m *MemTable) SetImmutable() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.immutable.Swap(true) {
		return
	}

	reason := getFlushReasonName(m.ShouldFlush())
	m.metrics.RecordFlushTrigger(context.Background(), reason, m.ApproximateSize(), m.Age())
	m.logger.WithFields(map[string]interface{}{
		"entries": m.Len(),
		"bytes":   m.ApproximateSize(),
		"reason":  reason,
	}).Info("memtable frozen")
}

// IsImmutable returns whether the MemTable is immutable
func (m *MemTable) IsImmutable() bool {
	return m.immutable.Load()
}

// Age returns the age of the MemTable in seconds
func (m *MemTable) Age() float64 {
	return time.Since(m.creationTime).Seconds()
}

// NewIterator returns an iterator for the MemTable
func (m *MemTable) NewIterator() *Iterator {
	return m.skipList.NewIterator()
}
