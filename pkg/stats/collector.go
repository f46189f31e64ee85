package stats

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// OperationType defines the type of operation being tracked
type OperationType string

// Common operation types
const (
	OpPut       OperationType = "put"
	OpGet       OperationType = "get"
	OpScan      OperationType = "scan"
	OpFlush     OperationType = "flush"
	OpPageSeal  OperationType = "page_seal"
	OpPageWrite OperationType = "page_write"
	OpPageRead  OperationType = "page_read"
)

// Error kinds
const (
	ErrKindDuplicateKey  = "duplicate_key"
	ErrKindCorruption    = "corruption"
	ErrKindEntryTooLarge = "entry_too_large"
	ErrKindImmutable     = "immutable"
	ErrKindIO            = "io"
)

// AtomicCollector provides centralized statistics collection with minimal contention
// using atomic operations for thread safety
type AtomicCollector struct {
	counts   map[OperationType]*atomic.Uint64
	countsMu sync.RWMutex // Only used when creating new counter entries

	lastOpTime   map[OperationType]time.Time
	lastOpTimeMu sync.RWMutex

	memTableSize      atomic.Uint64
	totalBytesRead    atomic.Uint64
	totalBytesWritten atomic.Uint64

	errors   map[string]*atomic.Uint64
	errorsMu sync.RWMutex // Only used when creating new error entries

	pages PageStats

	latencies   map[OperationType]*LatencyTracker
	latenciesMu sync.RWMutex // Only used when creating new latency trackers
}

// PageStats tracks how full sealed pages are and what flushes produced
type PageStats struct {
	Sealed         atomic.Uint64
	Entries        atomic.Uint64
	UsedBytes      atomic.Uint64
	CapacityBytes  atomic.Uint64
	Flushes        atomic.Uint64
	FlushedPages   atomic.Uint64
	FlushedEntries atomic.Uint64
}

// LatencyTracker maintains running statistics about operation latencies
type LatencyTracker struct {
	count atomic.Uint64
	sum   atomic.Uint64 // sum in nanoseconds
	max   atomic.Uint64 // max in nanoseconds
	min   atomic.Uint64 // min in nanoseconds, 0 until the first sample
}

// NewAtomicCollector creates a new atomic statistics collector
func NewAtomicCollector() *AtomicCollector {
	return &AtomicCollector{
		counts:     make(map[OperationType]*atomic.Uint64),
		lastOpTime: make(map[OperationType]time.Time),
		errors:     make(map[string]*atomic.Uint64),
		latencies:  make(map[OperationType]*LatencyTracker),
	}
}

// TrackOperation increments the counter for the specified operation type
func (c *AtomicCollector) TrackOperation(op OperationType) {
	c.getOrCreateCounter(op).Add(1)

	c.lastOpTimeMu.Lock()
	c.lastOpTime[op] = time.Now()
	c.lastOpTimeMu.Unlock()
}

// TrackOperationWithLatency tracks an operation and its latency
func (c *AtomicCollector) TrackOperationWithLatency(op OperationType, latencyNs uint64) {
	c.TrackOperation(op)
	c.getOrCreateLatencyTracker(op).record(latencyNs)
}

func (t *LatencyTracker) record(latencyNs uint64) {
	t.count.Add(1)
	t.sum.Add(latencyNs)

	for {
		current := t.max.Load()
		if latencyNs <= current || t.max.CompareAndSwap(current, latencyNs) {
			break
		}
	}

	// A zero sample cannot be told apart from "unset" and is left out of min
	for latencyNs > 0 {
		current := t.min.Load()
		if current != 0 && latencyNs >= current {
			break
		}
		if t.min.CompareAndSwap(current, latencyNs) {
			break
		}
	}
}

// TrackError increments the counter for the specified error kind
func (c *AtomicCollector) TrackError(kind string) {
	c.errorsMu.RLock()
	counter, exists := c.errors[kind]
	c.errorsMu.RUnlock()

	if !exists {
		c.errorsMu.Lock()
		if counter, exists = c.errors[kind]; !exists {
			counter = &atomic.Uint64{}
			c.errors[kind] = counter
		}
		c.errorsMu.Unlock()
	}

	counter.Add(1)
}

// TrackBytes adds the specified number of bytes to the read or write counter
func (c *AtomicCollector) TrackBytes(isWrite bool, bytes uint64) {
	if isWrite {
		c.totalBytesWritten.Add(bytes)
	} else {
		c.totalBytesRead.Add(bytes)
	}
}

// TrackMemTableSize records the current memtable size
func (c *AtomicCollector) TrackMemTableSize(size uint64) {
	c.memTableSize.Store(size)
}

// TrackPageSealed records a sealed page
func (c *AtomicCollector) TrackPageSealed(entries, used, capacity uint64) {
	c.TrackOperation(OpPageSeal)
	c.pages.Sealed.Add(1)
	c.pages.Entries.Add(entries)
	c.pages.UsedBytes.Add(used)
	c.pages.CapacityBytes.Add(capacity)
}

// TrackFlush records a completed flush
func (c *AtomicCollector) TrackFlush(pages, entries uint64) {
	c.pages.Flushes.Add(1)
	c.pages.FlushedPages.Add(pages)
	c.pages.FlushedEntries.Add(entries)
}

// GetStats returns all statistics as a map
func (c *AtomicCollector) GetStats() map[string]interface{} {
	stats := make(map[string]interface{})

	c.countsMu.RLock()
	for op, counter := range c.counts {
		stats[string(op)+"_ops"] = counter.Load()
	}
	c.countsMu.RUnlock()

	c.lastOpTimeMu.RLock()
	for op, timestamp := range c.lastOpTime {
		stats["last_"+string(op)+"_time"] = timestamp.UnixNano()
	}
	c.lastOpTimeMu.RUnlock()

	stats["memtable_size"] = c.memTableSize.Load()
	stats["total_bytes_read"] = c.totalBytesRead.Load()
	stats["total_bytes_written"] = c.totalBytesWritten.Load()

	c.errorsMu.RLock()
	errorStats := make(map[string]uint64)
	for kind, counter := range c.errors {
		errorStats[kind] = counter.Load()
	}
	c.errorsMu.RUnlock()
	stats["errors"] = errorStats

	pageStats := map[string]interface{}{
		"sealed":          c.pages.Sealed.Load(),
		"entries":         c.pages.Entries.Load(),
		"flushes":         c.pages.Flushes.Load(),
		"flushed_pages":   c.pages.FlushedPages.Load(),
		"flushed_entries": c.pages.FlushedEntries.Load(),
	}
	if capacity := c.pages.CapacityBytes.Load(); capacity > 0 {
		pageStats["fill_ratio"] = float64(c.pages.UsedBytes.Load()) / float64(capacity)
	}
	stats["pages"] = pageStats

	c.latenciesMu.RLock()
	for op, tracker := range c.latencies {
		count := tracker.count.Load()
		if count == 0 {
			continue
		}

		latencyStats := map[string]interface{}{
			"count":  count,
			"avg_ns": tracker.sum.Load() / count,
		}
		if min := tracker.min.Load(); min != 0 {
			latencyStats["min_ns"] = min
		}
		if max := tracker.max.Load(); max != 0 {
			latencyStats["max_ns"] = max
		}

		stats[string(op)+"_latency"] = latencyStats
	}
	c.latenciesMu.RUnlock()

	return stats
}

// GetStatsFiltered returns statistics filtered by prefix
func (c *AtomicCollector) GetStatsFiltered(prefix string) map[string]interface{} {
	filtered := make(map[string]interface{})
	for key, value := range c.GetStats() {
		if strings.HasPrefix(key, prefix) {
			filtered[key] = value
		}
	}
	return filtered
}

func (c *AtomicCollector) getOrCreateCounter(op OperationType) *atomic.Uint64 {
	c.countsMu.RLock()
	counter, exists := c.counts[op]
	c.countsMu.RUnlock()

	if !exists {
		c.countsMu.Lock()
		if counter, exists = c.counts[op]; !exists {
			counter = &atomic.Uint64{}
			c.counts[op] = counter
		}
		c.countsMu.Unlock()
	}

	return counter
}

func (c *AtomicCollector) getOrCreateLatencyTracker(op OperationType) *LatencyTracker {
	c.latenciesMu.RLock()
	tracker, exists := c.latencies[op]
	c.latenciesMu.RUnlock()

	if !exists {
		c.latenciesMu.Lock()
		if tracker, exists = c.latencies[op]; !exists {
			tracker = &LatencyTracker{}
			c.latencies[op] = tracker
		}
		c.latenciesMu.Unlock()
	}

	return tracker
}
