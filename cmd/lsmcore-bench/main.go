package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"sync"
	"time"

	"github.com/KevoDB/lsmcore/pkg/flush"
	"github.com/KevoDB/lsmcore/pkg/memtable"
	"github.com/KevoDB/lsmcore/pkg/pagefile"
	"github.com/KevoDB/lsmcore/pkg/stats"
)

const (
	defaultValueSize = 100
	defaultKeyCount  = 100000
)

var (
	// Command line flags
	benchmarkType = flag.String("type", "all", "Type of benchmark to run (write, read, scan, flush, page-read, or all)")
	numKeys       = flag.Int("keys", defaultKeyCount, "Number of keys to use")
	valueSize     = flag.Int("value-size", defaultValueSize, "Size of values in bytes")
	workers       = flag.Int("workers", runtime.GOMAXPROCS(0), "Number of concurrent writers and readers")
	pageSize      = flag.Int("page-size", 4096, "Size of flushed pages in bytes")
	compression   = flag.String("compression", "snappy", "Page compression (none, snappy, zstd, s2)")
	dataDir       = flag.String("data-dir", "./benchmark-data", "Directory to store benchmark data")
	cpuProfile    = flag.String("cpu-profile", "", "Write CPU profile to file")
	memProfile    = flag.String("mem-profile", "", "Write memory profile to file")
	resultsFile   = flag.String("results", "", "CSV file to write results to (in addition to stdout)")
)

// bench holds the state shared between benchmark phases
type bench struct {
	keys      [][]byte
	value     []byte
	mem       *memtable.MemTable
	codec     pagefile.Codec
	collector *stats.AtomicCollector
	path      string
	reader    *pagefile.Reader
}

func main() {
	flag.Parse()

	if *workers < 1 {
		*workers = 1
	}

	codec, err := pagefile.ParseCodec(*compression)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid compression: %v\n", err)
		os.Exit(1)
	}

	// Set up CPU profiling if requested
	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Could not start CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer pprof.StopCPUProfile()
	}

	// Remove any existing benchmark data before starting
	if _, err := os.Stat(*dataDir); err == nil {
		fmt.Println("Cleaning previous benchmark data...")
		if err := os.RemoveAll(*dataDir); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to clean benchmark directory: %v\n", err)
		}
	}
	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create benchmark directory: %v\n", err)
		os.Exit(1)
	}

	b := newBench(*numKeys, *valueSize, codec, filepath.Join(*dataDir, "000001.pages"))
	defer b.close()

	fmt.Printf("Benchmark Report (%s)\n", time.Now().Format(time.RFC3339))
	fmt.Printf("Keys: %d, Value Size: %d bytes, Workers: %d, Page Size: %d, Compression: %s\n",
		*numKeys, *valueSize, *workers, *pageSize, codec)

	var results []BenchmarkResult
	for _, typ := range strings.Split(*benchmarkType, ",") {
		var phase []func() (BenchmarkResult, error)
		switch strings.ToLower(strings.TrimSpace(typ)) {
		case "write":
			phase = append(phase, b.runWrite)
		case "read":
			phase = append(phase, b.runRead)
		case "scan":
			phase = append(phase, b.runScan)
		case "flush":
			phase = append(phase, b.runFlush)
		case "page-read":
			phase = append(phase, b.runPageRead)
		case "all":
			phase = append(phase, b.runWrite, b.runRead, b.runScan, b.runFlush, b.runPageRead)
		default:
			fmt.Fprintf(os.Stderr, "Unknown benchmark type: %s\n", typ)
			os.Exit(1)
		}

		for _, run := range phase {
			result, err := run()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Benchmark failed: %v\n", err)
				os.Exit(1)
			}
			results = append(results, result)
		}
	}

	PrintResultTable(os.Stdout, results)

	// Write results to file if requested
	if *resultsFile != "" {
		if err := SaveResultCSV(results, *resultsFile); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write results to file: %v\n", err)
		}
	}

	// Write memory profile if requested
	if *memProfile != "" {
		f, err := os.Create(*memProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create memory profile: %v\n", err)
		} else {
			defer f.Close()
			runtime.GC() // Run GC before taking memory profile
			if err := pprof.WriteHeapProfile(f); err != nil {
				fmt.Fprintf(os.Stderr, "Could not write memory profile: %v\n", err)
			}
		}
	}
}

// newBench generates n distinct keys in random order and a value of the given size
func newBench(n, valueSize int, codec pagefile.Codec, path string) *bench {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	keys := make([][]byte, n)
	for i, j := range r.Perm(n) {
		keys[i] = []byte(fmt.Sprintf("key-%010d", j))
	}
	value := make([]byte, valueSize)
	for i := range value {
		value[i] = byte('a' + i%26)
	}

	return &bench{
		keys:      keys,
		value:     value,
		codec:     codec,
		collector: stats.NewAtomicCollector(),
		path:      path,
	}
}

func (b *bench) close() {
	if b.reader != nil {
		b.reader.Close()
	}
}

// parallel splits the key set between the workers and runs fn over each share
func (b *bench) parallel(fn func(keys [][]byte) error) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	share := (len(b.keys) + *workers - 1) / *workers
	for start := 0; start < len(b.keys); start += share {
		end := start + share
		if end > len(b.keys) {
			end = len(b.keys)
		}
		wg.Add(1)
		go func(keys [][]byte) {
			defer wg.Done()
			if err := fn(keys); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(b.keys[start:end])
	}
	wg.Wait()
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// ensureLoaded fills the memtable when a read phase runs without a write phase
func (b *bench) ensureLoaded() error {
	if b.mem != nil {
		return nil
	}
	_, err := b.runWrite()
	return err
}

// runWrite benchmarks concurrent inserts into a fresh memtable
func (b *bench) runWrite() (BenchmarkResult, error) {
	fmt.Println("Running Write Benchmark...")
	b.mem = memtable.NewMemTable()

	start := time.Now()
	err := b.parallel(func(keys [][]byte) error {
		for _, key := range keys {
			if err := b.mem.Put(key, b.value); err != nil {
				return fmt.Errorf("put %q: %w", key, err)
			}
		}
		return nil
	})
	elapsed := time.Since(start)
	if err != nil {
		return BenchmarkResult{}, err
	}

	result := newResult("write", len(b.keys), *workers, elapsed)
	result.Bytes = b.mem.ApproximateSize()
	return result, nil
}

// runRead benchmarks concurrent point lookups against the memtable
func (b *bench) runRead() (BenchmarkResult, error) {
	if err := b.ensureLoaded(); err != nil {
		return BenchmarkResult{}, err
	}
	fmt.Println("Running Read Benchmark...")

	var hits, misses int64
	var mu sync.Mutex
	start := time.Now()
	err := b.parallel(func(keys [][]byte) error {
		var h, m int64
		for _, key := range keys {
			if _, ok := b.mem.Get(key); ok {
				h++
			} else {
				m++
			}
			// A key that was never inserted
			missing := make([]byte, len(key)+1)
			copy(missing, key)
			missing[len(key)] = '~'
			if _, ok := b.mem.Get(missing); ok {
				h++
			} else {
				m++
			}
		}
		mu.Lock()
		hits += h
		misses += m
		mu.Unlock()
		return nil
	})
	elapsed := time.Since(start)
	if err != nil {
		return BenchmarkResult{}, err
	}

	result := newResult("read", int(hits+misses), *workers, elapsed)
	result.HitRate = float64(hits) / float64(hits+misses) * 100
	return result, nil
}

// runScan benchmarks a full ordered traversal of the memtable
func (b *bench) runScan() (BenchmarkResult, error) {
	if err := b.ensureLoaded(); err != nil {
		return BenchmarkResult{}, err
	}
	fmt.Println("Running Scan Benchmark...")

	var count int
	var prev []byte
	start := time.Now()
	iter := b.mem.NewIterator()
	for iter.SeekToFirst(); iter.Valid(); iter.Next() {
		if prev != nil && string(prev) >= string(iter.Key()) {
			return BenchmarkResult{}, fmt.Errorf("scan out of order at %q", iter.Key())
		}
		prev = iter.Key()
		count++
	}
	elapsed := time.Since(start)

	if count != len(b.keys) {
		return BenchmarkResult{}, fmt.Errorf("scan returned %d entries, expected %d", count, len(b.keys))
	}
	return newResult("scan", count, 1, elapsed), nil
}

// runFlush benchmarks packing the memtable into a page file
func (b *bench) runFlush() (BenchmarkResult, error) {
	if err := b.ensureLoaded(); err != nil {
		return BenchmarkResult{}, err
	}
	fmt.Println("Running Flush Benchmark...")

	if b.reader != nil {
		b.reader.Close()
		b.reader = nil
	}
	b.mem.SetImmutable()

	start := time.Now()
	writer, err := pagefile.Create(b.path, b.codec, pagefile.WithStats(b.collector))
	if err != nil {
		return BenchmarkResult{}, err
	}
	flusher, err := flush.New(*pageSize, writer, flush.WithStats(b.collector))
	if err != nil {
		writer.Abort()
		return BenchmarkResult{}, err
	}
	res, err := flusher.Flush(context.Background(), b.mem.NewIterator())
	if err != nil {
		writer.Abort()
		return BenchmarkResult{}, err
	}
	if err := writer.Finish(); err != nil {
		return BenchmarkResult{}, err
	}
	elapsed := time.Since(start)

	info, err := os.Stat(b.path)
	if err != nil {
		return BenchmarkResult{}, err
	}
	fmt.Printf("Flushed %d entries into %d pages, %d page bytes stored in %d file bytes\n",
		res.Entries, res.Pages, res.Bytes, info.Size())

	result := newResult("flush", res.Entries, 1, elapsed)
	result.Bytes = info.Size()
	return result, nil
}

// runPageRead benchmarks concurrent point lookups against the mapped page file
func (b *bench) runPageRead() (BenchmarkResult, error) {
	if b.reader == nil {
		if _, err := os.Stat(b.path); err != nil {
			if _, err := b.runFlush(); err != nil {
				return BenchmarkResult{}, err
			}
		}
		reader, err := pagefile.OpenMapped(b.path, pagefile.WithStats(b.collector))
		if err != nil {
			return BenchmarkResult{}, err
		}
		b.reader = reader
	}
	fmt.Println("Running Page Read Benchmark...")

	var hits, misses int64
	var mu sync.Mutex
	start := time.Now()
	err := b.parallel(func(keys [][]byte) error {
		var h, m int64
		for _, key := range keys {
			_, ok, err := b.reader.Get(key)
			if err != nil {
				return fmt.Errorf("get %q: %w", key, err)
			}
			if ok {
				h++
			} else {
				m++
			}
		}
		mu.Lock()
		hits += h
		misses += m
		mu.Unlock()
		return nil
	})
	elapsed := time.Since(start)
	if err != nil {
		return BenchmarkResult{}, err
	}

	result := newResult("page-read", int(hits+misses), *workers, elapsed)
	result.HitRate = float64(hits) / float64(hits+misses) * 100
	return result, nil
}
