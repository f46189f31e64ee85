package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/KevoDB/lsmcore/pkg/common/iterator"
	"github.com/KevoDB/lsmcore/pkg/common/iterator/bounded"
	"github.com/KevoDB/lsmcore/pkg/common/iterator/composite"
	"github.com/KevoDB/lsmcore/pkg/common/iterator/filtered"
	"github.com/KevoDB/lsmcore/pkg/common/log"
	"github.com/KevoDB/lsmcore/pkg/config"
	"github.com/KevoDB/lsmcore/pkg/flush"
	"github.com/KevoDB/lsmcore/pkg/memtable"
	"github.com/KevoDB/lsmcore/pkg/pagefile"
	"github.com/KevoDB/lsmcore/pkg/stats"
	"github.com/KevoDB/lsmcore/pkg/telemetry"
)

const pageFileExt = ".pages"

var (
	errNoDataDir   = errors.New("no data directory, start with -data to enable flushing")
	errKeyNotFound = errors.New("key not found")
)

// store keeps writes in a memtable and serves reads from the memtable
// followed by the page files flushed before it
type store struct {
	cfg      *config.Config
	manifest *config.Manifest // nil without a data directory
	codec    pagefile.Codec
	logger   log.Logger
	tel      telemetry.Telemetry
	stats    *stats.AtomicCollector

	active *memtable.MemTable
	frozen *memtable.MemTable // frozen by a flush that failed, retried on the next one

	readers  []*pagefile.Reader // oldest first
	nextFile int
}

func openStore(cfg *config.Config, logger log.Logger, tel telemetry.Telemetry) (*store, error) {
	codec, err := pagefile.ParseCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}

	s := &store{
		cfg:    cfg,
		codec:  codec,
		logger: logger,
		tel:    tel,
		stats:  stats.NewAtomicCollector(),
	}
	s.active = s.newMemTable()

	if cfg.DataDir == "" {
		return s, nil
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := s.loadManifest(); err != nil {
		return nil, err
	}
	if err := s.openPageFiles(); err != nil {
		s.Close()
		return nil, err
	}

	logger.Info("opened %s with %d page files", cfg.DataDir, len(s.readers))
	return s, nil
}

func (s *store) loadManifest() error {
	manifest, err := config.LoadManifest(s.cfg.DataDir)
	if errors.Is(err, config.ErrManifestNotFound) {
		if s.manifest, err = config.NewManifest(s.cfg.DataDir, s.cfg); err != nil {
			return err
		}
		return s.manifest.Save()
	}
	if err != nil {
		return err
	}
	s.manifest = manifest

	// Start a new generation when the page settings changed
	prev := manifest.GetConfig()
	if prev.PageSize == s.cfg.PageSize && prev.Compression == s.cfg.Compression {
		return nil
	}
	err = manifest.UpdateConfig(func(c *config.Config) {
		c.PageSize = s.cfg.PageSize
		c.Compression = s.cfg.Compression
		c.MemTableSize = s.cfg.MemTableSize
		c.LogLevel = s.cfg.LogLevel
	})
	if err != nil {
		return err
	}
	return manifest.Save()
}

func (s *store) openPageFiles() error {
	for _, name := range s.manifest.FileNames() {
		r, err := pagefile.OpenMapped(filepath.Join(s.cfg.DataDir, name),
			pagefile.WithStats(s.stats),
			pagefile.WithTelemetry(s.tel),
			pagefile.WithLogger(s.logger),
		)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", name, err)
		}
		s.readers = append(s.readers, r)

		if n, err := strconv.Atoi(strings.TrimSuffix(name, pageFileExt)); err == nil && n >= s.nextFile {
			s.nextFile = n + 1
		}
	}
	return nil
}

func (s *store) newMemTable() *memtable.MemTable {
	opts := []memtable.Option{
		memtable.WithSizeLimit(s.cfg.MemTableSize),
		memtable.WithMetrics(memtable.NewMemTableMetrics(s.tel)),
		memtable.WithLogger(s.logger.WithField("component", "memtable")),
	}
	if s.cfg.HeightSeed != 0 {
		opts = append(opts, memtable.WithHeightSource(memtable.NewLockedSource(s.cfg.HeightSeed)))
	}
	return memtable.NewMemTable(opts...)
}

// Put stores a new key. Keys already in the memtable are rejected; keys in
// page files are shadowed.
func (s *store) Put(ctx context.Context, key, value []byte) error {
	start := time.Now()
	if err := s.active.Put(key, value); err != nil {
		switch {
		case errors.Is(err, memtable.ErrDuplicateKey):
			s.stats.TrackError(stats.ErrKindDuplicateKey)
		case errors.Is(err, memtable.ErrImmutable):
			s.stats.TrackError(stats.ErrKindImmutable)
		}
		return err
	}
	s.stats.TrackOperationWithLatency(stats.OpPut, uint64(time.Since(start).Nanoseconds()))
	s.stats.TrackMemTableSize(uint64(s.active.ApproximateSize()))

	if s.active.ShouldFlush() && s.manifest != nil {
		if _, err := s.Flush(ctx); err != nil {
			s.logger.Error("automatic flush failed: %v", err)
		}
	}
	return nil
}

// Get returns the newest value stored under key
func (s *store) Get(key []byte) ([]byte, error) {
	start := time.Now()
	defer func() {
		s.stats.TrackOperationWithLatency(stats.OpGet, uint64(time.Since(start).Nanoseconds()))
	}()

	for _, mt := range s.memTables() {
		if value, ok := mt.Get(key); ok {
			return value, nil
		}
	}
	for i := len(s.readers) - 1; i >= 0; i-- {
		value, found, err := s.readers[i].Get(key)
		if err != nil {
			return nil, err
		}
		if found {
			return value, nil
		}
	}
	return nil, errKeyNotFound
}

// memTables returns the memtables newest first
func (s *store) memTables() []*memtable.MemTable {
	if s.frozen != nil {
		return []*memtable.MemTable{s.active, s.frozen}
	}
	return []*memtable.MemTable{s.active}
}

// newIterator merges every source, newest first
func (s *store) newIterator() iterator.Iterator {
	var sources []iterator.Iterator
	for _, mt := range s.memTables() {
		sources = append(sources, mt.NewIterator())
	}
	for i := len(s.readers) - 1; i >= 0; i-- {
		sources = append(sources, s.readers[i].NewIterator())
	}
	return composite.NewHierarchicalIterator(sources...)
}

// Scan calls fn for every key starting with prefix
func (s *store) Scan(prefix []byte, fn func(key, value []byte) error) error {
	return s.Range(prefix, prefixEnd(prefix), fn)
}

// Range calls fn for every key in [start, end). A nil end is unbounded.
func (s *store) Range(start, end []byte, fn func(key, value []byte) error) error {
	begin := time.Now()
	iter := bounded.NewBoundedIterator(s.newIterator(), start, end)
	iter.SeekToFirst()
	err := iterator.Drain(iter, fn)
	s.stats.TrackOperationWithLatency(stats.OpScan, uint64(time.Since(begin).Nanoseconds()))
	return err
}

// ScanSuffix calls fn for every key ending with suffix
func (s *store) ScanSuffix(suffix []byte, fn func(key, value []byte) error) error {
	begin := time.Now()
	iter := filtered.NewSuffixIterator(s.newIterator(), suffix)
	iter.SeekToFirst()
	err := iterator.Drain(iter, fn)
	s.stats.TrackOperationWithLatency(stats.OpScan, uint64(time.Since(begin).Nanoseconds()))
	return err
}

// prefixEnd returns the smallest key greater than every key with the
// prefix, or nil when no such key exists
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// Flush writes the memtable to a new page file and registers it in the
// manifest. A memtable left frozen by an earlier failure goes first.
func (s *store) Flush(ctx context.Context) (flush.Result, error) {
	if s.manifest == nil {
		return flush.Result{}, errNoDataDir
	}

	if s.frozen == nil {
		if s.active.Len() == 0 {
			return flush.Result{}, nil
		}
		s.active.SetImmutable()
		s.frozen, s.active = s.active, s.newMemTable()
	}

	res, err := s.flushMemTable(ctx, s.frozen)
	if err != nil {
		return res, err
	}
	s.frozen = nil
	s.stats.TrackMemTableSize(uint64(s.active.ApproximateSize()))
	return res, nil
}

func (s *store) flushMemTable(ctx context.Context, mt *memtable.MemTable) (flush.Result, error) {
	name := fmt.Sprintf("%06d%s", s.nextFile, pageFileExt)
	path := filepath.Join(s.cfg.DataDir, name)
	fileOpts := []pagefile.Option{
		pagefile.WithStats(s.stats),
		pagefile.WithTelemetry(s.tel),
		pagefile.WithLogger(s.logger),
	}

	w, err := pagefile.Create(path, s.codec, fileOpts...)
	if err != nil {
		return flush.Result{}, err
	}

	flusher, err := flush.New(s.cfg.PageSize, w,
		flush.WithStats(s.stats),
		flush.WithTelemetry(s.tel),
		flush.WithLogger(s.logger.WithField("component", "flush")),
	)
	if err != nil {
		w.Abort()
		return flush.Result{}, err
	}

	res, err := flusher.Flush(ctx, mt.NewIterator())
	if err != nil {
		w.Abort()
		return res, err
	}
	if err := w.Finish(); err != nil {
		return res, err
	}

	r, err := pagefile.OpenMapped(path, fileOpts...)
	if err != nil {
		return res, err
	}

	s.manifest.AddFile(name, int64(res.Pages))
	if err := s.manifest.Save(); err != nil {
		r.Close()
		s.manifest.RemoveFile(name)
		return res, err
	}

	s.readers = append(s.readers, r)
	s.nextFile++
	return res, nil
}

// Stats returns collector statistics with the store layout added
func (s *store) Stats() map[string]interface{} {
	st := s.stats.GetStats()
	st["memtable_entries"] = s.active.Len()
	st["memtable_size"] = uint64(s.active.ApproximateSize())
	st["page_files"] = len(s.readers)

	pages := 0
	for _, r := range s.readers {
		pages += r.Len()
	}
	st["page_count"] = pages
	return st
}

// Close flushes what the memtables still hold when the store has a data
// directory, then releases every page file
func (s *store) Close() error {
	var errs []error
	if s.manifest != nil {
		for s.frozen != nil || s.active.Len() > 0 {
			res, err := s.Flush(context.Background())
			if err != nil {
				s.logger.Error("flush on close failed: %v", err)
				errs = append(errs, fmt.Errorf("flush on close: %w", err))
				break
			}
			s.logger.Info("flushed %d entries on close", res.Entries)
		}
	}

	for _, r := range s.readers {
		errs = append(errs, r.Close())
	}
	s.readers = nil
	return errors.Join(errs...)
}
