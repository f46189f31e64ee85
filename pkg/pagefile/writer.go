package pagefile

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/KevoDB/lsmcore/pkg/block"
	"github.com/KevoDB/lsmcore/pkg/stats"
	"github.com/KevoDB/lsmcore/pkg/telemetry"
	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel/attribute"
)

// Writer appends sealed pages to a temporary file and moves it into place
// on Finish. It satisfies flush.Sink.
type Writer struct {
	path       string
	tmpPath    string
	file       *os.File
	out        *bufio.Writer
	codec      Codec
	compressor *Compressor
	opts       options

	pageSize uint32
	pages    uint32
	written  int64
	header   [FrameHeaderSize]byte
	closed   bool
}

// Create starts a new page file at path compressing pages with codec
func Create(path string, codec Codec, opts ...Option) (*Writer, error) {
	if !codec.valid() {
		return nil, fmt.Errorf("%w: %v", ErrUnknownCodec, codec)
	}

	compressor, err := NewCompressor()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	tmpPath := filepath.Join(dir, fmt.Sprintf(".%s.tmp", filepath.Base(path)))
	file, err := os.Create(tmpPath)
	if err != nil {
		compressor.Close()
		return nil, fmt.Errorf("failed to create temporary file: %w", err)
	}

	w := &Writer{
		path:       path,
		tmpPath:    tmpPath,
		file:       file,
		out:        bufio.NewWriter(file),
		codec:      codec,
		compressor: compressor,
		opts:       buildOptions(opts),
	}
	w.opts.logger = w.opts.logger.WithField("file", filepath.Base(path))
	return w, nil
}

// WritePage appends one sealed page
func (w *Writer) WritePage(ctx context.Context, page *block.Block) error {
	if w.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !page.IsSealed() {
		return ErrPageNotSealed
	}

	raw := page.Bytes()
	if w.pages == 0 {
		w.pageSize = uint32(len(raw))
	} else if uint32(len(raw)) != w.pageSize {
		return fmt.Errorf("%w: page of %d bytes in a file of %d byte pages", ErrPageSize, len(raw), w.pageSize)
	}

	codec := w.codec
	payload, err := w.compressor.Compress(raw, codec)
	if err != nil {
		return err
	}
	// Incompressible pages are stored as is
	if codec != CodecNone && len(payload) >= len(raw) {
		codec, payload = CodecNone, raw
	}

	frameHeader{
		codec:     codec,
		rawLen:    uint32(len(raw)),
		storedLen: uint32(len(payload)),
		checksum:  xxhash.Sum64(raw),
	}.encode(w.header[:])

	if _, err := w.out.Write(w.header[:]); err != nil {
		return fmt.Errorf("failed to write frame header: %w", err)
	}
	if _, err := w.out.Write(payload); err != nil {
		return fmt.Errorf("failed to write page %d: %w", w.pages, err)
	}

	n := int64(FrameHeaderSize + len(payload))
	w.pages++
	w.written += n

	w.opts.stats.TrackOperation(stats.OpPageWrite)
	w.opts.stats.TrackBytes(true, uint64(n))
	telemetry.RecordBytes(ctx, w.opts.tel, "lsmcore.pagefile.bytes_written", n,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentPageFile),
		attribute.String(telemetry.AttrCodec, codec.String()),
	)
	return nil
}

// Pages returns the number of pages written so far
func (w *Writer) Pages() int {
	return int(w.pages)
}

// Finish writes the footer, syncs the file and renames it to its final path
func (w *Writer) Finish() error {
	if w.closed {
		return ErrClosed
	}
	w.closed = true
	defer w.compressor.Close()

	footer := newFooter(w.pages, w.pageSize)
	if _, err := w.out.Write(footer.Encode()); err != nil {
		w.discard()
		return fmt.Errorf("failed to write footer: %w", err)
	}
	if err := w.out.Flush(); err != nil {
		w.discard()
		return fmt.Errorf("failed to flush page file: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		w.discard()
		return fmt.Errorf("failed to sync page file: %w", err)
	}
	if err := w.file.Close(); err != nil {
		os.Remove(w.tmpPath)
		return fmt.Errorf("failed to close page file: %w", err)
	}
	if err := os.Rename(w.tmpPath, w.path); err != nil {
		os.Remove(w.tmpPath)
		return fmt.Errorf("failed to rename page file: %w", err)
	}

	w.opts.logger.Info("wrote %d pages (%d bytes, %s)", w.pages, w.written+FooterSize, w.codec)
	return nil
}

// Abort drops the file without moving it into place
func (w *Writer) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.compressor.Close()
	return w.discard()
}

func (w *Writer) discard() error {
	w.file.Close()
	return os.Remove(w.tmpPath)
}
