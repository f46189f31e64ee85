package pagefile

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/KevoDB/lsmcore/pkg/block"
	"github.com/KevoDB/lsmcore/pkg/stats"
	"github.com/KevoDB/lsmcore/pkg/telemetry"
	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel/attribute"
)

// frame locates one page payload in the file
type frame struct {
	header frameHeader
	offset int64 // start of the payload
}

// Reader gives random access to the pages of a finished file. Pages are
// verified and decoded on first access and cached afterwards.
type Reader struct {
	path   string
	file   *os.File // nil for mapped readers
	data   []byte   // file contents for mapped readers
	unmap  func() error
	size   int64
	footer *Footer
	frames []frame

	compressor *Compressor
	opts       options

	mu     sync.Mutex
	pages  []*block.Block
	closed bool
}

// Open opens a page file for reading through the file descriptor
func Open(path string, opts ...Option) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open page file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat page file: %w", err)
	}

	r := &Reader{path: path, file: file, size: info.Size()}
	if err := r.init(opts); err != nil {
		file.Close()
		return nil, err
	}
	return r, nil
}

// OpenMapped opens a page file through a read-only memory mapping.
// Uncompressed pages are served straight from the mapping, so the pages
// returned by Page stay valid only until Close.
func OpenMapped(path string, opts ...Option) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open page file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat page file: %w", err)
	}
	if info.Size() < FooterSize {
		return nil, fmt.Errorf("%w: file of %d bytes has no footer", block.ErrCorruption, info.Size())
	}

	data, unmap, err := mapFile(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to map page file: %w", err)
	}

	r := &Reader{path: path, data: data, unmap: unmap, size: info.Size()}
	if err := r.init(opts); err != nil {
		unmap()
		return nil, err
	}
	return r, nil
}

func (r *Reader) init(opts []Option) error {
	r.opts = buildOptions(opts)
	r.opts.logger = r.opts.logger.WithField("file", filepath.Base(r.path))

	if r.size < FooterSize {
		return fmt.Errorf("%w: file of %d bytes has no footer", block.ErrCorruption, r.size)
	}

	footerData, err := r.read(r.size-FooterSize, FooterSize)
	if err != nil {
		return err
	}
	if r.footer, err = DecodeFooter(footerData); err != nil {
		r.opts.stats.TrackError(stats.ErrKindCorruption)
		return err
	}

	if err := r.scanFrames(); err != nil {
		r.opts.stats.TrackError(stats.ErrKindCorruption)
		return err
	}

	if r.compressor, err = NewCompressor(); err != nil {
		return err
	}
	r.pages = make([]*block.Block, len(r.frames))

	r.opts.logger.Debug("opened %d pages of %d bytes", len(r.frames), r.footer.PageSize)
	return nil
}

// scanFrames walks the frame headers between the start of the file and the footer
func (r *Reader) scanFrames() error {
	end := r.size - FooterSize
	r.frames = make([]frame, 0, r.footer.PageCount)

	for offset := int64(0); offset < end; {
		if end-offset < FrameHeaderSize {
			return fmt.Errorf("%w: truncated frame header at offset %d", block.ErrCorruption, offset)
		}
		data, err := r.read(offset, FrameHeaderSize)
		if err != nil {
			return err
		}
		header, err := decodeFrameHeader(data)
		if err != nil {
			return err
		}
		if header.rawLen != r.footer.PageSize {
			return fmt.Errorf("%w: frame at offset %d holds a %d byte page, file has %d byte pages",
				block.ErrCorruption, offset, header.rawLen, r.footer.PageSize)
		}

		payload := offset + FrameHeaderSize
		if int64(header.storedLen) > end-payload {
			return fmt.Errorf("%w: frame at offset %d overruns the footer", block.ErrCorruption, offset)
		}
		r.frames = append(r.frames, frame{header: header, offset: payload})
		offset = payload + int64(header.storedLen)
	}

	if uint32(len(r.frames)) != r.footer.PageCount {
		return fmt.Errorf("%w: footer lists %d pages, found %d",
			block.ErrCorruption, r.footer.PageCount, len(r.frames))
	}
	return nil
}

// read returns n bytes at off. Mapped readers return a view of the mapping.
func (r *Reader) read(off int64, n int) ([]byte, error) {
	if off < 0 || int64(n) > r.size-off {
		return nil, fmt.Errorf("%w: read of %d bytes at offset %d beyond file end", block.ErrCorruption, n, off)
	}
	if r.data != nil {
		return r.data[off : off+int64(n) : off+int64(n)], nil
	}

	buf := make([]byte, n)
	if n, err := r.file.ReadAt(buf, off); n < len(buf) {
		return nil, fmt.Errorf("failed to read page file: %w", err)
	}
	return buf, nil
}

// Len returns the number of pages in the file
func (r *Reader) Len() int {
	return len(r.frames)
}

// PageSize returns the size in bytes of every page in the file
func (r *Reader) PageSize() int {
	return int(r.footer.PageSize)
}

// Path returns the file path
func (r *Reader) Path() string {
	return r.path
}

// Page returns the i-th page, verifying its checksum on first access
func (r *Reader) Page(i int) (*block.Block, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if i < 0 || i >= len(r.frames) {
		return nil, fmt.Errorf("%w: page %d, file has %d pages", block.ErrOutOfRange, i, len(r.frames))
	}
	if page := r.pages[i]; page != nil {
		return page, nil
	}

	start := time.Now()
	f := r.frames[i]
	payload, err := r.read(f.offset, int(f.header.storedLen))
	if err != nil {
		return nil, err
	}

	raw, err := r.compressor.Decompress(payload, f.header.codec, int(f.header.rawLen))
	if err != nil {
		r.opts.stats.TrackError(stats.ErrKindCorruption)
		return nil, fmt.Errorf("%w: page %d: %v", block.ErrCorruption, i, err)
	}
	if sum := xxhash.Sum64(raw); sum != f.header.checksum {
		r.opts.stats.TrackError(stats.ErrKindCorruption)
		return nil, fmt.Errorf("%w: page %d checksum mismatch: file has %d, calculated %d",
			block.ErrCorruption, i, f.header.checksum, sum)
	}

	page, err := block.Open(raw)
	if err != nil {
		r.opts.stats.TrackError(stats.ErrKindCorruption)
		return nil, fmt.Errorf("page %d: %w", i, err)
	}
	r.pages[i] = page

	r.opts.stats.TrackOperationWithLatency(stats.OpPageRead, uint64(time.Since(start).Nanoseconds()))
	r.opts.stats.TrackBytes(false, uint64(len(payload)))
	telemetry.RecordBytes(context.Background(), r.opts.tel, "lsmcore.pagefile.bytes_read", int64(len(payload)),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentPageFile),
		attribute.String(telemetry.AttrCodec, f.header.codec.String()),
	)
	return page, nil
}

// pageFor returns the index of the first page whose last key is >= key,
// or Len() when every key in the file is smaller
func (r *Reader) pageFor(key []byte) (int, error) {
	lo, hi := 0, r.Len()
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		page, err := r.Page(mid)
		if err != nil {
			return 0, err
		}

		below := page.Len() == 0
		if !below {
			last, err := page.Last()
			if err != nil {
				return 0, err
			}
			below = bytes.Compare(last.Key(), key) < 0
		}

		if below {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, nil
}

// Get returns the value stored under key
func (r *Reader) Get(key []byte) ([]byte, bool, error) {
	i, err := r.pageFor(key)
	if err != nil || i == r.Len() {
		return nil, false, err
	}

	page, err := r.Page(i)
	if err != nil {
		return nil, false, err
	}
	entry, found, err := page.Get(key)
	if err != nil || !found {
		return nil, false, err
	}
	return entry.Value(), true, nil
}

// Close releases the file or mapping. Pages obtained from a mapped reader
// must not be used afterwards.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.pages = nil
	r.compressor.Close()

	if r.unmap != nil {
		err := r.unmap()
		r.data = nil
		return err
	}
	return r.file.Close()
}
