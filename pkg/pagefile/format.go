// Package pagefile stores sealed pages in a single append-only file.
//
// A file is a sequence of frames followed by a footer:
//
//	frame:  codec u8 | raw_len u32 | stored_len u32 | xxhash64(raw page) u64 | payload
//	footer: magic u64 | version u32 | page_count u32 | page_size u32 | timestamp u64 | xxhash64 u64
//
// All integers are little-endian. Every page in a file has the same size.
package pagefile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/KevoDB/lsmcore/pkg/block"
	"github.com/cespare/xxhash/v2"
)

const (
	// FrameHeaderSize is the fixed size of a frame header in bytes
	FrameHeaderSize = 17
	// FooterSize is the fixed size of the footer in bytes
	FooterSize = 36
	// FooterMagic identifies a page file
	FooterMagic = uint64(0x4C534D5041474531)
	// CurrentVersion is the current file format version
	CurrentVersion = uint32(1)
)

var (
	// ErrPageNotSealed is returned when writing a page that is still open
	ErrPageNotSealed = errors.New("page is not sealed")
	// ErrPageSize is returned when a page differs in size from the file's pages
	ErrPageSize = errors.New("page size mismatch")
	// ErrClosed is returned when using a finished or closed file
	ErrClosed = errors.New("page file closed")
)

// frameHeader precedes every page payload
type frameHeader struct {
	codec     Codec
	rawLen    uint32
	storedLen uint32
	checksum  uint64
}

func (h frameHeader) encode(dst []byte) {
	dst[0] = byte(h.codec)
	binary.LittleEndian.PutUint32(dst[1:5], h.rawLen)
	binary.LittleEndian.PutUint32(dst[5:9], h.storedLen)
	binary.LittleEndian.PutUint64(dst[9:17], h.checksum)
}

func decodeFrameHeader(data []byte) (frameHeader, error) {
	if len(data) < FrameHeaderSize {
		return frameHeader{}, fmt.Errorf("%w: frame header of %d bytes", block.ErrCorruption, len(data))
	}
	h := frameHeader{
		codec:     Codec(data[0]),
		rawLen:    binary.LittleEndian.Uint32(data[1:5]),
		storedLen: binary.LittleEndian.Uint32(data[5:9]),
		checksum:  binary.LittleEndian.Uint64(data[9:17]),
	}
	if !h.codec.valid() {
		return frameHeader{}, fmt.Errorf("%w: frame codec %d", block.ErrCorruption, data[0])
	}
	if h.codec == CodecNone && h.storedLen != h.rawLen {
		return frameHeader{}, fmt.Errorf("%w: uncompressed frame stores %d of %d bytes",
			block.ErrCorruption, h.storedLen, h.rawLen)
	}
	return h, nil
}

// Footer describes the pages of a file
type Footer struct {
	Magic     uint64
	Version   uint32
	PageCount uint32
	PageSize  uint32
	Timestamp int64
	Checksum  uint64
}

func newFooter(pageCount, pageSize uint32) *Footer {
	return &Footer{
		Magic:     FooterMagic,
		Version:   CurrentVersion,
		PageCount: pageCount,
		PageSize:  pageSize,
		Timestamp: time.Now().UnixNano(),
	}
}

// Encode serializes the footer, filling in its checksum
func (f *Footer) Encode() []byte {
	result := make([]byte, FooterSize)

	binary.LittleEndian.PutUint64(result[0:8], f.Magic)
	binary.LittleEndian.PutUint32(result[8:12], f.Version)
	binary.LittleEndian.PutUint32(result[12:16], f.PageCount)
	binary.LittleEndian.PutUint32(result[16:20], f.PageSize)
	binary.LittleEndian.PutUint64(result[20:28], uint64(f.Timestamp))

	f.Checksum = xxhash.Sum64(result[:28])
	binary.LittleEndian.PutUint64(result[28:], f.Checksum)

	return result
}

// DecodeFooter parses and verifies a footer
func DecodeFooter(data []byte) (*Footer, error) {
	if len(data) < FooterSize {
		return nil, fmt.Errorf("%w: footer of %d bytes, expected %d", block.ErrCorruption, len(data), FooterSize)
	}

	footer := &Footer{
		Magic:     binary.LittleEndian.Uint64(data[0:8]),
		Version:   binary.LittleEndian.Uint32(data[8:12]),
		PageCount: binary.LittleEndian.Uint32(data[12:16]),
		PageSize:  binary.LittleEndian.Uint32(data[16:20]),
		Timestamp: int64(binary.LittleEndian.Uint64(data[20:28])),
		Checksum:  binary.LittleEndian.Uint64(data[28:36]),
	}

	if footer.Magic != FooterMagic {
		return nil, fmt.Errorf("%w: footer magic %x, expected %x", block.ErrCorruption, footer.Magic, FooterMagic)
	}
	if footer.Version != CurrentVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", block.ErrCorruption, footer.Version)
	}
	if expected := xxhash.Sum64(data[:28]); footer.Checksum != expected {
		return nil, fmt.Errorf("%w: footer checksum mismatch: file has %d, calculated %d",
			block.ErrCorruption, footer.Checksum, expected)
	}

	return footer, nil
}
