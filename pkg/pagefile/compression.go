package pagefile

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
)

var (
	// ErrUnknownCodec is returned when an unsupported compression codec is specified
	ErrUnknownCodec = errors.New("unknown compression codec")

	// ErrInvalidCompressedData is returned when a frame payload cannot be decompressed
	ErrInvalidCompressedData = errors.New("invalid compressed data")
)

// Codec identifies how a page frame payload is compressed
type Codec uint8

const (
	CodecNone Codec = iota
	CodecSnappy
	CodecZstd
	CodecS2
)

// String returns the configuration name of the codec
func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecSnappy:
		return "snappy"
	case CodecZstd:
		return "zstd"
	case CodecS2:
		return "s2"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

func (c Codec) valid() bool {
	return c <= CodecS2
}

// ParseCodec converts a configuration name such as "snappy" to a Codec
func ParseCodec(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "none", "":
		return CodecNone, nil
	case "snappy":
		return CodecSnappy, nil
	case "zstd":
		return CodecZstd, nil
	case "s2":
		return CodecS2, nil
	default:
		return CodecNone, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

// Compressor compresses and decompresses frame payloads. The zstd encoder
// and decoder are created once and shared under a mutex.
type Compressor struct {
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder

	mu sync.Mutex
}

// NewCompressor creates a compressor with initialized codecs
func NewCompressor() (*Compressor, error) {
	zstdEncoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create ZSTD encoder: %w", err)
	}

	zstdDecoder, err := zstd.NewReader(nil)
	if err != nil {
		zstdEncoder.Close()
		return nil, fmt.Errorf("failed to create ZSTD decoder: %w", err)
	}

	return &Compressor{
		zstdEncoder: zstdEncoder,
		zstdDecoder: zstdDecoder,
	}, nil
}

// Compress compresses data using the specified codec. CodecNone returns
// data itself.
func (c *Compressor) Compress(data []byte, codec Codec) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch codec {
	case CodecNone:
		return data, nil
	case CodecSnappy:
		return snappy.Encode(nil, data), nil
	case CodecZstd:
		return c.zstdEncoder.EncodeAll(data, nil), nil
	case CodecS2:
		return s2.Encode(nil, data), nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownCodec, codec)
	}
}

// Decompress restores a payload of rawLen bytes
func (c *Compressor) Decompress(data []byte, codec Codec, rawLen int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		result []byte
		err    error
	)
	switch codec {
	case CodecNone:
		return data, nil
	case CodecSnappy:
		var n int
		if n, err = snappy.DecodedLen(data); err == nil && n != rawLen {
			err = fmt.Errorf("decoded length %d, expected %d", n, rawLen)
		}
		if err == nil {
			result, err = snappy.Decode(make([]byte, rawLen), data)
		}
	case CodecZstd:
		result, err = c.zstdDecoder.DecodeAll(data, make([]byte, 0, rawLen))
	case CodecS2:
		var n int
		if n, err = s2.DecodedLen(data); err == nil && n != rawLen {
			err = fmt.Errorf("decoded length %d, expected %d", n, rawLen)
		}
		if err == nil {
			result, err = s2.Decode(make([]byte, rawLen), data)
		}
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownCodec, codec)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCompressedData, err)
	}
	if len(result) != rawLen {
		return nil, fmt.Errorf("%w: got %d bytes, expected %d", ErrInvalidCompressedData, len(result), rawLen)
	}
	return result, nil
}

// Close releases the zstd encoder and decoder
func (c *Compressor) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.zstdEncoder != nil {
		c.zstdEncoder.Close()
		c.zstdEncoder = nil
	}

	if c.zstdDecoder != nil {
		c.zstdDecoder.Close()
		c.zstdDecoder = nil
	}

	return nil
}
