package block

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Entry is a read-only view over one encoded key-value record.
//
// The encoded layout is:
//
//	[key length uvarint][value length uvarint][key bytes][value bytes]
//
// Both lengths are written before either payload. The view borrows its
// bytes from the page (or buffer) it was decoded from.
type Entry struct {
	data        []byte
	keyLen      uint32
	valueLen    uint32
	keyVarint   int
	valueVarint int
}

// uvarintSize returns the number of bytes needed to encode v as a uvarint
func uvarintSize(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// EncodedSize returns the number of bytes EncodeEntry writes for key and value
func EncodedSize(key, value []byte) int {
	return uvarintSize(uint64(len(key))) + uvarintSize(uint64(len(value))) + len(key) + len(value)
}

// checkLengths rejects key and value lengths that do not fit a u32 length field
func checkLengths(keyLen, valueLen uint64) error {
	if keyLen > math.MaxUint32 || valueLen > math.MaxUint32 {
		return fmt.Errorf("%w: key or value longer than %d bytes", ErrOutOfRange, uint32(math.MaxUint32))
	}
	return nil
}

// EncodeEntry writes key and value into buf and returns a view over the
// written bytes. buf must hold at least EncodedSize(key, value) bytes.
func EncodeEntry(buf []byte, key, value []byte) (Entry, error) {
	if err := checkLengths(uint64(len(key)), uint64(len(value))); err != nil {
		return Entry{}, err
	}

	size := EncodedSize(key, value)
	if len(buf) < size {
		return Entry{}, fmt.Errorf("%w: need %d bytes, have %d", ErrBufferTooSmall, size, len(buf))
	}

	kn := binary.PutUvarint(buf, uint64(len(key)))
	vn := binary.PutUvarint(buf[kn:], uint64(len(value)))
	copy(buf[kn+vn:], key)
	copy(buf[kn+vn+len(key):], value)

	return Entry{
		data:        buf[:size:size],
		keyLen:      uint32(len(key)),
		valueLen:    uint32(len(value)),
		keyVarint:   kn,
		valueVarint: vn,
	}, nil
}

// decodeLength reads one u32 uvarint from the front of data
func decodeLength(data []byte) (uint32, int, error) {
	v, n := binary.Uvarint(data)
	if n == 0 {
		return 0, 0, fmt.Errorf("%w: truncated length varint", ErrCorruption)
	}
	if n < 0 {
		return 0, 0, fmt.Errorf("%w: length varint overflows", ErrCorruption)
	}
	if v > math.MaxUint32 {
		return 0, 0, fmt.Errorf("%w: length %d exceeds u32", ErrCorruption, v)
	}
	return uint32(v), n, nil
}

// DecodeEntry decodes the entry starting at the front of data. Bytes after
// the entry are ignored. Malformed headers and payloads running past data
// yield ErrCorruption.
func DecodeEntry(data []byte) (Entry, error) {
	keyLen, kn, err := decodeLength(data)
	if err != nil {
		return Entry{}, err
	}

	// The value length sits right after the key length, before the key
	valueLen, vn, err := decodeLength(data[kn:])
	if err != nil {
		return Entry{}, err
	}

	total := uint64(kn) + uint64(vn) + uint64(keyLen) + uint64(valueLen)
	if total > uint64(len(data)) {
		return Entry{}, fmt.Errorf("%w: entry of %d bytes exceeds %d available", ErrCorruption, total, len(data))
	}

	return Entry{
		data:        data[:total:total],
		keyLen:      keyLen,
		valueLen:    valueLen,
		keyVarint:   kn,
		valueVarint: vn,
	}, nil
}

// KeyLen returns the key length and the width of its varint
func (e Entry) KeyLen() (uint32, int) {
	return e.keyLen, e.keyVarint
}

// ValueLen returns the value length and the width of its varint
func (e Entry) ValueLen() (uint32, int) {
	return e.valueLen, e.valueVarint
}

// Key returns the key bytes without copying
func (e Entry) Key() []byte {
	start := e.keyVarint + e.valueVarint
	return e.data[start : start+int(e.keyLen)]
}

// Value returns the value bytes without copying
func (e Entry) Value() []byte {
	start := e.keyVarint + e.valueVarint + int(e.keyLen)
	return e.data[start : start+int(e.valueLen)]
}

// Len returns the total number of bytes the entry occupies
func (e Entry) Len() uint32 {
	return uint32(len(e.data))
}

// Bytes returns the encoded entry
func (e Entry) Bytes() []byte {
	return e.data
}
