package block

import "errors"

const (
	// HeaderSize is the number of bytes at the start of a page holding the
	// entry count and the write offset
	HeaderSize = 8

	// SnapshotFrequency is the number of inserted entries between two offset
	// snapshots. Changing it invalidates persisted pages.
	SnapshotFrequency = 10

	// SnapshotSize is the size of one snapshot slot
	SnapshotSize = 4

	// MaxCapacity is the largest region a page can address with u32 offsets
	MaxCapacity = 1<<32 - 1
)

var (
	// ErrFullPage is returned when an entry does not fit in the remaining space
	ErrFullPage = errors.New("page is full")

	// ErrCorruption is returned when a varint, length or offset cannot be decoded
	ErrCorruption = errors.New("page corruption")

	// ErrOutOfRange is returned when indexing past the entry count, or for a
	// key or value too long for its u32 length field
	ErrOutOfRange = errors.New("index out of range")

	// ErrSealed is returned when inserting into a sealed page
	ErrSealed = errors.New("page is sealed")

	// ErrBufferTooSmall is returned when a buffer cannot hold an encoded entry
	// or a page header
	ErrBufferTooSmall = errors.New("buffer too small")
)
