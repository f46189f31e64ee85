package block

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Block is a fixed-capacity page of sorted entries laid out directly in a
// caller-owned buffer, typically a slice of an mmap-ed file.
//
// The buffer starts with an 8 byte header (entry count and write offset,
// both little-endian u32) followed by the region. Entries are written from
// the start of the region upwards. Every SnapshotFrequency entries the offset
// of the entry that completed the group is saved in a snapshot slot; slots
// are written from the end of the region downwards. Snapshots are what
// BinarySearch uses to skip through the page.
//
// A Block has a single writer. Once sealed it is never modified and can be
// read concurrently without locking.
type Block struct {
	buf    []byte
	region []byte
	sealed bool
}

// New initializes an empty page over buf. The buffer does not need to be
// zeroed; only the header is written.
func New(buf []byte) (*Block, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("%w: page needs at least %d bytes, got %d", ErrBufferTooSmall, HeaderSize, len(buf))
	}
	if uint64(len(buf)-HeaderSize) > MaxCapacity {
		return nil, fmt.Errorf("page region of %d bytes exceeds maximum %d", len(buf)-HeaderSize, uint64(MaxCapacity))
	}

	b := &Block{
		buf:    buf,
		region: buf[HeaderSize:],
	}
	b.setCount(0)
	b.setOffset(0)
	return b, nil
}

// Open wraps a previously written page, validating its header and snapshot
// slots. The returned page is sealed.
func Open(buf []byte) (*Block, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("%w: page of %d bytes has no header", ErrCorruption, len(buf))
	}
	if uint64(len(buf)-HeaderSize) > MaxCapacity {
		return nil, fmt.Errorf("%w: page region of %d bytes too large", ErrCorruption, len(buf)-HeaderSize)
	}

	b := &Block{
		buf:    buf,
		region: buf[HeaderSize:],
		sealed: true,
	}

	count := uint64(b.Len())
	offset := uint64(b.Size())
	capacity := uint64(b.Capacity())
	snapshots := count / SnapshotFrequency

	if offset+snapshots*SnapshotSize > capacity {
		return nil, fmt.Errorf("%w: write offset %d and %d snapshots exceed capacity %d",
			ErrCorruption, offset, snapshots, capacity)
	}
	if count == 0 && offset != 0 {
		return nil, fmt.Errorf("%w: empty page with write offset %d", ErrCorruption, offset)
	}
	// Every entry takes at least two bytes of length headers
	if count*2 > offset {
		return nil, fmt.Errorf("%w: %d entries cannot fit in %d bytes", ErrCorruption, count, offset)
	}

	var prev uint32
	for i := 0; i < int(snapshots); i++ {
		snap := b.Snapshot(i)
		if uint64(snap) >= offset || (i > 0 && snap <= prev) {
			return nil, fmt.Errorf("%w: snapshot %d has invalid offset %d", ErrCorruption, i, snap)
		}
		prev = snap
	}

	return b, nil
}

func (b *Block) setCount(n uint32) {
	binary.LittleEndian.PutUint32(b.buf[0:4], n)
}

func (b *Block) setOffset(off uint32) {
	binary.LittleEndian.PutUint32(b.buf[4:8], off)
}

// Len returns the number of entries in the page
func (b *Block) Len() uint32 {
	return binary.LittleEndian.Uint32(b.buf[0:4])
}

// Size returns the write offset, i.e. the number of region bytes used by entries
func (b *Block) Size() uint32 {
	return binary.LittleEndian.Uint32(b.buf[4:8])
}

// Capacity returns the size of the region shared by entries and snapshots
func (b *Block) Capacity() uint32 {
	return uint32(len(b.region))
}

// SnapshotCount returns the number of saved offset snapshots
func (b *Block) SnapshotCount() int {
	return int(b.Len() / SnapshotFrequency)
}

func (b *Block) snapshotBytes() uint32 {
	return uint32(b.SnapshotCount()) * SnapshotSize
}

// Remaining returns the free bytes between the entries and the snapshots
func (b *Block) Remaining() uint32 {
	return b.Capacity() - b.Size() - b.snapshotBytes()
}

// Snapshot returns the entry offset stored in snapshot slot i. Slot 0 is the
// earliest snapshot and lives at the very end of the region.
func (b *Block) Snapshot(i int) uint32 {
	end := len(b.region) - i*SnapshotSize
	return binary.LittleEndian.Uint32(b.region[end-SnapshotSize : end])
}

func (b *Block) writeSnapshot(i int, offset uint32) {
	end := len(b.region) - i*SnapshotSize
	binary.LittleEndian.PutUint32(b.region[end-SnapshotSize:end], offset)
}

// Seal marks the page read-only. Further inserts fail with ErrSealed.
func (b *Block) Seal() {
	b.sealed = true
}

// IsSealed reports whether the page accepts inserts
func (b *Block) IsSealed() bool {
	return b.sealed
}

// Bytes returns the whole page, header included, for writing to storage
func (b *Block) Bytes() []byte {
	return b.buf
}

// Insert appends an entry to the page. Keys must be inserted in
// non-decreasing order; this is not verified.
//
// If the entry (plus the snapshot slot it may require) does not fit,
// ErrFullPage is returned and the page is left unchanged.
func (b *Block) Insert(key, value []byte) (Entry, error) {
	if b.sealed {
		return Entry{}, ErrSealed
	}

	count := b.Len()
	offset := b.Size()

	need := uint64(EncodedSize(key, value))
	takesSnapshot := (count+1)%SnapshotFrequency == 0
	if takesSnapshot {
		need += SnapshotSize
	}

	available := uint64(b.Capacity()) - uint64(offset) - uint64(b.snapshotBytes())
	if need > available {
		return Entry{}, fmt.Errorf("%w: entry needs %d bytes, %d available", ErrFullPage, need, available)
	}

	entry, err := EncodeEntry(b.region[offset:], key, value)
	if err != nil {
		return Entry{}, err
	}

	count++
	b.setCount(count)

	// The snapshot points at the start of the entry just written
	if takesSnapshot {
		b.writeSnapshot(int(count/SnapshotFrequency)-1, offset)
	}

	b.setOffset(offset + entry.Len())
	return entry, nil
}

// GetAtOffset decodes the entry starting at the given region offset. The
// offset must come from a snapshot or from walking entries; any other value
// is likely to decode garbage or fail with ErrCorruption.
func (b *Block) GetAtOffset(offset uint32) (Entry, error) {
	end := b.Size()
	if offset >= end {
		return Entry{}, fmt.Errorf("%w: offset %d beyond write offset %d", ErrCorruption, offset, end)
	}
	return DecodeEntry(b.region[offset:end])
}

// searchSnapshots finds the last snapshot whose key is <= the target.
// It returns the snapshot index (-1 when the target precedes every snapshot),
// the entry offset to start scanning from, and whether the match was exact.
func (b *Block) searchSnapshots(cmp func(key []byte) int) (int, uint32, bool, error) {
	left, right := 0, b.SnapshotCount()

	for left < right {
		mid := left + (right-left)/2
		offset := b.Snapshot(mid)

		entry, err := b.GetAtOffset(offset)
		if err != nil {
			return 0, 0, false, fmt.Errorf("snapshot %d: %w", mid, err)
		}

		order := cmp(entry.Key())
		if order > 0 {
			right = mid
		} else if order < 0 {
			left = mid + 1
		} else {
			return mid, offset, true, nil
		}
	}

	if left == 0 {
		return -1, 0, false, nil
	}
	return left - 1, b.Snapshot(left - 1), false, nil
}

// BinarySearch returns the offset of the closest snapshotted entry whose key
// is <= the target. cmp must return a negative number when key sorts before
// the target, zero when equal, and positive when after.
//
// The result only brackets the target: the exact entry is found by scanning
// forward at most SnapshotFrequency entries. When the target precedes the
// first snapshot the start of the page (offset 0) is returned. The target is
// expected to lie within [First, Last]; see Get for a checked lookup.
func (b *Block) BinarySearch(cmp func(key []byte) int) (uint32, error) {
	_, offset, _, err := b.searchSnapshots(cmp)
	return offset, err
}

// snapshotIndexToEntry maps a snapshot index (or -1) to the entry it points at
func snapshotIndexToEntry(snap int) uint32 {
	if snap < 0 {
		return 0
	}
	return uint32(snap+1)*SnapshotFrequency - 1
}

// Get looks up key using the snapshot index followed by a bounded forward
// scan. It returns false when the key is not in the page.
func (b *Block) Get(key []byte) (Entry, bool, error) {
	if b.Len() == 0 {
		return Entry{}, false, nil
	}

	it := b.Iterator()
	if !it.Seek(key) {
		return Entry{}, false, it.Err()
	}
	if !bytes.Equal(it.Key(), key) {
		return Entry{}, false, nil
	}
	return it.Entry(), true, nil
}

// Index returns the i-th entry. Indexes outside [0, Len()) yield ErrOutOfRange.
func (b *Block) Index(i int) (Entry, error) {
	count := b.Len()
	if i < 0 || uint64(i) >= uint64(count) {
		return Entry{}, fmt.Errorf("%w: index %d, page has %d entries", ErrOutOfRange, i, count)
	}

	// Start from the nearest snapshot at or before i and walk forward
	idx, offset := uint32(0), uint32(0)
	if snap := (i+1)/SnapshotFrequency - 1; snap >= 0 {
		idx = snapshotIndexToEntry(snap)
		offset = b.Snapshot(snap)
	}

	for {
		entry, err := b.GetAtOffset(offset)
		if err != nil {
			return Entry{}, err
		}
		if idx == uint32(i) {
			return entry, nil
		}
		idx++
		offset += entry.Len()
	}
}

// First returns the entry with the smallest key
func (b *Block) First() (Entry, error) {
	return b.Index(0)
}

// Last returns the entry with the largest key
func (b *Block) Last() (Entry, error) {
	return b.Index(int(b.Len()) - 1)
}

// Contains reports whether key lies within the page's key range
func (b *Block) Contains(key []byte) (bool, error) {
	if b.Len() == 0 {
		return false, nil
	}

	first, err := b.First()
	if err != nil {
		return false, err
	}
	last, err := b.Last()
	if err != nil {
		return false, err
	}

	return bytes.Compare(key, first.Key()) >= 0 && bytes.Compare(key, last.Key()) <= 0, nil
}
