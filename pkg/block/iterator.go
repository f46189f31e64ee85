package block

import "bytes"

// Iterator walks the entries of a page in storage order. Each call to
// Block.Iterator returns an independent cursor; iterators never modify the
// page.
type Iterator struct {
	block       *Block
	index       uint32
	offset      uint32
	current     Entry
	valid       bool
	initialized bool
	err         error
}

// Iterator returns a new iterator positioned before the first entry.
// Calling Next on it moves to the first entry.
func (b *Block) Iterator() *Iterator {
	return &Iterator{block: b}
}

// positionAt decodes the entry with the given index at the given offset
func (it *Iterator) positionAt(index, offset uint32) bool {
	it.initialized = true
	it.index = index
	it.offset = offset

	if index >= it.block.Len() {
		it.valid = false
		return false
	}

	entry, err := it.block.GetAtOffset(offset)
	if err != nil {
		it.err = err
		it.valid = false
		return false
	}

	it.current = entry
	it.valid = true
	return true
}

// SeekToFirst positions the iterator at the first entry
func (it *Iterator) SeekToFirst() {
	it.err = nil
	it.positionAt(0, 0)
}

// SeekToLast positions the iterator at the last entry
func (it *Iterator) SeekToLast() {
	it.err = nil

	count := it.block.Len()
	if count == 0 {
		it.positionAt(0, 0)
		return
	}

	// Jump to the last snapshot, then walk the short tail
	index, offset := uint32(0), uint32(0)
	if n := it.block.SnapshotCount(); n > 0 {
		index = snapshotIndexToEntry(n - 1)
		offset = it.block.Snapshot(n - 1)
	}

	if !it.positionAt(index, offset) {
		return
	}
	for it.index+1 < count {
		if !it.positionAt(it.index+1, it.offset+it.current.Len()) {
			return
		}
	}
}

// Seek positions the iterator at the first entry with key >= target
func (it *Iterator) Seek(target []byte) bool {
	it.err = nil

	// Treat equal keys as greater so the bracket starts strictly before the
	// target; with duplicate keys this lands on the first of them.
	snap, offset, _, err := it.block.searchSnapshots(func(key []byte) int {
		if bytes.Compare(key, target) >= 0 {
			return 1
		}
		return -1
	})
	if err != nil {
		it.initialized = true
		it.err = err
		it.valid = false
		return false
	}

	if !it.positionAt(snapshotIndexToEntry(snap), offset) {
		return false
	}

	// At most SnapshotFrequency entries separate two snapshots
	for bytes.Compare(it.current.Key(), target) < 0 {
		if !it.Next() {
			return false
		}
	}
	return true
}

// Next advances to the next entry. On a fresh iterator it moves to the
// first entry.
func (it *Iterator) Next() bool {
	if !it.initialized {
		it.SeekToFirst()
		return it.valid
	}
	if !it.valid {
		return false
	}
	return it.positionAt(it.index+1, it.offset+it.current.Len())
}

// Key returns the current key
func (it *Iterator) Key() []byte {
	if !it.valid {
		return nil
	}
	return it.current.Key()
}

// Value returns the current value
func (it *Iterator) Value() []byte {
	if !it.valid {
		return nil
	}
	return it.current.Value()
}

// Entry returns the current entry view
func (it *Iterator) Entry() Entry {
	return it.current
}

// Offset returns the region offset of the current entry
func (it *Iterator) Offset() uint32 {
	return it.offset
}

// Valid returns true if the iterator is positioned at an entry
func (it *Iterator) Valid() bool {
	return it.valid
}

// Err returns the decode error that stopped the iterator, if any
func (it *Iterator) Err() error {
	return it.err
}
