// Package bounded restricts an iterator to a half-open key range.
package bounded

import (
	"bytes"

	"github.com/KevoDB/lsmcore/pkg/common/iterator"
)

// BoundedIterator wraps an iterator and limits it to [start, end).
// A nil bound is open.
type BoundedIterator struct {
	iterator.Iterator
	start []byte
	end   []byte
}

// NewBoundedIterator creates a new bounded iterator
func NewBoundedIterator(iter iterator.Iterator, startKey, endKey []byte) *BoundedIterator {
	bi := &BoundedIterator{Iterator: iter}
	bi.SetBounds(startKey, endKey)
	return bi
}

func cloneKey(key []byte) []byte {
	if key == nil {
		return nil
	}
	return append(make([]byte, 0, len(key)), key...)
}

// SetBounds replaces the bounds. The current position is kept and
// re-checked against the new range.
func (b *BoundedIterator) SetBounds(start, end []byte) {
	b.start = cloneKey(start)
	b.end = cloneKey(end)
}

// SeekToFirst positions at the first key in the bounded range
func (b *BoundedIterator) SeekToFirst() {
	if b.start != nil {
		b.Iterator.Seek(b.start)
	} else {
		b.Iterator.SeekToFirst()
	}
}

// SeekToLast positions at the last key in the bounded range. Without an
// end bound this is the last key of the source; otherwise the range is
// scanned forward because the source cannot step backwards.
func (b *BoundedIterator) SeekToLast() {
	if b.end == nil {
		b.Iterator.SeekToLast()
		return
	}

	var last []byte
	for b.SeekToFirst(); b.Valid(); b.Iterator.Next() {
		last = append(last[:0], b.Iterator.Key()...)
	}
	if last == nil {
		return
	}
	b.Iterator.Seek(last)
}

// Seek positions at the first key >= target within bounds
func (b *BoundedIterator) Seek(target []byte) bool {
	if b.start != nil && bytes.Compare(target, b.start) < 0 {
		target = b.start
	}
	if b.end != nil && bytes.Compare(target, b.end) >= 0 {
		// Park the source past the range so Valid reports false
		b.Iterator.Seek(b.end)
		return false
	}

	b.Iterator.Seek(target)
	return b.Valid()
}

// Next advances to the next key within bounds
func (b *BoundedIterator) Next() bool {
	if !b.Valid() {
		return false
	}
	b.Iterator.Next()
	return b.Valid()
}

// Valid returns true if the iterator is positioned at a valid entry within bounds
func (b *BoundedIterator) Valid() bool {
	if !b.Iterator.Valid() {
		return false
	}
	key := b.Iterator.Key()
	if b.start != nil && bytes.Compare(key, b.start) < 0 {
		return false
	}
	return b.end == nil || bytes.Compare(key, b.end) < 0
}

// Key returns the current key if within bounds
func (b *BoundedIterator) Key() []byte {
	if !b.Valid() {
		return nil
	}
	return b.Iterator.Key()
}

// Value returns the current value if within bounds
func (b *BoundedIterator) Value() []byte {
	if !b.Valid() {
		return nil
	}
	return b.Iterator.Value()
}
