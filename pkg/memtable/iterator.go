package memtable

import "github.com/KevoDB/lsmcore/pkg/common/iterator"

var _ iterator.Iterator = (*Iterator)(nil)

// Iterator walks a skip list in key order. It observes keys inserted
// concurrently when they are spliced ahead of its position.
type Iterator struct {
	list    *SkipList
	current nodeID
}

// Valid returns true if the iterator is positioned at a valid entry
func (it *Iterator) Valid() bool {
	return it.current != nilNode
}

// Key returns the current key, or nil if the iterator is not valid
func (it *Iterator) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return it.list.node(it.current).key
}

// Value returns the current value, or nil if the iterator is not valid
func (it *Iterator) Value() []byte {
	if !it.Valid() {
		return nil
	}
	return it.list.node(it.current).value
}

// SeekToFirst positions the iterator at the first entry
func (it *Iterator) SeekToFirst() {
	it.current = it.list.node(headID).loadNext(0)
}

// SeekToLast positions the iterator at the last entry
func (it *Iterator) SeekToLast() {
	it.current = it.list.last()
}

// Seek positions the iterator at the first entry with key >= target
func (it *Iterator) Seek(target []byte) bool {
	it.current = it.list.lowerBound(target)
	return it.Valid()
}

// Next advances the iterator to the next entry
func (it *Iterator) Next() bool {
	if !it.Valid() {
		return false
	}
	it.current = it.list.node(it.current).loadNext(0)
	return it.Valid()
}

// Prev moves the iterator to the previous entry
func (it *Iterator) Prev() bool {
	if !it.Valid() {
		return false
	}
	it.current = it.list.predecessor(it.current)
	return it.Valid()
}

// Err is always nil; walking forward links cannot fail
func (it *Iterator) Err() error {
	return nil
}
