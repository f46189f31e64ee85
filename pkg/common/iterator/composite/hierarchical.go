// Package composite combines several sorted sources into one ordered view.
package composite

import (
	"bytes"
	"errors"

	"github.com/KevoDB/lsmcore/pkg/common/iterator"
)

// HierarchicalIterator merges sources ordered from newest to oldest. When a
// key appears in several sources the entry of the newest one wins, which is
// how an active memtable shadows pages flushed before it.
type HierarchicalIterator struct {
	iterators []iterator.Iterator

	key   []byte
	value []byte
	valid bool
}

// NewHierarchicalIterator creates a new hierarchical iterator.
// Sources must be provided in newest-to-oldest order.
func NewHierarchicalIterator(iterators ...iterator.Iterator) *HierarchicalIterator {
	return &HierarchicalIterator{iterators: iterators}
}

// NumSources returns the number of source iterators
func (h *HierarchicalIterator) NumSources() int {
	return len(h.iterators)
}

// SeekToFirst positions the iterator at the smallest key of all sources
func (h *HierarchicalIterator) SeekToFirst() {
	for _, iter := range h.iterators {
		iter.SeekToFirst()
	}
	h.pick(nil)
}

// SeekToLast positions the iterator at the largest key of all sources
func (h *HierarchicalIterator) SeekToLast() {
	h.valid = false
	best := -1
	for i, iter := range h.iterators {
		iter.SeekToLast()
		if !iter.Valid() {
			continue
		}
		// Strictly greater keeps the newest source on ties
		if best == -1 || bytes.Compare(iter.Key(), h.key) > 0 {
			best = i
			h.key = iter.Key()
		}
	}
	if best >= 0 {
		h.value = h.iterators[best].Value()
		h.valid = true
	}
}

// Seek positions the iterator at the first key >= target
func (h *HierarchicalIterator) Seek(target []byte) bool {
	for _, iter := range h.iterators {
		iter.Seek(target)
	}
	return h.pick(nil)
}

// Next advances the iterator to the next distinct key
func (h *HierarchicalIterator) Next() bool {
	if !h.valid {
		return false
	}
	return h.pick(h.key)
}

// pick moves every source past after (when not nil) and selects the
// smallest current key, preferring the newest source on ties.
func (h *HierarchicalIterator) pick(after []byte) bool {
	h.valid = false
	best := -1
	var bestKey []byte

	for i, iter := range h.iterators {
		if after != nil {
			for iter.Valid() && bytes.Compare(iter.Key(), after) <= 0 {
				iter.Next()
			}
		}
		if !iter.Valid() {
			continue
		}
		if best == -1 || bytes.Compare(iter.Key(), bestKey) < 0 {
			best = i
			bestKey = iter.Key()
		}
	}

	if best < 0 {
		h.key, h.value = nil, nil
		return false
	}
	h.key = bestKey
	h.value = h.iterators[best].Value()
	h.valid = true
	return true
}

// Key returns the current key
func (h *HierarchicalIterator) Key() []byte {
	if !h.valid {
		return nil
	}
	return h.key
}

// Value returns the current value
func (h *HierarchicalIterator) Value() []byte {
	if !h.valid {
		return nil
	}
	return h.value
}

// Valid returns true if the iterator is positioned at a valid entry
func (h *HierarchicalIterator) Valid() bool {
	return h.valid
}

// Err joins the errors of all sources
func (h *HierarchicalIterator) Err() error {
	var errs []error
	for _, iter := range h.iterators {
		if err := iter.Err(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
