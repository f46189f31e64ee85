// Package filtered provides iterators that filter keys based on different criteria
package filtered

import (
	"bytes"

	"github.com/KevoDB/lsmcore/pkg/common/iterator"
)

// KeyFilterFunc is a function type for filtering keys
type KeyFilterFunc func(key []byte) bool

// FilteredIterator wraps an iterator and skips keys rejected by the filter
type FilteredIterator struct {
	iter      iterator.Iterator
	keyFilter KeyFilterFunc
}

// NewFilteredIterator creates a new iterator with a key filter
func NewFilteredIterator(iter iterator.Iterator, filter KeyFilterFunc) *FilteredIterator {
	return &FilteredIterator{
		iter:      iter,
		keyFilter: filter,
	}
}

// skip moves the source forward until it rests on an accepted key
func (fi *FilteredIterator) skip() bool {
	for fi.iter.Valid() {
		if fi.keyFilter(fi.iter.Key()) {
			return true
		}
		fi.iter.Next()
	}
	return false
}

// Next advances to the next key that passes the filter
func (fi *FilteredIterator) Next() bool {
	if !fi.iter.Valid() {
		return false
	}
	fi.iter.Next()
	return fi.skip()
}

// Key returns the current key
func (fi *FilteredIterator) Key() []byte {
	if !fi.Valid() {
		return nil
	}
	return fi.iter.Key()
}

// Value returns the current value
func (fi *FilteredIterator) Value() []byte {
	if !fi.Valid() {
		return nil
	}
	return fi.iter.Value()
}

// Valid returns true if the iterator is at a valid position
func (fi *FilteredIterator) Valid() bool {
	return fi.iter.Valid() && fi.keyFilter(fi.iter.Key())
}

// Err returns the error of the underlying iterator
func (fi *FilteredIterator) Err() error {
	return fi.iter.Err()
}

// SeekToFirst positions at the first key that passes the filter
func (fi *FilteredIterator) SeekToFirst() {
	fi.iter.SeekToFirst()
	fi.skip()
}

// SeekToLast positions at the last key that passes the filter.
// When the last key is rejected the source is scanned from the start.
func (fi *FilteredIterator) SeekToLast() {
	fi.iter.SeekToLast()
	if !fi.iter.Valid() || fi.keyFilter(fi.iter.Key()) {
		return
	}

	var last []byte
	for fi.SeekToFirst(); fi.Valid(); fi.Next() {
		last = append(last[:0], fi.iter.Key()...)
	}
	if last != nil {
		fi.iter.Seek(last)
	}
}

// Seek positions at the first key >= target that passes the filter
func (fi *FilteredIterator) Seek(target []byte) bool {
	fi.iter.Seek(target)
	return fi.skip()
}

// PrefixFilterFunc creates a filter function for keys with a specific prefix
func PrefixFilterFunc(prefix []byte) KeyFilterFunc {
	return func(key []byte) bool {
		return bytes.HasPrefix(key, prefix)
	}
}

// SuffixFilterFunc creates a filter function for keys with a specific suffix
func SuffixFilterFunc(suffix []byte) KeyFilterFunc {
	return func(key []byte) bool {
		return bytes.HasSuffix(key, suffix)
	}
}

// NewPrefixIterator returns an iterator that filters keys by prefix
func NewPrefixIterator(iter iterator.Iterator, prefix []byte) *FilteredIterator {
	return NewFilteredIterator(iter, PrefixFilterFunc(prefix))
}

// NewSuffixIterator returns an iterator that filters keys by suffix
func NewSuffixIterator(iter iterator.Iterator, suffix []byte) *FilteredIterator {
	return NewFilteredIterator(iter, SuffixFilterFunc(suffix))
}
