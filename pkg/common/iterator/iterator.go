// Package iterator defines the ordered key/value cursor shared by pages,
// memtables and the helpers that combine them.
package iterator

// Iterator walks key/value pairs in ascending key order. Pages, page files
// and memtables implement it directly.
type Iterator interface {
	// SeekToFirst positions the iterator at the first key
	SeekToFirst()

	// SeekToLast positions the iterator at the last key
	SeekToLast()

	// Seek positions the iterator at the first key >= target
	Seek(target []byte) bool

	// Next advances the iterator to the next key
	Next() bool

	// Key returns the current key
	Key() []byte

	// Value returns the current value
	Value() []byte

	// Valid returns true if the iterator is positioned at a valid entry
	Valid() bool

	// Err returns the error that stopped the iteration, if any.
	// An iterator that became invalid because of an error reports it here.
	Err() error
}

// Drain calls fn for every remaining entry of iter, starting from its
// current position, and returns the first error from fn or from iter.
func Drain(iter Iterator, fn func(key, value []byte) error) error {
	for ; iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Err()
}
