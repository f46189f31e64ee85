package pagefile

import "github.com/KevoDB/lsmcore/pkg/block"

// Iterator walks every entry of a file in key order, crossing page
// boundaries. It implements iterator.Iterator.
type Iterator struct {
	reader *Reader
	index  int
	cur    *block.Iterator
	err    error
}

// NewIterator returns an unpositioned iterator over the whole file
func (r *Reader) NewIterator() *Iterator {
	return &Iterator{reader: r, index: -1}
}

// load positions the iterator on page i, or invalidates it past the end
func (it *Iterator) load(i int) bool {
	it.index = i
	it.cur = nil
	if i < 0 || i >= it.reader.Len() {
		return false
	}

	page, err := it.reader.Page(i)
	if err != nil {
		it.err = err
		return false
	}
	it.cur = page.Iterator()
	return true
}

// skipEmpty moves forward past exhausted pages
func (it *Iterator) skipEmpty() bool {
	for it.cur != nil && !it.cur.Valid() {
		if err := it.cur.Err(); err != nil {
			it.err = err
			it.cur = nil
			return false
		}
		if !it.load(it.index + 1) {
			return false
		}
		it.cur.SeekToFirst()
	}
	return it.cur != nil
}

// SeekToFirst positions at the first entry of the file
func (it *Iterator) SeekToFirst() {
	it.err = nil
	if it.load(0) {
		it.cur.SeekToFirst()
		it.skipEmpty()
	}
}

// SeekToLast positions at the last entry of the file
func (it *Iterator) SeekToLast() {
	it.err = nil
	for i := it.reader.Len() - 1; i >= 0; i-- {
		if !it.load(i) {
			return
		}
		it.cur.SeekToLast()
		if it.cur.Valid() || it.cur.Err() != nil {
			it.err = it.cur.Err()
			return
		}
	}
	it.cur = nil
}

// Seek positions at the first entry with key >= target
func (it *Iterator) Seek(target []byte) bool {
	it.err = nil
	i, err := it.reader.pageFor(target)
	if err != nil {
		it.err = err
		it.cur = nil
		return false
	}
	if !it.load(i) {
		return false
	}
	it.cur.Seek(target)
	return it.skipEmpty()
}

// Next advances to the next entry
func (it *Iterator) Next() bool {
	if it.cur == nil {
		if it.index < 0 && it.err == nil {
			it.SeekToFirst()
			return it.Valid()
		}
		return false
	}
	it.cur.Next()
	return it.skipEmpty()
}

// Key returns the current key
func (it *Iterator) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return it.cur.Key()
}

// Value returns the current value
func (it *Iterator) Value() []byte {
	if !it.Valid() {
		return nil
	}
	return it.cur.Value()
}

// Valid reports whether the iterator is positioned at an entry
func (it *Iterator) Valid() bool {
	return it.cur != nil && it.cur.Valid()
}

// Err returns the first page read or decode error
func (it *Iterator) Err() error {
	return it.err
}
