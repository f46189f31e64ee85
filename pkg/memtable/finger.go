package memtable

import (
	"bytes"
)

// Finger brackets a key at every level of a skip list: prev is the nearest
// node whose key is less than the target and next the nearest node whose key
// is greater than or equal to it. Levels the list has not reached yet point
// from the head to nil.
type Finger struct {
	list  *SkipList
	prev  [MaxHeight]nodeID
	next  [MaxHeight]nodeID
	found nodeID
}

// Finger computes the finger of key. It only reads link cells and never
// blocks writers.
func (s *SkipList) Finger(key []byte) Finger {
	return s.findFinger(key)
}

func (s *SkipList) findFinger(key []byte) Finger {
	f := Finger{list: s}

	top := int(s.height.Load())
	for level := MaxHeight - 1; level >= top; level-- {
		f.prev[level] = headID
	}

	prev := headID
	for level := top - 1; level >= 0; level-- {
		// Continue from where the level above stopped
		next := s.node(prev).loadNext(level)
		for next != nilNode {
			n := s.node(next)
			cmp := bytes.Compare(n.key, key)
			if cmp == 0 {
				f.found = next
				for l := level; l >= 0; l-- {
					f.prev[l] = n.loadPrev(l)
					f.next[l] = n.loadNext(l)
				}
				return f
			}
			if cmp > 0 {
				break
			}
			prev = next
			next = n.loadNext(level)
		}
		f.prev[level] = prev
		f.next[level] = next
	}
	return f
}

// findSplice walks one level forward from start and returns the pair of
// adjacent nodes bracketing key on that level.
func (s *SkipList) findSplice(key []byte, start nodeID, level int) (nodeID, nodeID) {
	prev := start
	for {
		next := s.node(prev).loadNext(level)
		if next == nilNode || bytes.Compare(s.node(next).key, key) >= 0 {
			return prev, next
		}
		prev = next
	}
}

// Found reports whether the list held the exact key when the finger was taken
func (f *Finger) Found() bool {
	return f.found != nilNode
}

// Value returns the value of the exact match, or nil
func (f *Finger) Value() []byte {
	if f.found == nilNode {
		return nil
	}
	return f.list.node(f.found).value
}

// PrevKey returns the key of the lower bracket at level, or nil for the head
func (f *Finger) PrevKey(level int) []byte {
	if f.prev[level] == headID || f.prev[level] == nilNode {
		return nil
	}
	return f.list.node(f.prev[level]).key
}

// NextKey returns the key of the upper bracket at level, or nil past the end
func (f *Finger) NextKey(level int) []byte {
	if f.next[level] == nilNode {
		return nil
	}
	return f.list.node(f.next[level]).key
}
