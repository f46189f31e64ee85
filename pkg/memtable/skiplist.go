package memtable

import (
	"bytes"
	"errors"
	"sync/atomic"
)

const (
	// MaxHeight is the maximum height of the skip list
	MaxHeight = 12

	// BranchingFactor determines the probability of increasing the height
	BranchingFactor = 4

	// nodeOverhead approximates the per-entry bookkeeping counted by ApproximateSize
	nodeOverhead = 16
)

var (
	// ErrDuplicateKey is returned when inserting a key that is already present
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrArenaFull is returned when the node arena cannot hold another node
	ErrArenaFull = errors.New("skip list arena is full")
)

// SkipList is an ordered, multi-level linked structure supporting any number
// of concurrent readers and writers without a global lock. Every level is
// doubly linked; forward links are authoritative and backward links are
// raised after each splice.
type SkipList struct {
	arena  *arena
	height atomic.Int32
	count  atomic.Int64
	size   atomic.Int64
	src    HeightSource
}

// NewSkipList creates a new skip list with a time-seeded height source used
// when Insert is called without one
func NewSkipList() *SkipList {
	return NewSkipListWithSource(newTimeSeededSource())
}

// NewSkipListWithSource creates a new skip list whose default height source is src
func NewSkipListWithSource(src HeightSource) *SkipList {
	s := &SkipList{
		arena: newArena(),
		src:   src,
	}
	s.height.Store(1)
	s.node(headID).height = MaxHeight
	return s
}

func (s *SkipList) node(id nodeID) *node {
	return s.arena.get(id)
}

// Height returns the current height of the list
func (s *SkipList) Height() int {
	return int(s.height.Load())
}

// Len returns the number of keys in the list
func (s *SkipList) Len() int {
	return int(s.count.Load())
}

// ApproximateSize returns the approximate memory held by keys and values
func (s *SkipList) ApproximateSize() int64 {
	return s.size.Load()
}

// Insert adds key with value to the list. The height of the new node is
// drawn from src, or from the list's own source when src is nil. Key and
// value are copied. Inserting an existing key returns ErrDuplicateKey.
func (s *SkipList) Insert(key, value []byte, src HeightSource) error {
	f := s.findFinger(key)
	if f.found != nilNode {
		return ErrDuplicateKey
	}

	if src == nil {
		src = s.src
	}
	height := RandomHeight(src)

	id, n, err := s.arena.alloc()
	if err != nil {
		return err
	}
	buf := make([]byte, len(key)+len(value))
	copy(buf, key)
	copy(buf[len(key):], value)
	n.key = buf[:len(key):len(key)]
	n.value = buf[len(key):]
	n.height = int32(height)

	s.raiseHeight(height)

	for level := 0; level < height; level++ {
		for {
			prev, next := f.prev[level], f.next[level]
			n.prev[level].Store(uint32(prev))
			n.next[level].Store(uint32(next))
			if s.node(prev).next[level].CompareAndSwap(uint32(next), uint32(id)) {
				break
			}

			if level == 0 {
				// The whole finger may be stale, and the key may have been
				// inserted by someone else. The allocated node is abandoned
				// in that case.
				f = s.findFinger(key)
				if f.found != nilNode {
					return ErrDuplicateKey
				}
				continue
			}
			f.prev[level], f.next[level] = s.findSplice(key, prev, level)
		}
		s.raisePrev(f.next[level], id, level)
	}

	s.count.Add(1)
	s.size.Add(int64(len(key) + len(value) + nodeOverhead))
	return nil
}

// raiseHeight lifts the list height to at least h
func (s *SkipList) raiseHeight(h int) {
	for {
		cur := s.height.Load()
		if int32(h) <= cur || s.height.CompareAndSwap(cur, int32(h)) {
			return
		}
	}
}

// raisePrev points the backward link of next at id unless a node ordered
// between id and next already claimed it.
func (s *SkipList) raisePrev(next, id nodeID, level int) {
	if next == nilNode {
		return
	}
	cell := &s.node(next).prev[level]
	key := s.node(id).key
	for {
		cur := nodeID(cell.Load())
		if cur == id {
			return
		}
		if cur != headID && cur != nilNode && bytes.Compare(s.node(cur).key, key) > 0 {
			return
		}
		if cell.CompareAndSwap(uint32(cur), uint32(id)) {
			return
		}
	}
}

// Get returns the value stored for key
func (s *SkipList) Get(key []byte) ([]byte, bool) {
	f := s.findFinger(key)
	if f.found == nilNode {
		return nil, false
	}
	return s.node(f.found).value, true
}

// Contains reports whether key is present
func (s *SkipList) Contains(key []byte) bool {
	f := s.findFinger(key)
	return f.found != nilNode
}

// lowerBound returns the first node with key >= target, or nil
func (s *SkipList) lowerBound(target []byte) nodeID {
	f := s.findFinger(target)
	if f.found != nilNode {
		return f.found
	}
	return f.next[0]
}

// last returns the node with the largest key, or nil when empty
func (s *SkipList) last() nodeID {
	prev := headID
	for level := int(s.height.Load()) - 1; level >= 0; level-- {
		for next := s.node(prev).loadNext(level); next != nilNode; next = s.node(prev).loadNext(level) {
			prev = next
		}
	}
	if prev == headID {
		return nilNode
	}
	return prev
}

// predecessor returns the node immediately before id on level 0. The
// backward link is a hint that may lag a concurrent splice, so the result is
// corrected by walking forward.
func (s *SkipList) predecessor(id nodeID) nodeID {
	key := s.node(id).key
	prev := s.node(id).loadPrev(0)
	if prev == nilNode {
		prev = headID
	}
	for {
		next := s.node(prev).loadNext(0)
		if next == id || next == nilNode || bytes.Compare(s.node(next).key, key) >= 0 {
			break
		}
		prev = next
	}
	if prev == headID {
		return nilNode
	}
	return prev
}

// NewIterator returns an iterator over the list
func (s *SkipList) NewIterator() *Iterator {
	return &Iterator{list: s}
}
