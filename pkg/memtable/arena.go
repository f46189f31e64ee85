package memtable

import (
	"sync/atomic"
)

// Nodes are addressed by 32-bit ids so that links fit in a single atomic
// word. Id 0 is the nil link and id 1 is the head sentinel.
type nodeID uint32

const (
	nilNode nodeID = 0
	headID  nodeID = 1

	arenaChunkBits = 10
	arenaChunkSize = 1 << arenaChunkBits
	arenaChunkMask = arenaChunkSize - 1
	arenaMaxChunks = 1 << 14

	// MaxNodes is the number of nodes a single skip list can hold
	MaxNodes = arenaMaxChunks*arenaChunkSize - 2
)

// node is a skip list element. Key, value and height never change after the
// node is published; only the link cells are mutated.
type node struct {
	key    []byte
	value  []byte
	height int32
	next   [MaxHeight]atomic.Uint32
	prev   [MaxHeight]atomic.Uint32
}

func (n *node) loadNext(level int) nodeID {
	return nodeID(n.next[level].Load())
}

func (n *node) loadPrev(level int) nodeID {
	return nodeID(n.prev[level].Load())
}

type arenaChunk [arenaChunkSize]node

// arena hands out nodes from fixed-size chunks that are never moved or
// freed, so a node id stays valid for the lifetime of the list.
type arena struct {
	chunks [arenaMaxChunks]atomic.Pointer[arenaChunk]
	next   atomic.Uint64
}

func newArena() *arena {
	a := &arena{}
	a.chunks[0].Store(new(arenaChunk))
	a.next.Store(uint64(headID) + 1)
	return a
}

// alloc reserves a fresh node. The chunk holding it is installed before the
// id is returned, so any goroutine that later observes the id through a link
// cell also observes the chunk.
func (a *arena) alloc() (nodeID, *node, error) {
	id := a.next.Add(1) - 1
	if id >= arenaMaxChunks*arenaChunkSize {
		return nilNode, nil, ErrArenaFull
	}

	slot := &a.chunks[id>>arenaChunkBits]
	chunk := slot.Load()
	if chunk == nil {
		slot.CompareAndSwap(nil, new(arenaChunk))
		chunk = slot.Load()
	}
	return nodeID(id), &chunk[id&arenaChunkMask], nil
}

func (a *arena) get(id nodeID) *node {
	return &a.chunks[id>>arenaChunkBits].Load()[id&arenaChunkMask]
}

// allocated returns the number of ids handed out, including abandoned ones
func (a *arena) allocated() uint64 {
	n := a.next.Load()
	if limit := uint64(arenaMaxChunks * arenaChunkSize); n > limit {
		n = limit
	}
	return n - uint64(headID) - 1
}
