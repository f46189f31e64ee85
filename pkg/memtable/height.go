package memtable

import (
	"math/rand"
	"sync"
	"time"
)

// HeightSource supplies the randomness used to pick node heights.
// Implementations must be safe for concurrent use when shared by writers.
type HeightSource interface {
	// Intn returns a pseudo-random number in [0, n)
	Intn(n int) int
}

// RandomHeight draws a node height: one plus the number of consecutive
// trials succeeding with probability 1/BranchingFactor, capped at MaxHeight.
func RandomHeight(src HeightSource) int {
	height := 1
	for height < MaxHeight && src.Intn(BranchingFactor) == 0 {
		height++
	}
	return height
}

// lockedSource serializes access to a math/rand generator
type lockedSource struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewLockedSource returns a HeightSource backed by a seeded math/rand
// generator guarded by a mutex.
func NewLockedSource(seed int64) HeightSource {
	return &lockedSource{rnd: rand.New(rand.NewSource(seed))}
}

func newTimeSeededSource() HeightSource {
	return NewLockedSource(time.Now().UnixNano())
}

// Intn implements HeightSource
func (s *lockedSource) Intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Intn(n)
}
