// Package lane assigns vertical slots to active messages and tracks channel
// activity for lifetime modulation.
package lane

import (
	"sync"
	"time"
)

// DefaultPoolSize is the default number of vertical lanes.
const DefaultPoolSize = 8

// Allocator hands out lane indexes from a fixed pool, preferring lanes that
// have not been used recently so bursts of messages spread apart visually.
// When every lane is busy it reuses the least-recently-used one anyway:
// overlap is a visual degradation, never an error.
type Allocator struct {
	mu       sync.Mutex
	busy     []bool
	lastUsed []time.Time
	now      func() time.Time
}

// AllocatorOption configures an Allocator.
type AllocatorOption func(*Allocator)

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) AllocatorOption {
	return func(a *Allocator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAllocator creates an allocator with the given pool size.
func NewAllocator(size int, opts ...AllocatorOption) *Allocator {
	if size <= 0 {
		size = DefaultPoolSize
	}
	a := &Allocator{
		busy:     make([]bool, size),
		lastUsed: make([]time.Time, size),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Size returns the pool size.
func (a *Allocator) Size() int {
	return len(a.busy)
}

// Allocate returns a lane index. Free lanes win over busy ones; among
// candidates the least-recently-used lane is chosen.
func (a *Allocator) Allocate() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	lane := a.pick(false)
	if lane < 0 {
		// Pool exhausted: steal the coldest busy lane.
		lane = a.pick(true)
	}

	a.busy[lane] = true
	a.lastUsed[lane] = a.now()
	return lane
}

// pick returns the least-recently-used lane matching the busy state, or -1.
func (a *Allocator) pick(busy bool) int {
	best := -1
	for i := range a.busy {
		if a.busy[i] != busy {
			continue
		}
		if best < 0 || a.lastUsed[i].Before(a.lastUsed[best]) {
			best = i
		}
	}
	return best
}

// Release frees a lane for reallocation. Releasing an already-free or
// out-of-range lane is a no-op.
func (a *Allocator) Release(lane int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if lane < 0 || lane >= len(a.busy) {
		return
	}
	a.busy[lane] = false
}

// Reserve marks a specific lane busy, used when restoring messages that
// already carry a lane assignment. Out-of-range lanes are ignored.
func (a *Allocator) Reserve(lane int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if lane < 0 || lane >= len(a.busy) {
		return
	}
	a.busy[lane] = true
	a.lastUsed[lane] = a.now()
}

// InUse returns the number of busy lanes.
func (a *Allocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for _, b := range a.busy {
		if b {
			n++
		}
	}
	return n
}
