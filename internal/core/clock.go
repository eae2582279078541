package core

import (
	"sync"
)

// VectorClock is the logical clock owned by a single process.
// Every mutation is a single critical section, so no reader ever observes a
// merge that has taken the maximum but not yet ticked.
type VectorClock struct {
	mu      sync.Mutex
	owner   int
	entries Entries
}

// NewVectorClock creates an all-zero clock for process owner in a group of n
func NewVectorClock(owner, n int) (*VectorClock, error) {
	if owner < 0 || owner >= n {
		return nil, ErrInvalidProcessID{ID: owner, N: n}
	}
	return &VectorClock{owner: owner, entries: NewEntries(n)}, nil
}

// NewVectorClockWithEntries creates a clock starting from an existing value.
// The value is copied.
func NewVectorClockWithEntries(owner int, entries Entries) (*VectorClock, error) {
	if owner < 0 || owner >= len(entries) {
		return nil, ErrInvalidProcessID{ID: owner, N: len(entries)}
	}
	return &VectorClock{owner: owner, entries: entries.Clone()}, nil
}

// Owner returns the index of the owning process
func (c *VectorClock) Owner() int {
	return c.owner
}

// Len returns the number of processes the clock tracks
func (c *VectorClock) Len() int {
	return len(c.entries)
}

// Tick counts a local event and returns a snapshot of the new value.
// Must be called before every send.
func (c *VectorClock) Tick() Entries {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[c.owner]++
	return c.entries.Clone()
}

// Merge takes the component-wise maximum with other and then ticks.
// The owner's own entry is never taken from other, so it advances by
// exactly one per call.
func (c *VectorClock) Merge(other Entries) (Entries, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := checkShape(len(c.entries), len(other)); err != nil {
		return nil, err
	}
	c.maxWith(other)
	c.entries[c.owner]++
	return c.entries.Clone(), nil
}

// Fold takes the component-wise maximum with other without ticking. Like
// Merge it never raises the owner's entry.
// Delivery uses Fold so that entries count delivered sends only.
func (c *VectorClock) Fold(other Entries) (Entries, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := checkShape(len(c.entries), len(other)); err != nil {
		return nil, err
	}
	c.maxWith(other)
	return c.entries.Clone(), nil
}

// Snapshot returns an independent copy of the current value
func (c *VectorClock) Snapshot() Entries {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Clone()
}

// Get returns the entry for process i
func (c *VectorClock) Get(i int) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.entries) {
		return 0, ErrInvalidProcessID{ID: i, N: len(c.entries)}
	}
	return c.entries[i], nil
}

// HappensBefore reports whether the current value happens before other
func (c *VectorClock) HappensBefore(other Entries) bool {
	return c.Snapshot().HappensBefore(other)
}

// ConcurrentWith reports whether the current value and other are unordered
func (c *VectorClock) ConcurrentWith(other Entries) bool {
	return c.Snapshot().ConcurrentWith(other)
}

func (c *VectorClock) String() string {
	return c.Snapshot().String()
}

// maxWith must be called with c.mu held. It leaves the owner's entry alone.
func (c *VectorClock) maxWith(other Entries) {
	for i, v := range other {
		if i != c.owner && v > c.entries[i] {
			c.entries[i] = v
		}
	}
}
