package core

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"
)

func mustClock(t *testing.T, owner, n int) *VectorClock {
	t.Helper()
	c, err := NewVectorClock(owner, n)
	if err != nil {
		t.Fatalf("failed to create clock: %v", err)
	}
	return c
}

func TestNewVectorClock(t *testing.T) {
	c := mustClock(t, 1, 3)
	if got := c.Snapshot(); got.String() != "[0, 0, 0]" {
		t.Errorf("expected new clock to be all zero, got %s", got)
	}
	if c.Owner() != 1 || c.Len() != 3 {
		t.Errorf("expected owner 1 of 3, got owner %d of %d", c.Owner(), c.Len())
	}
}

func TestNewVectorClockInvalidOwner(t *testing.T) {
	for _, owner := range []int{-1, 3, 10} {
		_, err := NewVectorClock(owner, 3)
		var invalid ErrInvalidProcessID
		if !errors.As(err, &invalid) {
			t.Errorf("owner %d: expected ErrInvalidProcessID, got %v", owner, err)
		}
	}
}

func TestNewVectorClockWithEntries(t *testing.T) {
	start := Entries{4, 5, 6}
	c, err := NewVectorClockWithEntries(2, start)
	if err != nil {
		t.Fatalf("failed to create clock: %v", err)
	}
	start[0] = 100
	if got := c.Snapshot(); got.String() != "[4, 5, 6]" {
		t.Errorf("clock should not alias its initial value, got %s", got)
	}
}

func TestTick(t *testing.T) {
	c := mustClock(t, 0, 2)

	if got := c.Tick(); got.String() != "[1, 0]" {
		t.Errorf("expected first tick to be [1, 0], got %s", got)
	}
	if got := c.Tick(); got.String() != "[2, 0]" {
		t.Errorf("expected second tick to be [2, 0], got %s", got)
	}
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name     string
		owner    int
		local    Entries
		remote   Entries
		expected string
	}{
		{
			name:     "remote is ahead",
			owner:    1,
			local:    Entries{0, 0, 0},
			remote:   Entries{2, 0, 1},
			expected: "[2, 1, 1]",
		},
		{
			name:     "local is ahead",
			owner:    0,
			local:    Entries{5, 3, 3},
			remote:   Entries{1, 2, 0},
			expected: "[6, 3, 3]",
		},
		{
			name:     "mixed",
			owner:    2,
			local:    Entries{1, 4, 2},
			remote:   Entries{3, 1, 7},
			expected: "[3, 4, 3]",
		},
		{
			name:     "remote ahead on own entry",
			owner:    1,
			local:    Entries{0, 0, 0},
			remote:   Entries{0, 5, 0},
			expected: "[0, 1, 0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := NewVectorClockWithEntries(tt.owner, tt.local)
			got, err := c.Merge(tt.remote)
			if err != nil {
				t.Fatalf("merge failed: %v", err)
			}
			if got.String() != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestMergeShapeMismatch(t *testing.T) {
	c := mustClock(t, 0, 3)
	c.Tick()

	_, err := c.Merge(Entries{1, 1})
	var mismatch ErrShapeMismatch
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
	if mismatch.Want != 3 || mismatch.Got != 2 {
		t.Errorf("unexpected mismatch detail: %+v", mismatch)
	}
	if got := c.Snapshot(); got.String() != "[1, 0, 0]" {
		t.Errorf("failed merge must not change the clock, got %s", got)
	}
}

func TestFold(t *testing.T) {
	c := mustClock(t, 1, 2)
	got, err := c.Fold(Entries{1, 0})
	if err != nil {
		t.Fatalf("fold failed: %v", err)
	}
	if got.String() != "[1, 0]" {
		t.Errorf("fold should not tick, got %s", got)
	}
	if got, _ := c.Fold(Entries{0, 4}); got.String() != "[1, 0]" {
		t.Errorf("fold must not raise the owner entry, got %s", got)
	}
	if _, err := c.Fold(Entries{1}); err == nil {
		t.Error("expected shape mismatch")
	}
}

func TestOwnEntryAdvancesByOne(t *testing.T) {
	seed := time.Now().UnixNano()
	rng := rand.New(rand.NewSource(seed))
	t.Logf("Seed: %d", seed)

	const n = 4
	c := mustClock(t, 2, n)
	prev := c.Snapshot()

	for i := 0; i < 500; i++ {
		if rng.Intn(2) == 0 {
			c.Tick()
		} else {
			remote := NewEntries(n)
			for j := range remote {
				remote[j] = uint64(rng.Intn(50))
			}
			if _, err := c.Merge(remote); err != nil {
				t.Fatalf("merge failed: %v", err)
			}
		}

		curr := c.Snapshot()
		if curr[2] != prev[2]+1 {
			t.Fatalf("own entry must advance by exactly 1: prev=%s curr=%s", prev, curr)
		}
		for j := range curr {
			if curr[j] < prev[j] {
				t.Fatalf("clock regressed: prev=%s curr=%s", prev, curr)
			}
		}
		prev = curr
	}
}

func TestSnapshotIndependence(t *testing.T) {
	c := mustClock(t, 0, 2)
	c.Tick()
	snap := c.Snapshot()

	c.Tick()
	c.Merge(Entries{0, 9})

	if snap.String() != "[1, 0]" {
		t.Errorf("snapshot must not observe later ticks, got %s", snap)
	}

	snap[0] = 42
	if v, _ := c.Get(0); v == 42 {
		t.Error("mutating a snapshot must not change the clock")
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b Entries
		want Ordering
	}{
		{Entries{1, 0}, Entries{1, 0}, Equal},
		{Entries{1, 0}, Entries{2, 0}, Before},
		{Entries{2, 1}, Entries{1, 1}, After},
		{Entries{1, 0}, Entries{0, 1}, Concurrent},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%s", tt.a, tt.b), func(t *testing.T) {
			got, err := tt.a.Compare(tt.b)
			if err != nil {
				t.Fatalf("compare failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}

	if _, err := (Entries{1}).Compare(Entries{1, 2}); err == nil {
		t.Error("expected shape mismatch for different lengths")
	}
}

func TestHappensBeforeIrreflexive(t *testing.T) {
	for _, e := range []Entries{{0, 0}, {1, 0}, {3, 7, 2}} {
		if e.HappensBefore(e) {
			t.Errorf("%s must not happen before itself", e)
		}
	}
	c := mustClock(t, 0, 2)
	c.Tick()
	if c.HappensBefore(c.Snapshot()) {
		t.Error("clock must not happen before its own value")
	}
}

func TestHappensBeforeTransitive(t *testing.T) {
	seed := time.Now().UnixNano()
	rng := rand.New(rand.NewSource(seed))
	t.Logf("Seed: %d", seed)

	random := func() Entries {
		e := NewEntries(3)
		for i := range e {
			e[i] = uint64(rng.Intn(3))
		}
		return e
	}

	for i := 0; i < 2000; i++ {
		a, b, c := random(), random(), random()
		if a.HappensBefore(b) && b.HappensBefore(c) && !a.HappensBefore(c) {
			t.Fatalf("transitivity violated: %s -> %s -> %s", a, b, c)
		}
	}
}

func TestConcurrentWith(t *testing.T) {
	a := Entries{2, 0, 0}
	b := Entries{2, 1, 0}
	c := Entries{0, 0, 1}

	if !a.HappensBefore(b) || a.ConcurrentWith(b) || b.ConcurrentWith(a) {
		t.Errorf("%s -> %s must not be concurrent", a, b)
	}
	if !a.ConcurrentWith(c) || !c.ConcurrentWith(b) {
		t.Errorf("%s and %s should be concurrent", a, c)
	}
	if (Entries{1}).HappensBefore(Entries{1, 2}) {
		t.Error("clocks of different shapes are never ordered")
	}
}

func TestComparisonDoesNotMutate(t *testing.T) {
	a := Entries{1, 2}
	b := Entries{2, 2}
	a.Compare(b)
	a.ConcurrentWith(b)
	if a.String() != "[1, 2]" || b.String() != "[2, 2]" {
		t.Errorf("operands were mutated: %s %s", a, b)
	}
}

func TestClockConcurrency(t *testing.T) {
	c := mustClock(t, 0, 2)
	var wg sync.WaitGroup
	numGoroutines := 50
	opsPerGoroutine := 100

	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(i int) {
			defer wg.Done()
			for j := 0; j < opsPerGoroutine; j++ {
				if i%2 == 0 {
					c.Tick()
				} else {
					c.Merge(Entries{0, uint64(j)})
				}
			}
		}(i)
	}
	wg.Wait()

	expected := uint64(numGoroutines * opsPerGoroutine)
	if v, _ := c.Get(0); v != expected {
		t.Errorf("expected own entry %d after concurrent ops, got %d", expected, v)
	}
}

func ExampleEntries_String() {
	c, _ := NewVectorClock(0, 3)
	c.Tick()
	c.Merge(Entries{0, 2, 1})
	fmt.Println(c)
	// Output: [2, 2, 1]
}
