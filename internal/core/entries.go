package core

import (
	"strconv"
	"strings"
)

// Ordering is the causal relation between two clock values
type Ordering int

const (
	Equal Ordering = iota
	Before
	After
	Concurrent
)

func (o Ordering) String() string {
	switch o {
	case Equal:
		return "equal"
	case Before:
		return "before"
	case After:
		return "after"
	case Concurrent:
		return "concurrent"
	default:
		return "unknown"
	}
}

// Entries is a vector clock value: entries[i] counts the events of process i
// known to the owner. It is a plain value; use Clone before handing it out.
type Entries []uint64

// NewEntries returns an all-zero clock value for n processes
func NewEntries(n int) Entries {
	return make(Entries, n)
}

// Clone returns an independent copy
func (e Entries) Clone() Entries {
	if e == nil {
		return nil
	}
	c := make(Entries, len(e))
	copy(c, e)
	return c
}

// Sum returns the total of all entries
func (e Entries) Sum() uint64 {
	var total uint64
	for _, v := range e {
		total += v
	}
	return total
}

// Compare reports how e relates to other under the happens-before order.
// Neither operand is modified.
func (e Entries) Compare(other Entries) (Ordering, error) {
	if err := checkShape(len(e), len(other)); err != nil {
		return Concurrent, err
	}

	less, greater := false, false
	for i := range e {
		switch {
		case e[i] < other[i]:
			less = true
		case e[i] > other[i]:
			greater = true
		}
	}

	switch {
	case less && greater:
		return Concurrent, nil
	case less:
		return Before, nil
	case greater:
		return After, nil
	default:
		return Equal, nil
	}
}

// HappensBefore returns true iff e <= other component-wise and e < other in
// at least one component. Clocks of different lengths are never ordered.
func (e Entries) HappensBefore(other Entries) bool {
	ord, err := e.Compare(other)
	return err == nil && ord == Before
}

// ConcurrentWith returns true iff neither clock happens before the other.
// A value compared with itself is therefore concurrent.
func (e Entries) ConcurrentWith(other Entries) bool {
	return !e.HappensBefore(other) && !other.HappensBefore(e)
}

// String formats the clock as [a, b, c]
func (e Entries) String() string {
	parts := make([]string, len(e))
	for i, v := range e {
		parts[i] = strconv.FormatUint(v, 10)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
