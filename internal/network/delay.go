// Package network simulates an unordered, variable-latency network between
// the processes of an engine session.
package network

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// Delay presets offered to users
const (
	DelayFast   = 500 * time.Millisecond
	DelayNormal = 1000 * time.Millisecond
	DelaySlow   = 2000 * time.Millisecond
)

// Preset resolves a preset name (fast, normal, slow) to its bound
func Preset(name string) (time.Duration, error) {
	switch name {
	case "fast":
		return DelayFast, nil
	case "normal", "":
		return DelayNormal, nil
	case "slow":
		return DelaySlow, nil
	default:
		return 0, fmt.Errorf("unknown delay preset: %s", name)
	}
}

// DelayGenerator decides how long each copy of a message spends in flight
type DelayGenerator interface {
	NextDelay() time.Duration
}

// UniformDelay draws delays uniformly from [0, max)
type UniformDelay struct {
	mu  sync.Mutex
	rng *rand.Rand
	max time.Duration
}

// NewUniformDelay creates a generator bounded by max. A zero seed uses a
// time-based seed.
func NewUniformDelay(max time.Duration, seed uint64) *UniformDelay {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &UniformDelay{
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		max: max,
	}
}

func (u *UniformDelay) NextDelay() time.Duration {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.max <= 0 {
		return 0
	}
	return time.Duration(u.rng.Int64N(int64(u.max)))
}

// SetMax changes the bound for subsequent delays
func (u *UniformDelay) SetMax(max time.Duration) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.max = max
}

// Max returns the current bound
func (u *UniformDelay) Max() time.Duration {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.max
}

// FixedDelays replays a fixed sequence of delays, cycling when exhausted
type FixedDelays struct {
	mu   sync.Mutex
	seq  []time.Duration
	next int
}

// NewFixedDelays creates a deterministic generator. An empty sequence always
// yields zero.
func NewFixedDelays(seq ...time.Duration) *FixedDelays {
	return &FixedDelays{seq: append([]time.Duration(nil), seq...)}
}

func (f *FixedDelays) NextDelay() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.seq) == 0 {
		return 0
	}
	d := f.seq[f.next%len(f.seq)]
	f.next++
	return d
}

// ReverseDelays gives each call a shorter delay than the one before, so
// later sends overtake earlier ones. Delays bottom out at zero.
type ReverseDelays struct {
	mu   sync.Mutex
	next time.Duration
	step time.Duration
}

// NewReverseDelays starts at start and shrinks by step per call
func NewReverseDelays(start, step time.Duration) *ReverseDelays {
	return &ReverseDelays{next: start, step: step}
}

func (r *ReverseDelays) NextDelay() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.next
	r.next -= r.step
	if r.next < 0 {
		r.next = 0
	}
	return d
}
