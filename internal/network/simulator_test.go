package network

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/amaydixit11/causalchat/internal/engine"
	"github.com/rs/zerolog"
)

func newTestSimulator(t *testing.T, n int, delays DelayGenerator) *Simulator {
	t.Helper()
	e, err := engine.New(engine.Config{Processes: n, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	sim := NewSimulator(e, delays, Config{
		PollInterval: 20 * time.Millisecond,
		KickDelay:    5 * time.Millisecond,
		Logger:       zerolog.Nop(),
	})
	t.Cleanup(func() {
		sim.Stop()
		e.Close()
	})
	return sim
}

func waitIdle(t *testing.T, sim *Simulator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sim.WaitIdle(ctx); err != nil {
		t.Fatalf("simulator did not settle: %v", err)
	}
}

func TestSimulatorDeliversEverythingInCausalOrder(t *testing.T) {
	const n = 3
	// Each copy overtakes the one sent before it
	sim := newTestSimulator(t, n, NewReverseDelays(120*time.Millisecond, 10*time.Millisecond))
	if err := sim.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	for i := 0; i < 6; i++ {
		if _, err := sim.Send(i%n, fmt.Sprintf("m%d", i)); err != nil {
			t.Fatalf("send failed: %v", err)
		}
	}
	waitIdle(t, sim)

	e := sim.Engine()
	for p := 0; p < n; p++ {
		got, _ := e.Delivered(p)
		if len(got) != 6 {
			t.Fatalf("process %d delivered %d of 6", p, len(got))
		}
		for a := range got {
			for b := a + 1; b < len(got); b++ {
				if got[b].StampedClock.HappensBefore(got[a].StampedClock) {
					t.Errorf("process %d delivered %s before %s", p, got[a].StampedClock, got[b].StampedClock)
				}
			}
		}
	}
}

func TestSimulatorReorderingFromOneSender(t *testing.T) {
	sim := newTestSimulator(t, 2, NewFixedDelays(80*time.Millisecond, 0))
	sim.Start(context.Background())

	sim.Send(0, "A")
	sim.Send(0, "B")
	waitIdle(t, sim)

	got, _ := sim.Engine().Delivered(1)
	if len(got) != 2 || got[0].Payload != "A" || got[1].Payload != "B" {
		t.Fatalf("expected A then B, got %v", got)
	}
	clock, _ := sim.Engine().CurrentClock(1)
	if clock.String() != "[2, 0]" {
		t.Errorf("expected [2, 0], got %s", clock)
	}
}

func TestSimulatorResetDropsInFlight(t *testing.T) {
	sim := newTestSimulator(t, 2, NewFixedDelays(100*time.Millisecond))
	sim.Start(context.Background())

	sim.Send(0, "lost")
	if sim.InFlight() != 1 {
		t.Fatalf("expected 1 copy in flight, got %d", sim.InFlight())
	}

	if err := sim.Reset(3); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if sim.InFlight() != 0 {
		t.Errorf("reset should cancel in-flight copies, got %d", sim.InFlight())
	}

	time.Sleep(150 * time.Millisecond)
	e := sim.Engine()
	for p := 0; p < 3; p++ {
		if got, _ := e.Delivered(p); len(got) != 0 {
			t.Errorf("process %d should have nothing after reset, got %v", p, got)
		}
	}

	// Loops restart for the new group size
	sim.Send(2, "fresh")
	waitIdle(t, sim)
	if got, _ := e.Delivered(0); len(got) != 1 || got[0].Payload != "fresh" {
		t.Errorf("expected fresh message at process 0, got %v", got)
	}
}

func TestSimulatorDiscardsStaleArrival(t *testing.T) {
	sim := newTestSimulator(t, 2, NewFixedDelays(time.Hour))
	msg, _ := sim.Send(0, "old")
	sim.Reset(2)

	// A timer that fired just before the reset still calls arrive
	sim.arrive(12345, 0, 1, msg)
	if n, _ := sim.Engine().PendingCount(1); n != 0 {
		t.Errorf("stale message must be discarded, got %d pending", n)
	}

	// Same epoch but old session: the engine refuses it
	sim.mu.Lock()
	epoch := sim.epoch
	sim.mu.Unlock()
	sim.arrive(12346, epoch, 1, msg)
	if n, _ := sim.Engine().PendingCount(1); n != 0 {
		t.Errorf("message from old session must be discarded, got %d pending", n)
	}
}

func TestSimulatorStartTwice(t *testing.T) {
	sim := newTestSimulator(t, 2, NewFixedDelays())
	if err := sim.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := sim.Start(context.Background()); err == nil {
		t.Error("expected error on second start")
	}
}
