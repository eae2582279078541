package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/amaydixit11/causalchat/internal/config"
	"github.com/amaydixit11/causalchat/internal/core"
	"github.com/amaydixit11/causalchat/internal/network"
)

func cmdSimulate(args []string) {
	cfg := loadConfig()

	fs := flag.NewFlagSet("simulate", flag.ExitOnError)
	processes := fs.Int("processes", cfg.Processes, "Number of processes (2-5)")
	messages := fs.Int("messages", 20, "Messages to send")
	maxDelay := fs.Duration("max-delay", cfg.MaxDelay, "Upper bound of network delay")
	preset := fs.String("preset", "", "Delay preset: fast, normal, slow (overrides --max-delay)")
	seed := fs.Uint64("seed", cfg.Seed, "Random seed (0 = time-based)")
	verbose := fs.Bool("v", false, "Print every delivered message")
	fs.Parse(args)

	if err := config.ValidateProcesses(*processes); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *preset != "" {
		d, err := network.Preset(*preset)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		*maxDelay = d
	}
	if *seed == 0 {
		*seed = uint64(time.Now().UnixNano())
	}

	cfg.Processes = *processes
	cfg.MaxDelay = *maxDelay
	cfg.Seed = *seed
	logger := cfg.NewLogger()

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer rt.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := rt.sim.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Simulating %d messages between %d processes (max delay %s, seed %d)\n",
		*messages, *processes, *maxDelay, *seed)

	// Sends are spaced so that some land after earlier messages were
	// delivered and some race them.
	rng := rand.New(rand.NewPCG(*seed, *seed+1))
	gap := *maxDelay / 4
	start := time.Now()
	for i := 0; i < *messages; i++ {
		sender := rng.IntN(*processes)
		if _, err := rt.sim.Send(sender, fmt.Sprintf("m%d from p%d", i, sender)); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if gap > 0 {
			time.Sleep(time.Duration(rng.Int64N(int64(gap) + 1)))
		}
	}

	waitCtx, waitCancel := context.WithTimeout(ctx, 10*(*maxDelay)+10*time.Second)
	defer waitCancel()
	if err := rt.sim.WaitIdle(waitCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: network did not settle: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Settled in %s\n\n", time.Since(start).Round(time.Millisecond))

	failed := false
	for p := 0; p < *processes; p++ {
		delivered, _ := rt.engine.Delivered(p)
		clock, _ := rt.engine.CurrentClock(p)
		fmt.Printf("p%d clock=%s delivered=%d\n", p, clock, len(delivered))
		if *verbose {
			for _, m := range delivered {
				fmt.Printf("    #%-3d p%d %-12s %s\n", m.ID, m.SenderID, m.StampedClock, m.Payload)
			}
		}
		if err := verifyCausalOrder(delivered); err != nil {
			fmt.Printf("    VIOLATION: %v\n", err)
			failed = true
		}
		if len(delivered) != *messages {
			fmt.Printf("    INCOMPLETE: %d of %d delivered\n", len(delivered), *messages)
			failed = true
		}
	}

	if failed {
		os.Exit(1)
	}
	fmt.Println("\nCausal order held at every process")
}

// verifyCausalOrder checks that no message in log is preceded by one it
// happened before, and that each sender's messages appear in send order.
func verifyCausalOrder(log []core.Message) error {
	lastSeq := make(map[int]uint64)
	for i, m := range log {
		if m.SenderID < 0 || m.SenderID >= len(m.StampedClock) {
			return core.ErrInvalidProcessID{ID: m.SenderID, N: len(m.StampedClock)}
		}
		seq := m.StampedClock[m.SenderID]
		if seq != lastSeq[m.SenderID]+1 {
			return fmt.Errorf("message #%d from p%d has sequence %d, expected %d",
				m.ID, m.SenderID, seq, lastSeq[m.SenderID]+1)
		}
		lastSeq[m.SenderID] = seq

		for _, earlier := range log[:i] {
			if m.StampedClock.HappensBefore(earlier.StampedClock) {
				return fmt.Errorf("message #%d %s delivered after #%d %s which it precedes",
					m.ID, m.StampedClock, earlier.ID, earlier.StampedClock)
			}
		}
	}
	return nil
}
