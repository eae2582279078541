package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amaydixit11/causalchat/internal/api"
	"github.com/amaydixit11/causalchat/internal/config"
	"github.com/amaydixit11/causalchat/internal/engine"
	"github.com/amaydixit11/causalchat/internal/network"
	"github.com/amaydixit11/causalchat/internal/scenario"
	"github.com/amaydixit11/causalchat/internal/search"
	"github.com/rs/zerolog"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "serve":
		cmdServe(args)
	case "chat":
		cmdChat(args)
	case "simulate":
		cmdSimulate(args)
	case "replay":
		cmdReplay(args)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`causalchat - Causally ordered group chat over a simulated network

Usage: causalchat <command> [options]

Commands:
  serve     Start HTTP + websocket server (PORT, CAUSAL_* env vars)
  chat      Interactive chat between simulated processes
  simulate  Run a random workload and verify causal order
  replay    Run a JSON scenario script deterministically
  help      Show this help

Examples:
  causalchat chat --processes 3 --preset slow
  causalchat simulate --processes 4 --messages 40 --seed 7
  causalchat replay internal/scenario/testdata/out_of_order.json`)
}

// runtime bundles the pieces every interactive command wires together
type runtime struct {
	cfg    *config.Config
	logger zerolog.Logger
	engine engine.Engine
	delays *network.UniformDelay
	sim    *network.Simulator
	index  *search.Index
}

func newRuntime(cfg *config.Config, logger zerolog.Logger) (*runtime, error) {
	e, err := engine.New(engine.Config{Processes: cfg.Processes, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	delays := network.NewUniformDelay(cfg.MaxDelay, cfg.Seed)
	sim := network.NewSimulator(e, delays, network.Config{
		PollInterval: cfg.PollInterval,
		KickDelay:    cfg.KickDelay,
		Logger:       logger,
	})
	idx, err := search.NewMemoryIndex()
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("create search index: %w", err)
	}
	sub := e.SubscribeWithOptions(search.FollowOptions())
	go idx.Follow(sub, logger)

	return &runtime{cfg: cfg, logger: logger, engine: e, delays: delays, sim: sim, index: idx}, nil
}

func (r *runtime) Close() {
	r.sim.Stop()
	r.engine.Close()
	r.index.Close()
}

func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	port := fs.String("port", "", "Port to listen on (overrides PORT)")
	fs.Parse(args)

	cfg := loadConfig()
	if *port != "" {
		cfg.Port = *port
	}
	logger := cfg.NewLogger()

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer rt.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := rt.sim.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("simulator failed to start")
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(logger, rt.sim, rt.index),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Int("processes", cfg.Processes).
			Dur("max_delay", cfg.MaxDelay).
			Str("session", rt.engine.SessionID().String()).
			Msg("starting causalchat server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}

func cmdReplay(args []string) {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	quiet := fs.Bool("quiet", false, "Only print the final verdict")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: causalchat replay [--quiet] <script.json>")
		os.Exit(1)
	}

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	script, err := scenario.Parse(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	e, err := engine.New(engine.Config{Processes: script.Processes, Logger: zerolog.Nop()})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer e.Close()

	transcript, err := scenario.Run(e, script)
	if !*quiet && transcript != nil {
		printTranscript(transcript)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "FAIL %s: %v\n", script.Name, err)
		os.Exit(1)
	}
	fmt.Printf("PASS %s (%d steps)\n", script.Name, len(transcript.Steps))
}

func printTranscript(t *scenario.Transcript) {
	fmt.Printf("Scenario: %s\n", t.Name)
	for _, s := range t.Steps {
		if s.Op == scenario.OpReset {
			fmt.Printf("%3d  %-16s new session\n", s.Index, s.Op)
			continue
		}
		line := fmt.Sprintf("%3d  %-16s p%d", s.Index, s.Op, s.Process)
		if s.Label != "" {
			line += "  " + s.Label
		}
		if len(s.Delivered) > 0 {
			line += fmt.Sprintf("  delivered=%v", s.Delivered)
		}
		if s.Clock != nil {
			line += "  clock=" + s.Clock.String()
		}
		line += fmt.Sprintf("  pending=%d", s.Pending)
		fmt.Println(line)
	}
}
