package config

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "ENV", "LOG_LEVEL", "CAUSAL_PROCESSES", "CAUSAL_MAX_DELAY",
		"CAUSAL_POLL_INTERVAL", "CAUSAL_KICK_DELAY", "CAUSAL_SEED"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Port != "8080" || !cfg.IsDevelopment() {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Processes != DefaultProcesses {
		t.Errorf("expected %d processes, got %d", DefaultProcesses, cfg.Processes)
	}
	if cfg.MaxDelay != time.Second || cfg.PollInterval != 500*time.Millisecond || cfg.KickDelay != 100*time.Millisecond {
		t.Errorf("unexpected timings: %+v", cfg)
	}
	if cfg.LogLevel != zerolog.InfoLevel {
		t.Errorf("expected info level, got %s", cfg.LogLevel)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CAUSAL_PROCESSES", "5")
	t.Setenv("CAUSAL_MAX_DELAY", "2s")
	t.Setenv("CAUSAL_SEED", "99")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.IsDevelopment() || cfg.LogLevel != zerolog.DebugLevel {
		t.Errorf("unexpected env settings: %+v", cfg)
	}
	if cfg.Processes != 5 || cfg.MaxDelay != 2*time.Second || cfg.Seed != 99 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"CAUSAL_PROCESSES", "1"},
		{"CAUSAL_PROCESSES", "6"},
		{"CAUSAL_PROCESSES", "three"},
		{"CAUSAL_MAX_DELAY", "soon"},
		{"CAUSAL_POLL_INTERVAL", "0s"},
		{"LOG_LEVEL", "loud"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}
