package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Group size limits and defaults
const (
	MinProcesses     = 2
	MaxProcesses     = 5
	DefaultProcesses = 3
)

// Config holds all configuration for the application.
type Config struct {
	Port     string
	Env      string
	LogLevel zerolog.Level

	// Simulation
	Processes    int
	MaxDelay     time.Duration // upper bound of the simulated network delay
	PollInterval time.Duration // fallback delivery poll
	KickDelay    time.Duration // re-check after a successful delivery pass
	Seed         uint64        // 0 = time-based
}

// Load reads configuration from environment variables.
// It loads a .env file first if one is present.
func Load() (*Config, error) {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port: getEnv("PORT", "8080"),
		Env:  getEnv("ENV", "development"),
	}

	var err error
	if cfg.LogLevel, err = zerolog.ParseLevel(getEnv("LOG_LEVEL", "info")); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if cfg.Processes, err = strconv.Atoi(getEnv("CAUSAL_PROCESSES", strconv.Itoa(DefaultProcesses))); err != nil {
		return nil, fmt.Errorf("CAUSAL_PROCESSES: %w", err)
	}
	if cfg.MaxDelay, err = time.ParseDuration(getEnv("CAUSAL_MAX_DELAY", "1s")); err != nil {
		return nil, fmt.Errorf("CAUSAL_MAX_DELAY: %w", err)
	}
	if cfg.PollInterval, err = time.ParseDuration(getEnv("CAUSAL_POLL_INTERVAL", "500ms")); err != nil {
		return nil, fmt.Errorf("CAUSAL_POLL_INTERVAL: %w", err)
	}
	if cfg.KickDelay, err = time.ParseDuration(getEnv("CAUSAL_KICK_DELAY", "100ms")); err != nil {
		return nil, fmt.Errorf("CAUSAL_KICK_DELAY: %w", err)
	}
	if cfg.Seed, err = strconv.ParseUint(getEnv("CAUSAL_SEED", "0"), 10, 64); err != nil {
		return nil, fmt.Errorf("CAUSAL_SEED: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges. Flags may change a loaded config, so
// callers validate again after applying them.
func (c *Config) Validate() error {
	if err := ValidateProcesses(c.Processes); err != nil {
		return err
	}
	if c.MaxDelay < 0 {
		return fmt.Errorf("max delay must not be negative: %v", c.MaxDelay)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive: %v", c.PollInterval)
	}
	if c.KickDelay < 0 {
		return fmt.Errorf("kick delay must not be negative: %v", c.KickDelay)
	}
	return nil
}

// ValidateProcesses checks a group size against the supported range
func ValidateProcesses(n int) error {
	if n < MinProcesses || n > MaxProcesses {
		return fmt.Errorf("processes must be between %d and %d, got %d", MinProcesses, MaxProcesses, n)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// NewLogger builds the process-wide logger: console output in development,
// JSON otherwise.
func (c *Config) NewLogger() zerolog.Logger {
	var logger zerolog.Logger
	if c.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stderr).
			With().
			Timestamp().
			Logger()
	}
	return logger.Level(c.LogLevel)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
