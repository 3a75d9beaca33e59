// Package config loads server settings from the environment. All knobs
// carry a KITCORE_ prefix and fall back to development defaults so the
// binary runs without any configuration.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the settings the server binary needs at startup. Storage
// and blob drivers read their own KITCORE_* variables when opened.
type Config struct {
	// ListenAddr is the host:port the HTTP server binds to.
	ListenAddr string
	// JWTSecret signs and verifies API bearer tokens.
	JWTSecret string
	// LogLevel is one of debug, info, warn, error.
	LogLevel slog.Level
	// LogFormat is "json" or "text".
	LogFormat string
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration
	// ExportsEnabled toggles the async report export worker.
	ExportsEnabled bool
}

// Load reads configuration from the environment.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:      envOr("KITCORE_LISTEN_ADDR", ":8080"),
		JWTSecret:       os.Getenv("KITCORE_JWT_SECRET"),
		LogFormat:       strings.ToLower(envOr("KITCORE_LOG_FORMAT", "json")),
		ShutdownTimeout: 10 * time.Second,
		ExportsEnabled:  true,
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("KITCORE_JWT_SECRET must be set")
	}

	level, err := parseLevel(envOr("KITCORE_LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = level

	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return Config{}, fmt.Errorf("KITCORE_LOG_FORMAT must be json or text, got %q", cfg.LogFormat)
	}

	if raw := os.Getenv("KITCORE_SHUTDOWN_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("KITCORE_SHUTDOWN_TIMEOUT: %w", err)
		}
		cfg.ShutdownTimeout = d
	}

	if raw := os.Getenv("KITCORE_EXPORTS_ENABLED"); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			return Config{}, fmt.Errorf("KITCORE_EXPORTS_ENABLED: %w", err)
		}
		cfg.ExportsEnabled = enabled
	}

	return cfg, nil
}

// NewLogger builds the process logger according to the configuration.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(raw) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("KITCORE_LOG_LEVEL must be debug, info, warn, or error, got %q", raw)
}
