package config

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/crossrun/crossrun/internal/model"
)

const (
	defaultCratesPath = "crates.json"

	envCratesPath  = "CROSSRUN_CRATES"
	envMetricsAddr = "CROSSRUN_METRICS_ADDR"
	envLogLevel    = "CROSSRUN_LOG_LEVEL"
)

// LevelTrace sits below slog.LevelDebug and carries per-line subprocess
// stdout, which is too chatty for regular debug output.
const LevelTrace = slog.LevelDebug - 4

// Config holds application configuration loaded from environment variables.
type Config struct {
	// CratesPath is the JSON document listing crates and their checks.
	CratesPath string

	// MetricsAddr enables the debug HTTP server when non-empty.
	MetricsAddr string

	LogLevel slog.Level
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		CratesPath: defaultCratesPath,
		LogLevel:   slog.LevelInfo,
	}

	if v := os.Getenv(envCratesPath); v != "" {
		cfg.CratesPath = v
	}
	if v := os.Getenv(envMetricsAddr); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}

	return cfg
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

// LoadCrates reads the crate/check list from the JSON document at path.
// The list is read once at startup; the engine itself never touches files.
func LoadCrates(path string) ([]model.Crate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read crate list: %w", err)
	}

	var crates []model.Crate
	if err := json.Unmarshal(data, &crates); err != nil {
		return nil, fmt.Errorf("parse crate list %s: %w", path, err)
	}

	for _, c := range crates {
		if c.Name == "" {
			return nil, fmt.Errorf("crate list %s: crate with empty name", path)
		}
	}

	return crates, nil
}
