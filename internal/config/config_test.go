package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(envCratesPath, "")
	t.Setenv(envMetricsAddr, "")
	t.Setenv(envLogLevel, "")

	cfg := Load()

	if cfg.CratesPath != defaultCratesPath {
		t.Errorf("CratesPath = %q, want %q", cfg.CratesPath, defaultCratesPath)
	}
	if cfg.MetricsAddr != "" {
		t.Errorf("MetricsAddr = %q, want empty", cfg.MetricsAddr)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelInfo)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv(envCratesPath, "/tmp/checks.json")
	t.Setenv(envMetricsAddr, ":9090")
	t.Setenv(envLogLevel, "trace")

	cfg := Load()

	if cfg.CratesPath != "/tmp/checks.json" {
		t.Errorf("CratesPath = %q, want %q", cfg.CratesPath, "/tmp/checks.json")
	}
	if cfg.MetricsAddr != ":9090" {
		t.Errorf("MetricsAddr = %q, want %q", cfg.MetricsAddr, ":9090")
	}
	if cfg.LogLevel != LevelTrace {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, LevelTrace)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"trace", LevelTrace},
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLogLevel(tt.input); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestLoadCrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crates.json")
	doc := `[
		{
			"name": "reactor-core",
			"checks": [
				{"target": "x86_64-unknown-linux-gnu", "features": ["wayland"]},
				{"target": "aarch64-linux-android", "no_default_features": true, "niche": true}
			]
		}
	]`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write crate list: %v", err)
	}

	crates, err := LoadCrates(path)
	if err != nil {
		t.Fatalf("LoadCrates: %v", err)
	}

	if len(crates) != 1 {
		t.Fatalf("got %d crates, want 1", len(crates))
	}
	if crates[0].Name != "reactor-core" {
		t.Errorf("Name = %q, want reactor-core", crates[0].Name)
	}
	if len(crates[0].Checks) != 2 {
		t.Fatalf("got %d checks, want 2", len(crates[0].Checks))
	}
	first := crates[0].Checks[0]
	if first.TargetTriple != "x86_64-unknown-linux-gnu" {
		t.Errorf("TargetTriple = %q", first.TargetTriple)
	}
	if len(first.Features) != 1 || first.Features[0] != "wayland" {
		t.Errorf("Features = %v, want [wayland]", first.Features)
	}
	second := crates[0].Checks[1]
	if !second.NoDefaultFeatures || !second.Niche {
		t.Errorf("second check flags = %+v, want no_default_features and niche set", second)
	}
}

func TestLoadCratesRejectsEmptyName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crates.json")
	if err := os.WriteFile(path, []byte(`[{"name": "", "checks": []}]`), 0o644); err != nil {
		t.Fatalf("write crate list: %v", err)
	}

	if _, err := LoadCrates(path); err == nil {
		t.Fatal("expected error for empty crate name")
	}
}

func TestLoadCratesMissingFile(t *testing.T) {
	if _, err := LoadCrates(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
