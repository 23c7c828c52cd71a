package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		dir := t.TempDir()
		cfg, err := Load(dir, "")
		if err != nil {
			t.Fatal(err)
		}
		if *cfg != *Default(dir) {
			t.Errorf("Load() = %+v, want %+v", cfg, Default(dir))
		}
		if got := cfg.Database(); got != filepath.Join(dir, "pkgdb.sqlite") {
			t.Errorf("Database() = %q", got)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() = %v", err)
		}
	})

	t.Run("config.yaml", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "config.yaml"), "pacman: /usr/local/bin/pacman\nbusy_timeout: 250ms\ndb_path: /tmp/x.db\n")
		cfg, err := Load(dir, "")
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Pacman != "/usr/local/bin/pacman" || cfg.BusyTimeout != 250*time.Millisecond || cfg.Database() != "/tmp/x.db" {
			t.Errorf("Load() = %+v", cfg)
		}
	})

	t.Run("explicit file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "other.yaml")
		writeFile(t, path, "log_level: debug\n")
		cfg, err := Load(dir, path)
		if err != nil {
			t.Fatal(err)
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("LogLevel = %q", cfg.LogLevel)
		}
		if _, err := Load(dir, filepath.Join(dir, "missing.yaml")); err == nil {
			t.Error("expected error for missing explicit config")
		}
	})

	t.Run("precedence", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "config.yaml"), "log_level: error\nwatch_dir: /from/yaml\npacman: yaml-pacman\n")
		writeFile(t, filepath.Join(dir, ".env"), "PKGDB_LOG_LEVEL=warn\nPKGDB_WATCH_DIR=/from/dotenv\nOTHER=ignored\n")
		t.Setenv("PKGDB_WATCH_DIR", "/from/env")
		cfg, err := Load(dir, "")
		if err != nil {
			t.Fatal(err)
		}
		if cfg.LogLevel != "warn" {
			t.Errorf("LogLevel = %q, want .env value", cfg.LogLevel)
		}
		if cfg.WatchDir != "/from/env" {
			t.Errorf("WatchDir = %q, want environment value", cfg.WatchDir)
		}
		if cfg.Pacman != "yaml-pacman" {
			t.Errorf("Pacman = %q, want config.yaml value", cfg.Pacman)
		}
		if _, ok := os.LookupEnv("OTHER"); ok {
			t.Error(".env leaked into the process environment")
		}
	})

	t.Run("environment duration", func(t *testing.T) {
		t.Setenv("PKGDB_WATCH_DEBOUNCE", "30s")
		cfg, err := Load(t.TempDir(), "")
		if err != nil {
			t.Fatal(err)
		}
		if cfg.WatchDebounce != 30*time.Second {
			t.Errorf("WatchDebounce = %s", cfg.WatchDebounce)
		}
	})

	t.Run("invalid yaml", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "config.yaml"), "pacman: [unterminated\n")
		if _, err := Load(dir, ""); err == nil {
			t.Error("expected error")
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"no data dir", func(c *Config) { c.DataDir = "" }},
		{"no pacman", func(c *Config) { c.Pacman = "" }},
		{"bad level", func(c *Config) { c.LogLevel = "verbose" }},
		{"negative busy timeout", func(c *Config) { c.BusyTimeout = -time.Second }},
		{"zero debounce", func(c *Config) { c.WatchDebounce = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default("data")
			tt.modify(c)
			if err := c.Validate(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"", slog.LevelInfo},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		c := &Config{LogLevel: tt.in}
		if got, err := c.Level(); err != nil || got != tt.want {
			t.Errorf("Level(%q) = %v, %v", tt.in, got, err)
		}
	}
}
