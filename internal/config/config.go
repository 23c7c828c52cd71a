// Provides pkgdb configuration loading from config.yaml, .env and the environment.

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment variables overriding configuration keys,
// e.g. PKGDB_LOG_LEVEL.
const EnvPrefix = "PKGDB"

// DefaultWatchDir is pacman's local package database.
const DefaultWatchDir = "/var/lib/pacman/local"

// Config is the pkgdb configuration.
//
// Precedence, highest first: command line flags (applied by the caller),
// process environment, the data directory's .env file, config.yaml, defaults.
type Config struct {
	DataDir       string        `mapstructure:"data_dir" yaml:"data_dir"`
	DBPath        string        `mapstructure:"db_path" yaml:"db_path"`
	Pacman        string        `mapstructure:"pacman" yaml:"pacman"`
	LogLevel      string        `mapstructure:"log_level" yaml:"log_level"`
	BusyTimeout   time.Duration `mapstructure:"busy_timeout" yaml:"busy_timeout"`
	WatchDir      string        `mapstructure:"watch_dir" yaml:"watch_dir"`
	WatchDebounce time.Duration `mapstructure:"watch_debounce" yaml:"watch_debounce"`
}

// Default returns the default configuration rooted at dataDir.
func Default(dataDir string) *Config {
	return &Config{
		DataDir:       dataDir,
		Pacman:        "pacman",
		LogLevel:      "info",
		BusyTimeout:   5 * time.Second,
		WatchDir:      DefaultWatchDir,
		WatchDebounce: 2 * time.Second,
	}
}

// Load reads the configuration for dataDir.
//
// configFile, when set, must exist. Otherwise dataDir/config.yaml is read if
// present.
func Load(dataDir, configFile string) (*Config, error) {
	def := Default(dataDir)
	v := viper.New()
	v.SetDefault("data_dir", def.DataDir)
	v.SetDefault("db_path", "")
	v.SetDefault("pacman", def.Pacman)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("busy_timeout", def.BusyTimeout)
	v.SetDefault("watch_dir", def.WatchDir)
	v.SetDefault("watch_debounce", def.WatchDebounce)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(dataDir)
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	if f := v.ConfigFileUsed(); f != "" {
		slog.Debug("config: loaded", "file", f)
	}

	if err := applyDotEnv(v, filepath.Join(dataDir, ".env")); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// applyDotEnv feeds PKGDB_* entries of a .env file to v without touching the
// process environment. Variables already set in the environment win.
func applyDotEnv(v *viper.Viper, path string) error {
	env, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	for k, val := range env {
		key, ok := strings.CutPrefix(k, EnvPrefix+"_")
		if !ok {
			continue
		}
		if _, set := os.LookupEnv(k); set {
			continue
		}
		v.Set(strings.ToLower(key), val)
	}
	return nil
}

// Database returns the SQLite database path.
func (c *Config) Database() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return filepath.Join(c.DataDir, "pkgdb.sqlite")
}

// Level returns the slog level named by LogLevel.
func (c *Config) Level() (slog.Level, error) {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level: %q", c.LogLevel)
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if c.Pacman == "" {
		return errors.New("pacman is required")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.BusyTimeout < 0 {
		return fmt.Errorf("busy_timeout must not be negative: %s", c.BusyTimeout)
	}
	if c.WatchDebounce <= 0 {
		return fmt.Errorf("watch_debounce must be positive: %s", c.WatchDebounce)
	}
	return nil
}
