// Package config resolves engine settings from an optional TOML file with
// environment overrides. Precedence: defaults, then file, then DERIVCORE_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Config holds the runtime settings shared by all CLI commands.
type Config struct {
	// StoreDriver selects the run history backend: memory, sqlite, postgres.
	StoreDriver string `toml:"store_driver"`
	// StorePath is the sqlite database path.
	StorePath string `toml:"store_path"`
	// StoreDSN is the postgres connection string.
	StoreDSN string `toml:"store_dsn"`

	// BlobDriver selects the artifact backend: fs, s3, memory.
	BlobDriver string `toml:"blob_driver"`
	// BlobRoot is the filesystem artifact root when BlobDriver is fs.
	BlobRoot string `toml:"blob_root"`

	// MetricsDriver selects the pipeline metrics surface: expvar, prometheus.
	MetricsDriver string `toml:"metrics_driver"`

	// Workers bounds concurrent parameter computation. Zero means one.
	Workers int `toml:"workers"`
	// LockPath is the run-lock file guarding against concurrent runs.
	LockPath string `toml:"lock_path"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		StoreDriver:   "sqlite",
		StorePath:     "derivcore.db",
		BlobDriver:    "fs",
		BlobRoot:      "./artifacts",
		MetricsDriver: "expvar",
		Workers:       4,
		LockPath:      "derivcore.lock",
		LogLevel:      "info",
	}
}

// Load resolves the configuration. A non-empty path must exist; an empty
// path falls back to DERIVCORE_CONFIG, then to derivcore.toml if present.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("DERIVCORE_CONFIG")
	}
	explicit := path != ""
	if path == "" {
		path = "derivcore.toml"
	}
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if explicit {
		return Config{}, fmt.Errorf("config file %s: %w", path, err)
	}

	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.StoreDriver, "DERIVCORE_STORE_DRIVER")
	setString(&cfg.StorePath, "DERIVCORE_STORE_PATH")
	setString(&cfg.StoreDSN, "DERIVCORE_STORE_DSN")
	setString(&cfg.BlobDriver, "DERIVCORE_BLOB_DRIVER")
	setString(&cfg.BlobRoot, "DERIVCORE_BLOB_FS_ROOT")
	setString(&cfg.MetricsDriver, "DERIVCORE_METRICS_DRIVER")
	setString(&cfg.LockPath, "DERIVCORE_LOCK_PATH")
	setString(&cfg.LogLevel, "DERIVCORE_LOG_LEVEL")
	if v := os.Getenv("DERIVCORE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (c Config) validate() error {
	switch c.StoreDriver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}
	switch c.BlobDriver {
	case "fs", "s3", "memory":
	default:
		return fmt.Errorf("unknown blob driver %q", c.BlobDriver)
	}
	switch c.MetricsDriver {
	case "expvar", "prometheus":
	default:
		return fmt.Errorf("unknown metrics driver %q", c.MetricsDriver)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	return nil
}
