package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err == nil {
		t.Fatalf("explicit missing config should fail, got %+v", cfg)
	}

	// No explicit path and no file present: pure defaults.
	t.Chdir(t.TempDir())
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.StoreDriver != "sqlite" || cfg.BlobDriver != "fs" || cfg.Workers != 4 || cfg.LogLevel != "info" {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.MetricsDriver != "expvar" {
		t.Fatalf("metrics driver = %q", cfg.MetricsDriver)
	}
}

func TestLoadTOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "derivcore.toml")
	body := `
store_driver = "postgres"
store_dsn = "postgres://localhost/derivcore_test"
blob_driver = "memory"
workers = 8
log_level = "debug"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StoreDriver != "postgres" || cfg.StoreDSN != "postgres://localhost/derivcore_test" {
		t.Fatalf("store config = %+v", cfg)
	}
	if cfg.BlobDriver != "memory" || cfg.Workers != 8 || cfg.LogLevel != "debug" {
		t.Fatalf("config = %+v", cfg)
	}
	// Values the file omits keep their defaults.
	if cfg.LockPath != "derivcore.lock" {
		t.Fatalf("lock path = %q", cfg.LockPath)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "derivcore.toml")
	if err := os.WriteFile(path, []byte(`store_driver = "sqlite"`+"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("DERIVCORE_STORE_DRIVER", "memory")
	t.Setenv("DERIVCORE_WORKERS", "2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StoreDriver != "memory" {
		t.Fatalf("store driver = %q, want env override", cfg.StoreDriver)
	}
	if cfg.Workers != 2 {
		t.Fatalf("workers = %d", cfg.Workers)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("DERIVCORE_STORE_DRIVER", "etcd")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected unknown store driver to fail")
	}
	t.Setenv("DERIVCORE_STORE_DRIVER", "memory")
	t.Setenv("DERIVCORE_LOG_LEVEL", "verbose")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected unknown log level to fail")
	}
	t.Setenv("DERIVCORE_LOG_LEVEL", "info")
	t.Setenv("DERIVCORE_METRICS_DRIVER", "statsd")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected unknown metrics driver to fail")
	}
}

func TestMetricsDriverFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DERIVCORE_METRICS_DRIVER", "prometheus")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MetricsDriver != "prometheus" {
		t.Fatalf("metrics driver = %q", cfg.MetricsDriver)
	}
}
