package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"

	"derivcore/internal/blob"
	"derivcore/internal/config"
	"derivcore/internal/core"
	"derivcore/internal/infra/persistence/memory"
	"derivcore/internal/infra/persistence/postgres"
	"derivcore/internal/infra/persistence/sqlite"
	"derivcore/pkg/domain"
)

const runLockTimeout = 5 * time.Second

// acquireRunLock takes the exclusive run lock. Concurrent runs against the
// same store would interleave partial states, so a held lock is an error,
// not a wait.
func acquireRunLock(path string) (*flock.Flock, error) {
	lock := flock.New(path)
	ctx, cancel := context.WithTimeout(context.Background(), runLockTimeout)
	defer cancel()
	locked, err := lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("acquiring run lock: %w", err)
	}
	if !locked {
		return nil, domain.RunLockedError{Path: path}
	}
	return lock, nil
}

func openHistory(ctx context.Context, cfg config.Config) (core.HistoryStore, error) {
	switch cfg.StoreDriver {
	case "memory":
		return memory.NewStore(), nil
	case "sqlite":
		return sqlite.NewStore(cfg.StorePath)
	case "postgres":
		return postgres.NewStore(ctx, cfg.StoreDSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// newMetricsRecorder selects the pipeline metrics surface. The prometheus
// recorder registers against the default registerer; expvar is the default.
func newMetricsRecorder(cfg config.Config) (core.MetricsRecorder, error) {
	if cfg.MetricsDriver == "prometheus" {
		return core.NewPrometheusMetricsRecorder(nil)
	}
	return core.NewExpvarMetricsRecorder("derivcore"), nil
}

func openBlob(ctx context.Context, cfg config.Config) (blob.Store, error) {
	switch cfg.BlobDriver {
	case "fs":
		return blob.NewFilesystem(cfg.BlobRoot)
	case "memory":
		return blob.NewMemory(), nil
	case "s3":
		return blob.OpenS3FromEnv(ctx)
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.BlobDriver)
	}
}
