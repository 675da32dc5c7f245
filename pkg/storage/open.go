package storage

import (
	"context"
	"fmt"
)

// OpenBackend constructs the backend selected by cfg.Backend. When
// cfg.QuotaBytes is positive the backend is wrapped with WithQuota.
func OpenBackend(ctx context.Context, cfg Config) (Backend, error) {
	var (
		b   Backend
		err error
	)
	switch cfg.Backend {
	case BackendMemory:
		b = NewMemoryBackend()
	case BackendFilesystem, "":
		b, err = NewFileSystemBackend(cfg.FilesystemRoot)
	case BackendSQLite:
		b, err = OpenSQLite(ctx, cfg.SQLitePath)
	case BackendPostgres:
		b, err = OpenPostgres(ctx, cfg.PostgresURL)
	case BackendRedis:
		b, err = OpenRedis(ctx, cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	case BackendS3:
		b, err = OpenS3(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	if cfg.QuotaBytes > 0 {
		return WithQuota(b, cfg.QuotaBytes), nil
	}
	return b, nil
}
