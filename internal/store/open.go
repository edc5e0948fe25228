package store

import (
	"context"
	"fmt"

	"github.com/palmkit/throttle/internal/config"
	"github.com/palmkit/throttle/pkg/logger"
)

// Open builds the backend selected by cfg.Store.Backend.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (Backend, error) {
	if log == nil {
		log = logger.Discard()
	}
	log = log.With("backend", cfg.Store.Backend)

	var (
		backend Backend
		err     error
	)
	switch cfg.Store.Backend {
	case config.BackendFile:
		backend, err = NewFileBackend(cfg.Store.Dir, log)
	case config.BackendMemory:
		backend = NewMemoryBackend()
	case config.BackendRedis:
		backend, err = NewRedisBackend(ctx, &cfg.Redis, cfg.Store.RedisPrefix)
	case config.BackendSQLite:
		backend, err = NewSQLiteBackend(ctx, cfg.Store.SQLitePath, log)
	case config.BackendPostgres:
		backend, err = NewPostgresBackend(ctx, &cfg.Database)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	if err != nil {
		return nil, err
	}

	log.Info("storage backend ready")
	return backend, nil
}
