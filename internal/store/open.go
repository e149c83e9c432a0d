package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/garage-core/internal/config"
	"github.com/spec-kit/garage-core/internal/persistence"
)

// Opened is a Store together with the connections opened for it.
type Opened struct {
	*Store
	Redis    *persistence.Redis
	Postgres *persistence.Postgres
}

// Close closes the store and any connection it owns.
func (o *Opened) Close() {
	if o == nil {
		return
	}
	_ = o.Store.Close()
	o.Redis.Close()
	o.Postgres.Close()
}

// Open builds the Store selected by cfg.Store.Backend.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Opened, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	storeLogger := logger.Named("store")

	switch cfg.Store.Backend {
	case config.StoreBackendMemory:
		return &Opened{Store: New(NewMemoryBackend(), storeLogger)}, nil

	case config.StoreBackendFile:
		backend, err := NewFileBackend(cfg.Store.Dir, cfg.Store.Namespace, storeLogger)
		if err != nil {
			return nil, err
		}
		storeLogger.Info("using file store", zap.String("path", backend.Path()))
		return &Opened{Store: New(backend, storeLogger)}, nil

	case config.StoreBackendRedis:
		rdb := persistence.NewRedis(ctx, cfg.Redis, logger)
		backend := NewRedisBackend(rdb.Client, cfg.Store.Namespace)
		return &Opened{Store: New(backend, storeLogger), Redis: rdb}, nil

	case config.StoreBackendPostgres:
		pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if pg.PoolHandle() == nil {
			return nil, fmt.Errorf("postgres store requires POSTGRES_DSN")
		}
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
				pg.Close()
				return nil, err
			}
		}
		backend := NewPostgresBackend(pg.PoolHandle(), cfg.Store.Namespace)
		return &Opened{Store: New(backend, storeLogger), Postgres: pg}, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
