package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	httptransport "github.com/spec-kit/garage-core/internal/api/http"
	"github.com/spec-kit/garage-core/internal/api/http/handlers"
	"github.com/spec-kit/garage-core/internal/config"
	"github.com/spec-kit/garage-core/internal/observability"
	"github.com/spec-kit/garage-core/internal/persistence"
	"github.com/spec-kit/garage-core/internal/repository"
	"github.com/spec-kit/garage-core/internal/store"
	"github.com/spec-kit/garage-core/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kv, err := store.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer kv.Close()

	health := map[string]handlers.Pinger{}
	if kv.Redis != nil {
		health["redis"] = kv.Redis
	}

	var users repository.UserRepository
	if cfg.Postgres.DSN != "" {
		pg := kv.Postgres
		if pg == nil {
			pg, err = persistence.NewPostgres(ctx, cfg.Postgres, logger)
			if err != nil {
				logger.Fatal("failed to connect postgres", zap.Error(err))
			}
			defer pg.Close()

			if cfg.Postgres.RunMigrations {
				if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
					logger.Fatal("failed to run migrations", zap.Error(err))
				}
			}
		}
		users = repository.NewUserRepository(pg.PoolHandle())
		health["postgres"] = pg
	} else {
		logger.Warn("POSTGRES_DSN not set; accounts are kept in memory")
		users = repository.NewMemoryUserRepository()
	}

	metrics := observability.NewMetrics()
	app, err := httptransport.NewServer(ctx, cfg, httptransport.ServerDependencies{
		Users:   users,
		Store:   kv.Store,
		Logger:  logger,
		Metrics: metrics,
		Health:  health,
	})
	if err != nil {
		logger.Fatal("failed to build server", zap.Error(err))
	}

	sweeper := worker.NewCleanupWorker(kv.Store, cfg.Store.CleanupInterval(), logger.Named("cleanup"))
	sweeperDone := sweeper.Start(ctx)

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()
	logger.Info("api listening", zap.String("addr", cfg.App.Addr()))

	waitForShutdown(logger)

	_ = app.Shutdown()
	cancel()
	<-sweeperDone
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
