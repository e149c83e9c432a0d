package http

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/garage-core/internal/api/http/handlers"
	"github.com/spec-kit/garage-core/internal/auth"
	"github.com/spec-kit/garage-core/internal/config"
	"github.com/spec-kit/garage-core/internal/observability"
	"github.com/spec-kit/garage-core/internal/repository"
	"github.com/spec-kit/garage-core/internal/service"
	"github.com/spec-kit/garage-core/internal/store"
)

// ServerDependencies bundles what the development API server needs.
type ServerDependencies struct {
	Users   repository.UserRepository
	Store   *store.Store
	Logger  *zap.Logger
	Metrics *observability.Metrics
	Health  map[string]handlers.Pinger
}

// NewServer assembles the fiber app serving the /auth and /health routes and
// seeds the admin account when one is configured.
func NewServer(ctx context.Context, cfg *config.Config, deps ServerDependencies) (*fiber.App, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	users := deps.Users
	if users == nil {
		users = repository.NewMemoryUserRepository()
	}
	revocations := repository.NewRevocationRepository(deps.Store)

	authService := service.NewAuthService(*cfg, service.AuthDependencies{
		UserRepo:       users,
		RevocationRepo: revocations,
		Logger:         logger.Named("auth"),
	})
	if err := authService.SeedAdmin(ctx, cfg.Auth.SeedAdminEmail, cfg.Auth.SeedAdminPassword); err != nil {
		return nil, err
	}
	authMiddleware := auth.NewAuthMiddleware(authService.TokenManager(), users, revocations)

	app := NewApp(cfg.App.Name, logger, deps.Metrics, cfg.App.RequestTimeout())
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, deps.Health),
		Auth:           handlers.NewAuthHandler(authService),
		AuthMiddleware: authMiddleware,
	})
	return app, nil
}
