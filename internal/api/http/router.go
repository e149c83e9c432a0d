package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/garage-core/internal/api/http/handlers"
	"github.com/spec-kit/garage-core/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	authGroup := app.Group("/auth")
	authGroup.Post("/register", cfg.Auth.Register)
	authGroup.Post("/login", cfg.Auth.Login)
	authGroup.Post("/logout", cfg.Auth.Logout)

	protected := authGroup.Group("", cfg.AuthMiddleware.Handle, auth.RequireRole())
	protected.Get("/validate", cfg.Auth.Validate)
	protected.Get("/profile", cfg.Auth.Profile)
	protected.Put("/profile", cfg.Auth.UpdateProfile)
}
