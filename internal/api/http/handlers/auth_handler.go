package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/garage-core/internal/api/dto"
	"github.com/spec-kit/garage-core/internal/auth"
	"github.com/spec-kit/garage-core/internal/service"
	apperrors "github.com/spec-kit/garage-core/pkg/util"
)

// AuthHandler exposes the /auth endpoints.
type AuthHandler struct {
	auth *service.AuthService
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: authService}
}

// Register handles POST /auth/register.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}

	user, token, err := h.auth.Register(c.UserContext(), req)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(dto.AuthResponse{User: *user, Token: token})
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}

	user, token, err := h.auth.Login(c.UserContext(), req)
	if err != nil {
		return err
	}
	return c.JSON(dto.AuthResponse{User: *user, Token: token})
}

// Logout handles POST /auth/logout. The token comes from the body, falling
// back to the Authorization header.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	var req dto.LogoutRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid payload")
		}
	}
	if req.Token == "" {
		if raw, err := auth.BearerToken(c.Get(fiber.HeaderAuthorization)); err == nil {
			req.Token = raw
		}
	}
	if req.Token == "" {
		return apperrors.NewValidationError("token required", nil)
	}

	if err := h.auth.Logout(c.UserContext(), req.Token); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// Validate handles GET /auth/validate. It sits behind the auth middleware,
// so reaching it means the token is valid.
func (h *AuthHandler) Validate(c *fiber.Ctx) error {
	_, ok := auth.PrincipalFromContext(c)
	return c.JSON(dto.ValidateResponse{Valid: ok})
}

// Profile handles GET /auth/profile.
func (h *AuthHandler) Profile(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("not authenticated")
	}
	user, err := h.auth.Profile(c.UserContext(), principal.User.ID)
	if err != nil {
		return err
	}
	return c.JSON(user)
}

// UpdateProfile handles PUT /auth/profile.
func (h *AuthHandler) UpdateProfile(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("not authenticated")
	}
	var req dto.ProfileUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}

	user, err := h.auth.UpdateProfile(c.UserContext(), principal.User.ID, req)
	if err != nil {
		return err
	}
	return c.JSON(user)
}
