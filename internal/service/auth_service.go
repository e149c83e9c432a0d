package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/garage-core/internal/api/dto"
	"github.com/spec-kit/garage-core/internal/auth"
	"github.com/spec-kit/garage-core/internal/config"
	"github.com/spec-kit/garage-core/internal/domain"
	"github.com/spec-kit/garage-core/internal/repository"
	apperrors "github.com/spec-kit/garage-core/pkg/util"
)

// AuthService coordinates registration, login and profile flows.
type AuthService struct {
	users      repository.UserRepository
	revoked    repository.RevocationRepository
	tokenMgr   *auth.TokenManager
	bcryptCost int
	logger     *zap.Logger
}

// AuthDependencies encapsulates repo requirements for auth service.
type AuthDependencies struct {
	UserRepo       repository.UserRepository
	RevocationRepo repository.RevocationRepository
	Logger         *zap.Logger
}

// NewAuthService builds the service.
func NewAuthService(cfg config.Config, deps AuthDependencies) *AuthService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		users:      deps.UserRepo,
		revoked:    deps.RevocationRepo,
		tokenMgr:   auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL()),
		bcryptCost: cfg.Auth.BcryptCost,
		logger:     logger,
	}
}

// Register creates a new account and issues its first token. Self-service
// accounts are clients unless another non-admin role is requested.
func (s *AuthService) Register(ctx context.Context, req dto.RegisterRequest) (*domain.User, string, error) {
	name := strings.TrimSpace(req.Name)
	email := strings.TrimSpace(req.Email)
	if name == "" || email == "" || req.Password == "" {
		return nil, "", apperrors.NewValidationError("name, email, password required", nil)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, "", apperrors.NewValidationError("email is malformed", map[string]any{"email": email})
	}

	role := req.Role
	switch role {
	case "":
		role = domain.RoleClient
	case domain.RoleClient, domain.RoleMechanic:
	default:
		return nil, "", apperrors.NewValidationError("role not allowed", map[string]any{"role": role})
	}

	hash, err := auth.HashPassword(req.Password, s.bcryptCost)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooShort) {
			return nil, "", apperrors.NewValidationError(err.Error(), nil)
		}
		return nil, "", err
	}

	user := &domain.User{
		Name:         name,
		Email:        email,
		Phone:        strings.TrimSpace(req.Phone),
		Role:         role,
		PasswordHash: hash,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return nil, "", apperrors.NewConflict(err.Error(), nil)
		}
		return nil, "", err
	}

	token, _, err := s.tokenMgr.GenerateToken(user)
	if err != nil {
		return nil, "", err
	}
	s.logger.Info("user registered", zap.String("user_id", user.ID), zap.String("role", string(user.Role)))
	return user, token, nil
}

// Login authenticates an account by email and password.
func (s *AuthService) Login(ctx context.Context, req dto.LoginRequest) (*domain.User, string, error) {
	if req.Email == "" || req.Password == "" {
		return nil, "", apperrors.NewValidationError("email and password required", nil)
	}

	user, err := s.users.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, "", apperrors.NewUnauthorized("invalid credentials")
		}
		return nil, "", err
	}
	match, err := auth.ComparePassword(user.PasswordHash, req.Password)
	if err != nil {
		return nil, "", err
	}
	if !match {
		return nil, "", apperrors.NewUnauthorized("invalid credentials")
	}

	token, _, err := s.tokenMgr.GenerateToken(user)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Logout revokes token. Tokens that do not parse are already unusable, so
// they are accepted silently.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	claims, err := s.tokenMgr.ParseToken(token)
	if err != nil {
		s.logger.Debug("logout with unusable token", zap.Error(err))
		return nil
	}
	if err := s.revoked.Revoke(ctx, claims.Token()); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Profile returns the account identified by userID.
func (s *AuthService) Profile(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NewNotFound("user", nil)
		}
		return nil, err
	}
	return user, nil
}

// UpdateProfile applies the non-nil fields of req to the account.
func (s *AuthService) UpdateProfile(ctx context.Context, userID string, req dto.ProfileUpdateRequest) (*domain.User, error) {
	user, err := s.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, apperrors.NewValidationError("name cannot be empty", nil)
		}
		user.Name = name
	}
	if req.Email != nil {
		email := strings.TrimSpace(*req.Email)
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, apperrors.NewValidationError("email is malformed", map[string]any{"email": email})
		}
		user.Email = email
	}
	if req.Phone != nil {
		user.Phone = strings.TrimSpace(*req.Phone)
	}

	if err := s.users.Update(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return nil, apperrors.NewConflict(err.Error(), nil)
		}
		return nil, err
	}
	return user, nil
}

// SeedAdmin creates the admin account when it does not exist yet.
func (s *AuthService) SeedAdmin(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return nil
	}
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return err
	}

	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	user := &domain.User{Name: "Administrator", Email: email, Role: domain.RoleAdmin, PasswordHash: hash}
	if err := s.users.Create(ctx, user); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	s.logger.Info("admin account seeded", zap.String("user_id", user.ID))
	return nil
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}
