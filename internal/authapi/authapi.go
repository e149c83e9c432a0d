// Package authapi is the typed façade over the /auth endpoints.
package authapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/spec-kit/garage-core/internal/api/dto"
	"github.com/spec-kit/garage-core/internal/client"
	"github.com/spec-kit/garage-core/internal/domain"
)

// Endpoint paths relative to the API base URL.
const (
	PathLogin    = "/auth/login"
	PathRegister = "/auth/register"
	PathLogout   = "/auth/logout"
	PathValidate = "/auth/validate"
	PathProfile  = "/auth/profile"
)

// ErrMissingToken is returned when a response that must carry a token does not.
var ErrMissingToken = errors.New("auth response has no token")

// API calls the authentication endpoints through an HTTP client.
type API struct {
	client *client.Client
}

// New builds the façade over c.
func New(c *client.Client) *API {
	return &API{client: c}
}

// Login exchanges credentials for a user and token.
func (a *API) Login(ctx context.Context, req dto.LoginRequest) (dto.AuthResponse, error) {
	return a.authenticate(ctx, PathLogin, req)
}

// Register creates an account and returns its user and token.
func (a *API) Register(ctx context.Context, req dto.RegisterRequest) (dto.AuthResponse, error) {
	return a.authenticate(ctx, PathRegister, req)
}

func (a *API) authenticate(ctx context.Context, path string, body any) (dto.AuthResponse, error) {
	out, err := client.DecodeAs[dto.AuthResponse](a.client.Post(ctx, path, body))
	if err != nil {
		return dto.AuthResponse{}, err
	}
	if out.Token == "" {
		return dto.AuthResponse{}, fmt.Errorf("%s: %w", path, ErrMissingToken)
	}
	return out, nil
}

// Logout revokes token on the server.
func (a *API) Logout(ctx context.Context, token string) error {
	_, err := a.client.Post(ctx, PathLogout, dto.LogoutRequest{Token: token})
	return err
}

// ValidateToken asks the server whether the current token is still valid.
// A 401 means the token was rejected and is reported as (false, nil).
func (a *API) ValidateToken(ctx context.Context) (bool, error) {
	out, err := client.DecodeAs[dto.ValidateResponse](a.client.Get(ctx, PathValidate, nil))
	if err != nil {
		if client.KindOf(err) == client.KindAuth {
			return false, nil
		}
		return false, err
	}
	return out.Valid, nil
}

// Profile fetches the current user's profile.
func (a *API) Profile(ctx context.Context) (domain.User, error) {
	return client.DecodeAs[domain.User](a.client.Get(ctx, PathProfile, nil))
}

// UpdateProfile sends a partial profile and returns the stored result.
func (a *API) UpdateProfile(ctx context.Context, patch map[string]any) (domain.User, error) {
	return client.DecodeAs[domain.User](a.client.Put(ctx, PathProfile, patch))
}
