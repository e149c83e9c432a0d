package dto

import "github.com/spec-kit/garage-core/internal/domain"

// RegisterRequest payload for new accounts.
type RegisterRequest struct {
	Name     string      `json:"name"`
	Email    string      `json:"email"`
	Password string      `json:"password"`
	Phone    string      `json:"phone,omitempty"`
	Role     domain.Role `json:"role,omitempty"`
}

// LoginRequest payload for login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse is returned by login and register.
type AuthResponse struct {
	User  domain.User `json:"user"`
	Token string      `json:"token"`
}

// LogoutRequest carries the token being revoked.
type LogoutRequest struct {
	Token string `json:"token"`
}

// ValidateResponse reports whether the presented token is still accepted.
type ValidateResponse struct {
	Valid bool `json:"valid"`
}

// ProfileUpdateRequest is a partial profile. Nil fields are left unchanged.
type ProfileUpdateRequest struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
	Phone *string `json:"phone,omitempty"`
}
