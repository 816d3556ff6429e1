package dto

import (
	"strings"
	"time"

	"github.com/prohmpiriya/contacts-api/internal/domain"
)

// SignupRequest represents signup request
type SignupRequest struct {
	Email    string `json:"email" binding:"required,email,max=255"`
	Username string `json:"username" binding:"required,min=2,max=50"`
	Password string `json:"password" binding:"required,min=8,max=72"`
}

// Normalize trims whitespace and lower-cases the email
func (r *SignupRequest) Normalize() {
	r.Email = NormalizeEmail(r.Email)
	r.Username = strings.TrimSpace(r.Username)
}

// LoginRequest is an OAuth2 password-form login; username carries the email
type LoginRequest struct {
	Username string `form:"username" json:"username" binding:"required"`
	Password string `form:"password" json:"password" binding:"required"`
}

// RefreshTokenRequest represents refresh token request
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// PasswordResetRequest represents password reset request
type PasswordResetRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// PasswordResetConfirm represents password reset confirmation
type PasswordResetConfirm struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=8,max=72"`
}

// TokenResponse is returned by login and refresh
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// NewTokenResponse converts a TokenPair
func NewTokenResponse(pair *domain.TokenPair) TokenResponse {
	return TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
	}
}

// UserResponse is the public user view; it never carries credentials
type UserResponse struct {
	ID        string      `json:"id"`
	Email     string      `json:"email"`
	Username  string      `json:"username"`
	Avatar    *string     `json:"avatar"`
	Role      domain.Role `json:"role"`
	Confirmed bool        `json:"confirmed"`
	CreatedAt *time.Time  `json:"created_at,omitempty"`
}

// FromUser builds a UserResponse from a stored user
func FromUser(u *domain.User) UserResponse {
	createdAt := u.CreatedAt
	return UserResponse{
		ID:        u.ID,
		Email:     u.Email,
		Username:  u.Username,
		Avatar:    u.Avatar,
		Role:      u.Role,
		Confirmed: u.Confirmed,
		CreatedAt: &createdAt,
	}
}

// FromCachedUser builds a UserResponse from a session-cache snapshot
func FromCachedUser(u *domain.CachedUser) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Email:     u.Email,
		Username:  u.Username,
		Avatar:    u.Avatar,
		Role:      u.Role,
		Confirmed: u.Confirmed,
	}
}

// NormalizeEmail trims and lower-cases an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
