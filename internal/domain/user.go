package domain

import (
	"time"
)

// Role represents user role
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// IsValid reports whether r is a known role
func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User represents a user entity. The credential store is its system of record.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"` // Never serialize password
	RefreshToken *string   `json:"-"`
	Avatar       *string   `json:"avatar"`
	Confirmed    bool      `json:"confirmed"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CachedUser is the snapshot stored in the session cache under an access token.
// It deliberately has no password hash or refresh token.
type CachedUser struct {
	ID        string  `json:"id"`
	Email     string  `json:"email"`
	Username  string  `json:"username"`
	Avatar    *string `json:"avatar"`
	Role      Role    `json:"role"`
	Confirmed bool    `json:"confirmed"`
}

// Snapshot projects a user onto its cacheable subset
func (u *User) Snapshot() *CachedUser {
	return &CachedUser{
		ID:        u.ID,
		Email:     u.Email,
		Username:  u.Username,
		Avatar:    u.Avatar,
		Role:      u.Role,
		Confirmed: u.Confirmed,
	}
}

// IsAdmin reports whether the snapshot carries the admin role
func (c *CachedUser) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// TokenPair is the login/refresh result
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// TokenTypeBearer is the only token_type ever returned
const TokenTypeBearer = "bearer"
