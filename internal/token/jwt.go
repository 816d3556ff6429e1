// Package token issues and validates the signed bearer tokens used by the auth flows.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken covers every validation failure: bad signature, malformed
// token, expiry, or a kind tag that does not match the expected use.
var ErrInvalidToken = errors.New("invalid token")

// Kind is the purpose tag carried in the token_type claim
type Kind string

const (
	KindAccess       Kind = "access_token"
	KindRefresh      Kind = "refresh_token"
	KindReset        Kind = "reset_token"
	KindEmailConfirm Kind = "email_confirm"

	// KindAny skips the kind check on validation
	KindAny Kind = ""
)

// Default lifetimes per kind
const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
	DefaultResetTTL   = 30 * time.Minute
	DefaultConfirmTTL = 24 * time.Hour
)

// Claims is the JWT payload
type Claims struct {
	TokenType Kind `json:"token_type,omitempty"`
	jwt.RegisteredClaims
}

// Config holds configuration for Manager
type Config struct {
	Secret     string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	ResetTTL   time.Duration
	ConfirmTTL time.Duration
}

// Manager signs and parses HS256 tokens. It holds no mutable state.
type Manager struct {
	secret []byte
	issuer string
	ttls   map[Kind]time.Duration
	now    func() time.Time
}

// NewManager creates a new Manager, filling zero TTLs with the defaults
func NewManager(cfg *Config) (*Manager, error) {
	if cfg == nil || cfg.Secret == "" {
		return nil, errors.New("token secret is required")
	}

	orDefault := func(d, def time.Duration) time.Duration {
		if d <= 0 {
			return def
		}
		return d
	}

	return &Manager{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttls: map[Kind]time.Duration{
			KindAccess:       orDefault(cfg.AccessTTL, DefaultAccessTTL),
			KindRefresh:      orDefault(cfg.RefreshTTL, DefaultRefreshTTL),
			KindReset:        orDefault(cfg.ResetTTL, DefaultResetTTL),
			KindEmailConfirm: orDefault(cfg.ConfirmTTL, DefaultConfirmTTL),
		},
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// TTL returns the configured lifetime for kind
func (m *Manager) TTL(kind Kind) time.Duration {
	return m.ttls[kind]
}

// Issue signs a token for subject with the given kind and lifetime
func (m *Manager) Issue(subject string, kind Kind, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("token ttl must be positive, got %s", ttl)
	}

	now := m.now()
	claims := &Claims{
		TokenType: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   subject,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// IssueKind signs a token using the configured lifetime for kind
func (m *Manager) IssueKind(subject string, kind Kind) (string, error) {
	return m.Issue(subject, kind, m.TTL(kind))
}

// Validate parses tokenString and returns its claims. With an expected kind
// other than KindAny the token_type claim must match exactly.
func (m *Manager) Validate(tokenString string, expected Kind) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, ErrInvalidToken
			}
			return m.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	if expected != KindAny && claims.TokenType != expected {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Subject validates tokenString and returns only its subject
func (m *Manager) Subject(tokenString string, expected Kind) (string, error) {
	claims, err := m.Validate(tokenString, expected)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}
