package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prohmpiriya/contacts-api/internal/domain"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrDuplicateEmail = errors.New("email already exists")
	// ErrAlreadyConfirmed is returned by MarkConfirmed when another write confirmed the user first
	ErrAlreadyConfirmed = errors.New("user already confirmed")
)

// DBTX is the subset of pgxpool.Pool the Postgres repositories use
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// UserRepository defines the interface for user data access
type UserRepository interface {
	// Create creates a new user
	Create(ctx context.Context, user *domain.User) error
	// GetByID retrieves a user by ID
	GetByID(ctx context.Context, id string) (*domain.User, error)
	// GetByEmail retrieves a user by email
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	// GetByEmailAndRefreshToken retrieves a user whose current refresh token equals token
	GetByEmailAndRefreshToken(ctx context.Context, email, token string) (*domain.User, error)
	// UpdateRefreshToken replaces the stored refresh token
	UpdateRefreshToken(ctx context.Context, id string, token *string) error
	// MarkConfirmed flips confirmed from false to true. Exactly one caller wins;
	// the others get ErrAlreadyConfirmed, or ErrNotFound when there is no such user.
	MarkConfirmed(ctx context.Context, email string) error
	// UpdatePassword replaces the password hash
	UpdatePassword(ctx context.Context, email, passwordHash string) error
	// UpdateAvatar sets the avatar URL and returns the updated user
	UpdateAvatar(ctx context.Context, email, url string) (*domain.User, error)
}

// ContactRepository defines the interface for contact data access.
// Every method is scoped to the owning user.
type ContactRepository interface {
	// Create creates a new contact
	Create(ctx context.Context, contact *domain.Contact) error
	// GetByID retrieves a contact by ID
	GetByID(ctx context.Context, userID, id string) (*domain.Contact, error)
	// List retrieves contacts matching the filter
	List(ctx context.Context, filter *domain.ContactFilter) ([]*domain.Contact, error)
	// Update applies a partial update and returns the updated contact
	Update(ctx context.Context, userID, id string, update *domain.ContactUpdate) (*domain.Contact, error)
	// Delete deletes a contact
	Delete(ctx context.Context, userID, id string) error
	// UpcomingBirthdays retrieves contacts whose birthday falls in [from, from+days]
	UpcomingBirthdays(ctx context.Context, userID string, from time.Time, days int) ([]*domain.Contact, error)
}

// SessionCache defines the interface for the access-token and reset-token cache
type SessionCache interface {
	// PutUser caches a user snapshot under an access token
	PutUser(ctx context.Context, accessToken string, user *domain.CachedUser, ttl time.Duration) error
	// GetUser returns the cached snapshot, or nil on miss
	GetUser(ctx context.Context, accessToken string) (*domain.CachedUser, error)
	// PutResetBinding binds a reset token to an email
	PutResetBinding(ctx context.Context, resetToken, email string, ttl time.Duration) error
	// PopResetBinding atomically reads and deletes a reset binding, returning "" on miss
	PopResetBinding(ctx context.Context, resetToken string) (string, error)
}
