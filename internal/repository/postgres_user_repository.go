package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prohmpiriya/contacts-api/internal/domain"
)

const userColumns = `id, email, username, password_hash, refresh_token, avatar, confirmed, role, created_at, updated_at`

// PostgresUserRepository implements UserRepository using PostgreSQL
type PostgresUserRepository struct {
	db DBTX
}

// NewPostgresUserRepository creates a new PostgresUserRepository
func NewPostgresUserRepository(db DBTX) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

// Create creates a new user
func (r *PostgresUserRepository) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (id, email, username, password_hash, avatar, confirmed, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.Exec(ctx, query,
		user.ID,
		user.Email,
		user.Username,
		user.PasswordHash,
		user.Avatar,
		user.Confirmed,
		string(user.Role),
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by ID
func (r *PostgresUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRow(ctx, query, id))
}

// GetByEmail retrieves a user by email
func (r *PostgresUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.db.QueryRow(ctx, query, email))
}

// GetByEmailAndRefreshToken retrieves a user whose current refresh token equals token
func (r *PostgresUserRepository) GetByEmailAndRefreshToken(ctx context.Context, email, token string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1 AND refresh_token = $2`
	return scanUser(r.db.QueryRow(ctx, query, email, token))
}

// UpdateRefreshToken replaces the stored refresh token
func (r *PostgresUserRepository) UpdateRefreshToken(ctx context.Context, id string, token *string) error {
	query := `UPDATE users SET refresh_token = $2, updated_at = NOW() WHERE id = $1`
	return r.execOne(ctx, query, id, token)
}

// MarkConfirmed flips confirmed from false to true in one statement. A concurrent
// confirmation blocks on the row lock and then fails the confirmed = FALSE recheck.
func (r *PostgresUserRepository) MarkConfirmed(ctx context.Context, email string) error {
	query := `
		WITH target AS (
			SELECT id FROM users WHERE email = $1
		), updated AS (
			UPDATE users SET confirmed = TRUE, updated_at = NOW()
			WHERE email = $1 AND confirmed = FALSE
			RETURNING id
		)
		SELECT EXISTS (SELECT 1 FROM target), EXISTS (SELECT 1 FROM updated)
	`

	var found, updated bool
	if err := r.db.QueryRow(ctx, query, email).Scan(&found, &updated); err != nil {
		return fmt.Errorf("failed to confirm user: %w", err)
	}
	switch {
	case updated:
		return nil
	case found:
		return ErrAlreadyConfirmed
	default:
		return ErrNotFound
	}
}

// UpdatePassword replaces the password hash
func (r *PostgresUserRepository) UpdatePassword(ctx context.Context, email, passwordHash string) error {
	query := `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE email = $1`
	return r.execOne(ctx, query, email, passwordHash)
}

// UpdateAvatar sets the avatar URL and returns the updated user
func (r *PostgresUserRepository) UpdateAvatar(ctx context.Context, email, url string) (*domain.User, error) {
	query := `UPDATE users SET avatar = $2, updated_at = NOW() WHERE email = $1 RETURNING ` + userColumns
	user, err := scanUser(r.db.QueryRow(ctx, query, email, url))
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNotFound
	}
	return user, nil
}

func (r *PostgresUserRepository) execOne(ctx context.Context, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanUser returns nil, nil when the row does not exist
func scanUser(row pgx.Row) (*domain.User, error) {
	user := &domain.User{}
	var role string
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Username,
		&user.PasswordHash,
		&user.RefreshToken,
		&user.Avatar,
		&user.Confirmed,
		&role,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	user.Role = domain.Role(role)
	return user, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
