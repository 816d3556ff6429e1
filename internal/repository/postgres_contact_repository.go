package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prohmpiriya/contacts-api/internal/domain"
)

const contactColumns = `id, first_name, last_name, email, phone, birthday, extra, user_id, created_at, updated_at`

// birthdayLayout compares birthdays by month and day only
const birthdayLayout = "01-02"

// PostgresContactRepository implements ContactRepository using PostgreSQL
type PostgresContactRepository struct {
	db DBTX
}

// NewPostgresContactRepository creates a new PostgresContactRepository
func NewPostgresContactRepository(db DBTX) *PostgresContactRepository {
	return &PostgresContactRepository{db: db}
}

// Create creates a new contact
func (r *PostgresContactRepository) Create(ctx context.Context, contact *domain.Contact) error {
	query := `
		INSERT INTO contacts (id, first_name, last_name, email, phone, birthday, extra, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.Exec(ctx, query,
		contact.ID,
		contact.FirstName,
		contact.LastName,
		contact.Email,
		contact.Phone,
		contact.Birthday,
		contact.Extra,
		contact.UserID,
		contact.CreatedAt,
		contact.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to insert contact: %w", err)
	}
	return nil
}

// GetByID retrieves a contact by ID
func (r *PostgresContactRepository) GetByID(ctx context.Context, userID, id string) (*domain.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE id = $1 AND user_id = $2`
	contact, err := scanContact(r.db.QueryRow(ctx, query, id, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	return contact, nil
}

// List retrieves contacts matching the filter
func (r *PostgresContactRepository) List(ctx context.Context, filter *domain.ContactFilter) ([]*domain.Contact, error) {
	conditions := []string{"user_id = $1"}
	args := []any{filter.UserID}

	addLike := func(expr, value string) {
		if value == "" {
			return
		}
		args = append(args, "%"+value+"%")
		conditions = append(conditions, fmt.Sprintf("%s ILIKE $%d", expr, len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		n := len(args)
		conditions = append(conditions, fmt.Sprintf("(first_name ILIKE $%d OR last_name ILIKE $%d OR email ILIKE $%d)", n, n, n))
	}
	addLike("first_name", filter.FirstName)
	addLike("last_name", filter.LastName)
	addLike("email", filter.Email)

	args = append(args, filter.Limit, filter.Skip)
	query := fmt.Sprintf(
		`SELECT %s FROM contacts WHERE %s ORDER BY last_name, first_name, id LIMIT $%d OFFSET $%d`,
		contactColumns, strings.Join(conditions, " AND "), len(args)-1, len(args),
	)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	return collectContacts(rows)
}

// Update applies a partial update and returns the updated contact
func (r *PostgresContactRepository) Update(ctx context.Context, userID, id string, update *domain.ContactUpdate) (*domain.Contact, error) {
	sets := []string{"updated_at = NOW()"}
	args := []any{id, userID}

	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if update.FirstName != nil {
		set("first_name", *update.FirstName)
	}
	if update.LastName != nil {
		set("last_name", *update.LastName)
	}
	if update.Email != nil {
		set("email", *update.Email)
	}
	if update.Phone != nil {
		set("phone", *update.Phone)
	}
	if update.Birthday != nil {
		set("birthday", *update.Birthday)
	}
	if update.Extra != nil {
		set("extra", *update.Extra)
	}

	query := fmt.Sprintf(
		`UPDATE contacts SET %s WHERE id = $1 AND user_id = $2 RETURNING %s`,
		strings.Join(sets, ", "), contactColumns,
	)
	contact, err := scanContact(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("failed to update contact: %w", err)
	}
	return contact, nil
}

// Delete deletes a contact
func (r *PostgresContactRepository) Delete(ctx context.Context, userID, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM contacts WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete contact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpcomingBirthdays retrieves contacts whose birthday falls in [from, from+days].
// Birthdays are compared as MM-DD strings; when the window crosses New Year
// it is split into [start, 12-31] and [01-01, end].
func (r *PostgresContactRepository) UpcomingBirthdays(ctx context.Context, userID string, from time.Time, days int) ([]*domain.Contact, error) {
	end := from.AddDate(0, 0, days)
	start, stop := from.Format(birthdayLayout), end.Format(birthdayLayout)

	op := "AND"
	if end.Year() != from.Year() {
		op = "OR"
	}
	query := fmt.Sprintf(`
		SELECT %s FROM contacts
		WHERE user_id = $1
		  AND (to_char(birthday, 'MM-DD') >= $2 %s to_char(birthday, 'MM-DD') <= $3)
		ORDER BY to_char(birthday, 'MM-DD') < $2, to_char(birthday, 'MM-DD'), id
	`, contactColumns, op)

	rows, err := r.db.Query(ctx, query, userID, start, stop)
	if err != nil {
		return nil, fmt.Errorf("failed to query birthdays: %w", err)
	}
	return collectContacts(rows)
}

func scanContact(row pgx.Row) (*domain.Contact, error) {
	c := &domain.Contact{}
	err := row.Scan(
		&c.ID,
		&c.FirstName,
		&c.LastName,
		&c.Email,
		&c.Phone,
		&c.Birthday,
		&c.Extra,
		&c.UserID,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func collectContacts(rows pgx.Rows) ([]*domain.Contact, error) {
	defer rows.Close()

	contacts := make([]*domain.Contact, 0)
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate contacts: %w", err)
	}
	return contacts, nil
}
