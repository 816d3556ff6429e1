package dto

import (
	"errors"
	"strings"
	"time"

	"github.com/prohmpiriya/contacts-api/internal/domain"
)

// Listing bounds
const (
	DefaultContactLimit = 100
	MaxContactLimit     = 500
	BirthdayWindowDays  = 7
)

var (
	ErrInvalidBirthday = errors.New("birthday must be a date in YYYY-MM-DD format")
	ErrFutureBirthday  = errors.New("birthday cannot be in the future")
)

// CreateContactRequest represents create contact request
type CreateContactRequest struct {
	FirstName string  `json:"first_name" binding:"required,min=1,max=80"`
	LastName  string  `json:"last_name" binding:"required,min=1,max=80"`
	Email     string  `json:"email" binding:"required,email,max=255"`
	Phone     string  `json:"phone" binding:"required,min=1,max=32"`
	Birthday  string  `json:"birthday" binding:"required"`
	Extra     *string `json:"extra"`
}

// ToContact validates the birthday and builds a contact owned by userID
func (r *CreateContactRequest) ToContact(userID string) (*domain.Contact, error) {
	birthday, err := ParseBirthday(r.Birthday)
	if err != nil {
		return nil, err
	}
	return &domain.Contact{
		FirstName: strings.TrimSpace(r.FirstName),
		LastName:  strings.TrimSpace(r.LastName),
		Email:     NormalizeEmail(r.Email),
		Phone:     strings.TrimSpace(r.Phone),
		Birthday:  birthday,
		Extra:     r.Extra,
		UserID:    userID,
	}, nil
}

// UpdateContactRequest represents a partial contact update
type UpdateContactRequest struct {
	FirstName *string `json:"first_name" binding:"omitempty,min=1,max=80"`
	LastName  *string `json:"last_name" binding:"omitempty,min=1,max=80"`
	Email     *string `json:"email" binding:"omitempty,email,max=255"`
	Phone     *string `json:"phone" binding:"omitempty,min=1,max=32"`
	Birthday  *string `json:"birthday"`
	Extra     *string `json:"extra"`
}

// ToUpdate converts the request into a domain update
func (r *UpdateContactRequest) ToUpdate() (*domain.ContactUpdate, error) {
	update := &domain.ContactUpdate{
		FirstName: r.FirstName,
		LastName:  r.LastName,
		Phone:     r.Phone,
		Extra:     r.Extra,
	}
	if r.Email != nil {
		email := NormalizeEmail(*r.Email)
		update.Email = &email
	}
	if r.Birthday != nil {
		birthday, err := ParseBirthday(*r.Birthday)
		if err != nil {
			return nil, err
		}
		update.Birthday = &birthday
	}
	return update, nil
}

// ListContactsQuery represents contact listing query parameters
type ListContactsQuery struct {
	Search    string `form:"search"`
	FirstName string `form:"first_name"`
	LastName  string `form:"last_name"`
	Email     string `form:"email"`
	Skip      int    `form:"skip" binding:"omitempty,min=0"`
	Limit     int    `form:"limit" binding:"omitempty,min=1,max=500"`
}

// ToFilter applies defaults and scopes the query to userID
func (q *ListContactsQuery) ToFilter(userID string) *domain.ContactFilter {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultContactLimit
	}
	if limit > MaxContactLimit {
		limit = MaxContactLimit
	}
	skip := q.Skip
	if skip < 0 {
		skip = 0
	}
	return &domain.ContactFilter{
		UserID:    userID,
		Search:    strings.TrimSpace(q.Search),
		FirstName: strings.TrimSpace(q.FirstName),
		LastName:  strings.TrimSpace(q.LastName),
		Email:     strings.TrimSpace(q.Email),
		Skip:      skip,
		Limit:     limit,
	}
}

// ContactResponse represents a contact in API responses
type ContactResponse struct {
	ID        string    `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Birthday  string    `json:"birthday"`
	Extra     *string   `json:"extra"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FromContact converts a domain contact
func FromContact(c *domain.Contact) ContactResponse {
	return ContactResponse{
		ID:        c.ID,
		FirstName: c.FirstName,
		LastName:  c.LastName,
		Email:     c.Email,
		Phone:     c.Phone,
		Birthday:  c.Birthday.Format(domain.DateLayout),
		Extra:     c.Extra,
		UserID:    c.UserID,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

// FromContacts converts a slice of contacts
func FromContacts(contacts []*domain.Contact) []ContactResponse {
	out := make([]ContactResponse, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, FromContact(c))
	}
	return out
}

// ParseBirthday parses a YYYY-MM-DD date that is not in the future
func ParseBirthday(s string) (time.Time, error) {
	t, err := time.Parse(domain.DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, ErrInvalidBirthday
	}
	if t.After(time.Now().UTC()) {
		return time.Time{}, ErrFutureBirthday
	}
	return t, nil
}
