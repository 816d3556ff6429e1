package domain

import (
	"time"
)

// DateLayout is the wire format of Contact.Birthday
const DateLayout = "2006-01-02"

// Contact is an address book entry owned by a user
type Contact struct {
	ID        string    `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Birthday  time.Time `json:"-"`
	Extra     *string   `json:"extra"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ContactFilter narrows a contact listing. Text filters are case-insensitive substring matches.
type ContactFilter struct {
	UserID    string
	Search    string
	FirstName string
	LastName  string
	Email     string
	Skip      int
	Limit     int
}

// ContactUpdate carries the fields of a partial update; nil means unchanged
type ContactUpdate struct {
	FirstName *string
	LastName  *string
	Email     *string
	Phone     *string
	Birthday  *time.Time
	Extra     *string
}

// IsEmpty reports whether the update changes nothing
func (u *ContactUpdate) IsEmpty() bool {
	return u.FirstName == nil && u.LastName == nil && u.Email == nil &&
		u.Phone == nil && u.Birthday == nil && u.Extra == nil
}
