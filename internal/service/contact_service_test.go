package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prohmpiriya/contacts-api/internal/domain"
	"github.com/prohmpiriya/contacts-api/internal/dto"
	"github.com/prohmpiriya/contacts-api/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockContactRepository is an in-memory ContactRepository
type mockContactRepository struct {
	mu       sync.Mutex
	contacts map[string]*domain.Contact
	lastFrom time.Time
	lastDays int
}

func newMockContactRepository() *mockContactRepository {
	return &mockContactRepository{contacts: make(map[string]*domain.Contact)}
}

func (r *mockContactRepository) Create(ctx context.Context, contact *domain.Contact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.contacts {
		if c.Email == contact.Email {
			return repository.ErrDuplicateEmail
		}
	}
	c := *contact
	r.contacts[contact.ID] = &c
	return nil
}

func (r *mockContactRepository) GetByID(ctx context.Context, userID, id string) (*domain.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contacts[id]
	if !ok || c.UserID != userID {
		return nil, repository.ErrNotFound
	}
	out := *c
	return &out, nil
}

func (r *mockContactRepository) List(ctx context.Context, filter *domain.ContactFilter) ([]*domain.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*domain.Contact{}
	for _, c := range r.contacts {
		if c.UserID != filter.UserID {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(c.FirstName+" "+c.LastName+" "+c.Email), strings.ToLower(filter.Search)) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastName < out[j].LastName })
	if filter.Skip >= len(out) {
		return []*domain.Contact{}, nil
	}
	out = out[filter.Skip:]
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *mockContactRepository) Update(ctx context.Context, userID, id string, update *domain.ContactUpdate) (*domain.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contacts[id]
	if !ok || c.UserID != userID {
		return nil, repository.ErrNotFound
	}
	if update.FirstName != nil {
		c.FirstName = *update.FirstName
	}
	if update.LastName != nil {
		c.LastName = *update.LastName
	}
	if update.Email != nil {
		c.Email = *update.Email
	}
	if update.Phone != nil {
		c.Phone = *update.Phone
	}
	if update.Birthday != nil {
		c.Birthday = *update.Birthday
	}
	if update.Extra != nil {
		c.Extra = update.Extra
	}
	out := *c
	return &out, nil
}

func (r *mockContactRepository) Delete(ctx context.Context, userID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contacts[id]
	if !ok || c.UserID != userID {
		return repository.ErrNotFound
	}
	delete(r.contacts, id)
	return nil
}

func (r *mockContactRepository) UpcomingBirthdays(ctx context.Context, userID string, from time.Time, days int) ([]*domain.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastFrom, r.lastDays = from, days
	return []*domain.Contact{}, nil
}

func newContactRequest(email string) *dto.CreateContactRequest {
	return &dto.CreateContactRequest{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     email,
		Phone:     "+44 20 7946 0000",
		Birthday:  "1990-12-10",
	}
}

func TestContactService_CreateAndGet(t *testing.T) {
	repo := newMockContactRepository()
	svc := NewContactService(repo)

	created, err := svc.Create(context.Background(), "u1", newContactRequest("Ada@X.com"))
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "ada@x.com", created.Email)
	assert.Equal(t, "u1", created.UserID)
	assert.Equal(t, "1990-12-10", created.Birthday.Format(domain.DateLayout))

	got, err := svc.Get(context.Background(), "u1", created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	_, err = svc.Get(context.Background(), "u2", created.ID)
	assert.ErrorIs(t, err, ErrContactNotFound, "contacts are private to their owner")
}

func TestContactService_Create_Rejects(t *testing.T) {
	repo := newMockContactRepository()
	svc := NewContactService(repo)

	_, err := svc.Create(context.Background(), "u1", newContactRequest("ada@x.com"))
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), "u1", newContactRequest("ada@x.com"))
	assert.ErrorIs(t, err, ErrContactExists)

	bad := newContactRequest("other@x.com")
	bad.Birthday = "10/12/1990"
	_, err = svc.Create(context.Background(), "u1", bad)
	assert.ErrorIs(t, err, dto.ErrInvalidBirthday)
}

func TestContactService_Get_MalformedID(t *testing.T) {
	svc := NewContactService(newMockContactRepository())

	_, err := svc.Get(context.Background(), "u1", "not-a-uuid")
	assert.ErrorIs(t, err, ErrContactNotFound)
	assert.ErrorIs(t, svc.Delete(context.Background(), "u1", "not-a-uuid"), ErrContactNotFound)
}

func TestContactService_List(t *testing.T) {
	repo := newMockContactRepository()
	svc := NewContactService(repo)

	for _, email := range []string{"a@x.com", "b@x.com", "c@x.com"} {
		_, err := svc.Create(context.Background(), "u1", newContactRequest(email))
		require.NoError(t, err)
	}
	_, err := svc.Create(context.Background(), "u2", newContactRequest("d@x.com"))
	require.NoError(t, err)

	all, err := svc.List(context.Background(), "u1", &dto.ListContactsQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	page, err := svc.List(context.Background(), "u1", &dto.ListContactsQuery{Skip: 1, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, page, 1)

	found, err := svc.List(context.Background(), "u1", &dto.ListContactsQuery{Search: "B@X"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "b@x.com", found[0].Email)
}

func TestContactService_Update(t *testing.T) {
	repo := newMockContactRepository()
	svc := NewContactService(repo)

	created, err := svc.Create(context.Background(), "u1", newContactRequest("ada@x.com"))
	require.NoError(t, err)

	phone := "+1 555 0100"
	updated, err := svc.Update(context.Background(), "u1", created.ID, &dto.UpdateContactRequest{Phone: &phone})
	require.NoError(t, err)
	assert.Equal(t, phone, updated.Phone)
	assert.Equal(t, "Ada", updated.FirstName)

	_, err = svc.Update(context.Background(), "u1", created.ID, &dto.UpdateContactRequest{})
	assert.ErrorIs(t, err, ErrNothingToUpdate)

	_, err = svc.Update(context.Background(), "u2", created.ID, &dto.UpdateContactRequest{Phone: &phone})
	assert.ErrorIs(t, err, ErrContactNotFound)

	future := time.Now().AddDate(1, 0, 0).Format(domain.DateLayout)
	_, err = svc.Update(context.Background(), "u1", created.ID, &dto.UpdateContactRequest{Birthday: &future})
	assert.ErrorIs(t, err, dto.ErrFutureBirthday)
}

func TestContactService_Delete(t *testing.T) {
	repo := newMockContactRepository()
	svc := NewContactService(repo)

	created, err := svc.Create(context.Background(), "u1", newContactRequest("ada@x.com"))
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Delete(context.Background(), "u2", created.ID), ErrContactNotFound)
	require.NoError(t, svc.Delete(context.Background(), "u1", created.ID))
	assert.ErrorIs(t, svc.Delete(context.Background(), "u1", created.ID), ErrContactNotFound)
	assert.ErrorIs(t, svc.Delete(context.Background(), "u1", uuid.NewString()), ErrContactNotFound)
}

func TestContactService_UpcomingBirthdays(t *testing.T) {
	repo := newMockContactRepository()
	svc := NewContactService(repo).(*contactService)
	fixed := time.Date(2024, 12, 28, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	contacts, err := svc.UpcomingBirthdays(context.Background(), "u1")
	require.NoError(t, err)
	assert.NotNil(t, contacts)
	assert.Equal(t, fixed, repo.lastFrom)
	assert.Equal(t, dto.BirthdayWindowDays, repo.lastDays)
}
