package service

import (
	"context"
	"sync"
	"time"

	"github.com/prohmpiriya/contacts-api/internal/domain"
	"github.com/prohmpiriya/contacts-api/internal/mailer"
	"github.com/prohmpiriya/contacts-api/internal/repository"
)

// mockUserRepository is an in-memory UserRepository keyed by email
type mockUserRepository struct {
	mu          sync.Mutex
	users       map[string]*domain.User
	createError error
	getError    error
}

func newMockUserRepository() *mockUserRepository {
	return &mockUserRepository{users: make(map[string]*domain.User)}
}

func (r *mockUserRepository) Create(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createError != nil {
		return r.createError
	}
	if _, ok := r.users[user.Email]; ok {
		return repository.ErrDuplicateEmail
	}
	u := *user
	r.users[user.Email] = &u
	return nil
}

func (r *mockUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ID == id {
			c := *u
			return &c, nil
		}
	}
	return nil, nil
}

func (r *mockUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getError != nil {
		return nil, r.getError
	}
	u, ok := r.users[email]
	if !ok {
		return nil, nil
	}
	c := *u
	return &c, nil
}

func (r *mockUserRepository) GetByEmailAndRefreshToken(ctx context.Context, email, token string) (*domain.User, error) {
	u, err := r.GetByEmail(ctx, email)
	if err != nil || u == nil {
		return nil, err
	}
	if u.RefreshToken == nil || *u.RefreshToken != token {
		return nil, nil
	}
	return u, nil
}

func (r *mockUserRepository) update(email string, fn func(u *domain.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[email]
	if !ok {
		return repository.ErrNotFound
	}
	fn(u)
	u.UpdatedAt = time.Now()
	return nil
}

func (r *mockUserRepository) UpdateRefreshToken(ctx context.Context, id string, token *string) error {
	u, err := r.GetByID(ctx, id)
	if err != nil || u == nil {
		return repository.ErrNotFound
	}
	return r.update(u.Email, func(u *domain.User) { u.RefreshToken = token })
}

func (r *mockUserRepository) MarkConfirmed(ctx context.Context, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[email]
	if !ok {
		return repository.ErrNotFound
	}
	if u.Confirmed {
		return repository.ErrAlreadyConfirmed
	}
	u.Confirmed = true
	u.UpdatedAt = time.Now()
	return nil
}

func (r *mockUserRepository) UpdatePassword(ctx context.Context, email, passwordHash string) error {
	return r.update(email, func(u *domain.User) { u.PasswordHash = passwordHash })
}

func (r *mockUserRepository) UpdateAvatar(ctx context.Context, email, url string) (*domain.User, error) {
	if err := r.update(email, func(u *domain.User) { u.Avatar = &url }); err != nil {
		return nil, err
	}
	return r.GetByEmail(ctx, email)
}

func (r *mockUserRepository) get(email string) *domain.User {
	u, _ := r.GetByEmail(context.Background(), email)
	return u
}

// mockSessionCache is an in-memory SessionCache that records TTLs
type mockSessionCache struct {
	mu     sync.Mutex
	users  map[string]*domain.CachedUser
	ttls   map[string]time.Duration
	resets map[string]string
	err    error
	popErr error
	gets   int
}

func newMockSessionCache() *mockSessionCache {
	return &mockSessionCache{
		users:  make(map[string]*domain.CachedUser),
		ttls:   make(map[string]time.Duration),
		resets: make(map[string]string),
	}
}

func (c *mockSessionCache) PutUser(ctx context.Context, accessToken string, user *domain.CachedUser, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.users[accessToken] = user
	c.ttls[accessToken] = ttl
	return nil
}

func (c *mockSessionCache) GetUser(ctx context.Context, accessToken string) (*domain.CachedUser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.err != nil {
		return nil, c.err
	}
	return c.users[accessToken], nil
}

func (c *mockSessionCache) PutResetBinding(ctx context.Context, resetToken, email string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.resets[resetToken] = email
	return nil
}

func (c *mockSessionCache) PopResetBinding(ctx context.Context, resetToken string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.popErr != nil {
		return "", c.popErr
	}
	email := c.resets[resetToken]
	delete(c.resets, resetToken)
	return email, nil
}

// mockDispatcher records dispatched messages
type mockDispatcher struct {
	mu       sync.Mutex
	messages []*mailer.Message
	err      error
}

func (d *mockDispatcher) Dispatch(ctx context.Context, msg *mailer.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.messages = append(d.messages, msg)
	return nil
}

func (d *mockDispatcher) last() *mailer.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.messages) == 0 {
		return nil
	}
	return d.messages[len(d.messages)-1]
}

func (d *mockDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.messages)
}
