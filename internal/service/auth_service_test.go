package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prohmpiriya/contacts-api/internal/domain"
	"github.com/prohmpiriya/contacts-api/internal/dto"
	"github.com/prohmpiriya/contacts-api/internal/hasher"
	"github.com/prohmpiriya/contacts-api/internal/mailer"
	"github.com/prohmpiriya/contacts-api/internal/repository"
	"github.com/prohmpiriya/contacts-api/internal/token"
	"github.com/prohmpiriya/contacts-api/pkg/logger"
	pkgredis "github.com/prohmpiriya/contacts-api/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-secret"

type authFixture struct {
	svc    AuthService
	users  *mockUserRepository
	cache  *mockSessionCache
	mail   *mockDispatcher
	tokens *token.Manager
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	tokens, err := token.NewManager(&token.Config{Secret: testSecret})
	require.NoError(t, err)

	f := &authFixture{
		users:  newMockUserRepository(),
		cache:  newMockSessionCache(),
		mail:   &mockDispatcher{},
		tokens: tokens,
	}
	f.svc = NewAuthService(f.users, f.cache, hasher.NewBcryptHasher(bcrypt.MinCost), tokens, f.mail, logger.NewNop())
	return f
}

// signupConfirmed registers a user and follows the emailed confirmation link
func (f *authFixture) signupConfirmed(t *testing.T, email, username, password string) {
	t.Helper()
	_, err := f.svc.Signup(context.Background(), &dto.SignupRequest{Email: email, Username: username, Password: password}, "http://localhost:8000")
	require.NoError(t, err)
	require.NoError(t, f.svc.ConfirmEmail(context.Background(), f.mail.last().Token))
}

func (f *authFixture) login(t *testing.T, email, password string) *domain.TokenPair {
	t.Helper()
	pair, err := f.svc.Login(context.Background(), &dto.LoginRequest{Username: email, Password: password})
	require.NoError(t, err)
	return pair
}

func signToken(t *testing.T, subject string, kind token.Kind, issued, expires time.Time) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &token.Claims{
		TokenType: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestAuthService_Signup(t *testing.T) {
	f := newAuthFixture(t)

	user, err := f.svc.Signup(context.Background(), &dto.SignupRequest{
		Email:    " A@X.com",
		Username: "alice",
		Password: "pw12345678",
	}, "http://localhost:8000")
	require.NoError(t, err)

	assert.Equal(t, "a@x.com", user.Email)
	assert.False(t, user.Confirmed)
	assert.Equal(t, domain.RoleUser, user.Role)
	assert.NotEqual(t, "pw12345678", user.PasswordHash)
	assert.NotEmpty(t, user.ID)

	msg := f.mail.last()
	require.NotNil(t, msg)
	assert.Equal(t, mailer.KindConfirmEmail, msg.Kind)
	assert.Equal(t, "a@x.com", msg.To)
	assert.Equal(t, "http://localhost:8000", msg.Host)

	claims, err := f.tokens.Validate(msg.Token, token.KindEmailConfirm)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", claims.Subject)
}

func TestAuthService_Signup_Duplicate(t *testing.T) {
	f := newAuthFixture(t)
	req := func() *dto.SignupRequest {
		return &dto.SignupRequest{Email: "a@x.com", Username: "alice", Password: "pw12345678"}
	}

	_, err := f.svc.Signup(context.Background(), req(), "h")
	require.NoError(t, err)

	_, err = f.svc.Signup(context.Background(), req(), "h")
	assert.ErrorIs(t, err, ErrUserAlreadyExists)
	assert.Len(t, f.users.users, 1)
}

func TestAuthService_Signup_ConcurrentInsertIsConflict(t *testing.T) {
	f := newAuthFixture(t)
	// The pre-check sees no user but the insert hits the unique index
	f.users.createError = repository.ErrDuplicateEmail

	_, err := f.svc.Signup(context.Background(), &dto.SignupRequest{Email: "a@x.com", Username: "alice", Password: "pw12345678"}, "h")
	assert.ErrorIs(t, err, ErrUserAlreadyExists)
	assert.Zero(t, f.mail.count())
}

func TestAuthService_Signup_MailFailureDoesNotFail(t *testing.T) {
	f := newAuthFixture(t)
	f.mail.err = mailer.ErrQueueFull

	user, err := f.svc.Signup(context.Background(), &dto.SignupRequest{Email: "a@x.com", Username: "alice", Password: "pw12345678"}, "h")
	require.NoError(t, err)
	assert.NotNil(t, user)
}

func TestAuthService_Login(t *testing.T) {
	f := newAuthFixture(t)
	f.signupConfirmed(t, "a@x.com", "alice", "pw12345678")

	pair := f.login(t, "A@x.com", "pw12345678")
	assert.Equal(t, "bearer", pair.TokenType)

	sub, err := f.tokens.Subject(pair.AccessToken, token.KindAccess)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", sub)

	stored := f.users.get("a@x.com")
	require.NotNil(t, stored.RefreshToken)
	assert.Equal(t, pair.RefreshToken, *stored.RefreshToken)

	cached := f.cache.users[pair.AccessToken]
	require.NotNil(t, cached)
	assert.Equal(t, "alice", cached.Username)
	assert.Equal(t, 15*time.Minute, f.cache.ttls[pair.AccessToken])
}

func TestAuthService_Login_Failures(t *testing.T) {
	f := newAuthFixture(t)
	f.signupConfirmed(t, "a@x.com", "alice", "pw12345678")
	_, err := f.svc.Signup(context.Background(), &dto.SignupRequest{Email: "b@x.com", Username: "bob", Password: "pw12345678"}, "h")
	require.NoError(t, err)

	tests := []struct {
		name     string
		email    string
		password string
		want     error
	}{
		{"unknown email", "ghost@x.com", "pw12345678", ErrInvalidCredentials},
		{"wrong password", "a@x.com", "wrong-password", ErrInvalidCredentials},
		{"unconfirmed with correct password", "b@x.com", "pw12345678", ErrEmailNotConfirmed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Login(context.Background(), &dto.LoginRequest{Username: tt.email, Password: tt.password})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAuthService_Login_CacheDownStillSucceeds(t *testing.T) {
	f := newAuthFixture(t)
	f.signupConfirmed(t, "a@x.com", "alice", "pw12345678")
	f.cache.err = errors.New("redis: connection refused")

	pair := f.login(t, "a@x.com", "pw12345678")
	assert.NotEmpty(t, pair.AccessToken)
}

func TestAuthService_RefreshToken(t *testing.T) {
	f := newAuthFixture(t)
	f.signupConfirmed(t, "a@x.com", "alice", "pw12345678")
	pair := f.login(t, "a@x.com", "pw12345678")

	refreshed, err := f.svc.RefreshToken(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, pair.RefreshToken, refreshed.RefreshToken, "refresh token is not rotated")
	assert.NotEqual(t, pair.AccessToken, refreshed.AccessToken)
	assert.NotNil(t, f.cache.users[refreshed.AccessToken])

	_, err = f.svc.RefreshToken(context.Background(), pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken, "access token is not a refresh token")

	_, err = f.svc.RefreshToken(context.Background(), "garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthService_RefreshToken_SupersededByLogin(t *testing.T) {
	f := newAuthFixture(t)
	f.signupConfirmed(t, "a@x.com", "alice", "pw12345678")

	old := f.login(t, "a@x.com", "pw12345678")
	latest := f.login(t, "a@x.com", "pw12345678")

	_, err := f.svc.RefreshToken(context.Background(), old.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = f.svc.RefreshToken(context.Background(), latest.RefreshToken)
	assert.NoError(t, err)
}

func TestAuthService_ConfirmEmail(t *testing.T) {
	f := newAuthFixture(t)
	_, err := f.svc.Signup(context.Background(), &dto.SignupRequest{Email: "a@x.com", Username: "alice", Password: "pw12345678"}, "h")
	require.NoError(t, err)
	confirmToken := f.mail.last().Token

	require.NoError(t, f.svc.ConfirmEmail(context.Background(), confirmToken))
	assert.True(t, f.users.get("a@x.com").Confirmed)

	assert.ErrorIs(t, f.svc.ConfirmEmail(context.Background(), confirmToken), ErrAlreadyConfirmed)
}

func TestAuthService_ConfirmEmail_Failures(t *testing.T) {
	f := newAuthFixture(t)
	f.signupConfirmed(t, "a@x.com", "alice", "pw12345678")
	pair := f.login(t, "a@x.com", "pw12345678")

	ghost, err := f.tokens.IssueKind("ghost@x.com", token.KindEmailConfirm)
	require.NoError(t, err)
	assert.ErrorIs(t, f.svc.ConfirmEmail(context.Background(), ghost), ErrUserNotFound)

	assert.ErrorIs(t, f.svc.ConfirmEmail(context.Background(), pair.AccessToken), ErrInvalidToken,
		"access tokens cannot be replayed as confirmation tokens")
	assert.ErrorIs(t, f.svc.ConfirmEmail(context.Background(), "garbage"), ErrInvalidToken)
}

// lockstepUserRepository holds every GetByEmail caller until all of them have read the user
type lockstepUserRepository struct {
	*mockUserRepository
	readers sync.WaitGroup
}

func (r *lockstepUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	user, err := r.mockUserRepository.GetByEmail(ctx, email)
	r.readers.Done()
	r.readers.Wait()
	return user, err
}

func TestAuthService_ConcurrentConfirmEmail(t *testing.T) {
	f := newAuthFixture(t)
	_, err := f.svc.Signup(context.Background(), &dto.SignupRequest{Email: "a@x.com", Username: "alice", Password: "pw12345678"}, "h")
	require.NoError(t, err)
	confirmToken := f.mail.last().Token

	const callers = 2
	users := &lockstepUserRepository{mockUserRepository: f.users}
	users.readers.Add(callers)
	svc := NewAuthService(users, f.cache, hasher.NewBcryptHasher(bcrypt.MinCost), f.tokens, f.mail, logger.NewNop())

	results := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = svc.ConfirmEmail(context.Background(), confirmToken)
		}(i)
	}
	wg.Wait()

	var succeeded, already int
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrAlreadyConfirmed):
			already++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one confirmation wins")
	assert.Equal(t, 1, already)
	assert.True(t, f.users.get("a@x.com").Confirmed)
}

func TestAuthService_RequestPasswordReset(t *testing.T) {
	f := newAuthFixture(t)
	f.signupConfirmed(t, "a@x.com", "alice", "pw12345678")
	sent := f.mail.count()

	require.NoError(t, f.svc.RequestPasswordReset(context.Background(), "ghost@x.com", "h"))
	assert.Empty(t, f.cache.resets, "no binding for unregistered email")
	assert.Equal(t, sent, f.mail.count())

	require.NoError(t, f.svc.RequestPasswordReset(context.Background(), "a@x.com", "h"))
	msg := f.mail.last()
	require.NotNil(t, msg)
	assert.Equal(t, mailer.KindResetPassword, msg.Kind)
	assert.Equal(t, "a@x.com", f.cache.resets[msg.Token])
}

func TestAuthService_RequestPasswordReset_CacheDownIsSilent(t *testing.T) {
	f := newAuthFixture(t)
	f.signupConfirmed(t, "a@x.com", "alice", "pw12345678")
	sent := f.mail.count()
	f.cache.err = errors.New("redis down")

	assert.NoError(t, f.svc.RequestPasswordReset(context.Background(), "a@x.com", "h"))
	assert.Equal(t, sent, f.mail.count(), "an unredeemable token is not emailed")
}

func TestAuthService_ConfirmPasswordReset(t *testing.T) {
	f := newAuthFixture(t)
	f.signupConfirmed(t, "a@x.com", "alice", "pw12345678")
	require.NoError(t, f.svc.RequestPasswordReset(context.Background(), "a@x.com", "h"))
	resetToken := f.mail.last().Token

	req := &dto.PasswordResetConfirm{Token: resetToken, NewPassword: "new-password-1"}
	require.NoError(t, f.svc.ConfirmPasswordReset(context.Background(), req))
	assert.ErrorIs(t, f.svc.ConfirmPasswordReset(context.Background(), req), ErrInvalidResetToken, "token is single use")

	f.login(t, "a@x.com", "new-password-1")
	_, err := f.svc.Login(context.Background(), &dto.LoginRequest{Username: "a@x.com", Password: "pw12345678"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthService_ConfirmPasswordReset_Rejects(t *testing.T) {
	f := newAuthFixture(t)
	f.signupConfirmed(t, "a@x.com", "alice", "pw12345678")
	f.signupConfirmed(t, "b@x.com", "bob", "pw12345678")
	pair := f.login(t, "a@x.com", "pw12345678")

	neverRequested, err := f.tokens.IssueKind("a@x.com", token.KindReset)
	require.NoError(t, err)

	// Binding for a token whose subject is someone else
	mismatched, err := f.tokens.IssueKind("a@x.com", token.KindReset)
	require.NoError(t, err)
	f.cache.resets[mismatched] = "b@x.com"

	for name, tok := range map[string]string{
		"garbage":          "garbage",
		"access token":     pair.AccessToken,
		"never requested":  neverRequested,
		"subject mismatch": mismatched,
	} {
		t.Run(name, func(t *testing.T) {
			err := f.svc.ConfirmPasswordReset(context.Background(), &dto.PasswordResetConfirm{Token: tok, NewPassword: "new-password-1"})
			assert.ErrorIs(t, err, ErrInvalidResetToken)
		})
	}

	f.login(t, "b@x.com", "pw12345678")
}

func TestAuthService_ConfirmPasswordReset_PopErrorFails(t *testing.T) {
	f := newAuthFixture(t)
	f.signupConfirmed(t, "a@x.com", "alice", "pw12345678")
	require.NoError(t, f.svc.RequestPasswordReset(context.Background(), "a@x.com", "h"))
	f.cache.popErr = errors.New("redis down")

	err := f.svc.ConfirmPasswordReset(context.Background(), &dto.PasswordResetConfirm{Token: f.mail.last().Token, NewPassword: "new-password-1"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidResetToken)
}

func TestAuthService_ConfirmPasswordReset_UserGone(t *testing.T) {
	f := newAuthFixture(t)
	f.signupConfirmed(t, "a@x.com", "alice", "pw12345678")
	require.NoError(t, f.svc.RequestPasswordReset(context.Background(), "a@x.com", "h"))
	delete(f.users.users, "a@x.com")

	err := f.svc.ConfirmPasswordReset(context.Background(), &dto.PasswordResetConfirm{Token: f.mail.last().Token, NewPassword: "new-password-1"})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestAuthService_CurrentUser(t *testing.T) {
	f := newAuthFixture(t)
	f.signupConfirmed(t, "a@x.com", "alice", "pw12345678")
	pair := f.login(t, "a@x.com", "pw12345678")

	// Fast path: the snapshot written at login
	f.users.getError = errors.New("store must not be queried")
	user, err := f.svc.CurrentUser(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	f.users.getError = nil

	// Miss: read through and repopulate
	delete(f.cache.users, pair.AccessToken)
	user, err = f.svc.CurrentUser(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", user.Email)
	require.Contains(t, f.cache.users, pair.AccessToken)
	ttl := f.cache.ttls[pair.AccessToken]
	assert.True(t, ttl > 0 && ttl <= 15*time.Minute, "snapshot must not outlive the token, got %s", ttl)
}

func TestAuthService_CurrentUser_Rejects(t *testing.T) {
	f := newAuthFixture(t)
	f.signupConfirmed(t, "a@x.com", "alice", "pw12345678")
	pair := f.login(t, "a@x.com", "pw12345678")
	now := time.Now()

	expired := signToken(t, "a@x.com", token.KindAccess, now.Add(-time.Hour), now.Add(-time.Second))
	ghost, err := f.tokens.IssueKind("ghost@x.com", token.KindAccess)
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"expired":       expired,
		"refresh token": pair.RefreshToken,
		"unknown user":  ghost,
		"garbage":       "garbage",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.CurrentUser(context.Background(), tok)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
	assert.NotContains(t, f.cache.users, ghost, "misses are not cached")
}

func TestAuthService_CurrentUser_CacheDownFallsBack(t *testing.T) {
	f := newAuthFixture(t)
	f.signupConfirmed(t, "a@x.com", "alice", "pw12345678")
	pair := f.login(t, "a@x.com", "pw12345678")
	f.cache.err = errors.New("redis down")

	user, err := f.svc.CurrentUser(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
}

func TestAuthService_SignupToMeScenario(t *testing.T) {
	f := newAuthFixture(t)
	f.signupConfirmed(t, "a@x.com", "alice", "pw12345678")

	pair := f.login(t, "a@x.com", "pw12345678")
	user, err := f.svc.CurrentUser(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, "a@x.com", user.Email)
}

func TestAuthService_ConcurrentPasswordResetConfirm(t *testing.T) {
	mr := miniredis.RunT(t)
	client := pkgredis.NewFromClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { client.Close() })

	tokens, err := token.NewManager(&token.Config{Secret: testSecret})
	require.NoError(t, err)
	users := newMockUserRepository()
	mail := &mockDispatcher{}
	svc := NewAuthService(users, repository.NewRedisSessionCache(client), hasher.NewBcryptHasher(bcrypt.MinCost), tokens, mail, logger.NewNop())

	_, err = svc.Signup(context.Background(), &dto.SignupRequest{Email: "a@x.com", Username: "alice", Password: "pw12345678"}, "h")
	require.NoError(t, err)
	require.NoError(t, svc.RequestPasswordReset(context.Background(), "a@x.com", "h"))
	resetToken := mail.last().Token

	const callers = 10
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		rejected  atomic.Int32
		start     = make(chan struct{})
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := svc.ConfirmPasswordReset(context.Background(), &dto.PasswordResetConfirm{Token: resetToken, NewPassword: "new-password-1"})
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, ErrInvalidResetToken):
				rejected.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(callers-1), rejected.Load())
}
