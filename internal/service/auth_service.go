package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prohmpiriya/contacts-api/internal/domain"
	"github.com/prohmpiriya/contacts-api/internal/dto"
	"github.com/prohmpiriya/contacts-api/internal/hasher"
	"github.com/prohmpiriya/contacts-api/internal/mailer"
	"github.com/prohmpiriya/contacts-api/internal/metrics"
	"github.com/prohmpiriya/contacts-api/internal/repository"
	"github.com/prohmpiriya/contacts-api/internal/token"
	"github.com/prohmpiriya/contacts-api/pkg/logger"
	"github.com/prohmpiriya/contacts-api/pkg/telemetry"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailNotConfirmed  = errors.New("email not confirmed")
	ErrInvalidToken       = errors.New("invalid token")
	ErrUserNotFound       = errors.New("user not found")
	ErrAlreadyConfirmed   = errors.New("user already confirmed")
	ErrInvalidResetToken  = errors.New("invalid or expired reset token")
)

// PasswordResetMessage is returned whether or not the email is registered
const PasswordResetMessage = "If the account exists, an email has been sent"

// AuthService defines the interface for authentication operations
type AuthService interface {
	// Signup registers an unconfirmed user and schedules the confirmation email
	Signup(ctx context.Context, req *dto.SignupRequest, host string) (*domain.User, error)
	// Login verifies credentials and issues an access/refresh token pair
	Login(ctx context.Context, req *dto.LoginRequest) (*domain.TokenPair, error)
	// RefreshToken issues a new access token for the user's current refresh token
	RefreshToken(ctx context.Context, refreshToken string) (*domain.TokenPair, error)
	// ConfirmEmail marks the token subject as confirmed
	ConfirmEmail(ctx context.Context, confirmToken string) error
	// RequestPasswordReset binds a reset token to the email and schedules the reset email
	RequestPasswordReset(ctx context.Context, email, host string) error
	// ConfirmPasswordReset consumes a reset token and stores the new password
	ConfirmPasswordReset(ctx context.Context, req *dto.PasswordResetConfirm) error
	// CurrentUser resolves an access token to a user snapshot
	CurrentUser(ctx context.Context, accessToken string) (*domain.CachedUser, error)
}

// authService implements AuthService
type authService struct {
	userRepo   repository.UserRepository
	cache      repository.SessionCache
	hasher     hasher.Hasher
	tokens     *token.Manager
	dispatcher mailer.Dispatcher
	log        *logger.Logger
}

// NewAuthService creates a new AuthService
func NewAuthService(
	userRepo repository.UserRepository,
	cache repository.SessionCache,
	hasher hasher.Hasher,
	tokens *token.Manager,
	dispatcher mailer.Dispatcher,
	log *logger.Logger,
) AuthService {
	if log == nil {
		log = logger.Get()
	}
	return &authService{
		userRepo:   userRepo,
		cache:      cache,
		hasher:     hasher,
		tokens:     tokens,
		dispatcher: dispatcher,
		log:        log.With(zap.String("component", "auth_service")),
	}
}

// Signup registers an unconfirmed user and schedules the confirmation email
func (s *authService) Signup(ctx context.Context, req *dto.SignupRequest, host string) (user *domain.User, err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.auth.signup")
	defer func() { endSpan(span, err); metrics.RecordAuthOperation("signup", err) }()

	req.Normalize()

	existing, err := s.userRepo.GetByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUserAlreadyExists
	}

	passwordHash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	user = &domain.User{
		ID:           uuid.New().String(),
		Email:        req.Email,
		Username:     req.Username,
		PasswordHash: passwordHash,
		Confirmed:    false,
		Role:         domain.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		// A concurrent signup won the race for the unique email
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, ErrUserAlreadyExists
		}
		return nil, err
	}

	confirmToken, err := s.tokens.IssueKind(user.Email, token.KindEmailConfirm)
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to issue confirmation token", zap.String("user_id", user.ID), zap.Error(err))
		return user, nil
	}
	s.dispatch(ctx, mailer.NewMessage(mailer.KindConfirmEmail, user.Email, user.Username, host, confirmToken))

	return user, nil
}

// Login verifies credentials and issues an access/refresh token pair
func (s *authService) Login(ctx context.Context, req *dto.LoginRequest) (pair *domain.TokenPair, err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.auth.login")
	defer func() { endSpan(span, err); metrics.RecordAuthOperation("login", err) }()

	user, err := s.userRepo.GetByEmail(ctx, dto.NormalizeEmail(req.Username))
	if err != nil {
		return nil, err
	}
	// Unknown email and wrong password are indistinguishable to the caller
	if user == nil || !s.hasher.Verify(req.Password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	if !user.Confirmed {
		return nil, ErrEmailNotConfirmed
	}

	accessToken, err := s.tokens.IssueKind(user.Email, token.KindAccess)
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.tokens.IssueKind(user.Email, token.KindRefresh)
	if err != nil {
		return nil, err
	}

	// Overwrites any previous refresh token: one active refresh token per user
	if err := s.userRepo.UpdateRefreshToken(ctx, user.ID, &refreshToken); err != nil {
		return nil, err
	}

	s.cacheUser(ctx, accessToken, user.Snapshot(), s.tokens.TTL(token.KindAccess))

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    domain.TokenTypeBearer,
	}, nil
}

// RefreshToken issues a new access token; the refresh token is returned unchanged
func (s *authService) RefreshToken(ctx context.Context, refreshToken string) (pair *domain.TokenPair, err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.auth.refresh_token")
	defer func() { endSpan(span, err); metrics.RecordAuthOperation("refresh_token", err) }()

	email, err := s.tokens.Subject(refreshToken, token.KindRefresh)
	if err != nil {
		return nil, ErrInvalidToken
	}

	// A superseded refresh token no longer matches the stored one
	user, err := s.userRepo.GetByEmailAndRefreshToken(ctx, email, refreshToken)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidToken
	}

	accessToken, err := s.tokens.IssueKind(user.Email, token.KindAccess)
	if err != nil {
		return nil, err
	}
	s.cacheUser(ctx, accessToken, user.Snapshot(), s.tokens.TTL(token.KindAccess))

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    domain.TokenTypeBearer,
	}, nil
}

// ConfirmEmail marks the token subject as confirmed
func (s *authService) ConfirmEmail(ctx context.Context, confirmToken string) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.auth.confirm_email")
	defer func() { endSpan(span, err); metrics.RecordAuthOperation("confirm_email", err) }()

	email, err := s.tokens.Subject(confirmToken, token.KindEmailConfirm)
	if err != nil {
		return ErrInvalidToken
	}

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}
	if user.Confirmed {
		return ErrAlreadyConfirmed
	}

	// A concurrent confirmation may have passed the check above too; the store decides
	if err := s.userRepo.MarkConfirmed(ctx, user.Email); err != nil {
		switch {
		case errors.Is(err, repository.ErrAlreadyConfirmed):
			return ErrAlreadyConfirmed
		case errors.Is(err, repository.ErrNotFound):
			return ErrUserNotFound
		}
		return err
	}
	return nil
}

// RequestPasswordReset binds a reset token to the email and schedules the reset email.
// The result is the same whether or not the email is registered.
func (s *authService) RequestPasswordReset(ctx context.Context, email, host string) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.auth.request_password_reset")
	defer func() { endSpan(span, err); metrics.RecordAuthOperation("request_password_reset", err) }()

	user, err := s.userRepo.GetByEmail(ctx, dto.NormalizeEmail(email))
	if err != nil {
		return err
	}
	if user == nil {
		return nil
	}

	resetToken, err := s.tokens.IssueKind(user.Email, token.KindReset)
	if err != nil {
		return err
	}
	// Without a stored binding the emailed token could never be redeemed
	if err := s.cache.PutResetBinding(ctx, resetToken, user.Email, s.tokens.TTL(token.KindReset)); err != nil {
		s.log.ErrorContext(ctx, "Failed to store reset binding", zap.String("user_id", user.ID), zap.Error(err))
		return nil
	}

	s.dispatch(ctx, mailer.NewMessage(mailer.KindResetPassword, user.Email, user.Username, host, resetToken))
	return nil
}

// ConfirmPasswordReset consumes a reset token and stores the new password
func (s *authService) ConfirmPasswordReset(ctx context.Context, req *dto.PasswordResetConfirm) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.auth.confirm_password_reset")
	defer func() { endSpan(span, err); metrics.RecordAuthOperation("confirm_password_reset", err) }()

	subject, err := s.tokens.Subject(req.Token, token.KindReset)
	if err != nil {
		return ErrInvalidResetToken
	}

	// The binding is the only proof the token is unused; an error here fails the request
	email, err := s.cache.PopResetBinding(ctx, req.Token)
	if err != nil {
		return err
	}
	if email == "" || email != subject {
		return ErrInvalidResetToken
	}

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}

	passwordHash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return err
	}
	if err := s.userRepo.UpdatePassword(ctx, user.Email, passwordHash); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	return nil
}

// CurrentUser resolves an access token: session cache first, credential store on miss.
// Misses are never cached.
func (s *authService) CurrentUser(ctx context.Context, accessToken string) (cached *domain.CachedUser, err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.auth.current_user")
	defer func() { endSpan(span, err) }()

	claims, err := s.tokens.Validate(accessToken, token.KindAccess)
	if err != nil {
		return nil, ErrInvalidToken
	}

	cached, cacheErr := s.cache.GetUser(ctx, accessToken)
	switch {
	case cacheErr != nil:
		metrics.RecordCacheLookup(metrics.ResultError)
		s.log.WarnContext(ctx, "Session cache read failed", zap.Error(cacheErr))
	case cached != nil:
		metrics.RecordCacheLookup(metrics.ResultHit)
		return cached, nil
	default:
		metrics.RecordCacheLookup(metrics.ResultMiss)
	}

	user, err := s.userRepo.GetByEmail(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidToken
	}

	cached = user.Snapshot()
	if ttl := time.Until(claims.ExpiresAt.Time); ttl > 0 {
		s.cacheUser(ctx, accessToken, cached, min(ttl, s.tokens.TTL(token.KindAccess)))
	}
	return cached, nil
}

// cacheUser writes a snapshot; cache failures only cost the fast path
func (s *authService) cacheUser(ctx context.Context, accessToken string, user *domain.CachedUser, ttl time.Duration) {
	if err := s.cache.PutUser(ctx, accessToken, user, ttl); err != nil {
		s.log.WarnContext(ctx, "Failed to cache user", zap.String("user_id", user.ID), zap.Error(err))
	}
}

// dispatch hands an email off; failures are logged and never reach the caller
func (s *authService) dispatch(ctx context.Context, msg *mailer.Message) {
	err := s.dispatcher.Dispatch(ctx, msg)
	metrics.RecordMailDispatch(string(msg.Kind), err)
	if err != nil {
		s.log.WarnContext(ctx, "Failed to dispatch email",
			zap.String("message_id", msg.ID),
			zap.String("kind", string(msg.Kind)),
			zap.Error(err),
		)
	}
}

// endSpan records the outcome of a service operation on its span
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
