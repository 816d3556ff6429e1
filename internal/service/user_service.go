package service

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/prohmpiriya/contacts-api/internal/domain"
	"github.com/prohmpiriya/contacts-api/internal/repository"
	"github.com/prohmpiriya/contacts-api/internal/storage"
	"github.com/prohmpiriya/contacts-api/internal/token"
	"github.com/prohmpiriya/contacts-api/pkg/logger"
	"github.com/prohmpiriya/contacts-api/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var ErrForbidden = errors.New("forbidden")

// AvatarUpload is an uploaded image
type AvatarUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// UserService defines the interface for profile operations
type UserService interface {
	// UpdateAvatar stores a new avatar for the current user (admins only)
	UpdateAvatar(ctx context.Context, current *domain.CachedUser, accessToken string, upload *AvatarUpload) (*domain.User, error)
}

// userService implements UserService
type userService struct {
	userRepo repository.UserRepository
	cache    repository.SessionCache
	storage  storage.AvatarStorage
	tokens   *token.Manager
	log      *logger.Logger
}

// NewUserService creates a new UserService
func NewUserService(
	userRepo repository.UserRepository,
	cache repository.SessionCache,
	avatars storage.AvatarStorage,
	tokens *token.Manager,
	log *logger.Logger,
) UserService {
	if log == nil {
		log = logger.Get()
	}
	return &userService{
		userRepo: userRepo,
		cache:    cache,
		storage:  avatars,
		tokens:   tokens,
		log:      log.With(zap.String("component", "user_service")),
	}
}

// UpdateAvatar stores a new avatar and refreshes the session snapshot of the presented token
func (s *userService) UpdateAvatar(ctx context.Context, current *domain.CachedUser, accessToken string, upload *AvatarUpload) (user *domain.User, err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.user.update_avatar")
	defer func() { endSpan(span, err) }()

	span.SetAttributes(attribute.String("user_id", current.ID))

	if !current.IsAdmin() {
		return nil, ErrForbidden
	}

	// The snapshot can be up to one access-token lifetime old; authorize against the store
	owner, err := s.userRepo.GetByID(ctx, current.ID)
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return nil, ErrUserNotFound
	}
	if owner.Role != domain.RoleAdmin {
		return nil, ErrForbidden
	}

	avatarURL, err := s.storage.Upload(ctx, owner.Username, upload.Filename, upload.Body, upload.Size, upload.ContentType)
	if err != nil {
		return nil, err
	}

	user, err = s.userRepo.UpdateAvatar(ctx, owner.Email, avatarURL)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	// Without this the cached snapshot would serve the old avatar until it expires
	if claims, err := s.tokens.Validate(accessToken, token.KindAccess); err == nil {
		if ttl := time.Until(claims.ExpiresAt.Time); ttl > 0 {
			if err := s.cache.PutUser(ctx, accessToken, user.Snapshot(), ttl); err != nil {
				s.log.WarnContext(ctx, "Failed to refresh cached user", zap.String("user_id", user.ID), zap.Error(err))
			}
		}
	}

	return user, nil
}
