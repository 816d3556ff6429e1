package di

import (
	"github.com/prohmpiriya/contacts-api/internal/handler"
	"github.com/prohmpiriya/contacts-api/internal/hasher"
	"github.com/prohmpiriya/contacts-api/internal/mailer"
	"github.com/prohmpiriya/contacts-api/internal/repository"
	"github.com/prohmpiriya/contacts-api/internal/service"
	"github.com/prohmpiriya/contacts-api/internal/storage"
	"github.com/prohmpiriya/contacts-api/internal/token"
	"github.com/prohmpiriya/contacts-api/pkg/logger"
)

// Container holds all dependencies for the contacts API
type Container struct {
	// Repositories
	UserRepo     repository.UserRepository
	ContactRepo  repository.ContactRepository
	SessionCache repository.SessionCache

	// Services
	AuthService    service.AuthService
	UserService    service.UserService
	ContactService service.ContactService

	// Handlers
	HealthHandler  *handler.HealthHandler
	AuthHandler    *handler.AuthHandler
	UserHandler    *handler.UserHandler
	ContactHandler *handler.ContactHandler
}

// ContainerConfig contains configuration for building the container
type ContainerConfig struct {
	UserRepo     repository.UserRepository
	ContactRepo  repository.ContactRepository
	SessionCache repository.SessionCache
	Hasher       hasher.Hasher
	Tokens       *token.Manager
	Dispatcher   mailer.Dispatcher
	Avatars      storage.AvatarStorage
	Logger       *logger.Logger

	// ServiceName is reported by /health and /ready
	ServiceName string
	// MailBaseURL is the origin used in email links
	MailBaseURL string
	// ReadinessChecks are pinged by /ready
	ReadinessChecks map[string]handler.Pinger
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *ContainerConfig) *Container {
	c := &Container{
		UserRepo:     cfg.UserRepo,
		ContactRepo:  cfg.ContactRepo,
		SessionCache: cfg.SessionCache,
	}

	// Initialize services
	c.AuthService = service.NewAuthService(
		c.UserRepo,
		c.SessionCache,
		cfg.Hasher,
		cfg.Tokens,
		cfg.Dispatcher,
		cfg.Logger,
	)
	c.UserService = service.NewUserService(
		c.UserRepo,
		c.SessionCache,
		cfg.Avatars,
		cfg.Tokens,
		cfg.Logger,
	)
	c.ContactService = service.NewContactService(c.ContactRepo)

	// Initialize handlers
	c.HealthHandler = handler.NewHealthHandler(cfg.ServiceName, cfg.ReadinessChecks)
	c.AuthHandler = handler.NewAuthHandler(c.AuthService, cfg.MailBaseURL)
	c.UserHandler = handler.NewUserHandler(c.UserService)
	c.ContactHandler = handler.NewContactHandler(c.ContactService)

	return c
}
