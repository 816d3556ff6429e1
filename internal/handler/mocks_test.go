package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/contacts-api/internal/domain"
	"github.com/prohmpiriya/contacts-api/internal/dto"
	"github.com/prohmpiriya/contacts-api/internal/service"
)

// MockAuthService is a mock implementation of AuthService for testing
type MockAuthService struct {
	SignupFunc               func(ctx context.Context, req *dto.SignupRequest, host string) (*domain.User, error)
	LoginFunc                func(ctx context.Context, req *dto.LoginRequest) (*domain.TokenPair, error)
	RefreshTokenFunc         func(ctx context.Context, refreshToken string) (*domain.TokenPair, error)
	ConfirmEmailFunc         func(ctx context.Context, confirmToken string) error
	RequestPasswordResetFunc func(ctx context.Context, email, host string) error
	ConfirmPasswordResetFunc func(ctx context.Context, req *dto.PasswordResetConfirm) error
	CurrentUserFunc          func(ctx context.Context, accessToken string) (*domain.CachedUser, error)
}

func (m *MockAuthService) Signup(ctx context.Context, req *dto.SignupRequest, host string) (*domain.User, error) {
	if m.SignupFunc != nil {
		return m.SignupFunc(ctx, req, host)
	}
	return nil, nil
}

func (m *MockAuthService) Login(ctx context.Context, req *dto.LoginRequest) (*domain.TokenPair, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, req)
	}
	return nil, nil
}

func (m *MockAuthService) RefreshToken(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	if m.RefreshTokenFunc != nil {
		return m.RefreshTokenFunc(ctx, refreshToken)
	}
	return nil, nil
}

func (m *MockAuthService) ConfirmEmail(ctx context.Context, confirmToken string) error {
	if m.ConfirmEmailFunc != nil {
		return m.ConfirmEmailFunc(ctx, confirmToken)
	}
	return nil
}

func (m *MockAuthService) RequestPasswordReset(ctx context.Context, email, host string) error {
	if m.RequestPasswordResetFunc != nil {
		return m.RequestPasswordResetFunc(ctx, email, host)
	}
	return nil
}

func (m *MockAuthService) ConfirmPasswordReset(ctx context.Context, req *dto.PasswordResetConfirm) error {
	if m.ConfirmPasswordResetFunc != nil {
		return m.ConfirmPasswordResetFunc(ctx, req)
	}
	return nil
}

func (m *MockAuthService) CurrentUser(ctx context.Context, accessToken string) (*domain.CachedUser, error) {
	if m.CurrentUserFunc != nil {
		return m.CurrentUserFunc(ctx, accessToken)
	}
	return nil, service.ErrInvalidToken
}

// MockUserService is a mock implementation of UserService for testing
type MockUserService struct {
	UpdateAvatarFunc func(ctx context.Context, current *domain.CachedUser, accessToken string, upload *service.AvatarUpload) (*domain.User, error)
}

func (m *MockUserService) UpdateAvatar(ctx context.Context, current *domain.CachedUser, accessToken string, upload *service.AvatarUpload) (*domain.User, error) {
	if m.UpdateAvatarFunc != nil {
		return m.UpdateAvatarFunc(ctx, current, accessToken, upload)
	}
	return nil, nil
}

// MockContactService is a mock implementation of ContactService for testing
type MockContactService struct {
	CreateFunc            func(ctx context.Context, userID string, req *dto.CreateContactRequest) (*domain.Contact, error)
	GetFunc               func(ctx context.Context, userID, id string) (*domain.Contact, error)
	ListFunc              func(ctx context.Context, userID string, query *dto.ListContactsQuery) ([]*domain.Contact, error)
	UpdateFunc            func(ctx context.Context, userID, id string, req *dto.UpdateContactRequest) (*domain.Contact, error)
	DeleteFunc            func(ctx context.Context, userID, id string) error
	UpcomingBirthdaysFunc func(ctx context.Context, userID string) ([]*domain.Contact, error)
}

func (m *MockContactService) Create(ctx context.Context, userID string, req *dto.CreateContactRequest) (*domain.Contact, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, userID, req)
	}
	return nil, nil
}

func (m *MockContactService) Get(ctx context.Context, userID, id string) (*domain.Contact, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, userID, id)
	}
	return nil, nil
}

func (m *MockContactService) List(ctx context.Context, userID string, query *dto.ListContactsQuery) ([]*domain.Contact, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, userID, query)
	}
	return []*domain.Contact{}, nil
}

func (m *MockContactService) Update(ctx context.Context, userID, id string, req *dto.UpdateContactRequest) (*domain.Contact, error) {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, userID, id, req)
	}
	return nil, nil
}

func (m *MockContactService) Delete(ctx context.Context, userID, id string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, userID, id)
	}
	return nil
}

func (m *MockContactService) UpcomingBirthdays(ctx context.Context, userID string) ([]*domain.Contact, error) {
	if m.UpcomingBirthdaysFunc != nil {
		return m.UpcomingBirthdaysFunc(ctx, userID)
	}
	return []*domain.Contact{}, nil
}

const testAccessToken = "valid-access-token"

// tokenAuth accepts testAccessToken as user
func tokenAuth(user *domain.CachedUser) *MockAuthService {
	return &MockAuthService{
		CurrentUserFunc: func(ctx context.Context, accessToken string) (*domain.CachedUser, error) {
			if accessToken != testAccessToken {
				return nil, service.ErrInvalidToken
			}
			return user, nil
		},
	}
}

func setupTestRouter(auth service.AuthService, users service.UserService, contacts service.ContactService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	authHandler := NewAuthHandler(auth, "")
	userHandler := NewUserHandler(users)
	contactHandler := NewContactHandler(contacts)

	v1 := router.Group("/api/v1")
	{
		a := v1.Group("/auth")
		a.POST("/signup", authHandler.Signup)
		a.POST("/login", authHandler.Login)
		a.POST("/refresh-token", authHandler.RefreshToken)
		a.GET("/confirmed_email/:token", authHandler.ConfirmEmail)
		a.POST("/password-reset/request", authHandler.RequestPasswordReset)
		a.POST("/password-reset/confirm", authHandler.ConfirmPasswordReset)

		u := v1.Group("/users", RequireAuth(auth))
		u.GET("/me", userHandler.Me)
		u.PATCH("/avatar", userHandler.UpdateAvatar)

		c := v1.Group("/contacts", RequireAuth(auth))
		c.POST("", contactHandler.Create)
		c.GET("", contactHandler.List)
		c.GET("/upcoming/birthdays", contactHandler.UpcomingBirthdays)
		c.GET("/:id", contactHandler.Get)
		c.PUT("/:id", contactHandler.Update)
		c.DELETE("/:id", contactHandler.Delete)
	}

	return router
}
