package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/contacts-api/internal/domain"
	"github.com/prohmpiriya/contacts-api/internal/service"
	"github.com/prohmpiriya/contacts-api/pkg/response"
)

// Context keys set by RequireAuth
const (
	CurrentUserKey = "current_user"
	AccessTokenKey = "access_token"
)

const bearerPrefix = "bearer "

// RequireAuth resolves the bearer token to the current user
func RequireAuth(authService service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error("MISSING_TOKEN", "Not authenticated"))
			return
		}

		// Scheme is case-insensitive
		if len(authHeader) <= len(bearerPrefix) || !strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error("INVALID_TOKEN", "Invalid authorization header format"))
			return
		}
		accessToken := strings.TrimSpace(authHeader[len(bearerPrefix):])

		user, err := authService.CurrentUser(c.Request.Context(), accessToken)
		if err != nil {
			c.Header("WWW-Authenticate", "Bearer")
			respondError(c, err)
			c.Abort()
			return
		}

		c.Set(CurrentUserKey, user)
		c.Set(AccessTokenKey, accessToken)
		c.Next()
	}
}

// currentUser returns the user set by RequireAuth
func currentUser(c *gin.Context) (*domain.CachedUser, bool) {
	v, exists := c.Get(CurrentUserKey)
	if !exists {
		return nil, false
	}
	user, ok := v.(*domain.CachedUser)
	return user, ok && user != nil
}

// CurrentUserID returns the authenticated user's ID, or "" before RequireAuth
func CurrentUserID(c *gin.Context) string {
	if user, ok := currentUser(c); ok {
		return user.ID
	}
	return ""
}
