package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/contacts-api/internal/dto"
	"github.com/prohmpiriya/contacts-api/internal/service"
	"github.com/prohmpiriya/contacts-api/pkg/response"
)

// MaxAvatarSize bounds avatar uploads
const MaxAvatarSize = 5 << 20

// UserHandler handles profile HTTP requests
type UserHandler struct {
	userService service.UserService
}

// NewUserHandler creates a new UserHandler
func NewUserHandler(userService service.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

// Me returns the current user
// GET /api/v1/users/me
func (h *UserHandler) Me(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Unauthorized("Not authenticated"))
		return
	}

	c.JSON(http.StatusOK, dto.FromCachedUser(user))
}

// UpdateAvatar stores a new avatar image (admins only)
// PATCH /api/v1/users/avatar
func (h *UserHandler) UpdateAvatar(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Unauthorized("Not authenticated"))
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		respondBindError(c, err)
		return
	}
	if fileHeader.Size > MaxAvatarSize {
		c.JSON(http.StatusBadRequest, response.BadRequest(fmt.Sprintf("avatar exceeds %d bytes", MaxAvatarSize)))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respondError(c, err)
		return
	}
	defer file.Close()

	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	updated, err := h.userService.UpdateAvatar(c.Request.Context(), user, c.GetString(AccessTokenKey), &service.AvatarUpload{
		Filename:    fileHeader.Filename,
		ContentType: contentType,
		Size:        fileHeader.Size,
		Body:        file,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.FromUser(updated))
}
