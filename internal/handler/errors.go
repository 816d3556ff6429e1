package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/contacts-api/internal/dto"
	"github.com/prohmpiriya/contacts-api/internal/service"
	"github.com/prohmpiriya/contacts-api/pkg/logger"
	"github.com/prohmpiriya/contacts-api/pkg/response"
	"go.uber.org/zap"
)

type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

var errorMappings = []errorMapping{
	{service.ErrUserAlreadyExists, http.StatusConflict, "USER_EXISTS", "Account already exists"},
	{service.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password"},
	{service.ErrEmailNotConfirmed, http.StatusUnauthorized, "EMAIL_NOT_CONFIRMED", "Email not confirmed"},
	{service.ErrInvalidToken, http.StatusUnauthorized, "INVALID_TOKEN", "Could not validate credentials"},
	{service.ErrUserNotFound, http.StatusNotFound, "USER_NOT_FOUND", "User not found"},
	{service.ErrAlreadyConfirmed, http.StatusBadRequest, "ALREADY_CONFIRMED", "Your email is already confirmed"},
	{service.ErrInvalidResetToken, http.StatusBadRequest, "INVALID_RESET_TOKEN", "Invalid or expired token"},
	{service.ErrForbidden, http.StatusForbidden, "FORBIDDEN", "Not enough permissions"},
	{service.ErrContactNotFound, http.StatusNotFound, "CONTACT_NOT_FOUND", "Contact not found"},
	{service.ErrContactExists, http.StatusBadRequest, "CONTACT_EXISTS", "Contact with this email already exists"},
	{service.ErrNothingToUpdate, http.StatusBadRequest, "BAD_REQUEST", "No fields to update"},
	{dto.ErrInvalidBirthday, http.StatusBadRequest, "BAD_REQUEST", dto.ErrInvalidBirthday.Error()},
	{dto.ErrFutureBirthday, http.StatusBadRequest, "BAD_REQUEST", dto.ErrFutureBirthday.Error()},
}

// respondError writes the error envelope for err. Unmapped errors are logged
// and surface as a bare 500.
func respondError(c *gin.Context, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			c.JSON(m.status, response.Error(m.code, m.message))
			return
		}
	}

	_ = c.Error(err)
	logger.Get().ErrorContext(c.Request.Context(), "Unhandled error",
		zap.String("route", c.FullPath()),
		zap.Error(err),
	)
	c.JSON(http.StatusInternalServerError, response.InternalError())
}

func respondBindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, response.BadRequest(err.Error()))
}
