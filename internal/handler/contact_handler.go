package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/contacts-api/internal/dto"
	"github.com/prohmpiriya/contacts-api/internal/service"
	"github.com/prohmpiriya/contacts-api/pkg/response"
)

// ContactHandler handles address book HTTP requests
type ContactHandler struct {
	contactService service.ContactService
}

// NewContactHandler creates a new ContactHandler
func NewContactHandler(contactService service.ContactService) *ContactHandler {
	return &ContactHandler{contactService: contactService}
}

// Create handles contact creation
// POST /api/v1/contacts
func (h *ContactHandler) Create(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Unauthorized("Not authenticated"))
		return
	}

	var req dto.CreateContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	contact, err := h.contactService.Create(c.Request.Context(), user.ID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.FromContact(contact))
}

// List handles contact listing and search
// GET /api/v1/contacts
func (h *ContactHandler) List(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Unauthorized("Not authenticated"))
		return
	}

	var query dto.ListContactsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		respondBindError(c, err)
		return
	}

	contacts, err := h.contactService.List(c.Request.Context(), user.ID, &query)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.FromContacts(contacts))
}

// Get returns a single contact
// GET /api/v1/contacts/:id
func (h *ContactHandler) Get(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Unauthorized("Not authenticated"))
		return
	}

	contact, err := h.contactService.Get(c.Request.Context(), user.ID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.FromContact(contact))
}

// Update applies the provided fields
// PUT /api/v1/contacts/:id
func (h *ContactHandler) Update(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Unauthorized("Not authenticated"))
		return
	}

	var req dto.UpdateContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	contact, err := h.contactService.Update(c.Request.Context(), user.ID, c.Param("id"), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.FromContact(contact))
}

// Delete removes a contact
// DELETE /api/v1/contacts/:id
func (h *ContactHandler) Delete(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Unauthorized("Not authenticated"))
		return
	}

	if err := h.contactService.Delete(c.Request.Context(), user.ID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// UpcomingBirthdays lists contacts with a birthday in the next week
// GET /api/v1/contacts/upcoming/birthdays
func (h *ContactHandler) UpcomingBirthdays(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Unauthorized("Not authenticated"))
		return
	}

	contacts, err := h.contactService.UpcomingBirthdays(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.FromContacts(contacts))
}
