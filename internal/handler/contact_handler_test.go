package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/contacts-api/internal/domain"
	"github.com/prohmpiriya/contacts-api/internal/dto"
	"github.com/prohmpiriya/contacts-api/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testContactID = "7b0c5d3e-8f7a-4a52-9a0e-2f1d3c4b5a69"

func sampleContact() *domain.Contact {
	return &domain.Contact{
		ID:        testContactID,
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "ada@x.com",
		Phone:     "+44 20 7946 0000",
		Birthday:  time.Date(1990, 12, 10, 0, 0, 0, 0, time.UTC),
		UserID:    "u1",
	}
}

func doAuthedJSON(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testAccessToken)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestContactHandler_Create(t *testing.T) {
	var gotUserID string
	contacts := &MockContactService{
		CreateFunc: func(ctx context.Context, userID string, req *dto.CreateContactRequest) (*domain.Contact, error) {
			gotUserID = userID
			if req.Email == "dup@x.com" {
				return nil, service.ErrContactExists
			}
			return sampleContact(), nil
		},
	}
	router := setupTestRouter(tokenAuth(testUser(domain.RoleUser)), &MockUserService{}, contacts)

	body := gin.H{
		"first_name": "Ada", "last_name": "Lovelace", "email": "ada@x.com",
		"phone": "+44 20 7946 0000", "birthday": "1990-12-10",
	}
	w := doAuthedJSON(t, router, http.MethodPost, "/api/v1/contacts", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "u1", gotUserID)

	var got dto.ContactResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "1990-12-10", got.Birthday)
	assert.Equal(t, testContactID, got.ID)

	body["email"] = "dup@x.com"
	w = doAuthedJSON(t, router, http.MethodPost, "/api/v1/contacts", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "CONTACT_EXISTS", errorCode(t, w))

	delete(body, "phone")
	w = doAuthedJSON(t, router, http.MethodPost, "/api/v1/contacts", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "BAD_REQUEST", errorCode(t, w))
}

func TestContactHandler_RequiresAuth(t *testing.T) {
	router := setupTestRouter(tokenAuth(testUser(domain.RoleUser)), &MockUserService{}, &MockContactService{})

	w := doAuthed(router, http.MethodGet, "/api/v1/contacts", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestContactHandler_List(t *testing.T) {
	var gotQuery *dto.ListContactsQuery
	contacts := &MockContactService{
		ListFunc: func(ctx context.Context, userID string, query *dto.ListContactsQuery) ([]*domain.Contact, error) {
			gotQuery = query
			return []*domain.Contact{sampleContact()}, nil
		},
	}
	router := setupTestRouter(tokenAuth(testUser(domain.RoleUser)), &MockUserService{}, contacts)

	w := doAuthedJSON(t, router, http.MethodGet, "/api/v1/contacts?search=ada&skip=5&limit=20", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, &dto.ListContactsQuery{Search: "ada", Skip: 5, Limit: 20}, gotQuery)

	var got []dto.ContactResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Len(t, got, 1)

	w = doAuthedJSON(t, router, http.MethodGet, "/api/v1/contacts?limit=1000", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestContactHandler_GetUpdateDelete(t *testing.T) {
	contacts := &MockContactService{
		GetFunc: func(ctx context.Context, userID, id string) (*domain.Contact, error) {
			if id != testContactID {
				return nil, service.ErrContactNotFound
			}
			return sampleContact(), nil
		},
		UpdateFunc: func(ctx context.Context, userID, id string, req *dto.UpdateContactRequest) (*domain.Contact, error) {
			c := sampleContact()
			if req.Phone != nil {
				c.Phone = *req.Phone
			}
			return c, nil
		},
		DeleteFunc: func(ctx context.Context, userID, id string) error {
			if id != testContactID {
				return service.ErrContactNotFound
			}
			return nil
		},
	}
	router := setupTestRouter(tokenAuth(testUser(domain.RoleUser)), &MockUserService{}, contacts)

	w := doAuthedJSON(t, router, http.MethodGet, "/api/v1/contacts/"+testContactID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doAuthedJSON(t, router, http.MethodGet, "/api/v1/contacts/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "CONTACT_NOT_FOUND", errorCode(t, w))

	w = doAuthedJSON(t, router, http.MethodPut, "/api/v1/contacts/"+testContactID, gin.H{"phone": "+1 555 0100"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"phone":"+1 555 0100"`)

	w = doAuthedJSON(t, router, http.MethodDelete, "/api/v1/contacts/"+testContactID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())

	w = doAuthedJSON(t, router, http.MethodDelete, "/api/v1/contacts/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestContactHandler_UpcomingBirthdays(t *testing.T) {
	contacts := &MockContactService{
		UpcomingBirthdaysFunc: func(ctx context.Context, userID string) ([]*domain.Contact, error) {
			return []*domain.Contact{}, nil
		},
	}
	router := setupTestRouter(tokenAuth(testUser(domain.RoleUser)), &MockUserService{}, contacts)

	w := doAuthedJSON(t, router, http.MethodGet, "/api/v1/contacts/upcoming/birthdays", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}
