package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prohmpiriya/contacts-api/internal/domain"
	"github.com/prohmpiriya/contacts-api/internal/dto"
	"github.com/prohmpiriya/contacts-api/internal/repository"
	"github.com/prohmpiriya/contacts-api/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

var (
	ErrContactNotFound = errors.New("contact not found")
	ErrContactExists   = errors.New("contact with this email already exists")
	ErrNothingToUpdate = errors.New("no fields to update")
)

// ContactService defines the interface for address book operations.
// Every call is scoped to the owning user's ID.
type ContactService interface {
	// Create creates a contact
	Create(ctx context.Context, userID string, req *dto.CreateContactRequest) (*domain.Contact, error)
	// Get retrieves a contact
	Get(ctx context.Context, userID, id string) (*domain.Contact, error)
	// List lists contacts matching the query
	List(ctx context.Context, userID string, query *dto.ListContactsQuery) ([]*domain.Contact, error)
	// Update applies a partial update
	Update(ctx context.Context, userID, id string, req *dto.UpdateContactRequest) (*domain.Contact, error)
	// Delete deletes a contact
	Delete(ctx context.Context, userID, id string) error
	// UpcomingBirthdays lists contacts with a birthday in the next seven days
	UpcomingBirthdays(ctx context.Context, userID string) ([]*domain.Contact, error)
}

// contactService implements ContactService
type contactService struct {
	repo repository.ContactRepository
	now  func() time.Time
}

// NewContactService creates a new ContactService
func NewContactService(repo repository.ContactRepository) ContactService {
	return &contactService{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *contactService) Create(ctx context.Context, userID string, req *dto.CreateContactRequest) (contact *domain.Contact, err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.contact.create")
	defer func() { endSpan(span, err) }()

	contact, err = req.ToContact(userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	contact.ID = uuid.New().String()
	contact.CreatedAt = now
	contact.UpdatedAt = now

	if err := s.repo.Create(ctx, contact); err != nil {
		return nil, mapContactError(err)
	}
	return contact, nil
}

func (s *contactService) Get(ctx context.Context, userID, id string) (contact *domain.Contact, err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.contact.get")
	defer func() { endSpan(span, err) }()

	span.SetAttributes(attribute.String("contact_id", id))

	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrContactNotFound
	}
	contact, err = s.repo.GetByID(ctx, userID, id)
	if err != nil {
		return nil, mapContactError(err)
	}
	return contact, nil
}

func (s *contactService) List(ctx context.Context, userID string, query *dto.ListContactsQuery) (contacts []*domain.Contact, err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.contact.list")
	defer func() { endSpan(span, err) }()

	return s.repo.List(ctx, query.ToFilter(userID))
}

func (s *contactService) Update(ctx context.Context, userID, id string, req *dto.UpdateContactRequest) (contact *domain.Contact, err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.contact.update")
	defer func() { endSpan(span, err) }()

	span.SetAttributes(attribute.String("contact_id", id))

	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrContactNotFound
	}
	update, err := req.ToUpdate()
	if err != nil {
		return nil, err
	}
	if update.IsEmpty() {
		return nil, ErrNothingToUpdate
	}

	contact, err = s.repo.Update(ctx, userID, id, update)
	if err != nil {
		return nil, mapContactError(err)
	}
	return contact, nil
}

func (s *contactService) Delete(ctx context.Context, userID, id string) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.contact.delete")
	defer func() { endSpan(span, err) }()

	span.SetAttributes(attribute.String("contact_id", id))

	if _, err := uuid.Parse(id); err != nil {
		return ErrContactNotFound
	}
	return mapContactError(s.repo.Delete(ctx, userID, id))
}

func (s *contactService) UpcomingBirthdays(ctx context.Context, userID string) (contacts []*domain.Contact, err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.contact.upcoming_birthdays")
	defer func() { endSpan(span, err) }()

	return s.repo.UpcomingBirthdays(ctx, userID, s.now(), dto.BirthdayWindowDays)
}

func mapContactError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return ErrContactNotFound
	case errors.Is(err, repository.ErrDuplicateEmail):
		return ErrContactExists
	default:
		return err
	}
}
