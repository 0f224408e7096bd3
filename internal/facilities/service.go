package facilities

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/apotheca/apotheca/internal/shared"
)

var (
	// ErrNotFound indicates the facility does not exist.
	ErrNotFound = fmt.Errorf("facilities: %w", shared.ErrNotFound)
	// ErrValidation indicates invalid facility data.
	ErrValidation = errors.New("facilities: invalid input")
)

// Service manages facilities.
type Service struct {
	repo     Repository
	validate *validator.Validate
}

// NewService builds Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, validate: validator.New()}
}

// List returns facilities matching filters.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]Facility, int, error) {
	return s.repo.List(ctx, filters)
}

// Get returns one facility.
func (s *Service) Get(ctx context.Context, id int64) (Facility, error) {
	if id <= 0 {
		return Facility{}, ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

// Create registers a new, active facility.
func (s *Service) Create(ctx context.Context, actor shared.Actor, facility Facility) (Facility, error) {
	if !actor.IsSuperUser() {
		return Facility{}, shared.ErrForbidden
	}
	facility.Name = strings.TrimSpace(facility.Name)
	facility.City = strings.TrimSpace(facility.City)
	facility.Region = strings.TrimSpace(facility.Region)
	facility.Country = strings.TrimSpace(facility.Country)
	facility.IsActive = true
	if err := s.validate.Struct(facility); err != nil {
		return Facility{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return s.repo.Create(ctx, facility)
}

// SetActive opens or closes a facility for incoming stock.
func (s *Service) SetActive(ctx context.Context, actor shared.Actor, id int64, active bool) error {
	if !actor.IsSuperUser() {
		return shared.ErrForbidden
	}
	return s.repo.SetActive(ctx, id, active)
}

// Exists reports whether an active or inactive facility with id is known.
func (s *Service) Exists(ctx context.Context, id int64) (bool, error) {
	_, err := s.Get(ctx, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}
