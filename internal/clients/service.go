package clients

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/apotheca/apotheca/internal/shared"
)

var (
	// ErrNotFound indicates an unknown client id.
	ErrNotFound = fmt.Errorf("clients: client %w", shared.ErrNotFound)
	// ErrFacilityNotFound indicates the parent facility does not exist.
	ErrFacilityNotFound = fmt.Errorf("clients: parent facility %w", shared.ErrNotFound)
)

// Service registers and looks up clients.
type Service struct {
	repo   Repository
	audit  *shared.AuditLogger
	logger *slog.Logger
}

// NewService constructs the client service.
func NewService(repo Repository, audit *shared.AuditLogger, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger}
}

// Register validates c and stores it under a newly drawn six digit id.
// Actors attached to a facility register clients into it; superusers must
// name the parent facility.
func (s *Service) Register(ctx context.Context, actor shared.Actor, c Client) (Client, error) {
	if err := actor.Require(shared.PermClientsManage); err != nil {
		return Client{}, err
	}
	c = normalise(c)
	if !actor.IsSuperUser() || (c.ParentFacilityID == 0 && actor.HasFacility()) {
		c.ParentFacilityID = actor.FacilityID
	}
	if c.ParentFacilityID <= 0 {
		return Client{}, fmt.Errorf("%w: a parent facility must be provided", ErrValidation)
	}
	if err := Validate(c); err != nil {
		return Client{}, err
	}

	var created Client
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.NextID(ctx)
		if err != nil {
			return err
		}
		c.ID = id
		created, err = tx.Insert(ctx, c)
		return err
	})
	if err != nil {
		return Client{}, err
	}

	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor.UserID,
			Action:   "clients.register",
			Entity:   "client",
			EntityID: created.ID,
			Meta:     map[string]any{"parent_facility_id": created.ParentFacilityID},
		}); err != nil {
			s.logger.Warn("client audit failed", slog.String("client_id", created.ID), slog.Any("error", err))
		}
	}
	return created, nil
}

// Get returns a client by id. Any actor allowed to view clients may read
// any client; only listings are scoped to a facility.
func (s *Service) Get(ctx context.Context, actor shared.Actor, id string) (Client, error) {
	if err := actor.Require(shared.PermClientsView); err != nil {
		return Client{}, err
	}
	return s.repo.Get(ctx, id)
}

// ListByFacility lists the clients of one facility. Actors attached to a
// facility only see their own; superusers may pass zero for every facility.
func (s *Service) ListByFacility(ctx context.Context, actor shared.Actor, filters ListFilters) ([]Client, int, error) {
	if err := actor.Require(shared.PermClientsView); err != nil {
		return nil, 0, err
	}
	if !actor.IsSuperUser() {
		if filters.FacilityID == 0 {
			filters.FacilityID = actor.FacilityID
		}
		if !actor.CanSeeFacility(filters.FacilityID) {
			return nil, 0, fmt.Errorf("%w: facility %d", shared.ErrForbidden, filters.FacilityID)
		}
	}
	return s.repo.List(ctx, filters)
}
