package catalog

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/apotheca/apotheca/internal/shared"
)

// Service manages the item catalog.
type Service struct {
	repo   Repository
	audit  *shared.AuditLogger
	logger *slog.Logger
}

// NewService constructs a catalog service.
func NewService(repo Repository, audit *shared.AuditLogger, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger}
}

// Create validates input, assigns a code and stores the item.
func (s *Service) Create(ctx context.Context, actor shared.Actor, input ItemInput) (Item, error) {
	if err := actor.Require(shared.PermCatalogManage); err != nil {
		return Item{}, err
	}
	item, err := NewItem(input)
	if err != nil {
		return Item{}, err
	}

	var created Item
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if item.Code == "" {
			code, err := tx.NextCode(ctx)
			if err != nil {
				return err
			}
			item.Code = code
		} else if err := tx.ObserveCode(ctx, item.Code); err != nil {
			return err
		}
		created, err = tx.Insert(ctx, item)
		return err
	})
	if err != nil {
		return Item{}, err
	}

	s.record(ctx, actor, "catalog.create", created.Code, map[string]any{"display_name": created.DisplayName})
	return created, nil
}

// UpdatePrices changes the pack prices of an item. The code never changes.
func (s *Service) UpdatePrices(ctx context.Context, actor shared.Actor, code string, cost, selling decimal.Decimal) (Item, error) {
	if err := actor.Require(shared.PermCatalogManage); err != nil {
		return Item{}, err
	}
	if err := checkPrices(cost, selling); err != nil {
		return Item{}, err
	}
	var updated Item
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		updated, err = tx.UpdatePrices(ctx, code, cost, selling)
		return err
	})
	if err != nil {
		return Item{}, err
	}
	s.record(ctx, actor, "catalog.update_prices", code, map[string]any{
		"cost_price":    cost.StringFixed(2),
		"selling_price": selling.StringFixed(2),
	})
	return updated, nil
}

// Get returns an item by code.
func (s *Service) Get(ctx context.Context, code string) (Item, error) {
	if code == "" {
		return Item{}, ErrNotFound
	}
	return s.repo.GetByCode(ctx, code)
}

// List returns a page of items.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]Item, int, error) {
	return s.repo.List(ctx, filters)
}

func (s *Service) record(ctx context.Context, actor shared.Actor, action, code string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   "catalog_item",
		EntityID: code,
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("catalog audit failed", slog.String("code", code), slog.Any("error", err))
	}
}

// IsClientError reports whether err comes from bad input rather than infrastructure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidItem) || errors.Is(err, ErrDuplicate) || errors.Is(err, ErrNotFound)
}
