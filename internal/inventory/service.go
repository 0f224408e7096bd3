package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/apotheca/apotheca/internal/sequence"
	"github.com/apotheca/apotheca/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetInbound(ctx context.Context, id string) (Inbound, error)
	GetTransfer(ctx context.Context, id string) (Transfer, error)
	ListTransfers(ctx context.Context, filter TransferFilter) ([]Transfer, int, error)
	ListLots(ctx context.Context, itemCode string) ([]WarehouseLot, error)
	ListFacilityStock(ctx context.Context, facilityID int64) ([]FacilityStock, error)
	StockSummary(ctx context.Context) ([]StockSummaryRow, error)
	ExpiringLots(ctx context.Context, before time.Time) ([]WarehouseLot, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort claims request keys. Satisfied by *shared.IdempotencyStore.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// SummaryCache serves the stock summary, calling load on a miss.
type SummaryCache interface {
	Summary(ctx context.Context, load func(context.Context) ([]StockSummaryRow, error)) ([]StockSummaryRow, error)
}

// ServiceConfig groups optional settings and collaborators.
type ServiceConfig struct {
	// SkipExpiredLots excludes lots past their expiry date from supply.
	SkipExpiredLots bool
	Logger          *slog.Logger
	Cache           SummaryCache
	Metrics         *Metrics
	Now             func() time.Time
}

// Service coordinates inventory movements.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	listener    MovementListener
	cache       SummaryCache
	metrics     *Metrics
	logger      *slog.Logger
	skipExpired bool
	now         func() time.Time
}

// NewService builds Service. audit, idem and listener may be nil.
func NewService(repo RepositoryPort, audit AuditPort, idem IdempotencyPort, cfg ServiceConfig, listener MovementListener) *Service {
	svc := &Service{
		repo:        repo,
		audit:       audit,
		idempotency: idem,
		listener:    listener,
		cache:       cfg.Cache,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		skipExpired: cfg.SkipExpiredLots,
		now:         cfg.Now,
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ReceiveInbound books a supplier delivery into warehouse lots.
func (s *Service) ReceiveInbound(ctx context.Context, input InboundInput) (Inbound, error) {
	input.Supplier = strings.TrimSpace(input.Supplier)
	input.InvoiceNo = strings.TrimSpace(input.InvoiceNo)
	input.Lines = append([]InboundLineInput(nil), input.Lines...)
	for i := range input.Lines {
		input.Lines[i].ItemCode = strings.TrimSpace(input.Lines[i].ItemCode)
		input.Lines[i].BatchNo = strings.TrimSpace(input.Lines[i].BatchNo)
	}
	if err := checkInput(input); err != nil {
		return Inbound{}, err
	}

	release, err := s.claim(ctx, input.RequestKey, "inventory.inbound")
	if err != nil {
		return Inbound{}, err
	}
	start := s.now()

	var result Inbound
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		codes := make([]string, len(input.Lines))
		for i, line := range input.Lines {
			codes[i] = line.ItemCode
		}
		items, err := resolveItems(ctx, tx, codes)
		if err != nil {
			return err
		}

		order := make([]int, len(input.Lines))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			la, lb := input.Lines[order[a]], input.Lines[order[b]]
			if ia, ib := items[la.ItemCode].ID, items[lb.ItemCode].ID; ia != ib {
				return ia < ib
			}
			return la.BatchNo < lb.BatchNo
		})

		lines := make([]InboundLine, len(input.Lines))
		for _, i := range order {
			line := input.Lines[i]
			item := items[line.ItemCode]
			expiry := Day(line.ExpiryDate)

			lot, err := tx.LockOrCreateLot(ctx, item, line.BatchNo, expiry)
			if err != nil {
				return err
			}
			if existing := Day(lot.ExpiryDate); !existing.Equal(expiry) {
				return batchConflict(item.Code, line.BatchNo, existing.Format(time.DateOnly), expiry.Format(time.DateOnly))
			}
			if _, err := tx.AdjustLot(ctx, lot.ID, line.Quantity); err != nil {
				return err
			}
			lines[i] = InboundLine{
				LotID:      lot.ID,
				ItemCode:   item.Code,
				BatchNo:    line.BatchNo,
				ExpiryDate: expiry,
				Quantity:   line.Quantity,
			}
		}

		id, err := tx.NextID(ctx, sequence.Inbound)
		if err != nil {
			return err
		}
		result = Inbound{
			ID:          id,
			Supplier:    input.Supplier,
			InvoiceNo:   input.InvoiceNo,
			InvoiceDate: Day(input.InvoiceDate),
			ReceivedAt:  s.now().UTC(),
			ReceivedBy:  input.Actor.UserID,
			Lines:       lines,
		}
		return tx.InsertInbound(ctx, result, items)
	})
	if err != nil {
		release()
		s.metrics.failed(MovementInbound, err)
		return Inbound{}, err
	}

	evt := MovementEvent{
		Kind:                  MovementInbound,
		ID:                    result.ID,
		SourceFacilityID:      WarehouseID,
		DestinationFacilityID: WarehouseID,
		PostedAt:              result.ReceivedAt,
	}
	for _, line := range result.Lines {
		evt.Lines = append(evt.Lines, EventLine{ItemCode: line.ItemCode, Quantity: line.Quantity})
	}
	s.committed(ctx, input.Actor, input.RequestKey, evt, start, map[string]any{
		"supplier":   result.Supplier,
		"invoice_no": result.InvoiceNo,
		"lines":      len(result.Lines),
	})
	return result, nil
}

// SupplyToFacility moves stock from warehouse lots to a facility, drawing
// the earliest expiring lots first.
func (s *Service) SupplyToFacility(ctx context.Context, input SupplyInput) (Transfer, error) {
	input.Lines = normaliseLines(input.Lines)
	if err := checkInput(input); err != nil {
		return Transfer{}, err
	}

	release, err := s.claim(ctx, input.RequestKey, "inventory.supply")
	if err != nil {
		return Transfer{}, err
	}
	start := s.now()

	var result Transfer
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		dest, err := s.lockDestination(ctx, tx, input.DestinationFacilityID)
		if err != nil {
			return err
		}
		items, err := resolveItems(ctx, tx, lineCodes(input.Lines))
		if err != nil {
			return err
		}

		var expiringFrom *time.Time
		if s.skipExpired {
			today := Day(s.now())
			expiringFrom = &today
		}

		lines := make([]TransferLine, len(input.Lines))
		for _, i := range byItem(input.Lines, items) {
			line := input.Lines[i]
			item := items[line.ItemCode]

			lots, err := tx.LockLots(ctx, item, expiringFrom)
			if err != nil {
				return err
			}
			allocs, available := allocateFEFO(lots, line.Quantity)
			if allocs == nil {
				return insufficient(item.Code, available, line.Quantity, WarehouseID)
			}
			for _, alloc := range allocs {
				if _, err := tx.AdjustLot(ctx, alloc.LotID, -alloc.Quantity); err != nil {
					if errors.Is(err, errShortStock) {
						return insufficient(item.Code, available, line.Quantity, WarehouseID)
					}
					return err
				}
			}
			if _, err := tx.AdjustFacilityStock(ctx, dest.ID, item, line.Quantity); err != nil {
				return err
			}
			lines[i] = TransferLine{ItemCode: item.Code, Quantity: line.Quantity, Allocations: allocs}
		}

		result, err = s.insertTransfer(ctx, tx, KindSupply, WarehouseID, dest.ID, input.Actor, lines, items)
		return err
	})
	if err != nil {
		release()
		s.metrics.failed(MovementSupply, err)
		return Transfer{}, err
	}

	s.committed(ctx, input.Actor, input.RequestKey, transferEvent(MovementSupply, result), start, map[string]any{
		"destination_facility_id": result.DestinationFacilityID,
		"lines":                   len(result.Lines),
	})
	return result, nil
}

// TransferBetweenFacilities moves stock from one facility to another.
func (s *Service) TransferBetweenFacilities(ctx context.Context, input TransferInput) (Transfer, error) {
	if input.SourceFacilityID == input.DestinationFacilityID && input.SourceFacilityID > 0 {
		return Transfer{}, sameFacility(input.SourceFacilityID)
	}
	input.Lines = normaliseLines(input.Lines)
	if err := checkInput(input); err != nil {
		return Transfer{}, err
	}

	release, err := s.claim(ctx, input.RequestKey, "inventory.transfer")
	if err != nil {
		return Transfer{}, err
	}
	start := s.now()

	src, dst := input.SourceFacilityID, input.DestinationFacilityID
	var result Transfer
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		first, second := src, dst
		if second < first {
			first, second = second, first
		}
		refs := make(map[int64]facilityRef, 2)
		for _, id := range []int64{first, second} {
			ref, err := tx.LockFacility(ctx, id)
			if err != nil {
				return err
			}
			refs[id] = ref
		}
		if !refs[dst].IsActive {
			return validationf("facility %d is inactive", dst)
		}
		items, err := resolveItems(ctx, tx, lineCodes(input.Lines))
		if err != nil {
			return err
		}

		lines := make([]TransferLine, len(input.Lines))
		for _, i := range byItem(input.Lines, items) {
			line := input.Lines[i]
			item := items[line.ItemCode]

			debit := func() error {
				_, err := tx.AdjustFacilityStock(ctx, src, item, -line.Quantity)
				if errors.Is(err, errShortStock) {
					available, qerr := tx.FacilityQuantity(ctx, src, item)
					if qerr != nil {
						return qerr
					}
					return insufficient(item.Code, available, line.Quantity, src)
				}
				return err
			}
			credit := func() error {
				_, err := tx.AdjustFacilityStock(ctx, dst, item, line.Quantity)
				return err
			}
			steps := []func() error{debit, credit}
			if dst < src {
				steps = []func() error{credit, debit}
			}
			for _, step := range steps {
				if err := step(); err != nil {
					return err
				}
			}
			lines[i] = TransferLine{ItemCode: item.Code, Quantity: line.Quantity}
		}

		result, err = s.insertTransfer(ctx, tx, KindTransfer, src, dst, input.Actor, lines, items)
		return err
	})
	if err != nil {
		release()
		s.metrics.failed(MovementTransfer, err)
		return Transfer{}, err
	}

	s.committed(ctx, input.Actor, input.RequestKey, transferEvent(MovementTransfer, result), start, map[string]any{
		"source_facility_id":      result.SourceFacilityID,
		"destination_facility_id": result.DestinationFacilityID,
		"lines":                   len(result.Lines),
	})
	return result, nil
}

// UpdateTransferStatus moves a transfer forward through its statuses. Only
// users of the destination facility and superusers may do so.
func (s *Service) UpdateTransferStatus(ctx context.Context, actor shared.Actor, transferID string, status TransferStatus) (Transfer, error) {
	if _, ok := statusRank[status]; !ok {
		return Transfer{}, validationf("unknown transfer status %q", status)
	}
	transferID = strings.TrimSpace(transferID)

	var updated Transfer
	var previous TransferStatus
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, err := tx.LockTransfer(ctx, transferID)
		if err != nil {
			return err
		}
		if !actor.IsSuperUser() && actor.FacilityID != t.DestinationFacilityID {
			return forbiddenf("only the destination facility can update transfer %s", t.ID)
		}
		if !t.Status.CanAdvanceTo(status) {
			return validationf("transfer %s cannot move from %s to %s", t.ID, t.Status, status)
		}
		if err := tx.SetTransferStatus(ctx, t.ID, status); err != nil {
			return err
		}
		previous = t.Status
		t.Status = status
		updated = t
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}

	s.record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		Action:   "inventory:transfer_status",
		Entity:   "transfer",
		EntityID: updated.ID,
		Meta:     map[string]any{"from": string(previous), "to": string(updated.Status)},
	})
	return updated, nil
}

// GetInbound returns an inbound with its lines.
func (s *Service) GetInbound(ctx context.Context, id string) (Inbound, error) {
	return s.repo.GetInbound(ctx, strings.TrimSpace(id))
}

// GetTransfer returns a transfer visible to actor.
func (s *Service) GetTransfer(ctx context.Context, actor shared.Actor, id string) (Transfer, error) {
	t, err := s.repo.GetTransfer(ctx, strings.TrimSpace(id))
	if err != nil {
		return Transfer{}, err
	}
	if !canSeeTransfer(actor, t) {
		return Transfer{}, forbiddenf("transfer %s is not visible to %s", t.ID, actor.Role)
	}
	return t, nil
}

// ListTransfers returns transfers visible to actor. Facility users see
// transfers in and out of their facility; warehouse users see supplies.
func (s *Service) ListTransfers(ctx context.Context, actor shared.Actor, filter TransferFilter) ([]Transfer, int, error) {
	switch {
	case actor.IsSuperUser():
	case actor.HasFacility():
		filter.FacilityID = actor.FacilityID
	case actor.Role == shared.RoleWarehouse:
		if filter.Kind != "" && filter.Kind != KindSupply {
			return nil, 0, forbiddenf("warehouse users only see supplies")
		}
		filter.Kind = KindSupply
	default:
		return nil, 0, forbiddenf("%s without a facility cannot list transfers", actor.Role)
	}
	return s.repo.ListTransfers(ctx, filter)
}

// WarehouseStock lists an item's lots in the order supply draws them.
func (s *Service) WarehouseStock(ctx context.Context, itemCode string) ([]WarehouseLot, error) {
	itemCode = strings.TrimSpace(itemCode)
	if itemCode == "" {
		return nil, validationf("item code required")
	}
	return s.repo.ListLots(ctx, itemCode)
}

// FacilityStock lists the stock rows of a facility. Zero selects the
// actor's own facility.
func (s *Service) FacilityStock(ctx context.Context, actor shared.Actor, facilityID int64) ([]FacilityStock, error) {
	if facilityID == 0 {
		facilityID = actor.FacilityID
	}
	if facilityID <= 0 {
		return nil, validationf("facility required")
	}
	if !actor.CanSeeFacility(facilityID) {
		return nil, forbiddenf("facility %d stock is not visible to %s", facilityID, actor.Role)
	}
	return s.repo.ListFacilityStock(ctx, facilityID)
}

// StockSummary returns warehouse totals per item, cached when a cache is set.
func (s *Service) StockSummary(ctx context.Context) ([]StockSummaryRow, error) {
	if s.cache == nil {
		return s.repo.StockSummary(ctx)
	}
	return s.cache.Summary(ctx, s.repo.StockSummary)
}

// ExpiringLots lists lots with stock that expire within the window,
// including lots that already expired.
func (s *Service) ExpiringLots(ctx context.Context, within time.Duration) ([]WarehouseLot, error) {
	if within < 0 {
		return nil, validationf("window must not be negative")
	}
	return s.repo.ExpiringLots(ctx, Day(s.now().Add(within)).AddDate(0, 0, 1))
}

func (s *Service) lockDestination(ctx context.Context, tx TxRepository, id int64) (facilityRef, error) {
	dest, err := tx.LockFacility(ctx, id)
	if err != nil {
		return facilityRef{}, err
	}
	if !dest.IsActive {
		return facilityRef{}, validationf("facility %d is inactive", id)
	}
	return dest, nil
}

func (s *Service) insertTransfer(ctx context.Context, tx TxRepository, kind TransferKind, src, dst int64, actor shared.Actor, lines []TransferLine, items map[string]itemRef) (Transfer, error) {
	id, err := tx.NextID(ctx, sequence.Transfer)
	if err != nil {
		return Transfer{}, err
	}
	t := Transfer{
		ID:                    id,
		Kind:                  kind,
		SourceFacilityID:      src,
		DestinationFacilityID: dst,
		Status:                StatusPending,
		TransferredAt:         s.now().UTC(),
		CreatedBy:             actor.UserID,
		Lines:                 lines,
	}
	if err := tx.InsertTransfer(ctx, t, items); err != nil {
		return Transfer{}, err
	}
	return t, nil
}

// claim reserves the request key and returns the function that frees it
// again when the movement fails.
func (s *Service) claim(ctx context.Context, key, module string) (func(), error) {
	key = strings.TrimSpace(key)
	if s.idempotency == nil || key == "" {
		return func() {}, nil
	}
	if err := s.idempotency.CheckAndInsert(ctx, key, module); err != nil {
		return nil, err
	}
	return func() {
		if err := s.idempotency.Delete(context.WithoutCancel(ctx), key); err != nil {
			s.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", err))
		}
	}, nil
}

// committed runs the post-commit side effects of a movement. The request
// key, when given, correlates the audit entry with the caller's request.
func (s *Service) committed(ctx context.Context, actor shared.Actor, requestKey string, evt MovementEvent, start time.Time, meta map[string]any) {
	s.metrics.observe(evt, s.now().Sub(start))
	s.record(ctx, shared.AuditLog{
		CorrelationID: strings.TrimSpace(requestKey),
		ActorID:       actor.UserID,
		Action:        "inventory:" + strings.ToLower(string(evt.Kind)),
		Entity:        entityFor(evt.Kind),
		EntityID:      evt.ID,
		Meta:          meta,
		At:            evt.PostedAt,
	})
	if s.listener != nil {
		if err := s.listener.MovementPosted(ctx, evt); err != nil {
			s.logger.Warn("movement listener failed", slog.String("kind", string(evt.Kind)), slog.String("id", evt.ID), slog.Any("error", err))
		}
	}
	s.logger.Info("movement posted",
		slog.String("kind", string(evt.Kind)),
		slog.String("id", evt.ID),
		slog.Int64("units", evt.Units()),
	)
}

func (s *Service) record(ctx context.Context, log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("inventory audit failed", slog.String("entity_id", log.EntityID), slog.Any("error", err))
	}
}

func entityFor(kind MovementKind) string {
	if kind == MovementInbound {
		return "inbound"
	}
	return "transfer"
}

func canSeeTransfer(actor shared.Actor, t Transfer) bool {
	switch {
	case actor.IsSuperUser():
		return true
	case actor.HasFacility():
		return t.Involves(actor.FacilityID)
	case actor.Role == shared.RoleWarehouse:
		return t.FromWarehouse()
	}
	return false
}

// resolveItems looks up each distinct code once.
func resolveItems(ctx context.Context, tx TxRepository, codes []string) (map[string]itemRef, error) {
	items := make(map[string]itemRef, len(codes))
	for _, code := range codes {
		if _, ok := items[code]; ok {
			continue
		}
		item, err := tx.ResolveItem(ctx, code)
		if err != nil {
			return nil, err
		}
		items[code] = item
	}
	return items, nil
}

// byItem returns line indexes ordered by item id so concurrent movements
// lock ledger rows in the same order.
func byItem(lines []LineInput, items map[string]itemRef) []int {
	order := make([]int, len(lines))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return items[lines[order[a]].ItemCode].ID < items[lines[order[b]].ItemCode].ID
	})
	return order
}

// allocateFEFO splits quantity over lots already sorted by expiry. It
// returns nil allocations and the available total when lots are short.
func allocateFEFO(lots []WarehouseLot, quantity int64) ([]Allocation, int64) {
	var available int64
	for _, lot := range lots {
		available += lot.Quantity
	}
	if available < quantity {
		return nil, available
	}
	var allocs []Allocation
	remaining := quantity
	for _, lot := range lots {
		if remaining == 0 {
			break
		}
		take := min(lot.Quantity, remaining)
		if take <= 0 {
			continue
		}
		allocs = append(allocs, Allocation{
			LotID:      lot.ID,
			BatchNo:    lot.BatchNo,
			ExpiryDate: Day(lot.ExpiryDate),
			Quantity:   take,
		})
		remaining -= take
	}
	return allocs, available
}

func lineCodes(lines []LineInput) []string {
	codes := make([]string, len(lines))
	for i, line := range lines {
		codes[i] = line.ItemCode
	}
	return codes
}

// normaliseLines returns trimmed copies; the caller's slice is left alone.
func normaliseLines(lines []LineInput) []LineInput {
	out := make([]LineInput, len(lines))
	for i, line := range lines {
		line.ItemCode = strings.TrimSpace(line.ItemCode)
		out[i] = line
	}
	return out
}

func checkInput(input any) error {
	err := validate.Struct(input)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return validationf("%v", err)
	}
	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		ns := fe.Namespace()
		if idx := strings.IndexByte(ns, '.'); idx >= 0 {
			ns = ns[idx+1:]
		}
		if fe.Param() != "" {
			problems = append(problems, fmt.Sprintf("%s must be %s %s", ns, fe.Tag(), fe.Param()))
		} else {
			problems = append(problems, fmt.Sprintf("%s is %s", ns, fe.Tag()))
		}
	}
	return validationf("%s", strings.Join(problems, "; "))
}
