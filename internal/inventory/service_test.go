package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/apotheca/apotheca/internal/shared"
)

var (
	warehouseUser = shared.Actor{UserID: 10, Role: shared.RoleWarehouse}
	adminF1       = shared.Actor{UserID: 20, Role: shared.RoleAdmin, FacilityID: 1}
	adminF2       = shared.Actor{UserID: 21, Role: shared.RoleAdmin, FacilityID: 2}
	root          = shared.Actor{UserID: 1, Role: shared.RoleSuperuser}
)

func day(t *testing.T, raw string) time.Time {
	t.Helper()
	d, err := ParseDay(raw)
	require.NoError(t, err)
	return d
}

// newFixture seeds item 00001 with lot B1 (2025-01-01, 100) and active
// facilities 1 and 2.
func newFixture() (*memoryRepo, int64) {
	repo := newMemoryRepo().addItems("00001", "00002").addFacility(1, true).addFacility(2, true)
	lot := repo.addLot("00001", "B1", "2025-01-01", 100)
	return repo, lot
}

func supply(qty int64) SupplyInput {
	return SupplyInput{
		Actor:                 warehouseUser,
		DestinationFacilityID: 1,
		Lines:                 []LineInput{{ItemCode: "00001", Quantity: qty}},
	}
}

func TestSupplyToFacility(t *testing.T) {
	repo, lotID := newFixture()
	svc := NewService(repo, nil, nil, ServiceConfig{}, nil)

	tr, err := svc.SupplyToFacility(context.Background(), supply(30))
	require.NoError(t, err)
	require.Equal(t, "00001", tr.ID)
	require.Equal(t, KindSupply, tr.Kind)
	require.Equal(t, WarehouseID, tr.SourceFacilityID)
	require.EqualValues(t, 1, tr.DestinationFacilityID)
	require.Equal(t, StatusPending, tr.Status)
	require.EqualValues(t, warehouseUser.UserID, tr.CreatedBy)

	require.Len(t, tr.Lines, 1)
	require.Equal(t, "00001", tr.Lines[0].ItemCode)
	require.EqualValues(t, 30, tr.Lines[0].Quantity)
	require.Equal(t, []Allocation{{LotID: lotID, BatchNo: "B1", ExpiryDate: day(t, "2025-01-01"), Quantity: 30}}, tr.Lines[0].Allocations)

	require.EqualValues(t, 70, repo.lot(lotID).Quantity)
	qty, ok := repo.facilityQty(1, "00001")
	require.True(t, ok)
	require.EqualValues(t, 30, qty)
}

func TestMovementsLeaveCallerLinesUntouched(t *testing.T) {
	repo, _ := newFixture()
	repo.setStock(1, "00001", 30)
	svc := NewService(repo, nil, nil, ServiceConfig{}, nil)
	ctx := context.Background()

	lines := []LineInput{{ItemCode: " 00001 ", Quantity: 5}}
	_, err := svc.SupplyToFacility(ctx, SupplyInput{Actor: warehouseUser, DestinationFacilityID: 1, Lines: lines})
	require.NoError(t, err)
	_, err = svc.TransferBetweenFacilities(ctx, TransferInput{Actor: adminF1, SourceFacilityID: 1, DestinationFacilityID: 2, Lines: lines})
	require.NoError(t, err)
	require.Equal(t, " 00001 ", lines[0].ItemCode)

	inbound := []InboundLineInput{{ItemCode: "00002 ", BatchNo: " N1", ExpiryDate: day(t, "2026-05-01"), Quantity: 3}}
	_, err = svc.ReceiveInbound(ctx, InboundInput{
		Actor: warehouseUser, Supplier: "S", InvoiceNo: "X", InvoiceDate: day(t, "2024-01-01"), Lines: inbound,
	})
	require.NoError(t, err)
	require.Equal(t, "00002 ", inbound[0].ItemCode)
	require.Equal(t, " N1", inbound[0].BatchNo)
}

func TestSupplyInsufficientStockLeavesLedgerUntouched(t *testing.T) {
	repo, lotID := newFixture()
	svc := NewService(repo, nil, nil, ServiceConfig{}, nil)

	_, err := svc.SupplyToFacility(context.Background(), supply(150))
	require.ErrorIs(t, err, ErrInsufficientStock)

	e, ok := AsError(err)
	require.True(t, ok)
	require.EqualValues(t, 100, e.Available)
	require.EqualValues(t, 150, e.Requested)
	require.Equal(t, "00001", e.ItemCode)

	require.EqualValues(t, 100, repo.lot(lotID).Quantity)
	_, ok = repo.facilityQty(1, "00001")
	require.False(t, ok)
	_, transfers := repo.counts()
	require.Zero(t, transfers)
}

func TestReceiveInboundIncrementsBatch(t *testing.T) {
	repo, lotID := newFixture()
	svc := NewService(repo, nil, nil, ServiceConfig{}, nil)
	ctx := context.Background()

	_, err := svc.SupplyToFacility(ctx, supply(30))
	require.NoError(t, err)

	in, err := svc.ReceiveInbound(ctx, InboundInput{
		Actor:       warehouseUser,
		Supplier:    "Ernest Chemists",
		InvoiceNo:   "INV-204",
		InvoiceDate: day(t, "2024-11-02"),
		Lines:       []InboundLineInput{{ItemCode: "00001", BatchNo: "B1", ExpiryDate: day(t, "2025-01-01"), Quantity: 50}},
	})
	require.NoError(t, err)
	require.Equal(t, "00001", in.ID)
	require.Equal(t, lotID, in.Lines[0].LotID)
	require.EqualValues(t, 120, repo.lot(lotID).Quantity)

	_, err = svc.ReceiveInbound(ctx, InboundInput{
		Actor:       warehouseUser,
		Supplier:    "Ernest Chemists",
		InvoiceNo:   "INV-205",
		InvoiceDate: day(t, "2024-11-03"),
		Lines:       []InboundLineInput{{ItemCode: "00001", BatchNo: "B1", ExpiryDate: day(t, "2025-02-01"), Quantity: 50}},
	})
	require.ErrorIs(t, err, ErrConflict)
	require.EqualValues(t, 120, repo.lot(lotID).Quantity)
	inbounds, _ := repo.counts()
	require.Equal(t, 1, inbounds)

	got, err := svc.GetInbound(ctx, in.ID)
	require.NoError(t, err)
	require.Equal(t, "INV-204", got.InvoiceNo)
}

func TestReceiveInboundCreatesLotsAndRollsBackOnConflict(t *testing.T) {
	repo, lotID := newFixture()
	svc := NewService(repo, nil, nil, ServiceConfig{}, nil)
	ctx := context.Background()

	_, err := svc.ReceiveInbound(ctx, InboundInput{
		Supplier:    "Tobinco",
		InvoiceNo:   "T-1",
		InvoiceDate: day(t, "2024-12-01"),
		Lines: []InboundLineInput{
			{ItemCode: "00002", BatchNo: "N1", ExpiryDate: day(t, "2026-05-01"), Quantity: 40},
			{ItemCode: "00001", BatchNo: "B1", ExpiryDate: day(t, "2025-03-01"), Quantity: 10},
		},
	})
	require.ErrorIs(t, err, ErrConflict)

	lots, err := svc.WarehouseStock(ctx, "00002")
	require.NoError(t, err)
	require.Empty(t, lots, "new lot of the aborted inbound must not persist")
	require.EqualValues(t, 100, repo.lot(lotID).Quantity)

	in, err := svc.ReceiveInbound(ctx, InboundInput{
		Supplier:    "Tobinco",
		InvoiceNo:   "T-1",
		InvoiceDate: day(t, "2024-12-01"),
		Lines:       []InboundLineInput{{ItemCode: "00002", BatchNo: "N1", ExpiryDate: day(t, "2026-05-01"), Quantity: 40}},
	})
	require.NoError(t, err)
	require.Equal(t, "00001", in.ID, "aborted inbound must not consume an id")

	lots, err = svc.WarehouseStock(ctx, "00002")
	require.NoError(t, err)
	require.Len(t, lots, 1)
	require.EqualValues(t, 40, lots[0].Quantity)
}

func TestTransferSameFacilityRejectedBeforeStorage(t *testing.T) {
	repo, _ := newFixture()
	svc := NewService(repo, nil, nil, ServiceConfig{}, nil)

	_, err := svc.TransferBetweenFacilities(context.Background(), TransferInput{
		Actor:                 adminF1,
		SourceFacilityID:      1,
		DestinationFacilityID: 1,
		Lines:                 []LineInput{{ItemCode: "00001", Quantity: 5}},
	})
	require.ErrorIs(t, err, ErrSameFacility)
	require.Zero(t, repo.txs)
}

func TestTransferBetweenFacilities(t *testing.T) {
	repo, _ := newFixture()
	repo.addFacility(3, true).addFacility(4, false)
	repo.setStock(1, "00001", 30)
	svc := NewService(repo, nil, nil, ServiceConfig{}, nil)
	ctx := context.Background()

	tr, err := svc.TransferBetweenFacilities(ctx, TransferInput{
		Actor:                 adminF1,
		SourceFacilityID:      1,
		DestinationFacilityID: 2,
		Lines:                 []LineInput{{ItemCode: "00001", Quantity: 10}},
	})
	require.NoError(t, err)
	require.Equal(t, KindTransfer, tr.Kind)
	require.Empty(t, tr.Lines[0].Allocations)
	src, _ := repo.facilityQty(1, "00001")
	dst, _ := repo.facilityQty(2, "00001")
	require.EqualValues(t, 20, src)
	require.EqualValues(t, 10, dst)

	// Destination with a lower id than the source takes the credit first.
	_, err = svc.TransferBetweenFacilities(ctx, TransferInput{
		Actor: adminF2, SourceFacilityID: 2, DestinationFacilityID: 1,
		Lines: []LineInput{{ItemCode: "00001", Quantity: 4}},
	})
	require.NoError(t, err)
	src, _ = repo.facilityQty(1, "00001")
	dst, _ = repo.facilityQty(2, "00001")
	require.EqualValues(t, 24, src)
	require.EqualValues(t, 6, dst)

	_, err = svc.TransferBetweenFacilities(ctx, TransferInput{
		SourceFacilityID: 1, DestinationFacilityID: 2,
		Lines: []LineInput{{ItemCode: "00001", Quantity: 25}},
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
	e, _ := AsError(err)
	require.EqualValues(t, 24, e.Available)

	_, err = svc.TransferBetweenFacilities(ctx, TransferInput{
		SourceFacilityID: 3, DestinationFacilityID: 1,
		Lines: []LineInput{{ItemCode: "00001", Quantity: 1}},
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
	e, _ = AsError(err)
	require.Zero(t, e.Available)
	_, ok := repo.facilityQty(1, "00002")
	require.False(t, ok)

	_, err = svc.TransferBetweenFacilities(ctx, TransferInput{
		SourceFacilityID: 1, DestinationFacilityID: 9,
		Lines: []LineInput{{ItemCode: "00001", Quantity: 1}},
	})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = svc.TransferBetweenFacilities(ctx, TransferInput{
		SourceFacilityID: 1, DestinationFacilityID: 4,
		Lines: []LineInput{{ItemCode: "00001", Quantity: 1}},
	})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.TransferBetweenFacilities(ctx, TransferInput{
		SourceFacilityID: 1, DestinationFacilityID: 2,
		Lines: []LineInput{{ItemCode: "77777", Quantity: 1}},
	})
	require.ErrorIs(t, err, ErrNotFound)
	e, _ = AsError(err)
	require.Equal(t, "77777", e.ItemCode)

	require.EqualValues(t, 130, repo.total("00001"))
}

func TestSupplyDrawsEarliestExpiryFirst(t *testing.T) {
	repo := newMemoryRepo().addItems("00001").addFacility(1, true)
	late := repo.addLot("00001", "B2", "2025-03-01", 10)
	early := repo.addLot("00001", "B1", "2025-01-01", 5)
	sameDay := repo.addLot("00001", "A9", "2025-03-01", 10)
	svc := NewService(repo, nil, nil, ServiceConfig{}, nil)

	tr, err := svc.SupplyToFacility(context.Background(), supply(12))
	require.NoError(t, err)
	allocs := tr.Lines[0].Allocations
	require.Len(t, allocs, 2)
	require.Equal(t, early, allocs[0].LotID)
	require.EqualValues(t, 5, allocs[0].Quantity)
	require.Equal(t, sameDay, allocs[1].LotID, "batch number breaks expiry ties")
	require.EqualValues(t, 7, allocs[1].Quantity)

	require.Zero(t, repo.lot(early).Quantity)
	require.EqualValues(t, 3, repo.lot(sameDay).Quantity)
	require.EqualValues(t, 10, repo.lot(late).Quantity)

	lots, err := svc.WarehouseStock(context.Background(), "00001")
	require.NoError(t, err)
	require.Equal(t, []string{"B1", "A9", "B2"}, []string{lots[0].BatchNo, lots[1].BatchNo, lots[2].BatchNo})
}

func TestSkipExpiredLots(t *testing.T) {
	repo := newMemoryRepo().addItems("00001").addFacility(1, true)
	repo.addLot("00001", "OLD", "2025-01-01", 100)
	fresh := repo.addLot("00001", "NEW", "2026-01-01", 20)
	now := func() time.Time { return time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC) }
	svc := NewService(repo, nil, nil, ServiceConfig{SkipExpiredLots: true, Now: now}, nil)

	_, err := svc.SupplyToFacility(context.Background(), supply(30))
	require.ErrorIs(t, err, ErrInsufficientStock)
	e, _ := AsError(err)
	require.EqualValues(t, 20, e.Available)

	tr, err := svc.SupplyToFacility(context.Background(), supply(20))
	require.NoError(t, err)
	require.Equal(t, fresh, tr.Lines[0].Allocations[0].LotID)
}

func TestMovementValidation(t *testing.T) {
	repo, _ := newFixture()
	svc := NewService(repo, nil, nil, ServiceConfig{}, nil)
	ctx := context.Background()

	_, err := svc.SupplyToFacility(ctx, SupplyInput{DestinationFacilityID: 1})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.SupplyToFacility(ctx, supply(0))
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.SupplyToFacility(ctx, SupplyInput{Lines: []LineInput{{ItemCode: "00001", Quantity: 1}}})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.ReceiveInbound(ctx, InboundInput{
		InvoiceNo: "X", InvoiceDate: day(t, "2024-01-01"),
		Lines: []InboundLineInput{{ItemCode: "00001", BatchNo: "B1", ExpiryDate: day(t, "2025-01-01"), Quantity: 1}},
	})
	require.ErrorIs(t, err, ErrValidation, "supplier required")

	_, err = svc.ReceiveInbound(ctx, InboundInput{
		Supplier: "S", InvoiceNo: "X", InvoiceDate: day(t, "2024-01-01"),
		Lines: []InboundLineInput{{ItemCode: "00001", BatchNo: "  ", ExpiryDate: day(t, "2025-01-01"), Quantity: 1}},
	})
	require.ErrorIs(t, err, ErrValidation, "batch required")

	_, err = svc.ReceiveInbound(ctx, InboundInput{
		Supplier: "S", InvoiceNo: "X", InvoiceDate: day(t, "2024-01-01"),
		Lines: []InboundLineInput{{ItemCode: "00001", BatchNo: "B1", Quantity: 1}},
	})
	require.ErrorIs(t, err, ErrValidation, "expiry required")

	_, err = svc.TransferBetweenFacilities(ctx, TransferInput{SourceFacilityID: 1, DestinationFacilityID: 2})
	require.ErrorIs(t, err, ErrValidation)

	require.Zero(t, repo.txs)
}

func TestSupplyToInactiveOrUnknownFacility(t *testing.T) {
	repo, lotID := newFixture()
	repo.addFacility(5, false)
	svc := NewService(repo, nil, nil, ServiceConfig{}, nil)

	in := supply(10)
	in.DestinationFacilityID = 5
	_, err := svc.SupplyToFacility(context.Background(), in)
	require.ErrorIs(t, err, ErrValidation)

	in.DestinationFacilityID = 6
	_, err = svc.SupplyToFacility(context.Background(), in)
	require.ErrorIs(t, err, ErrNotFound)

	in = supply(10)
	in.Lines[0].ItemCode = "99999"
	_, err = svc.SupplyToFacility(context.Background(), in)
	require.ErrorIs(t, err, ErrNotFound)

	require.EqualValues(t, 100, repo.lot(lotID).Quantity)
}

func TestFailedMovementPersistsNothing(t *testing.T) {
	repo, lotID := newFixture()
	repo.addLot("00002", "C1", "2025-05-05", 5)
	audit := &recordingAudit{}
	svc := NewService(repo, audit, nil, ServiceConfig{}, nil)
	ctx := context.Background()

	_, err := svc.SupplyToFacility(ctx, SupplyInput{
		DestinationFacilityID: 1,
		Lines: []LineInput{
			{ItemCode: "00001", Quantity: 40},
			{ItemCode: "00002", Quantity: 6},
		},
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.EqualValues(t, 100, repo.lot(lotID).Quantity)
	_, ok := repo.facilityQty(1, "00001")
	require.False(t, ok)

	repo.failInsert = true
	_, err = svc.SupplyToFacility(ctx, supply(10))
	require.ErrorIs(t, err, errInjected)
	require.EqualValues(t, 100, repo.lot(lotID).Quantity)
	require.Empty(t, audit.actions())

	tr, err := svc.SupplyToFacility(ctx, supply(10))
	require.NoError(t, err)
	require.Equal(t, "00001", tr.ID)
	require.Equal(t, []string{"inventory:supply"}, audit.actions())
}

func TestRequestKeyMakesMovementsIdempotent(t *testing.T) {
	repo, lotID := newFixture()
	idem := newMemoryIdempotency()
	audit := &recordingAudit{}
	svc := NewService(repo, audit, idem, ServiceConfig{}, nil)
	ctx := context.Background()

	in := supply(10)
	in.RequestKey = "req-1"
	_, err := svc.SupplyToFacility(ctx, in)
	require.NoError(t, err)
	require.Len(t, audit.logs, 1)
	require.Equal(t, "req-1", audit.logs[0].CorrelationID)

	_, err = svc.SupplyToFacility(ctx, in)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.EqualValues(t, 90, repo.lot(lotID).Quantity)

	failing := supply(500)
	failing.RequestKey = "req-2"
	_, err = svc.SupplyToFacility(ctx, failing)
	require.ErrorIs(t, err, ErrInsufficientStock)

	failing.Lines[0].Quantity = 5
	_, err = svc.SupplyToFacility(ctx, failing)
	require.NoError(t, err, "key of a failed movement is released")
	require.EqualValues(t, 85, repo.lot(lotID).Quantity)
}

func TestUpdateTransferStatus(t *testing.T) {
	repo, _ := newFixture()
	audit := &recordingAudit{}
	svc := NewService(repo, audit, nil, ServiceConfig{}, nil)
	ctx := context.Background()

	tr, err := svc.SupplyToFacility(ctx, supply(10))
	require.NoError(t, err)

	_, err = svc.UpdateTransferStatus(ctx, adminF2, tr.ID, StatusInProgress)
	require.ErrorIs(t, err, ErrForbidden)

	updated, err := svc.UpdateTransferStatus(ctx, adminF1, tr.ID, StatusInProgress)
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, updated.Status)

	_, err = svc.UpdateTransferStatus(ctx, adminF1, tr.ID, StatusPending)
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.UpdateTransferStatus(ctx, adminF1, tr.ID, TransferStatus("LOST"))
	require.ErrorIs(t, err, ErrValidation)

	updated, err = svc.UpdateTransferStatus(ctx, root, tr.ID, StatusCompleted)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, updated.Status)

	_, err = svc.UpdateTransferStatus(ctx, root, "99999", StatusCompleted)
	require.ErrorIs(t, err, ErrNotFound)

	got, err := svc.GetTransfer(ctx, adminF1, tr.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
	require.Contains(t, audit.actions(), "inventory:transfer_status")
}

func TestStatusTransitions(t *testing.T) {
	require.True(t, StatusPending.CanAdvanceTo(StatusInProgress))
	require.True(t, StatusPending.CanAdvanceTo(StatusCompleted))
	require.True(t, StatusInProgress.CanAdvanceTo(StatusCompleted))
	require.False(t, StatusCompleted.CanAdvanceTo(StatusCompleted))
	require.False(t, StatusInProgress.CanAdvanceTo(StatusPending))

	status, err := ParseTransferStatus(" in_progress ")
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, status)
	_, err = ParseTransferStatus("STATUS_SHIPPED")
	require.ErrorIs(t, err, ErrValidation)
}

func TestTransferVisibility(t *testing.T) {
	repo, _ := newFixture()
	repo.addFacility(3, true)
	repo.setStock(2, "00002", 10)
	svc := NewService(repo, nil, nil, ServiceConfig{}, nil)
	ctx := context.Background()

	sup, err := svc.SupplyToFacility(ctx, supply(10))
	require.NoError(t, err)
	move, err := svc.TransferBetweenFacilities(ctx, TransferInput{
		SourceFacilityID: 2, DestinationFacilityID: 3,
		Lines: []LineInput{{ItemCode: "00002", Quantity: 3}},
	})
	require.NoError(t, err)

	list, total, err := svc.ListTransfers(ctx, adminF1, TransferFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, sup.ID, list[0].ID)

	_, total, err = svc.ListTransfers(ctx, root, TransferFilter{})
	require.NoError(t, err)
	require.Equal(t, 2, total)

	list, _, err = svc.ListTransfers(ctx, warehouseUser, TransferFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, KindSupply, list[0].Kind)

	_, _, err = svc.ListTransfers(ctx, shared.Actor{Role: shared.RoleStaff}, TransferFilter{})
	require.ErrorIs(t, err, ErrForbidden)

	_, err = svc.GetTransfer(ctx, adminF1, move.ID)
	require.ErrorIs(t, err, ErrForbidden)
	_, err = svc.GetTransfer(ctx, adminF2, move.ID)
	require.NoError(t, err)
	_, err = svc.GetTransfer(ctx, warehouseUser, move.ID)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestFacilityStockScoping(t *testing.T) {
	repo, _ := newFixture()
	repo.setStock(1, "00001", 5)
	svc := NewService(repo, nil, nil, ServiceConfig{}, nil)
	ctx := context.Background()

	rows, err := svc.FacilityStock(ctx, adminF1, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.EqualValues(t, 5, rows[0].Quantity)

	_, err = svc.FacilityStock(ctx, adminF2, 1)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = svc.FacilityStock(ctx, warehouseUser, 0)
	require.ErrorIs(t, err, ErrValidation)

	rows, err = svc.FacilityStock(ctx, root, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestExpiringLots(t *testing.T) {
	repo := newMemoryRepo().addItems("00001")
	repo.addLot("00001", "SOON", "2025-06-20", 3)
	repo.addLot("00001", "LATER", "2025-09-01", 3)
	repo.addLot("00001", "EMPTY", "2025-06-02", 0)
	now := func() time.Time { return time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC) }
	svc := NewService(repo, nil, nil, ServiceConfig{Now: now}, nil)

	lots, err := svc.ExpiringLots(context.Background(), 30*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, lots, 1)
	require.Equal(t, "SOON", lots[0].BatchNo)

	_, err = svc.ExpiringLots(context.Background(), -time.Hour)
	require.ErrorIs(t, err, ErrValidation)
}

func TestListenersAndSummaryCache(t *testing.T) {
	repo, _ := newFixture()
	cache, _ := newTestCache(t)
	var events []MovementEvent
	record := ListenerFunc(func(ctx context.Context, evt MovementEvent) error {
		events = append(events, evt)
		return nil
	})
	failing := ListenerFunc(func(context.Context, MovementEvent) error { return errors.New("downstream") })
	svc := NewService(repo, nil, nil, ServiceConfig{Cache: cache}, Listeners{record, cache, failing})
	ctx := context.Background()

	summary, err := svc.StockSummary(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 100, summary[0].Quantity)

	_, err = svc.SupplyToFacility(ctx, supply(25))
	require.NoError(t, err, "listener failures do not undo a committed movement")

	summary, err = svc.StockSummary(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 75, summary[0].Quantity)

	require.Len(t, events, 1)
	require.Equal(t, MovementSupply, events[0].Kind)
	require.EqualValues(t, 25, events[0].Units())
}

func TestMetricsCountMovements(t *testing.T) {
	repo, _ := newFixture()
	reg := prometheus.NewRegistry()
	svc := NewService(repo, nil, nil, ServiceConfig{Metrics: NewMetrics(reg)}, nil)
	ctx := context.Background()

	_, err := svc.SupplyToFacility(ctx, supply(10))
	require.NoError(t, err)
	_, err = svc.SupplyToFacility(ctx, supply(1000))
	require.Error(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				values[mf.GetName()] += c.GetValue()
			}
		}
	}
	require.Equal(t, 1.0, values["apotheca_inventory_movements_total"])
	require.Equal(t, 10.0, values["apotheca_inventory_units_moved_total"])
	require.Equal(t, 1.0, values["apotheca_inventory_movement_failures_total"])
}

func TestConcurrentSuppliesConserveStock(t *testing.T) {
	repo, lotID := newFixture()
	svc := NewService(repo, nil, nil, ServiceConfig{}, nil)
	ctx := context.Background()

	var g errgroup.Group
	results := make([]error, 50)
	for i := range results {
		g.Go(func() error {
			_, results[i] = svc.SupplyToFacility(ctx, supply(3))
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var ok, short int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInsufficientStock):
			short++
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	require.Equal(t, 33, ok)
	require.Equal(t, 17, short)
	require.EqualValues(t, 1, repo.lot(lotID).Quantity)
	qty, _ := repo.facilityQty(1, "00001")
	require.EqualValues(t, 99, qty)
	require.EqualValues(t, 100, repo.total("00001"))

	seen := map[string]bool{}
	list, _, err := svc.ListTransfers(ctx, root, TransferFilter{})
	require.NoError(t, err)
	for _, tr := range list {
		require.False(t, seen[tr.ID])
		seen[tr.ID] = true
	}
	require.Len(t, seen, 33)
}

func TestConcurrentTransfersConserveStock(t *testing.T) {
	repo, _ := newFixture()
	repo.setStock(1, "00001", 50)
	repo.setStock(2, "00001", 50)
	svc := NewService(repo, nil, nil, ServiceConfig{}, nil)
	ctx := context.Background()

	var g errgroup.Group
	for i := 0; i < 40; i++ {
		src, dst := int64(1), int64(2)
		if i%2 == 1 {
			src, dst = dst, src
		}
		g.Go(func() error {
			_, err := svc.TransferBetweenFacilities(ctx, TransferInput{
				SourceFacilityID: src, DestinationFacilityID: dst,
				Lines: []LineInput{{ItemCode: "00001", Quantity: 7}},
			})
			if err != nil && !errors.Is(err, ErrInsufficientStock) {
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	a, _ := repo.facilityQty(1, "00001")
	b, _ := repo.facilityQty(2, "00001")
	require.GreaterOrEqual(t, a, int64(0))
	require.GreaterOrEqual(t, b, int64(0))
	require.EqualValues(t, 100, a+b)
}
