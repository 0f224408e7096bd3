package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/apotheca/apotheca/internal/catalog"
	"github.com/apotheca/apotheca/internal/clients"
	"github.com/apotheca/apotheca/internal/facilities"
	"github.com/apotheca/apotheca/internal/inventory"
	"github.com/apotheca/apotheca/internal/shared"
	"github.com/apotheca/apotheca/jobs"
)

type stubInventory struct {
	supply   inventory.SupplyInput
	transfer inventory.TransferInput
	inbound  inventory.InboundInput
	status   inventory.TransferStatus
	err      error
}

func (s *stubInventory) ReceiveInbound(_ context.Context, input inventory.InboundInput) (inventory.Inbound, error) {
	s.inbound = input
	return inventory.Inbound{ID: "00001", Supplier: input.Supplier}, s.err
}

func (s *stubInventory) SupplyToFacility(_ context.Context, input inventory.SupplyInput) (inventory.Transfer, error) {
	s.supply = input
	if s.err != nil {
		return inventory.Transfer{}, s.err
	}
	return inventory.Transfer{ID: "00007", Kind: inventory.KindSupply, DestinationFacilityID: input.DestinationFacilityID}, nil
}

func (s *stubInventory) TransferBetweenFacilities(_ context.Context, input inventory.TransferInput) (inventory.Transfer, error) {
	s.transfer = input
	return inventory.Transfer{ID: "00008", Kind: inventory.KindTransfer}, s.err
}

func (s *stubInventory) UpdateTransferStatus(_ context.Context, _ shared.Actor, id string, status inventory.TransferStatus) (inventory.Transfer, error) {
	s.status = status
	return inventory.Transfer{ID: id, Status: status}, s.err
}

func (s *stubInventory) GetTransfer(_ context.Context, _ shared.Actor, id string) (inventory.Transfer, error) {
	return inventory.Transfer{ID: id}, s.err
}

func (s *stubInventory) WarehouseStock(_ context.Context, code string) ([]inventory.WarehouseLot, error) {
	return []inventory.WarehouseLot{{ItemCode: code, BatchNo: "B-1", Quantity: 5}}, s.err
}

func (s *stubInventory) FacilityStock(_ context.Context, _ shared.Actor, facilityID int64) ([]inventory.FacilityStock, error) {
	return []inventory.FacilityStock{{FacilityID: facilityID, Quantity: 3}}, s.err
}

func (s *stubInventory) StockSummary(context.Context) ([]inventory.StockSummaryRow, error) {
	return nil, s.err
}

type stubJobs struct{ triggered string }

func (s *stubJobs) Trigger(_ context.Context, name string) (string, error) {
	if _, err := jobs.NewTask(name); err != nil {
		return "", err
	}
	s.triggered = name
	return "task-1", nil
}

func (s *stubJobs) InspectQueue(context.Context) (jobs.QueueStatus, error) {
	return jobs.QueueStatus{Queue: jobs.QueueDefault, Pending: 2}, nil
}

type stubFacilities struct{ filters facilities.ListFilters }

func (s *stubFacilities) List(_ context.Context, filters facilities.ListFilters) ([]facilities.Facility, int, error) {
	s.filters = filters
	return []facilities.Facility{{ID: 1, Name: "Adenta", IsActive: true}}, 1, nil
}

func newTestApp(stdin string) (*App, *bytes.Buffer, *bytes.Buffer) {
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	return &App{
		Inventory:  &stubInventory{},
		Jobs:       &stubJobs{},
		Facilities: &stubFacilities{},
		Stdin:      strings.NewReader(stdin),
		Stdout:     stdout,
		Stderr:     stderr,
	}, stdout, stderr
}

var warehouseActor = shared.Actor{UserID: 1, Role: shared.RoleWarehouse}

func TestSupplyReadsStdinAndStampsActor(t *testing.T) {
	app, stdout, _ := newTestApp(`{"destination_facility_id": 4, "lines": [{"item_code": "00001", "quantity": 30}]}`)

	code := app.Run(context.Background(), warehouseActor, []string{"supply"})
	require.Equal(t, ExitOK, code)

	inv := app.Inventory.(*stubInventory)
	require.Equal(t, warehouseActor, inv.supply.Actor)
	require.Equal(t, int64(4), inv.supply.DestinationFacilityID)
	require.Len(t, inv.supply.Lines, 1)

	var out inventory.Transfer
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	require.Equal(t, "00007", out.ID)
}

func TestInboundReadsPayloadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inbound.json")
	payload := `{"supplier": "Ernest Chemists", "invoice_no": "INV-9", "invoice_date": "2026-01-10",
		"lines": [{"item_code": "00001", "batch_no": "B-1", "expiry_date": "2027-01-01", "quantity": 100}]}`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o600))

	app, _, _ := newTestApp("")
	code := app.Run(context.Background(), warehouseActor, []string{"inbound", "-f", path})
	require.Equal(t, ExitOK, code)

	inv := app.Inventory.(*stubInventory)
	require.Equal(t, "Ernest Chemists", inv.inbound.Supplier)
	require.Equal(t, time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC), inv.inbound.InvoiceDate)
	require.Equal(t, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), inv.inbound.Lines[0].ExpiryDate)
}

func TestInboundMalformedDateIsValidationError(t *testing.T) {
	app, _, stderr := newTestApp(`{"supplier": "S", "invoice_no": "INV-9", "invoice_date": "10/01/2026",
		"lines": [{"item_code": "00001", "batch_no": "B-1", "expiry_date": "2027-01-01", "quantity": 1}]}`)

	code := app.Run(context.Background(), warehouseActor, []string{"inbound"})
	require.Equal(t, ExitValidation, code)
	require.Contains(t, stderr.String(), "invalid date")
	require.Empty(t, app.Inventory.(*stubInventory).inbound.Supplier)
}

func TestCapabilityCheckedBeforeEngine(t *testing.T) {
	app, _, stderr := newTestApp(`{"source_facility_id": 1, "destination_facility_id": 2, "lines": [{"item_code": "00001", "quantity": 1}]}`)

	code := app.Run(context.Background(), warehouseActor, []string{"transfer"})
	require.Equal(t, ExitForbidden, code)
	require.Contains(t, stderr.String(), "transfer:")
	require.Zero(t, app.Inventory.(*stubInventory).transfer.SourceFacilityID)
}

func TestTransferSourceMustBeOwnFacility(t *testing.T) {
	app, _, _ := newTestApp(`{"source_facility_id": 1, "destination_facility_id": 2, "lines": [{"item_code": "00001", "quantity": 1}]}`)
	admin := shared.Actor{UserID: 2, Role: shared.RoleAdmin, FacilityID: 2}

	require.Equal(t, ExitUsage, app.Run(context.Background(), admin, []string{"transfer"}))
}

func TestMalformedPayloadIsUsageError(t *testing.T) {
	app, _, _ := newTestApp(`{"destination": 4}`)
	require.Equal(t, ExitUsage, app.Run(context.Background(), warehouseActor, []string{"supply"}))

	app, _, _ = newTestApp("")
	require.Equal(t, ExitUsage, app.Run(context.Background(), warehouseActor, []string{"launch"}))
	require.Equal(t, ExitUsage, app.Run(context.Background(), warehouseActor, nil))
}

func TestStatusCommand(t *testing.T) {
	app, stdout, _ := newTestApp("")
	admin := shared.Actor{UserID: 2, Role: shared.RoleAdmin, FacilityID: 2}

	require.Equal(t, ExitOK, app.Run(context.Background(), admin, []string{"status", "00008", "in_progress"}))
	require.Equal(t, inventory.StatusInProgress, app.Inventory.(*stubInventory).status)
	require.Contains(t, stdout.String(), `"IN_PROGRESS"`)

	require.Equal(t, ExitValidation, app.Run(context.Background(), admin, []string{"status", "00008", "shipped"}))
	require.Equal(t, ExitUsage, app.Run(context.Background(), admin, []string{"status", "00008"}))
}

func TestStockCommandVariants(t *testing.T) {
	app, stdout, _ := newTestApp("")
	staff := shared.Actor{UserID: 3, Role: shared.RoleStaff, FacilityID: 9}

	require.Equal(t, ExitOK, app.Run(context.Background(), staff, []string{"stock"}))
	require.Contains(t, stdout.String(), `"quantity": 3`)

	stdout.Reset()
	require.Equal(t, ExitOK, app.Run(context.Background(), warehouseActor, []string{"stock", "--item", "00001"}))
	require.Contains(t, stdout.String(), `"B-1"`)
}

func TestEngineErrorsMapToExitCodes(t *testing.T) {
	app, _, stderr := newTestApp(`{"destination_facility_id": 4, "lines": [{"item_code": "00001", "quantity": 30}]}`)
	app.Inventory.(*stubInventory).err = &inventory.Error{Kind: inventory.KindInsufficientStock, Message: "insufficient stock of item 00001"}

	require.Equal(t, ExitInsufficient, app.Run(context.Background(), warehouseActor, []string{"supply"}))
	require.Contains(t, stderr.String(), "insufficient stock of item 00001")
}

func TestExitCode(t *testing.T) {
	cases := map[error]int{
		nil:                                     ExitOK,
		errors.New("db down"):                   ExitFailure,
		usagef("bad"):                           ExitUsage,
		inventory.ErrSameFacility:               ExitValidation,
		inventory.ErrNotFound:                   ExitNotFound,
		fmt.Errorf("x: %w", shared.ErrNotFound): ExitNotFound,
		shared.ErrIdempotencyConflict:           ExitConflict,
		catalog.ErrDuplicate:                    ExitConflict,
		clients.ErrValidation:                   ExitValidation,
		shared.ErrForbidden:                     ExitForbidden,
	}
	for err, want := range cases {
		require.Equal(t, want, ExitCode(err), "error %v", err)
	}
}

func TestJobsCommands(t *testing.T) {
	app, stdout, _ := newTestApp("")
	root := shared.Actor{UserID: 1, Role: shared.RoleSuperuser}

	require.Equal(t, ExitOK, app.Run(context.Background(), root, []string{"jobs", "trigger", jobs.TaskExpiryScan}))
	require.Equal(t, jobs.TaskExpiryScan, app.Jobs.(*stubJobs).triggered)
	require.Contains(t, stdout.String(), `"task-1"`)

	stdout.Reset()
	require.Equal(t, ExitOK, app.Run(context.Background(), root, []string{"jobs", "inspect"}))
	require.Contains(t, stdout.String(), `"pending": 2`)

	require.Equal(t, ExitFailure, app.Run(context.Background(), root, []string{"jobs", "trigger", "mail:send"}))
	require.Equal(t, ExitForbidden, app.Run(context.Background(), warehouseActor, []string{"jobs", "inspect"}))
}

func TestFacilitiesCommand(t *testing.T) {
	app, stdout, _ := newTestApp("")

	require.Equal(t, ExitOK, app.Run(context.Background(), warehouseActor, []string{"facilities", "--active"}))
	filters := app.Facilities.(*stubFacilities).filters
	require.NotNil(t, filters.IsActive)
	require.True(t, *filters.IsActive)
	require.Contains(t, stdout.String(), `"total": 1`)
}

func TestStockSummaryHelpDescribesWarehouseTotals(t *testing.T) {
	app, _, stderr := newTestApp("")

	require.Equal(t, ExitUsage, app.Run(context.Background(), warehouseActor, []string{"stock", "-h"}))
	require.Contains(t, stderr.String(), "warehouse lot totals per item")
	require.NotContains(t, stderr.String(), "facility totals")

	require.Equal(t, ExitOK, app.Run(context.Background(), warehouseActor, []string{"stock", "--summary"}))
}
