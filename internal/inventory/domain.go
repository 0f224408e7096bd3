package inventory

import (
	"fmt"
	"strings"
	"time"

	"github.com/apotheca/apotheca/internal/shared"
)

// WarehouseID is the source facility id used by supply transfers.
const WarehouseID int64 = 0

// TransferKind distinguishes warehouse supply from facility to facility moves.
type TransferKind string

const (
	// KindSupply moves stock from the warehouse to a facility.
	KindSupply TransferKind = "SUPPLY"
	// KindTransfer moves stock between two facilities.
	KindTransfer TransferKind = "TRANSFER"
)

// TransferStatus tracks the delivery of a transfer.
type TransferStatus string

const (
	StatusPending    TransferStatus = "PENDING"
	StatusInProgress TransferStatus = "IN_PROGRESS"
	StatusCompleted  TransferStatus = "COMPLETED"
)

var statusRank = map[TransferStatus]int{
	StatusPending:    0,
	StatusInProgress: 1,
	StatusCompleted:  2,
}

// ParseTransferStatus accepts the enumerated statuses, case insensitively.
func ParseTransferStatus(raw string) (TransferStatus, error) {
	status := TransferStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := statusRank[status]; !ok {
		return "", validationf("unknown transfer status %q", raw)
	}
	return status, nil
}

// CanAdvanceTo reports whether next is strictly after s. Steps may be skipped.
func (s TransferStatus) CanAdvanceTo(next TransferStatus) bool {
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	return ok && to > from
}

// WarehouseLot is the warehouse stock of one batch of an item.
type WarehouseLot struct {
	ID         int64     `json:"id"`
	ItemID     int64     `json:"item_id"`
	ItemCode   string    `json:"item_code"`
	BatchNo    string    `json:"batch_no"`
	ExpiryDate time.Time `json:"expiry_date"`
	Quantity   int64     `json:"quantity"`
}

// Expired reports whether the lot expired before day.
func (l WarehouseLot) Expired(day time.Time) bool {
	return l.ExpiryDate.Before(Day(day))
}

// FacilityStock is the stock of one item held at one facility.
type FacilityStock struct {
	FacilityID int64     `json:"facility_id"`
	ItemID     int64     `json:"item_id"`
	ItemCode   string    `json:"item_code"`
	Quantity   int64     `json:"quantity"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Inbound is a supplier delivery into the warehouse.
type Inbound struct {
	ID          string        `json:"id"`
	Supplier    string        `json:"supplier"`
	InvoiceNo   string        `json:"invoice_no"`
	InvoiceDate time.Time     `json:"invoice_date"`
	ReceivedAt  time.Time     `json:"received_at"`
	ReceivedBy  int64         `json:"received_by"`
	Lines       []InboundLine `json:"lines"`
}

// InboundLine records the quantity added to one lot.
type InboundLine struct {
	LotID      int64     `json:"lot_id"`
	ItemCode   string    `json:"item_code"`
	BatchNo    string    `json:"batch_no"`
	ExpiryDate time.Time `json:"expiry_date"`
	Quantity   int64     `json:"quantity"`
}

// Transfer is a supply or a facility to facility move.
type Transfer struct {
	ID                    string         `json:"id"`
	Kind                  TransferKind   `json:"kind"`
	SourceFacilityID      int64          `json:"source_facility_id"`
	DestinationFacilityID int64          `json:"destination_facility_id"`
	Status                TransferStatus `json:"status"`
	TransferredAt         time.Time      `json:"transferred_at"`
	CreatedBy             int64          `json:"created_by"`
	Lines                 []TransferLine `json:"lines"`
}

// FromWarehouse reports whether the transfer drew warehouse lots.
func (t Transfer) FromWarehouse() bool {
	return t.Kind == KindSupply
}

// Involves reports whether facilityID is the source or the destination.
func (t Transfer) Involves(facilityID int64) bool {
	return facilityID > 0 && (t.SourceFacilityID == facilityID || t.DestinationFacilityID == facilityID)
}

// TransferLine is one item moved by a transfer. Supply lines list the lots
// they drew from.
type TransferLine struct {
	ItemCode    string       `json:"item_code"`
	Quantity    int64        `json:"quantity"`
	Allocations []Allocation `json:"allocations,omitempty"`
}

// Allocation is the quantity a supply line took from one lot.
type Allocation struct {
	LotID      int64     `json:"lot_id"`
	BatchNo    string    `json:"batch_no"`
	ExpiryDate time.Time `json:"expiry_date"`
	Quantity   int64     `json:"quantity"`
}

// InboundInput describes a supplier delivery.
type InboundInput struct {
	Actor       shared.Actor       `json:"-"`
	RequestKey  string             `json:"request_key,omitempty"`
	Supplier    string             `json:"supplier" validate:"required,max=255"`
	InvoiceNo   string             `json:"invoice_no" validate:"required,max=100"`
	InvoiceDate time.Time          `json:"invoice_date" validate:"required"`
	Lines       []InboundLineInput `json:"lines" validate:"required,min=1,dive"`
}

// InboundLineInput is one received batch.
type InboundLineInput struct {
	ItemCode   string    `json:"item_code" validate:"required"`
	BatchNo    string    `json:"batch_no" validate:"required,max=20"`
	ExpiryDate time.Time `json:"expiry_date" validate:"required"`
	Quantity   int64     `json:"quantity" validate:"gt=0"`
}

// LineInput requests a quantity of one item.
type LineInput struct {
	ItemCode string `json:"item_code" validate:"required"`
	Quantity int64  `json:"quantity" validate:"gt=0"`
}

// SupplyInput moves stock from the warehouse to a facility.
type SupplyInput struct {
	Actor                 shared.Actor `json:"-"`
	RequestKey            string       `json:"request_key,omitempty"`
	DestinationFacilityID int64        `json:"destination_facility_id" validate:"gt=0"`
	Lines                 []LineInput  `json:"lines" validate:"required,min=1,dive"`
}

// TransferInput moves stock between two facilities.
type TransferInput struct {
	Actor                 shared.Actor `json:"-"`
	RequestKey            string       `json:"request_key,omitempty"`
	SourceFacilityID      int64        `json:"source_facility_id" validate:"gt=0"`
	DestinationFacilityID int64        `json:"destination_facility_id" validate:"gt=0"`
	Lines                 []LineInput  `json:"lines" validate:"required,min=1,dive"`
}

// TransferFilter narrows transfer listings.
type TransferFilter struct {
	FacilityID int64
	Kind       TransferKind
	Status     TransferStatus
	Page       int
	Limit      int
}

// StockSummaryRow aggregates the warehouse stock of one item.
type StockSummaryRow struct {
	ItemCode   string    `json:"item_code"`
	Quantity   int64     `json:"quantity"`
	Lots       int       `json:"lots"`
	NextExpiry time.Time `json:"next_expiry,omitempty"`
}

// itemRef is a catalog item resolved inside a movement.
type itemRef struct {
	ID   int64
	Code string
}

// facilityRef is a facility locked inside a movement.
type facilityRef struct {
	ID       int64
	IsActive bool
}

// Day truncates t to its calendar date in UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD calendar date.
func ParseDay(raw string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, validationf("invalid date %q", raw)
	}
	return t, nil
}

func facilityLabel(id int64) string {
	if id == WarehouseID {
		return "warehouse"
	}
	return fmt.Sprintf("facility %d", id)
}
