package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/apotheca/apotheca/internal/platform/db"
	"github.com/apotheca/apotheca/internal/sequence"
	"github.com/apotheca/apotheca/internal/shared"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the ledger operations a movement performs inside its
// transaction. Quantity changes are applied by the database relative to the
// stored value.
type TxRepository interface {
	ResolveItem(ctx context.Context, code string) (itemRef, error)
	LockFacility(ctx context.Context, id int64) (facilityRef, error)
	LockOrCreateLot(ctx context.Context, item itemRef, batchNo string, expiry time.Time) (WarehouseLot, error)
	LockLots(ctx context.Context, item itemRef, expiringFrom *time.Time) ([]WarehouseLot, error)
	AdjustLot(ctx context.Context, lotID, delta int64) (int64, error)
	AdjustFacilityStock(ctx context.Context, facilityID int64, item itemRef, delta int64) (int64, error)
	FacilityQuantity(ctx context.Context, facilityID int64, item itemRef) (int64, error)
	NextID(ctx context.Context, seq sequence.Sequence) (string, error)
	InsertInbound(ctx context.Context, in Inbound, items map[string]itemRef) error
	InsertTransfer(ctx context.Context, t Transfer, items map[string]itemRef) error
	LockTransfer(ctx context.Context, id string) (Transfer, error)
	SetTransferStatus(ctx context.Context, id string, status TransferStatus) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx runs fn in a read committed transaction. Row locks and guarded
// updates provide the isolation movements need.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("inventory: repository not initialised")
	}
	return db.WithTxOptions(ctx, r.pool, db.LedgerTxOptions, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *txRepository) ResolveItem(ctx context.Context, code string) (itemRef, error) {
	var item itemRef
	err := r.tx.QueryRow(ctx, `SELECT id, code FROM catalog_items WHERE code = $1`, code).Scan(&item.ID, &item.Code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return itemRef{}, itemNotFound(code)
		}
		return itemRef{}, fmt.Errorf("inventory: resolve item %s: %w", code, err)
	}
	return item, nil
}

func (r *txRepository) LockFacility(ctx context.Context, id int64) (facilityRef, error) {
	var f facilityRef
	err := r.tx.QueryRow(ctx, `SELECT id, is_active FROM facilities WHERE id = $1 FOR SHARE`, id).Scan(&f.ID, &f.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return facilityRef{}, notFoundf("facility %d not found", id)
		}
		return facilityRef{}, fmt.Errorf("inventory: lock facility %d: %w", id, err)
	}
	return f, nil
}

const lotColumns = `l.id, l.item_id, c.code, l.batch_no, l.expiry_date, l.quantity`

func scanLot(row pgx.Row) (WarehouseLot, error) {
	var lot WarehouseLot
	err := row.Scan(&lot.ID, &lot.ItemID, &lot.ItemCode, &lot.BatchNo, &lot.ExpiryDate, &lot.Quantity)
	return lot, err
}

// LockOrCreateLot returns the locked lot for (item, batch), inserting an
// empty one with expiry when the batch is new. An existing lot keeps its own
// expiry; the caller compares it.
func (r *txRepository) LockOrCreateLot(ctx context.Context, item itemRef, batchNo string, expiry time.Time) (WarehouseLot, error) {
	_, err := r.tx.Exec(ctx, `INSERT INTO warehouse_lots (item_id, batch_no, expiry_date, quantity, created_at, updated_at)
		VALUES ($1, $2, $3, 0, NOW(), NOW())
		ON CONFLICT (item_id, batch_no) DO NOTHING`,
		item.ID, batchNo, pgtype.Date{Time: expiry, Valid: true})
	if err != nil {
		return WarehouseLot{}, fmt.Errorf("inventory: create lot %s/%s: %w", item.Code, batchNo, err)
	}
	lot, err := scanLot(r.tx.QueryRow(ctx, `SELECT `+lotColumns+`
		FROM warehouse_lots l JOIN catalog_items c ON c.id = l.item_id
		WHERE l.item_id = $1 AND l.batch_no = $2
		FOR UPDATE OF l`, item.ID, batchNo))
	if err != nil {
		return WarehouseLot{}, fmt.Errorf("inventory: lock lot %s/%s: %w", item.Code, batchNo, err)
	}
	return lot, nil
}

// LockLots locks the item's lots holding stock in earliest expiry first
// order. When expiringFrom is set, lots that expired before it are skipped.
func (r *txRepository) LockLots(ctx context.Context, item itemRef, expiringFrom *time.Time) ([]WarehouseLot, error) {
	args := []any{item.ID}
	query := `SELECT ` + lotColumns + `
		FROM warehouse_lots l JOIN catalog_items c ON c.id = l.item_id
		WHERE l.item_id = $1 AND l.quantity > 0`
	if expiringFrom != nil {
		args = append(args, pgtype.Date{Time: *expiringFrom, Valid: true})
		query += ` AND l.expiry_date >= $2`
	}
	query += ` ORDER BY l.expiry_date, l.batch_no, l.id FOR UPDATE OF l`

	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("inventory: lock lots of %s: %w", item.Code, err)
	}
	defer rows.Close()
	var lots []WarehouseLot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

// AdjustLot applies delta to a lot. A decrement that would go below zero
// matches no row and yields errShortStock.
func (r *txRepository) AdjustLot(ctx context.Context, lotID, delta int64) (int64, error) {
	var qty int64
	err := r.tx.QueryRow(ctx, `UPDATE warehouse_lots
		SET quantity = quantity + $2, updated_at = NOW()
		WHERE id = $1 AND quantity + $2 >= 0
		RETURNING quantity`, lotID, delta).Scan(&qty)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, errShortStock
		}
		return 0, fmt.Errorf("inventory: adjust lot %d: %w", lotID, err)
	}
	return qty, nil
}

// AdjustFacilityStock credits with get-or-create and debits with a guarded
// update. A debit of a missing row yields errShortStock.
func (r *txRepository) AdjustFacilityStock(ctx context.Context, facilityID int64, item itemRef, delta int64) (int64, error) {
	var qty int64
	var err error
	if delta >= 0 {
		err = r.tx.QueryRow(ctx, `INSERT INTO facility_stock (facility_id, item_id, quantity, updated_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (facility_id, item_id)
			DO UPDATE SET quantity = facility_stock.quantity + EXCLUDED.quantity, updated_at = NOW()
			RETURNING quantity`, facilityID, item.ID, delta).Scan(&qty)
	} else {
		err = r.tx.QueryRow(ctx, `UPDATE facility_stock
			SET quantity = quantity + $3, updated_at = NOW()
			WHERE facility_id = $1 AND item_id = $2 AND quantity + $3 >= 0
			RETURNING quantity`, facilityID, item.ID, delta).Scan(&qty)
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, errShortStock
		}
		return 0, fmt.Errorf("inventory: adjust facility %d stock of %s: %w", facilityID, item.Code, err)
	}
	return qty, nil
}

func (r *txRepository) FacilityQuantity(ctx context.Context, facilityID int64, item itemRef) (int64, error) {
	var qty int64
	err := r.tx.QueryRow(ctx, `SELECT quantity FROM facility_stock WHERE facility_id = $1 AND item_id = $2`,
		facilityID, item.ID).Scan(&qty)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("inventory: facility %d stock of %s: %w", facilityID, item.Code, err)
	}
	return qty, nil
}

func (r *txRepository) NextID(ctx context.Context, seq sequence.Sequence) (string, error) {
	return sequence.Next(ctx, r.tx, seq)
}

func (r *txRepository) InsertInbound(ctx context.Context, in Inbound, items map[string]itemRef) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inbounds (id, supplier, invoice_no, invoice_date, received_at, received_by)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		in.ID, in.Supplier, in.InvoiceNo, pgtype.Date{Time: in.InvoiceDate, Valid: true}, in.ReceivedAt, nullableID(in.ReceivedBy))
	if err != nil {
		return fmt.Errorf("inventory: insert inbound %s: %w", in.ID, err)
	}
	batch := &pgx.Batch{}
	for i, line := range in.Lines {
		batch.Queue(`INSERT INTO inbound_lines (inbound_id, line_no, lot_id, item_id, quantity) VALUES ($1, $2, $3, $4, $5)`,
			in.ID, i+1, line.LotID, items[line.ItemCode].ID, line.Quantity)
	}
	if err := r.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("inventory: insert inbound %s lines: %w", in.ID, err)
	}
	return nil
}

func (r *txRepository) InsertTransfer(ctx context.Context, t Transfer, items map[string]itemRef) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO transfers (id, kind, source_facility_id, destination_facility_id, status, transferred_at, created_by, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $6)`,
		t.ID, string(t.Kind), nullableID(t.SourceFacilityID), t.DestinationFacilityID, string(t.Status), t.TransferredAt, nullableID(t.CreatedBy))
	if err != nil {
		return fmt.Errorf("inventory: insert transfer %s: %w", t.ID, err)
	}
	batch := &pgx.Batch{}
	for i, line := range t.Lines {
		batch.Queue(`INSERT INTO transfer_lines (transfer_id, line_no, item_id, quantity) VALUES ($1, $2, $3, $4)`,
			t.ID, i+1, items[line.ItemCode].ID, line.Quantity)
		for _, alloc := range line.Allocations {
			batch.Queue(`INSERT INTO transfer_allocations (transfer_id, line_no, lot_id, quantity) VALUES ($1, $2, $3, $4)`,
				t.ID, i+1, alloc.LotID, alloc.Quantity)
		}
	}
	if err := r.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("inventory: insert transfer %s lines: %w", t.ID, err)
	}
	return nil
}

func (r *txRepository) LockTransfer(ctx context.Context, id string) (Transfer, error) {
	t, err := scanTransfer(r.tx.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transfer{}, notFoundf("transfer %s not found", id)
		}
		return Transfer{}, fmt.Errorf("inventory: lock transfer %s: %w", id, err)
	}
	return t, nil
}

func (r *txRepository) SetTransferStatus(ctx context.Context, id string, status TransferStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE transfers SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("inventory: set transfer %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return notFoundf("transfer %s not found", id)
	}
	return nil
}

const transferColumns = `id, kind, COALESCE(source_facility_id, 0), destination_facility_id, status, transferred_at, COALESCE(created_by, 0)`

func scanTransfer(row pgx.Row) (Transfer, error) {
	var t Transfer
	var kind, status string
	if err := row.Scan(&t.ID, &kind, &t.SourceFacilityID, &t.DestinationFacilityID, &status, &t.TransferredAt, &t.CreatedBy); err != nil {
		return Transfer{}, err
	}
	t.Kind = TransferKind(kind)
	t.Status = TransferStatus(status)
	return t, nil
}

// GetTransfer loads a transfer with its lines and lot allocations.
func (r *Repository) GetTransfer(ctx context.Context, id string) (Transfer, error) {
	t, err := scanTransfer(r.pool.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transfer{}, notFoundf("transfer %s not found", id)
		}
		return Transfer{}, fmt.Errorf("inventory: get transfer %s: %w", id, err)
	}

	rows, err := r.pool.Query(ctx, `SELECT tl.line_no, c.code, tl.quantity,
			COALESCE(a.lot_id, 0), COALESCE(l.batch_no, ''), l.expiry_date, COALESCE(a.quantity, 0)
		FROM transfer_lines tl
		JOIN catalog_items c ON c.id = tl.item_id
		LEFT JOIN transfer_allocations a ON a.transfer_id = tl.transfer_id AND a.line_no = tl.line_no
		LEFT JOIN warehouse_lots l ON l.id = a.lot_id
		WHERE tl.transfer_id = $1
		ORDER BY tl.line_no, l.expiry_date, l.batch_no`, id)
	if err != nil {
		return Transfer{}, fmt.Errorf("inventory: transfer %s lines: %w", id, err)
	}
	defer rows.Close()

	index := map[int]int{}
	for rows.Next() {
		var (
			lineNo   int
			line     TransferLine
			alloc    Allocation
			expiry   pgtype.Date
			allocQty int64
		)
		if err := rows.Scan(&lineNo, &line.ItemCode, &line.Quantity, &alloc.LotID, &alloc.BatchNo, &expiry, &allocQty); err != nil {
			return Transfer{}, err
		}
		pos, ok := index[lineNo]
		if !ok {
			pos = len(t.Lines)
			index[lineNo] = pos
			t.Lines = append(t.Lines, line)
		}
		if alloc.LotID != 0 {
			alloc.ExpiryDate = expiry.Time
			alloc.Quantity = allocQty
			t.Lines[pos].Allocations = append(t.Lines[pos].Allocations, alloc)
		}
	}
	return t, rows.Err()
}

// GetInbound loads an inbound with its lines.
func (r *Repository) GetInbound(ctx context.Context, id string) (Inbound, error) {
	var in Inbound
	var receivedBy pgtype.Int8
	err := r.pool.QueryRow(ctx, `SELECT id, supplier, invoice_no, invoice_date, received_at, received_by FROM inbounds WHERE id = $1`, id).
		Scan(&in.ID, &in.Supplier, &in.InvoiceNo, &in.InvoiceDate, &in.ReceivedAt, &receivedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Inbound{}, notFoundf("inbound %s not found", id)
		}
		return Inbound{}, fmt.Errorf("inventory: get inbound %s: %w", id, err)
	}
	in.ReceivedBy = receivedBy.Int64

	rows, err := r.pool.Query(ctx, `SELECT il.lot_id, c.code, l.batch_no, l.expiry_date, il.quantity
		FROM inbound_lines il
		JOIN warehouse_lots l ON l.id = il.lot_id
		JOIN catalog_items c ON c.id = il.item_id
		WHERE il.inbound_id = $1
		ORDER BY il.line_no`, id)
	if err != nil {
		return Inbound{}, fmt.Errorf("inventory: inbound %s lines: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var line InboundLine
		if err := rows.Scan(&line.LotID, &line.ItemCode, &line.BatchNo, &line.ExpiryDate, &line.Quantity); err != nil {
			return Inbound{}, err
		}
		in.Lines = append(in.Lines, line)
	}
	return in, rows.Err()
}

// ListTransfers returns transfer headers, newest first.
func (r *Repository) ListTransfers(ctx context.Context, filter TransferFilter) ([]Transfer, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filter.FacilityID > 0 {
		args = append(args, filter.FacilityID)
		n := strconv.Itoa(len(args))
		where += ` AND (source_facility_id = $` + n + ` OR destination_facility_id = $` + n + `)`
	}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		where += ` AND kind = $` + strconv.Itoa(len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where += ` AND status = $` + strconv.Itoa(len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transfers`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("inventory: count transfers: %w", err)
	}

	limit, offset := shared.PageWindow(filter.Page, filter.Limit)
	args = append(args, limit, offset)
	rows, err := r.pool.Query(ctx, `SELECT `+transferColumns+` FROM transfers`+where+
		` ORDER BY transferred_at DESC, id DESC LIMIT $`+strconv.Itoa(len(args)-1)+` OFFSET $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("inventory: list transfers: %w", err)
	}
	defer rows.Close()
	var out []Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

// ListLots returns every lot of an item in earliest expiry first order.
func (r *Repository) ListLots(ctx context.Context, itemCode string) ([]WarehouseLot, error) {
	return r.queryLots(ctx, `SELECT `+lotColumns+`
		FROM warehouse_lots l JOIN catalog_items c ON c.id = l.item_id
		WHERE c.code = $1
		ORDER BY l.expiry_date, l.batch_no, l.id`, itemCode)
}

// ExpiringLots returns lots with stock whose expiry is before the cutoff.
func (r *Repository) ExpiringLots(ctx context.Context, before time.Time) ([]WarehouseLot, error) {
	return r.queryLots(ctx, `SELECT `+lotColumns+`
		FROM warehouse_lots l JOIN catalog_items c ON c.id = l.item_id
		WHERE l.quantity > 0 AND l.expiry_date < $1
		ORDER BY l.expiry_date, c.code, l.batch_no`, pgtype.Date{Time: before, Valid: true})
}

func (r *Repository) queryLots(ctx context.Context, query string, args ...any) ([]WarehouseLot, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("inventory: query lots: %w", err)
	}
	defer rows.Close()
	var lots []WarehouseLot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

// ListFacilityStock returns the stock rows of a facility ordered by item code.
func (r *Repository) ListFacilityStock(ctx context.Context, facilityID int64) ([]FacilityStock, error) {
	rows, err := r.pool.Query(ctx, `SELECT fs.facility_id, fs.item_id, c.code, fs.quantity, fs.updated_at
		FROM facility_stock fs JOIN catalog_items c ON c.id = fs.item_id
		WHERE fs.facility_id = $1
		ORDER BY c.code`, facilityID)
	if err != nil {
		return nil, fmt.Errorf("inventory: facility %d stock: %w", facilityID, err)
	}
	defer rows.Close()
	var out []FacilityStock
	for rows.Next() {
		var s FacilityStock
		if err := rows.Scan(&s.FacilityID, &s.ItemID, &s.ItemCode, &s.Quantity, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// StockSummary aggregates warehouse lots per item.
func (r *Repository) StockSummary(ctx context.Context) ([]StockSummaryRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT c.code, COALESCE(SUM(l.quantity), 0)::bigint, COUNT(l.id) FILTER (WHERE l.quantity > 0),
			MIN(l.expiry_date) FILTER (WHERE l.quantity > 0)
		FROM catalog_items c JOIN warehouse_lots l ON l.item_id = c.id
		GROUP BY c.code
		ORDER BY c.code`)
	if err != nil {
		return nil, fmt.Errorf("inventory: stock summary: %w", err)
	}
	defer rows.Close()
	var out []StockSummaryRow
	for rows.Next() {
		var row StockSummaryRow
		var next pgtype.Date
		if err := rows.Scan(&row.ItemCode, &row.Quantity, &row.Lots, &next); err != nil {
			return nil, err
		}
		if next.Valid {
			row.NextExpiry = next.Time
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func nullableID(id int64) pgtype.Int8 {
	return pgtype.Int8{Int64: id, Valid: id != 0}
}
