package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/apotheca/apotheca/internal/sequence"
	"github.com/apotheca/apotheca/internal/shared"
)

type stockKey struct {
	facility int64
	item     int64
}

type memState struct {
	items      map[string]itemRef
	facilities map[int64]facilityRef
	lots       map[int64]WarehouseLot
	stock      map[stockKey]int64
	inbounds   map[string]Inbound
	transfers  map[string]Transfer
	seq        map[string]int64
	nextLot    int64
}

func (s *memState) clone() *memState {
	c := &memState{
		items:      make(map[string]itemRef, len(s.items)),
		facilities: make(map[int64]facilityRef, len(s.facilities)),
		lots:       make(map[int64]WarehouseLot, len(s.lots)),
		stock:      make(map[stockKey]int64, len(s.stock)),
		inbounds:   make(map[string]Inbound, len(s.inbounds)),
		transfers:  make(map[string]Transfer, len(s.transfers)),
		seq:        make(map[string]int64, len(s.seq)),
		nextLot:    s.nextLot,
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.facilities {
		c.facilities[k] = v
	}
	for k, v := range s.lots {
		c.lots[k] = v
	}
	for k, v := range s.stock {
		c.stock[k] = v
	}
	for k, v := range s.inbounds {
		c.inbounds[k] = v
	}
	for k, v := range s.transfers {
		c.transfers[k] = v
	}
	for k, v := range s.seq {
		c.seq[k] = v
	}
	return c
}

// memoryRepo serialises transactions and applies a transaction's changes
// only when fn succeeds, so failed movements leave no trace.
type memoryRepo struct {
	mu    sync.Mutex
	state *memState
	txs   int
	// failInsert makes the next header insert fail after ledger writes.
	failInsert bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: &memState{
		items:      make(map[string]itemRef),
		facilities: make(map[int64]facilityRef),
		lots:       make(map[int64]WarehouseLot),
		stock:      make(map[stockKey]int64),
		inbounds:   make(map[string]Inbound),
		transfers:  make(map[string]Transfer),
		seq:        make(map[string]int64),
	}}
}

func (r *memoryRepo) addItems(codes ...string) *memoryRepo {
	for _, code := range codes {
		r.state.items[code] = itemRef{ID: int64(len(r.state.items) + 1), Code: code}
	}
	return r
}

func (r *memoryRepo) addFacility(id int64, active bool) *memoryRepo {
	r.state.facilities[id] = facilityRef{ID: id, IsActive: active}
	return r
}

func (r *memoryRepo) addLot(code, batch, expiry string, qty int64) int64 {
	r.state.nextLot++
	exp, err := time.Parse(time.DateOnly, expiry)
	if err != nil {
		panic(err)
	}
	item := r.state.items[code]
	r.state.lots[r.state.nextLot] = WarehouseLot{ID: r.state.nextLot, ItemID: item.ID, ItemCode: code, BatchNo: batch, ExpiryDate: exp, Quantity: qty}
	return r.state.nextLot
}

func (r *memoryRepo) setStock(facility int64, code string, qty int64) {
	r.state.stock[stockKey{facility, r.state.items[code].ID}] = qty
}

func (r *memoryRepo) lot(id int64) WarehouseLot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.lots[id]
}

func (r *memoryRepo) facilityQty(facility int64, code string) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	qty, ok := r.state.stock[stockKey{facility, r.state.items[code].ID}]
	return qty, ok
}

// total returns all packs of code held anywhere.
func (r *memoryRepo) total(code string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	item := r.state.items[code]
	var sum int64
	for _, lot := range r.state.lots {
		if lot.ItemID == item.ID {
			sum += lot.Quantity
		}
	}
	for key, qty := range r.state.stock {
		if key.item == item.ID {
			sum += qty
		}
	}
	return sum
}

func (r *memoryRepo) counts() (inbounds, transfers int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.state.inbounds), len(r.state.transfers)
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs++
	work := r.state.clone()
	if err := fn(ctx, &memoryTx{repo: r, s: work}); err != nil {
		return err
	}
	r.state = work
	return nil
}

func (r *memoryRepo) GetInbound(ctx context.Context, id string) (Inbound, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	in, ok := r.state.inbounds[id]
	if !ok {
		return Inbound{}, notFoundf("inbound %s not found", id)
	}
	return in, nil
}

func (r *memoryRepo) GetTransfer(ctx context.Context, id string) (Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.state.transfers[id]
	if !ok {
		return Transfer{}, notFoundf("transfer %s not found", id)
	}
	return t, nil
}

func (r *memoryRepo) ListTransfers(ctx context.Context, filter TransferFilter) ([]Transfer, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Transfer
	for _, t := range r.state.transfers {
		if filter.FacilityID > 0 && !t.Involves(filter.FacilityID) {
			continue
		}
		if filter.Kind != "" && t.Kind != filter.Kind {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, len(out), nil
}

func (r *memoryRepo) ListLots(ctx context.Context, itemCode string) ([]WarehouseLot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var lots []WarehouseLot
	for _, lot := range r.state.lots {
		if lot.ItemCode == itemCode {
			lots = append(lots, lot)
		}
	}
	sortFEFO(lots)
	return lots, nil
}

func (r *memoryRepo) ListFacilityStock(ctx context.Context, facilityID int64) ([]FacilityStock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []FacilityStock
	for code, item := range r.state.items {
		if qty, ok := r.state.stock[stockKey{facilityID, item.ID}]; ok {
			out = append(out, FacilityStock{FacilityID: facilityID, ItemID: item.ID, ItemCode: code, Quantity: qty})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemCode < out[j].ItemCode })
	return out, nil
}

func (r *memoryRepo) StockSummary(ctx context.Context) ([]StockSummaryRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byCode := map[string]*StockSummaryRow{}
	for _, lot := range r.state.lots {
		row, ok := byCode[lot.ItemCode]
		if !ok {
			row = &StockSummaryRow{ItemCode: lot.ItemCode}
			byCode[lot.ItemCode] = row
		}
		row.Quantity += lot.Quantity
		if lot.Quantity > 0 {
			row.Lots++
			if row.NextExpiry.IsZero() || lot.ExpiryDate.Before(row.NextExpiry) {
				row.NextExpiry = lot.ExpiryDate
			}
		}
	}
	var out []StockSummaryRow
	for _, row := range byCode {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemCode < out[j].ItemCode })
	return out, nil
}

func (r *memoryRepo) ExpiringLots(ctx context.Context, before time.Time) ([]WarehouseLot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []WarehouseLot
	for _, lot := range r.state.lots {
		if lot.Quantity > 0 && lot.ExpiryDate.Before(before) {
			out = append(out, lot)
		}
	}
	sortFEFO(out)
	return out, nil
}

func sortFEFO(lots []WarehouseLot) {
	sort.Slice(lots, func(i, j int) bool {
		a, b := lots[i], lots[j]
		if !a.ExpiryDate.Equal(b.ExpiryDate) {
			return a.ExpiryDate.Before(b.ExpiryDate)
		}
		if a.BatchNo != b.BatchNo {
			return a.BatchNo < b.BatchNo
		}
		return a.ID < b.ID
	})
}

type memoryTx struct {
	repo *memoryRepo
	s    *memState
}

func (tx *memoryTx) ResolveItem(ctx context.Context, code string) (itemRef, error) {
	item, ok := tx.s.items[code]
	if !ok {
		return itemRef{}, itemNotFound(code)
	}
	return item, nil
}

func (tx *memoryTx) LockFacility(ctx context.Context, id int64) (facilityRef, error) {
	f, ok := tx.s.facilities[id]
	if !ok {
		return facilityRef{}, notFoundf("facility %d not found", id)
	}
	return f, nil
}

func (tx *memoryTx) LockOrCreateLot(ctx context.Context, item itemRef, batchNo string, expiry time.Time) (WarehouseLot, error) {
	for _, lot := range tx.s.lots {
		if lot.ItemID == item.ID && lot.BatchNo == batchNo {
			return lot, nil
		}
	}
	tx.s.nextLot++
	lot := WarehouseLot{ID: tx.s.nextLot, ItemID: item.ID, ItemCode: item.Code, BatchNo: batchNo, ExpiryDate: expiry}
	tx.s.lots[lot.ID] = lot
	return lot, nil
}

func (tx *memoryTx) LockLots(ctx context.Context, item itemRef, expiringFrom *time.Time) ([]WarehouseLot, error) {
	var lots []WarehouseLot
	for _, lot := range tx.s.lots {
		if lot.ItemID != item.ID || lot.Quantity <= 0 {
			continue
		}
		if expiringFrom != nil && lot.ExpiryDate.Before(*expiringFrom) {
			continue
		}
		lots = append(lots, lot)
	}
	sortFEFO(lots)
	return lots, nil
}

func (tx *memoryTx) AdjustLot(ctx context.Context, lotID, delta int64) (int64, error) {
	lot, ok := tx.s.lots[lotID]
	if !ok || lot.Quantity+delta < 0 {
		return 0, errShortStock
	}
	lot.Quantity += delta
	tx.s.lots[lotID] = lot
	return lot.Quantity, nil
}

func (tx *memoryTx) AdjustFacilityStock(ctx context.Context, facilityID int64, item itemRef, delta int64) (int64, error) {
	key := stockKey{facilityID, item.ID}
	qty, ok := tx.s.stock[key]
	if delta < 0 && (!ok || qty+delta < 0) {
		return 0, errShortStock
	}
	tx.s.stock[key] = qty + delta
	return qty + delta, nil
}

func (tx *memoryTx) FacilityQuantity(ctx context.Context, facilityID int64, item itemRef) (int64, error) {
	return tx.s.stock[stockKey{facilityID, item.ID}], nil
}

func (tx *memoryTx) NextID(ctx context.Context, seq sequence.Sequence) (string, error) {
	value, ok := tx.s.seq[seq.Name]
	if !ok {
		value = seq.Start
	} else {
		value++
	}
	tx.s.seq[seq.Name] = value
	return seq.Format(value)
}

var errInjected = errors.New("injected insert failure")

func (tx *memoryTx) InsertInbound(ctx context.Context, in Inbound, items map[string]itemRef) error {
	if tx.repo.failInsert {
		tx.repo.failInsert = false
		return errInjected
	}
	tx.s.inbounds[in.ID] = in
	return nil
}

func (tx *memoryTx) InsertTransfer(ctx context.Context, t Transfer, items map[string]itemRef) error {
	if tx.repo.failInsert {
		tx.repo.failInsert = false
		return errInjected
	}
	if _, dup := tx.s.transfers[t.ID]; dup {
		return fmt.Errorf("duplicate transfer id %s", t.ID)
	}
	tx.s.transfers[t.ID] = t
	return nil
}

func (tx *memoryTx) LockTransfer(ctx context.Context, id string) (Transfer, error) {
	t, ok := tx.s.transfers[id]
	if !ok {
		return Transfer{}, notFoundf("transfer %s not found", id)
	}
	return t, nil
}

func (tx *memoryTx) SetTransferStatus(ctx context.Context, id string, status TransferStatus) error {
	t, ok := tx.s.transfers[id]
	if !ok {
		return notFoundf("transfer %s not found", id)
	}
	t.Status = status
	tx.s.transfers[id] = t
	return nil
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{keys: make(map[string]bool)}
}

func (m *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = true
	return nil
}

func (m *memoryIdempotency) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.logs))
	for i, l := range a.logs {
		out[i] = l.Action
	}
	return out
}
