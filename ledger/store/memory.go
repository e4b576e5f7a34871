// Package store provides an in-memory ledger.Store for tests and local runs.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/supplier-ledger/ledger"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory keeps suppliers, procurements and ledger entries in maps.
// Transactions hold the write lock for their whole duration and are rolled
// back by restoring a snapshot.
type Memory struct {
	mu   sync.RWMutex
	data memoryData
}

type memoryData struct {
	suppliers    map[ledger.SupplierID]ledger.Supplier
	procurements map[ledger.ProcurementID]ledger.Procurement
	entries      map[ledger.EntryID]ledger.Entry
}

var _ ledger.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{data: memoryData{
		suppliers:    make(map[ledger.SupplierID]ledger.Supplier),
		procurements: make(map[ledger.ProcurementID]ledger.Procurement),
		entries:      make(map[ledger.EntryID]ledger.Entry),
	}}
}

func (m *Memory) GetSupplier(ctx context.Context, id ledger.SupplierID) (ledger.Supplier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.getSupplier(id)
}

func (m *Memory) ListSuppliers(ctx context.Context) ([]ledger.Supplier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.listSuppliers(), nil
}

func (m *Memory) GetProcurement(ctx context.Context, id ledger.ProcurementID) (ledger.Procurement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.getProcurement(id)
}

func (m *Memory) ListProcurements(ctx context.Context, filter ledger.ProcurementFilter) ([]ledger.Procurement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.listProcurements(filter), nil
}

func (m *Memory) EntriesBySupplier(ctx context.Context, id ledger.SupplierID) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.entriesWhere(func(e ledger.Entry) bool { return e.SupplierID == id }), nil
}

func (m *Memory) EntriesByProcurement(ctx context.Context, id ledger.ProcurementID) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.entriesWhere(func(e ledger.Entry) bool { return e.ProcurementID == id }), nil
}

// WithTx executes fn within a transaction, simulated with a snapshot and a
// rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()
	if err := fn(ctx, &txMemoryView{data: &m.data}); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

// txMemoryView runs with the parent's write lock already held.
type txMemoryView struct {
	data *memoryData
}

func (tv *txMemoryView) GetSupplier(_ context.Context, id ledger.SupplierID) (ledger.Supplier, error) {
	return tv.data.getSupplier(id)
}

func (tv *txMemoryView) ListSuppliers(context.Context) ([]ledger.Supplier, error) {
	return tv.data.listSuppliers(), nil
}

func (tv *txMemoryView) GetProcurement(_ context.Context, id ledger.ProcurementID) (ledger.Procurement, error) {
	return tv.data.getProcurement(id)
}

func (tv *txMemoryView) ListProcurements(_ context.Context, filter ledger.ProcurementFilter) ([]ledger.Procurement, error) {
	return tv.data.listProcurements(filter), nil
}

func (tv *txMemoryView) EntriesBySupplier(_ context.Context, id ledger.SupplierID) ([]ledger.Entry, error) {
	return tv.data.entriesWhere(func(e ledger.Entry) bool { return e.SupplierID == id }), nil
}

func (tv *txMemoryView) EntriesByProcurement(_ context.Context, id ledger.ProcurementID) ([]ledger.Entry, error) {
	return tv.data.entriesWhere(func(e ledger.Entry) bool { return e.ProcurementID == id }), nil
}

func (tv *txMemoryView) SaveSupplier(_ context.Context, s ledger.Supplier) error {
	tv.data.suppliers[s.ID] = s
	return nil
}

func (tv *txMemoryView) SaveProcurement(_ context.Context, p ledger.Procurement) error {
	tv.data.procurements[p.ID] = copyProcurement(p)
	return nil
}

func (tv *txMemoryView) DeleteProcurement(_ context.Context, id ledger.ProcurementID) error {
	if _, ok := tv.data.procurements[id]; !ok {
		return ledger.ProcurementNotFound(id)
	}
	delete(tv.data.procurements, id)
	return nil
}

func (tv *txMemoryView) SaveEntry(_ context.Context, e ledger.Entry) error {
	tv.data.entries[e.ID] = copyEntry(e)
	return nil
}

// =============================================================================
// HELPERS (callers hold the lock)
// =============================================================================

func (d *memoryData) getSupplier(id ledger.SupplierID) (ledger.Supplier, error) {
	s, ok := d.suppliers[id]
	if !ok {
		return ledger.Supplier{}, ledger.SupplierNotFound(id)
	}
	return s, nil
}

func (d *memoryData) listSuppliers() []ledger.Supplier {
	out := make([]ledger.Supplier, 0, len(d.suppliers))
	for _, s := range d.suppliers {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (d *memoryData) getProcurement(id ledger.ProcurementID) (ledger.Procurement, error) {
	p, ok := d.procurements[id]
	if !ok {
		return ledger.Procurement{}, ledger.ProcurementNotFound(id)
	}
	return copyProcurement(p), nil
}

func (d *memoryData) listProcurements(filter ledger.ProcurementFilter) []ledger.Procurement {
	var out []ledger.Procurement
	for _, p := range d.procurements {
		if filter.Matches(p) {
			out = append(out, copyProcurement(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PurchaseDate.Equal(out[j].PurchaseDate) {
			return out[i].PurchaseDate.After(out[j].PurchaseDate)
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (d *memoryData) entriesWhere(match func(ledger.Entry) bool) []ledger.Entry {
	var out []ledger.Entry
	for _, e := range d.entries {
		if match(e) {
			out = append(out, copyEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (d *memoryData) clone() memoryData {
	c := memoryData{
		suppliers:    make(map[ledger.SupplierID]ledger.Supplier, len(d.suppliers)),
		procurements: make(map[ledger.ProcurementID]ledger.Procurement, len(d.procurements)),
		entries:      make(map[ledger.EntryID]ledger.Entry, len(d.entries)),
	}
	for k, v := range d.suppliers {
		c.suppliers[k] = v
	}
	for k, v := range d.procurements {
		c.procurements[k] = copyProcurement(v)
	}
	for k, v := range d.entries {
		c.entries[k] = copyEntry(v)
	}
	return c
}

// copyProcurement detaches the slices and pointers so callers cannot mutate
// stored state.
func copyProcurement(p ledger.Procurement) ledger.Procurement {
	if p.Items != nil {
		p.Items = append([]ledger.LineItem(nil), p.Items...)
	}
	if p.Payment != nil {
		payment := *p.Payment
		p.Payment = &payment
	}
	if p.Delivery != nil {
		delivery := *p.Delivery
		p.Delivery = &delivery
	}
	return p
}

func copyEntry(e ledger.Entry) ledger.Entry {
	if e.DeletedAt != nil {
		at := *e.DeletedAt
		e.DeletedAt = &at
	}
	return e
}
