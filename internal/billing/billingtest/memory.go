// Package billingtest provides an in-memory schedule store for tests.
package billingtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/odyssey-erp/p2p/internal/billing"
	"github.com/odyssey-erp/p2p/internal/shared"
)

type poState struct {
	po       billing.PurchaseOrder
	typ      billing.ScheduleType
	entries  []billing.Entry
	receipts []billing.Receipt
}

// Memory implements billing.RepositoryPort. Transactions are serialised by one mutex
// and work on a copy that Commit writes back.
type Memory struct {
	mu     sync.Mutex
	pos    map[string]*poState
	audits []shared.AuditLog
	nextID int64
}

// NewMemory constructs an empty store.
func NewMemory() *Memory {
	return &Memory{pos: make(map[string]*poState)}
}

// SeedPO registers a PO header.
func (m *Memory) SeedPO(po billing.PurchaseOrder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.pos[po.Number]
	if !ok {
		state = &poState{}
		m.pos[po.Number] = state
	}
	state.po = po
}

// SetReceipts replaces the active receipts of a PO.
func (m *Memory) SetReceipts(poNumber string, receipts ...billing.Receipt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state, ok := m.pos[poNumber]; ok {
		state.receipts = append([]billing.Receipt(nil), receipts...)
	}
}

// Audits returns recorded audit rows.
func (m *Memory) Audits() []shared.AuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]shared.AuditLog(nil), m.audits...)
}

// Begin starts a transaction. The caller must Commit or Rollback it.
func (m *Memory) Begin() *Tx {
	m.mu.Lock()
	staged := make(map[string]*poState, len(m.pos))
	for k, v := range m.pos {
		cp := *v
		cp.entries = append([]billing.Entry(nil), v.entries...)
		staged[k] = &cp
	}
	return &Tx{m: m, pos: staged, nextID: m.nextID}
}

// WithTx implements billing.RepositoryPort.
func (m *Memory) WithTx(ctx context.Context, fn func(context.Context, billing.TxRepository) error) error {
	tx := m.Begin()
	if err := fn(ctx, tx); err != nil {
		tx.Rollback()
		return err
	}
	tx.Commit()
	return nil
}

// GetSchedule implements billing.RepositoryPort.
func (m *Memory) GetSchedule(_ context.Context, poNumber string) (billing.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return schedule(m.pos, poNumber)
}

func schedule(pos map[string]*poState, poNumber string) (billing.Schedule, error) {
	state, ok := pos[poNumber]
	if !ok {
		return billing.Schedule{}, fmt.Errorf("PO %s: %w", poNumber, shared.ErrNotFound)
	}
	if state.typ == "" || len(state.entries) == 0 {
		return billing.Schedule{}, fmt.Errorf("PO %s: %w", poNumber, shared.ErrConfigurationMissing)
	}
	return billing.Schedule{
		PONumber: poNumber,
		Type:     state.typ,
		Currency: state.po.Currency,
		Total:    state.po.Total,
		Entries:  append([]billing.Entry(nil), state.entries...),
	}, nil
}

// Tx implements billing.TxRepository.
type Tx struct {
	m      *Memory
	pos    map[string]*poState
	audits []shared.AuditLog
	nextID int64
	closed bool
}

// LockPurchaseOrder implements billing.TxRepository.
func (t *Tx) LockPurchaseOrder(_ context.Context, poNumber string) (billing.PurchaseOrder, error) {
	state, ok := t.pos[poNumber]
	if !ok {
		return billing.PurchaseOrder{}, fmt.Errorf("PO %s: %w", poNumber, shared.ErrNotFound)
	}
	return state.po, nil
}

// LockSchedule implements billing.TxRepository.
func (t *Tx) LockSchedule(_ context.Context, poNumber string) (billing.Schedule, error) {
	return schedule(t.pos, poNumber)
}

// ActiveReceipts implements billing.TxRepository.
func (t *Tx) ActiveReceipts(_ context.Context, poNumber string) ([]billing.Receipt, error) {
	state, ok := t.pos[poNumber]
	if !ok {
		return nil, nil
	}
	return append([]billing.Receipt(nil), state.receipts...), nil
}

// ReplaceSchedule implements billing.TxRepository.
func (t *Tx) ReplaceSchedule(_ context.Context, po billing.PurchaseOrder, typ billing.ScheduleType, entries []billing.Entry) ([]billing.Entry, error) {
	state, ok := t.pos[po.Number]
	if !ok {
		return nil, fmt.Errorf("PO %s: %w", po.Number, shared.ErrNotFound)
	}
	for _, e := range state.entries {
		if e.Status != billing.EntryOpen || e.Invoiced.IsPositive() {
			return nil, fmt.Errorf("PO %s schedule is billed: %w", po.Number, shared.ErrConflict)
		}
	}
	out := make([]billing.Entry, len(entries))
	for i, e := range entries {
		t.nextID++
		e.ID = t.nextID
		out[i] = e
	}
	state.typ = typ
	state.entries = append([]billing.Entry(nil), out...)
	return out, nil
}

// UpdateEntry implements billing.TxRepository.
func (t *Tx) UpdateEntry(_ context.Context, entry billing.Entry, expected billing.EntryStatus) error {
	state, ok := t.pos[entry.PONumber]
	if !ok {
		return fmt.Errorf("PO %s: %w", entry.PONumber, shared.ErrNotFound)
	}
	for i, e := range state.entries {
		if e.ID != entry.ID {
			continue
		}
		if e.Status != expected {
			return fmt.Errorf("entry %d no longer %s: %w", entry.ID, expected, shared.ErrConflict)
		}
		state.entries[i] = entry
		return nil
	}
	return fmt.Errorf("entry %d: %w", entry.ID, shared.ErrNotFound)
}

// RecordAudit implements billing.TxRepository.
func (t *Tx) RecordAudit(_ context.Context, log shared.AuditLog) error {
	t.audits = append(t.audits, log)
	return nil
}

// Commit writes staged state back and releases the store.
func (t *Tx) Commit() {
	if t.closed {
		return
	}
	t.m.pos = t.pos
	t.m.audits = append(t.m.audits, t.audits...)
	t.m.nextID = t.nextID
	t.closed = true
	t.m.mu.Unlock()
}

// Rollback discards staged state and releases the store.
func (t *Tx) Rollback() {
	if t.closed {
		return
	}
	t.closed = true
	t.m.mu.Unlock()
}
