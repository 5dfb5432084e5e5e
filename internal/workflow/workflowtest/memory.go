// Package workflowtest provides an in-memory workflow store for tests of
// packages that drive the engine.
package workflowtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/p2p/internal/shared"
	"github.com/odyssey-erp/p2p/internal/workflow"
)

type entityKey struct {
	kind   workflow.Kind
	number string
}

type stepKey struct {
	entityKey
	step workflow.Status
}

// Memory implements workflow.Repository and workflow.AssignmentStore.
// Transactions are serialised by mu; assignments have their own lock so the
// authorizer can read them while a transaction is open.
type Memory struct {
	mu         sync.Mutex
	amu        sync.RWMutex
	statuses   map[entityKey]workflow.Status
	owners     map[entityKey]int64
	approvers  map[stepKey][]int64
	history    map[entityKey][]workflow.HistoryEntry
	effects    []workflow.Effect
	dispatched map[int64]time.Time
	nextID     int64
}

// NewMemory constructs an empty store.
func NewMemory() *Memory {
	return &Memory{
		statuses:   make(map[entityKey]workflow.Status),
		owners:     make(map[entityKey]int64),
		approvers:  make(map[stepKey][]int64),
		history:    make(map[entityKey][]workflow.HistoryEntry),
		dispatched: make(map[int64]time.Time),
	}
}

// Seed registers an entity with its current status and owner.
func (m *Memory) Seed(kind workflow.Kind, number string, status workflow.Status, owner int64) {
	m.mu.Lock()
	m.statuses[entityKey{kind, number}] = status
	m.mu.Unlock()
	m.setOwner(kind, number, owner)
}

func (m *Memory) setOwner(kind workflow.Kind, number string, owner int64) {
	m.amu.Lock()
	defer m.amu.Unlock()
	m.owners[entityKey{kind, number}] = owner
}

// Assign makes approvers responsible for the pending step.
func (m *Memory) Assign(kind workflow.Kind, number string, step workflow.Status, approvers ...int64) {
	m.amu.Lock()
	defer m.amu.Unlock()
	k := stepKey{entityKey{kind, number}, step}
	m.approvers[k] = append(m.approvers[k], approvers...)
}

// Status returns the committed status.
func (m *Memory) Status(kind workflow.Kind, number string) workflow.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statuses[entityKey{kind, number}]
}

// Effects returns every outbox row.
func (m *Memory) Effects() []workflow.Effect {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]workflow.Effect(nil), m.effects...)
}

// Begin starts a transaction. The caller must Commit or Rollback it.
func (m *Memory) Begin() *Tx {
	m.mu.Lock()
	return &Tx{m: m, statuses: make(map[entityKey]workflow.Status), history: make(map[entityKey][]workflow.HistoryEntry)}
}

// WithTx implements workflow.Repository.
func (m *Memory) WithTx(ctx context.Context, fn func(context.Context, workflow.TxRepository) error) error {
	tx := m.Begin()
	if err := fn(ctx, tx); err != nil {
		tx.Rollback()
		return err
	}
	tx.Commit()
	return nil
}

// CurrentStatus implements workflow.Repository.
func (m *Memory) CurrentStatus(_ context.Context, kind workflow.Kind, number string) (workflow.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.statuses[entityKey{kind, number}]
	if !ok {
		return "", fmt.Errorf("%s %s: %w", kind, number, shared.ErrNotFound)
	}
	return status, nil
}

// History implements workflow.Repository.
func (m *Memory) History(ctx context.Context, kind workflow.Kind, number string) ([]workflow.HistoryEntry, error) {
	if _, err := m.CurrentStatus(ctx, kind, number); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]workflow.HistoryEntry(nil), m.history[entityKey{kind, number}]...), nil
}

// PendingEffects implements workflow.Repository.
func (m *Memory) PendingEffects(_ context.Context, limit int) ([]workflow.Effect, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []workflow.Effect
	for _, e := range m.effects {
		if _, done := m.dispatched[e.ID]; done {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// MarkEffectDispatched implements workflow.Repository.
func (m *Memory) MarkEffectDispatched(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, done := m.dispatched[id]; !done {
		m.dispatched[id] = at
	}
	return nil
}

// Owner implements workflow.AssignmentStore.
func (m *Memory) Owner(_ context.Context, kind workflow.Kind, number string) (int64, error) {
	m.amu.RLock()
	defer m.amu.RUnlock()
	owner, ok := m.owners[entityKey{kind, number}]
	if !ok {
		return 0, fmt.Errorf("%s %s: %w", kind, number, shared.ErrNotFound)
	}
	return owner, nil
}

// Approvers implements workflow.AssignmentStore.
func (m *Memory) Approvers(_ context.Context, kind workflow.Kind, number string, step workflow.Status) ([]int64, error) {
	m.amu.RLock()
	defer m.amu.RUnlock()
	ids := append([]int64(nil), m.approvers[stepKey{entityKey{kind, number}, step}]...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Tx stages writes until Commit.
type Tx struct {
	m        *Memory
	statuses map[entityKey]workflow.Status
	history  map[entityKey][]workflow.HistoryEntry
	effects  []workflow.Effect
	closed   bool
}

// Seed creates an entity inside the transaction, as an aggregate insert would.
func (t *Tx) Seed(kind workflow.Kind, number string, status workflow.Status, owner int64) {
	t.statuses[entityKey{kind, number}] = status
	t.m.setOwner(kind, number, owner)
}

// CurrentStatus implements workflow.TxRepository.
func (t *Tx) CurrentStatus(_ context.Context, kind workflow.Kind, number string) (workflow.Status, error) {
	k := entityKey{kind, number}
	if status, ok := t.statuses[k]; ok {
		return status, nil
	}
	status, ok := t.m.statuses[k]
	if !ok {
		return "", fmt.Errorf("%s %s: %w", kind, number, shared.ErrNotFound)
	}
	return status, nil
}

// CompareAndSetStatus implements workflow.TxRepository.
func (t *Tx) CompareAndSetStatus(ctx context.Context, kind workflow.Kind, number string, from, to workflow.Status) error {
	current, err := t.CurrentStatus(ctx, kind, number)
	if err != nil {
		return err
	}
	if current != from {
		return fmt.Errorf("%s %s no longer %s: %w", kind, number, from, shared.ErrConflict)
	}
	t.statuses[entityKey{kind, number}] = to
	return nil
}

// AppendHistory implements workflow.TxRepository.
func (t *Tx) AppendHistory(_ context.Context, entry workflow.HistoryEntry) (workflow.HistoryEntry, error) {
	k := entityKey{entry.Kind, entry.Number}
	entry.Sequence = len(t.m.history[k]) + len(t.history[k]) + 1
	t.history[k] = append(t.history[k], entry)
	return entry, nil
}

// InsertEffect implements workflow.TxRepository.
func (t *Tx) InsertEffect(_ context.Context, effect workflow.Effect) (int64, error) {
	for _, existing := range append(t.m.effects, t.effects...) {
		if existing.Key() == effect.Key() {
			return 0, fmt.Errorf("effect %s: %w", effect.Key(), shared.ErrConflict)
		}
	}
	t.m.nextID++
	effect.ID = t.m.nextID
	t.effects = append(t.effects, effect)
	return effect.ID, nil
}

// Commit applies staged writes and releases the store.
func (t *Tx) Commit() {
	if t.closed {
		return
	}
	for k, status := range t.statuses {
		t.m.statuses[k] = status
	}
	for k, entries := range t.history {
		t.m.history[k] = append(t.m.history[k], entries...)
	}
	t.m.effects = append(t.m.effects, t.effects...)
	t.closed = true
	t.m.mu.Unlock()
}

// Rollback discards staged writes and releases the store.
func (t *Tx) Rollback() {
	if t.closed {
		return
	}
	t.closed = true
	t.m.mu.Unlock()
}
