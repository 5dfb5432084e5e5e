package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/p2p/internal/platform/db"
	"github.com/odyssey-erp/p2p/internal/shared"
	"github.com/odyssey-erp/p2p/internal/workflow"
)

// Repository provides Postgres backed persistence for schedules.
type Repository struct {
	pool     *pgxpool.Pool
	registry *workflow.Registry
	audit    *shared.AuditLogger
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, registry *workflow.Registry, audit *shared.AuditLogger) *Repository {
	return &Repository{pool: pool, registry: registry, audit: audit}
}

// Tx binds schedule operations to a transaction owned by another repository.
func (r *Repository) Tx(tx pgx.Tx) TxRepository {
	return &txRepo{q: tx, registry: r.registry, audit: r.audit}
}

// WithTx implements RepositoryPort.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, r.Tx(tx))
	})
	return workflow.MapTxError(err)
}

// GetSchedule implements RepositoryPort.
func (r *Repository) GetSchedule(ctx context.Context, poNumber string) (Schedule, error) {
	return loadSchedule(ctx, r.pool, poNumber, false)
}

type txRepo struct {
	q        db.Querier
	registry *workflow.Registry
	audit    *shared.AuditLogger
}

func (t *txRepo) LockPurchaseOrder(ctx context.Context, poNumber string) (PurchaseOrder, error) {
	var po PurchaseOrder
	var statusID int
	err := t.q.QueryRow(ctx, `SELECT number, status_id, currency, total_amount FROM purchase_orders
WHERE number=$1 AND is_active FOR UPDATE`, poNumber).Scan(&po.Number, &statusID, &po.Currency, &po.Total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, fmt.Errorf("billing: PO %s: %w", poNumber, shared.ErrNotFound)
		}
		return PurchaseOrder{}, workflow.MapTxError(err)
	}
	po.Status, err = t.registry.Decode(statusID)
	if err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

func (t *txRepo) LockSchedule(ctx context.Context, poNumber string) (Schedule, error) {
	return loadSchedule(ctx, t.q, poNumber, true)
}

func (t *txRepo) ActiveReceipts(ctx context.Context, poNumber string) ([]Receipt, error) {
	rows, err := t.q.Query(ctx, `SELECT amount, received_at FROM goods_receipt_lines
WHERE po_number=$1 AND is_active ORDER BY received_at, po_item_id`, poNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var receipts []Receipt
	for rows.Next() {
		var r Receipt
		if err := rows.Scan(&r.Amount, &r.ReceivedAt); err != nil {
			return nil, err
		}
		receipts = append(receipts, r)
	}
	return receipts, rows.Err()
}

func (t *txRepo) ReplaceSchedule(ctx context.Context, po PurchaseOrder, typ ScheduleType, entries []Entry) ([]Entry, error) {
	var locked int
	if err := t.q.QueryRow(ctx, `SELECT COUNT(*) FROM payment_schedule_entries
WHERE po_number=$1 AND (status <> 'OPEN' OR invoiced > 0)`, po.Number).Scan(&locked); err != nil {
		return nil, err
	}
	if locked > 0 {
		return nil, fmt.Errorf("billing: PO %s schedule has billed or cancelled entries: %w", po.Number, shared.ErrConflict)
	}
	if _, err := t.q.Exec(ctx, `DELETE FROM payment_schedule_entries WHERE po_number=$1`, po.Number); err != nil {
		return nil, err
	}
	if _, err := t.q.Exec(ctx, `INSERT INTO payment_schedules (po_number, schedule_type, configured_at) VALUES ($1, $2, NOW())
ON CONFLICT (po_number) DO UPDATE SET schedule_type=EXCLUDED.schedule_type, configured_at=EXCLUDED.configured_at`, po.Number, string(typ)); err != nil {
		return nil, err
	}
	out := make([]Entry, len(entries))
	for i, e := range entries {
		err := t.q.QueryRow(ctx, `INSERT INTO payment_schedule_entries
(po_number, sequence, entry_type, value_type, value, target, eligible, invoiced, status, start_date, end_date, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW()) RETURNING id`,
			po.Number, e.Sequence, string(e.Type), string(e.ValueType), e.Value, e.Target, e.Eligible, e.Invoiced, string(e.Status), e.StartDate, e.EndDate).Scan(&e.ID)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

func (t *txRepo) UpdateEntry(ctx context.Context, entry Entry, expected EntryStatus) error {
	tag, err := t.q.Exec(ctx, `UPDATE payment_schedule_entries
SET eligible=$3, invoiced=$4, status=$5, cancelled_at=$6, remark=$7, updated_at=NOW()
WHERE id=$1 AND status=$2`, entry.ID, string(expected), entry.Eligible, entry.Invoiced, string(entry.Status), entry.CancelledAt, entry.Remark)
	if err != nil {
		return workflow.MapTxError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("billing: entry %d no longer %s: %w", entry.ID, expected, shared.ErrConflict)
	}
	return nil
}

func (t *txRepo) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	return t.audit.Record(ctx, t.q, log)
}

func loadSchedule(ctx context.Context, q db.Querier, poNumber string, lock bool) (Schedule, error) {
	s := Schedule{PONumber: poNumber}
	var typ *string
	err := q.QueryRow(ctx, `SELECT po.currency, po.total_amount, ps.schedule_type
FROM purchase_orders po LEFT JOIN payment_schedules ps ON ps.po_number = po.number
WHERE po.number=$1 AND po.is_active`, poNumber).Scan(&s.Currency, &s.Total, &typ)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Schedule{}, fmt.Errorf("billing: PO %s: %w", poNumber, shared.ErrNotFound)
		}
		return Schedule{}, workflow.MapTxError(err)
	}
	if typ == nil {
		return Schedule{}, fmt.Errorf("billing: PO %s has no payment schedule: %w", poNumber, shared.ErrConfigurationMissing)
	}
	s.Type = ScheduleType(*typ)
	query := `SELECT id, sequence, entry_type, value_type, value, target, eligible, invoiced, status,
start_date, end_date, cancelled_at, COALESCE(remark, '')
FROM payment_schedule_entries WHERE po_number=$1 ORDER BY sequence`
	if lock {
		query += " FOR UPDATE"
	}
	rows, err := q.Query(ctx, query, poNumber)
	if err != nil {
		return Schedule{}, workflow.MapTxError(err)
	}
	defer rows.Close()
	for rows.Next() {
		e := Entry{PONumber: poNumber}
		var entryType, valueType, status string
		var value, target, eligible, invoiced decimal.Decimal
		if err := rows.Scan(&e.ID, &e.Sequence, &entryType, &valueType, &value, &target, &eligible, &invoiced, &status,
			&e.StartDate, &e.EndDate, &e.CancelledAt, &e.Remark); err != nil {
			return Schedule{}, err
		}
		e.Type, e.ValueType, e.Status = ScheduleType(entryType), ValueType(valueType), EntryStatus(status)
		e.Value, e.Target, e.Eligible, e.Invoiced = value, target, eligible, invoiced
		s.Entries = append(s.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return Schedule{}, err
	}
	if len(s.Entries) == 0 {
		return Schedule{}, fmt.Errorf("billing: PO %s has no payment schedule: %w", poNumber, shared.ErrConfigurationMissing)
	}
	return s, nil
}
