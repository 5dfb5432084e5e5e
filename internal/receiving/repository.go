package receiving

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/p2p/internal/billing"
	"github.com/odyssey-erp/p2p/internal/platform/db"
	"github.com/odyssey-erp/p2p/internal/shared"
	"github.com/odyssey-erp/p2p/internal/workflow"
)

// Repository provides Postgres persistence for GRN lines.
type Repository struct {
	pool     *pgxpool.Pool
	billing  *billing.Repository
	workflow *workflow.PGRepository
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, billingRepo *billing.Repository, workflowRepo *workflow.PGRepository) *Repository {
	return &Repository{pool: pool, billing: billingRepo, workflow: workflowRepo}
}

// WithTx implements RepositoryPort.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, billing: r.billing.Tx(tx), workflow: r.workflow.Tx(tx)})
	})
	return workflow.MapTxError(err)
}

// ActiveLines implements RepositoryPort.
func (r *Repository) ActiveLines(ctx context.Context, poNumber string) ([]Line, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT true FROM purchase_orders WHERE number=$1 AND is_active`, poNumber).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("receiving: PO %s: %w", poNumber, shared.ErrNotFound)
		}
		return nil, err
	}
	return listLines(ctx, r.pool, poNumber)
}

type txRepo struct {
	tx       pgx.Tx
	billing  billing.TxRepository
	workflow workflow.TxRepository
}

func (t *txRepo) Billing() billing.TxRepository   { return t.billing }
func (t *txRepo) Workflow() workflow.TxRepository { return t.workflow }

func (t *txRepo) LockPurchaseOrder(ctx context.Context, poNumber string) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := t.tx.QueryRow(ctx, `SELECT number, COALESCE(pr_number, '') FROM purchase_orders
WHERE number=$1 AND is_active FOR UPDATE`, poNumber).Scan(&po.Number, &po.PRNumber)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, fmt.Errorf("receiving: PO %s: %w", poNumber, shared.ErrNotFound)
		}
		return PurchaseOrder{}, workflow.MapTxError(err)
	}
	return po, nil
}

func (t *txRepo) ListPOItems(ctx context.Context, poNumber string) ([]POItem, error) {
	rows, err := t.tx.Query(ctx, `SELECT id, item_code, description, unit, currency, unit_price, quantity
FROM purchase_order_items WHERE po_number=$1 AND is_active ORDER BY line_no`, poNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []POItem
	for rows.Next() {
		var item POItem
		if err := rows.Scan(&item.ID, &item.ItemCode, &item.Description, &item.Unit, &item.Currency, &item.UnitPrice, &item.Quantity); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (t *txRepo) ListLines(ctx context.Context, poNumber string) ([]Line, error) {
	return listLines(ctx, t.tx, poNumber)
}

func (t *txRepo) UpsertLine(ctx context.Context, line Line) (Line, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO goods_receipt_lines
(po_number, po_item_id, item_code, description, unit, currency, unit_price, ordered_qty, actual_received, amount, remark, received_at, is_active, created_by, updated_by, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, TRUE, $13, $13, NOW())
ON CONFLICT (po_number, po_item_id) DO UPDATE SET
	actual_received = EXCLUDED.actual_received,
	amount = EXCLUDED.actual_received * goods_receipt_lines.unit_price,
	remark = EXCLUDED.remark,
	received_at = CASE WHEN goods_receipt_lines.is_active THEN goods_receipt_lines.received_at ELSE EXCLUDED.received_at END,
	is_active = TRUE,
	updated_by = EXCLUDED.updated_by,
	updated_at = NOW()
RETURNING id, item_code, description, unit, currency, unit_price, ordered_qty, amount, received_at`,
		line.PONumber, line.POItemID, line.ItemCode, line.Description, line.Unit, line.Currency, line.UnitPrice,
		line.Ordered, line.ActualReceived, line.Amount, line.Remark, line.ReceivedAt, line.UpdatedBy,
	).Scan(&line.ID, &line.ItemCode, &line.Description, &line.Unit, &line.Currency, &line.UnitPrice, &line.Ordered, &line.Amount, &line.ReceivedAt)
	if err != nil {
		return Line{}, workflow.MapTxError(err)
	}
	return line, nil
}

func (t *txRepo) BilledQuantities(ctx context.Context, poNumber string) (map[int64]decimal.Decimal, error) {
	rows, err := t.tx.Query(ctx, `SELECT g.po_item_id, SUM(il.quantity)
FROM invoice_lines il
JOIN invoices i ON i.id = il.invoice_id
JOIN goods_receipt_lines g ON g.id = il.grn_line_id
WHERE g.po_number=$1 AND i.status IN ('DRAFT', 'POSTED')
GROUP BY g.po_item_id`, poNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]decimal.Decimal)
	for rows.Next() {
		var itemID int64
		var qty decimal.Decimal
		if err := rows.Scan(&itemID, &qty); err != nil {
			return nil, err
		}
		out[itemID] = qty
	}
	return out, rows.Err()
}

// listLines returns current lines only; soft-deleted rows are never billable.
func listLines(ctx context.Context, q db.Querier, poNumber string) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, po_number, po_item_id, item_code, description, unit, currency, unit_price, ordered_qty,
actual_received, amount, COALESCE(remark, ''), received_at, is_active, updated_by
FROM goods_receipt_lines WHERE po_number=$1 AND is_active ORDER BY po_item_id`, poNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.PONumber, &l.POItemID, &l.ItemCode, &l.Description, &l.Unit, &l.Currency, &l.UnitPrice,
			&l.Ordered, &l.ActualReceived, &l.Amount, &l.Remark, &l.ReceivedAt, &l.IsActive, &l.UpdatedBy); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}
