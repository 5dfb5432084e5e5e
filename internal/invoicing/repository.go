package invoicing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/p2p/internal/billing"
	"github.com/odyssey-erp/p2p/internal/platform/db"
	"github.com/odyssey-erp/p2p/internal/shared"
	"github.com/odyssey-erp/p2p/internal/workflow"
)

// Repository provides Postgres persistence for invoices.
type Repository struct {
	pool     *pgxpool.Pool
	billing  *billing.Repository
	workflow *workflow.PGRepository
	audit    *shared.AuditLogger
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, billingRepo *billing.Repository, workflowRepo *workflow.PGRepository, audit *shared.AuditLogger) *Repository {
	return &Repository{pool: pool, billing: billingRepo, workflow: workflowRepo, audit: audit}
}

// WithTx implements RepositoryPort.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, billing: r.billing.Tx(tx), workflow: r.workflow.Tx(tx), audit: r.audit})
	})
	return workflow.MapTxError(err)
}

// GetInvoice implements RepositoryPort.
func (r *Repository) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	return getInvoice(ctx, r.pool, id, false)
}

// ListInvoices implements RepositoryPort.
func (r *Repository) ListInvoices(ctx context.Context, poNumber string) ([]Invoice, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM invoices WHERE po_number=$1 ORDER BY id`, poNumber)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	invoices := make([]Invoice, 0, len(ids))
	for _, id := range ids {
		inv, err := getInvoice(ctx, r.pool, id, false)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, nil
}

type txRepo struct {
	tx       pgx.Tx
	billing  billing.TxRepository
	workflow workflow.TxRepository
	audit    *shared.AuditLogger
}

func (t *txRepo) Billing() billing.TxRepository   { return t.billing }
func (t *txRepo) Workflow() workflow.TxRepository { return t.workflow }

func (t *txRepo) LockPurchaseOrder(ctx context.Context, poNumber string) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := t.tx.QueryRow(ctx, `SELECT number, vendor_code, vendor_name, currency FROM purchase_orders
WHERE number=$1 AND is_active FOR UPDATE`, poNumber).Scan(&po.Number, &po.VendorCode, &po.VendorName, &po.Currency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, fmt.Errorf("invoicing: PO %s: %w", poNumber, shared.ErrNotFound)
		}
		return PurchaseOrder{}, workflow.MapTxError(err)
	}
	return po, nil
}

// ActiveReceiptLines runs under the PO row lock taken by LockPurchaseOrder, so
// the billed sums cannot move until the transaction ends.
func (t *txRepo) ActiveReceiptLines(ctx context.Context, poNumber string) ([]ReceiptLine, error) {
	rows, err := t.tx.Query(ctx, `SELECT g.id, g.po_item_id, g.description, g.unit_price, g.actual_received, g.received_at,
	COALESCE((SELECT SUM(il.quantity) FROM invoice_lines il JOIN invoices i ON i.id = il.invoice_id
		WHERE il.grn_line_id = g.id AND i.status IN ('DRAFT', 'POSTED')), 0)
FROM goods_receipt_lines g WHERE g.po_number=$1 AND g.is_active ORDER BY g.po_item_id`, poNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ReceiptLine
	for rows.Next() {
		var l ReceiptLine
		if err := rows.Scan(&l.ID, &l.POItemID, &l.Description, &l.UnitPrice, &l.ActualReceived, &l.ReceivedAt, &l.Billed); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (t *txRepo) InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO invoices
(invoice_number, po_number, entry_id, vendor_code, vendor_name, currency, amount, status, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		inv.InvoiceNumber, inv.PONumber, inv.EntryID, inv.VendorCode, inv.VendorName, inv.Currency, inv.Amount, string(inv.Status), inv.CreatedBy, inv.CreatedAt,
	).Scan(&inv.ID)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Invoice{}, fmt.Errorf("invoicing: invoice number %s already used for PO %s: %w", inv.InvoiceNumber, inv.PONumber, shared.ErrConflict)
		}
		return Invoice{}, err
	}
	for i, l := range inv.Lines {
		if _, err := t.tx.Exec(ctx, `INSERT INTO invoice_lines (invoice_id, line_no, grn_line_id, po_item_id, description, quantity, unit_price, amount)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, inv.ID, i+1, l.GRNLineID, l.POItemID, l.Description, l.Quantity, l.UnitPrice, l.Amount); err != nil {
			return Invoice{}, err
		}
	}
	return inv, nil
}

func (t *txRepo) LockInvoice(ctx context.Context, id int64) (Invoice, error) {
	return getInvoice(ctx, t.tx, id, true)
}

func (t *txRepo) UpdateStatus(ctx context.Context, inv Invoice, expected Status) error {
	tag, err := t.tx.Exec(ctx, `UPDATE invoices SET status=$3, remark=$4, decided_by=$5, decided_at=$6
WHERE id=$1 AND status=$2`, inv.ID, string(expected), string(inv.Status), inv.Remark, inv.DecidedBy, inv.DecidedAt)
	if err != nil {
		return workflow.MapTxError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: invoice %d no longer %s: %w", ErrNotDraft, inv.ID, expected, shared.ErrConflict)
	}
	return nil
}

func (t *txRepo) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	return t.audit.Record(ctx, t.tx, log)
}

func getInvoice(ctx context.Context, q db.Querier, id int64, lock bool) (Invoice, error) {
	query := `SELECT id, invoice_number, po_number, entry_id, vendor_code, vendor_name, currency, amount, status,
COALESCE(remark, ''), created_by, created_at, COALESCE(decided_by, 0), decided_at
FROM invoices WHERE id=$1`
	if lock {
		query += " FOR UPDATE"
	}
	var inv Invoice
	var status string
	err := q.QueryRow(ctx, query, id).Scan(&inv.ID, &inv.InvoiceNumber, &inv.PONumber, &inv.EntryID, &inv.VendorCode, &inv.VendorName,
		&inv.Currency, &inv.Amount, &status, &inv.Remark, &inv.CreatedBy, &inv.CreatedAt, &inv.DecidedBy, &inv.DecidedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, fmt.Errorf("invoicing: invoice %d: %w", id, shared.ErrNotFound)
		}
		return Invoice{}, workflow.MapTxError(err)
	}
	inv.Status = Status(status)
	rows, err := q.Query(ctx, `SELECT grn_line_id, po_item_id, description, quantity, unit_price, amount
FROM invoice_lines WHERE invoice_id=$1 ORDER BY line_no`, id)
	if err != nil {
		return Invoice{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.GRNLineID, &l.POItemID, &l.Description, &l.Quantity, &l.UnitPrice, &l.Amount); err != nil {
			return Invoice{}, err
		}
		inv.Lines = append(inv.Lines, l)
	}
	return inv, rows.Err()
}
