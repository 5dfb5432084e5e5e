package procurement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/p2p/internal/platform/db"
	"github.com/odyssey-erp/p2p/internal/shared"
	"github.com/odyssey-erp/p2p/internal/workflow"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool     *pgxpool.Pool
	registry *workflow.Registry
	workflow *workflow.PGRepository
	audit    *shared.AuditLogger
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool, registry *workflow.Registry, workflowRepo *workflow.PGRepository, audit *shared.AuditLogger) *Repository {
	return &Repository{pool: pool, registry: registry, workflow: workflowRepo, audit: audit}
}

type txRepo struct {
	tx       pgx.Tx
	registry *workflow.Registry
	workflow workflow.TxRepository
	audit    *shared.AuditLogger
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, registry: r.registry, workflow: r.workflow.Tx(tx), audit: r.audit})
	})
	return workflow.MapTxError(err)
}

const requestColumns = `number, requestor_id, applicant_id, purchase_type_id, purchase_sub_type_id, sub_core_business_id,
company_code, currency, total_amount, status_id, COALESCE(remark, ''), created_at, updated_at`

const orderColumns = `number, pr_number, buyer_id, purchase_type_id, purchase_sub_type_id, vendor_contract_id, contract_number,
vendor_code, vendor_name, COALESCE(vendor_email, ''), currency, total_amount, status_id, created_at, updated_at`

// GetRequest returns purchase request with items, attributes and documents.
func (r *Repository) GetRequest(ctx context.Context, number string) (PurchaseRequest, error) {
	pr, err := loadRequest(ctx, r.pool, r.registry, number, false)
	if err != nil {
		return PurchaseRequest{}, err
	}
	if pr.Attributes, err = listAttributes(ctx, r.pool, number); err != nil {
		return PurchaseRequest{}, err
	}
	if pr.Documents, err = listDocuments(ctx, r.pool, number); err != nil {
		return PurchaseRequest{}, err
	}
	return pr, nil
}

// GetOrder returns purchase order and items.
func (r *Repository) GetOrder(ctx context.Context, number string) (PurchaseOrder, error) {
	return loadOrder(ctx, r.pool, r.registry, number, false)
}

// ListDocuments returns the active documents of a PR.
func (r *Repository) ListDocuments(ctx context.Context, prNumber string) ([]Document, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT true FROM purchase_requests WHERE number=$1 AND is_active`, prNumber).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("procurement: PR %s: %w", prNumber, shared.ErrNotFound)
		}
		return nil, err
	}
	return listDocuments(ctx, r.pool, prNumber)
}

// GetDocument returns one document of a PR.
func (r *Repository) GetDocument(ctx context.Context, prNumber string, id int64) (Document, error) {
	var d Document
	err := r.pool.QueryRow(ctx, `SELECT id, pr_number, name, path, size_bytes, uploaded_by, uploaded_at
FROM purchase_request_documents WHERE pr_number=$1 AND id=$2 AND is_active`, prNumber, id).
		Scan(&d.ID, &d.PRNumber, &d.Name, &d.Path, &d.Size, &d.UploadedBy, &d.UploadedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, fmt.Errorf("procurement: document %d of %s: %w", id, prNumber, shared.ErrNotFound)
		}
		return Document{}, err
	}
	return d, nil
}

// GridOrders lists POs for the grid, newest first.
func (r *Repository) GridOrders(ctx context.Context, filter GridFilter) ([]GridRow, int, error) {
	var (
		conds = []string{"is_active"}
		args  []any
	)
	if len(filter.Statuses) > 0 {
		codes := make([]int, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			code, err := r.registry.Code(st)
			if err != nil {
				return nil, 0, err
			}
			codes = append(codes, code)
		}
		args = append(args, codes)
		conds = append(conds, fmt.Sprintf("status_id = ANY($%d)", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		conds = append(conds, fmt.Sprintf("(number ILIKE $%d OR pr_number ILIKE $%d OR vendor_name ILIKE $%d)", len(args), len(args), len(args)))
	}
	where := strings.Join(conds, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_orders WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.PerPage, shared.Offset(filter.Page, filter.PerPage))
	query := fmt.Sprintf(`SELECT number, pr_number, vendor_name, currency, total_amount, status_id, updated_at
FROM purchase_orders WHERE %s ORDER BY updated_at DESC, number LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []GridRow
	for rows.Next() {
		var (
			row  GridRow
			code int
		)
		if err := rows.Scan(&row.Number, &row.PRNumber, &row.VendorName, &row.Currency, &row.Total, &code, &row.UpdatedAt); err != nil {
			return nil, 0, err
		}
		if row.Status, err = r.registry.Decode(code); err != nil {
			return nil, 0, err
		}
		row.StatusLabel = r.registry.Label(row.Status)
		out = append(out, row)
	}
	return out, total, rows.Err()
}

func (t *txRepo) Workflow() workflow.TxRepository { return t.workflow }

func (t *txRepo) InsertRequest(ctx context.Context, pr PurchaseRequest) error {
	code, err := t.registry.Code(workflow.PRDraft)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO purchase_requests (number, requestor_id, applicant_id, purchase_type_id,
purchase_sub_type_id, sub_core_business_id, company_code, currency, total_amount, status_id, remark, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,true,$12,$12)`,
		pr.Number, pr.RequestorID, pr.ApplicantID, pr.PurchaseTypeID, pr.PurchaseSubTypeID, pr.SubCoreBusinessID,
		pr.CompanyCode, pr.Currency, pr.Total, code, pr.Remark, pr.CreatedAt)
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("procurement: PR %s already exists: %w", pr.Number, shared.ErrConflict)
	}
	return workflow.MapTxError(err)
}

func (t *txRepo) LockRequest(ctx context.Context, number string) (PurchaseRequest, error) {
	return loadRequest(ctx, t.tx, t.registry, number, true)
}

func (t *txRepo) ReplaceRequestItems(ctx context.Context, number string, items []Item, total decimal.Decimal) ([]Item, error) {
	if _, err := t.tx.Exec(ctx, `UPDATE purchase_request_items SET is_active=false WHERE pr_number=$1 AND is_active`, number); err != nil {
		return nil, workflow.MapTxError(err)
	}
	out := make([]Item, 0, len(items))
	for _, item := range items {
		err := t.tx.QueryRow(ctx, `INSERT INTO purchase_request_items
(pr_number, line_no, item_code, description, unit, currency, quantity, unit_price, amount, is_active)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,true) RETURNING id`,
			number, item.LineNo, item.ItemCode, item.Description, item.Unit, item.Currency, item.Quantity, item.UnitPrice, item.Amount).Scan(&item.ID)
		if err != nil {
			return nil, workflow.MapTxError(err)
		}
		out = append(out, item)
	}
	if _, err := t.tx.Exec(ctx, `UPDATE purchase_requests SET total_amount=$2, updated_at=NOW() WHERE number=$1`, number, total); err != nil {
		return nil, workflow.MapTxError(err)
	}
	return out, nil
}

func (t *txRepo) ReplaceAttributes(ctx context.Context, number string, attrs []Attribute) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM purchase_request_attributes WHERE pr_number=$1`, number); err != nil {
		return workflow.MapTxError(err)
	}
	for _, a := range attrs {
		if _, err := t.tx.Exec(ctx, `INSERT INTO purchase_request_attributes (pr_number, attr_key, attr_value) VALUES ($1,$2,$3)`,
			number, strings.TrimSpace(a.Key), a.Value); err != nil {
			return workflow.MapTxError(err)
		}
	}
	return nil
}

func (t *txRepo) InsertDocument(ctx context.Context, doc Document) (Document, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO purchase_request_documents (pr_number, name, path, size_bytes, uploaded_by, uploaded_at, is_active)
VALUES ($1,$2,$3,$4,$5,$6,true) RETURNING id`, doc.PRNumber, doc.Name, doc.Path, doc.Size, doc.UploadedBy, doc.UploadedAt).Scan(&doc.ID)
	if err != nil {
		return Document{}, workflow.MapTxError(err)
	}
	return doc, nil
}

func (t *txRepo) OrderForRequest(ctx context.Context, prNumber string) (string, error) {
	var number string
	err := t.tx.QueryRow(ctx, `SELECT number FROM purchase_orders WHERE pr_number=$1 AND is_active LIMIT 1`, prNumber).Scan(&number)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return number, workflow.MapTxError(err)
}

func (t *txRepo) InsertOrder(ctx context.Context, po PurchaseOrder) error {
	code, err := t.registry.Code(workflow.PODraft)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO purchase_orders (number, pr_number, buyer_id, purchase_type_id, purchase_sub_type_id,
vendor_contract_id, contract_number, vendor_code, vendor_name, vendor_email, currency, total_amount, status_id, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,true,$14,$14)`,
		po.Number, po.PRNumber, po.BuyerID, po.PurchaseTypeID, po.PurchaseSubTypeID, po.VendorContractID, po.ContractNumber,
		po.VendorCode, po.VendorName, po.VendorEmail, po.Currency, po.Total, code, po.CreatedAt)
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("procurement: PO %s already exists: %w", po.Number, shared.ErrConflict)
	}
	return workflow.MapTxError(err)
}

func (t *txRepo) LockOrder(ctx context.Context, number string) (PurchaseOrder, error) {
	return loadOrder(ctx, t.tx, t.registry, number, true)
}

func (t *txRepo) ReplaceOrderItems(ctx context.Context, number string, items []Item, total decimal.Decimal) ([]Item, error) {
	if _, err := t.tx.Exec(ctx, `UPDATE purchase_order_items SET is_active=false WHERE po_number=$1 AND is_active`, number); err != nil {
		return nil, workflow.MapTxError(err)
	}
	out := make([]Item, 0, len(items))
	for _, item := range items {
		err := t.tx.QueryRow(ctx, `INSERT INTO purchase_order_items
(po_number, line_no, item_code, description, unit, currency, quantity, unit_price, amount, is_active)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,true) RETURNING id`,
			number, item.LineNo, item.ItemCode, item.Description, item.Unit, item.Currency, item.Quantity, item.UnitPrice, item.Amount).Scan(&item.ID)
		if err != nil {
			return nil, workflow.MapTxError(err)
		}
		out = append(out, item)
	}
	if _, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET total_amount=$2, updated_at=NOW() WHERE number=$1`, number, total); err != nil {
		return nil, workflow.MapTxError(err)
	}
	return out, nil
}

func (t *txRepo) ClearSchedule(ctx context.Context, poNumber string) (bool, error) {
	if _, err := t.tx.Exec(ctx, `DELETE FROM payment_schedule_entries WHERE po_number=$1`, poNumber); err != nil {
		return false, workflow.MapTxError(err)
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM payment_schedules WHERE po_number=$1`, poNumber)
	if err != nil {
		return false, workflow.MapTxError(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *txRepo) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	return t.audit.Record(ctx, t.tx, log)
}

func loadRequest(ctx context.Context, q db.Querier, registry *workflow.Registry, number string, lock bool) (PurchaseRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM purchase_requests WHERE number=$1 AND is_active`
	if lock {
		query += " FOR UPDATE"
	}
	var (
		pr   PurchaseRequest
		code int
	)
	err := q.QueryRow(ctx, query, number).Scan(&pr.Number, &pr.RequestorID, &pr.ApplicantID, &pr.PurchaseTypeID,
		&pr.PurchaseSubTypeID, &pr.SubCoreBusinessID, &pr.CompanyCode, &pr.Currency, &pr.Total, &code, &pr.Remark,
		&pr.CreatedAt, &pr.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseRequest{}, fmt.Errorf("procurement: PR %s: %w", number, shared.ErrNotFound)
		}
		return PurchaseRequest{}, workflow.MapTxError(err)
	}
	if pr.Status, err = registry.Decode(code); err != nil {
		return PurchaseRequest{}, err
	}
	pr.Items, err = listItems(ctx, q, "purchase_request_items", "pr_number", number)
	if err != nil {
		return PurchaseRequest{}, err
	}
	return pr, nil
}

func loadOrder(ctx context.Context, q db.Querier, registry *workflow.Registry, number string, lock bool) (PurchaseOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM purchase_orders WHERE number=$1 AND is_active`
	if lock {
		query += " FOR UPDATE"
	}
	var (
		po   PurchaseOrder
		code int
	)
	err := q.QueryRow(ctx, query, number).Scan(&po.Number, &po.PRNumber, &po.BuyerID, &po.PurchaseTypeID, &po.PurchaseSubTypeID,
		&po.VendorContractID, &po.ContractNumber, &po.VendorCode, &po.VendorName, &po.VendorEmail, &po.Currency, &po.Total,
		&code, &po.CreatedAt, &po.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, fmt.Errorf("procurement: PO %s: %w", number, shared.ErrNotFound)
		}
		return PurchaseOrder{}, workflow.MapTxError(err)
	}
	if po.Status, err = registry.Decode(code); err != nil {
		return PurchaseOrder{}, err
	}
	po.Items, err = listItems(ctx, q, "purchase_order_items", "po_number", number)
	if err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

// listItems reads active lines; table and key are package constants, never input.
func listItems(ctx context.Context, q db.Querier, table, key, number string) ([]Item, error) {
	rows, err := q.Query(ctx, fmt.Sprintf(`SELECT id, line_no, item_code, COALESCE(description, ''), unit, currency, quantity, unit_price, amount
FROM %s WHERE %s=$1 AND is_active ORDER BY line_no`, table, key), number)
	if err != nil {
		return nil, workflow.MapTxError(err)
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.LineNo, &item.ItemCode, &item.Description, &item.Unit, &item.Currency,
			&item.Quantity, &item.UnitPrice, &item.Amount); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func listAttributes(ctx context.Context, q db.Querier, number string) ([]Attribute, error) {
	rows, err := q.Query(ctx, `SELECT attr_key, attr_value FROM purchase_request_attributes WHERE pr_number=$1 ORDER BY attr_key`, number)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Attribute
	for rows.Next() {
		var a Attribute
		if err := rows.Scan(&a.Key, &a.Value); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func listDocuments(ctx context.Context, q db.Querier, number string) ([]Document, error) {
	rows, err := q.Query(ctx, `SELECT id, pr_number, name, path, size_bytes, uploaded_by, uploaded_at
FROM purchase_request_documents WHERE pr_number=$1 AND is_active ORDER BY id`, number)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.PRNumber, &d.Name, &d.Path, &d.Size, &d.UploadedBy, &d.UploadedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
