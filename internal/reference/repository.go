package reference

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/p2p/internal/shared"
)

// Repository reads the catalog tables.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) PurchaseTypes(ctx context.Context, isActive *bool) ([]PurchaseType, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, is_active FROM mst_purchase_type
WHERE ($1::boolean IS NULL OR is_active = $1) ORDER BY code`, isActive)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (PurchaseType, error) {
		var t PurchaseType
		err := row.Scan(&t.ID, &t.Code, &t.Name, &t.IsActive)
		return t, err
	})
}

func (r *Repository) PurchaseSubTypes(ctx context.Context, typeID int64, isActive *bool) ([]PurchaseSubType, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, type_id, code, name, is_active FROM mst_purchase_sub_type
WHERE type_id = $1 AND ($2::boolean IS NULL OR is_active = $2) ORDER BY code`, typeID, isActive)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (PurchaseSubType, error) {
		var t PurchaseSubType
		err := row.Scan(&t.ID, &t.TypeID, &t.Code, &t.Name, &t.IsActive)
		return t, err
	})
}

func (r *Repository) Inventories(ctx context.Context, filter InventoryFilter) ([]Inventory, error) {
	var (
		conds = []string{"1=1"}
		args  []any
	)
	if s := strings.TrimSpace(filter.Search); s != "" {
		args = append(args, "%"+s+"%")
		conds = append(conds, fmt.Sprintf("(code ILIKE $%d OR name ILIKE $%d)", len(args), len(args)))
	}
	if filter.Unit != "" {
		args = append(args, filter.Unit)
		conds = append(conds, fmt.Sprintf("unit = $%d", len(args)))
	}
	if filter.IsActive != nil {
		args = append(args, *filter.IsActive)
		conds = append(conds, fmt.Sprintf("is_active = $%d", len(args)))
	}
	args = append(args, filter.Limit)
	query := fmt.Sprintf(`SELECT id, code, name, unit, currency, default_price, is_active FROM mst_inventory
WHERE %s ORDER BY code LIMIT $%d`, strings.Join(conds, " AND "), len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Inventory, error) {
		var inv Inventory
		err := row.Scan(&inv.ID, &inv.Code, &inv.Name, &inv.Unit, &inv.Currency, &inv.DefaultPrice, &inv.IsActive)
		return inv, err
	})
}

const vendorContractColumns = `id, contract_number, vendor_code, vendor_name, COALESCE(vendor_email, ''), sub_core_business_id, currency, is_active`

func scanVendorContract(row pgx.Row) (VendorContract, error) {
	var c VendorContract
	err := row.Scan(&c.ID, &c.ContractNumber, &c.VendorCode, &c.VendorName, &c.VendorEmail, &c.SubCoreBusinessID, &c.Currency, &c.IsActive)
	return c, err
}

func (r *Repository) VendorContracts(ctx context.Context, subCoreBusinessID int64) ([]VendorContract, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+vendorContractColumns+` FROM vendor_contracts
WHERE sub_core_business_id = $1 AND is_active ORDER BY contract_number`, subCoreBusinessID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (VendorContract, error) {
		return scanVendorContract(row)
	})
}

func (r *Repository) VendorContract(ctx context.Context, id int64) (VendorContract, error) {
	c, err := scanVendorContract(r.pool.QueryRow(ctx, `SELECT `+vendorContractColumns+` FROM vendor_contracts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return VendorContract{}, fmt.Errorf("reference: vendor contract %d: %w", id, shared.ErrNotFound)
		}
		return VendorContract{}, err
	}
	return c, nil
}
