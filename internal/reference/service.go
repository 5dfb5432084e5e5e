package reference

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/odyssey-erp/p2p/internal/shared"
)

// Source is the uncached catalog store.
type Source interface {
	PurchaseTypes(ctx context.Context, isActive *bool) ([]PurchaseType, error)
	PurchaseSubTypes(ctx context.Context, typeID int64, isActive *bool) ([]PurchaseSubType, error)
	Inventories(ctx context.Context, filter InventoryFilter) ([]Inventory, error)
	VendorContracts(ctx context.Context, subCoreBusinessID int64) ([]VendorContract, error)
	VendorContract(ctx context.Context, id int64) (VendorContract, error)
}

// Resolver serves catalog lookups through the cache.
type Resolver struct {
	source Source
	cache  *Cache
	logger *slog.Logger
}

// NewResolver constructs Resolver. A nil cache reads the source directly.
func NewResolver(source Source, cache *Cache, logger *slog.Logger) *Resolver {
	if cache == nil {
		cache = NewCache(nil, 0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{source: source, cache: cache, logger: logger}
}

// PurchaseTypes lists purchase types, optionally filtered by the active flag.
func (r *Resolver) PurchaseTypes(ctx context.Context, isActive *bool) ([]PurchaseType, error) {
	var out []PurchaseType
	err := r.fetch(ctx, &out, func(ctx context.Context) (any, error) {
		return r.source.PurchaseTypes(ctx, isActive)
	}, "purchase_types", boolToken(isActive))
	return out, err
}

// PurchaseSubTypes lists the sub-types of a purchase type.
func (r *Resolver) PurchaseSubTypes(ctx context.Context, typeID int64, isActive *bool) ([]PurchaseSubType, error) {
	if typeID <= 0 {
		return nil, shared.NewValidationError("type_id", "required")
	}
	var out []PurchaseSubType
	err := r.fetch(ctx, &out, func(ctx context.Context) (any, error) {
		return r.source.PurchaseSubTypes(ctx, typeID, isActive)
	}, "purchase_sub_types", strconv.FormatInt(typeID, 10), boolToken(isActive))
	return out, err
}

// Inventories searches the inventory catalog. Search results are not cached.
func (r *Resolver) Inventories(ctx context.Context, filter InventoryFilter) ([]Inventory, error) {
	if filter.Limit <= 0 || filter.Limit > shared.MaxPerPage {
		filter.Limit = shared.MaxPerPage
	}
	if strings.TrimSpace(filter.Search) != "" {
		return r.source.Inventories(ctx, filter)
	}
	var out []Inventory
	err := r.fetch(ctx, &out, func(ctx context.Context) (any, error) {
		return r.source.Inventories(ctx, filter)
	}, "inventories", filter.Unit, boolToken(filter.IsActive), strconv.Itoa(filter.Limit))
	return out, err
}

// VendorContracts lists active contracts for a sub core business.
func (r *Resolver) VendorContracts(ctx context.Context, subCoreBusinessID int64) ([]VendorContract, error) {
	if subCoreBusinessID <= 0 {
		return nil, shared.NewValidationError("sub_core_business_id", "required")
	}
	var out []VendorContract
	err := r.fetch(ctx, &out, func(ctx context.Context) (any, error) {
		return r.source.VendorContracts(ctx, subCoreBusinessID)
	}, "vendor_contracts", strconv.FormatInt(subCoreBusinessID, 10))
	return out, err
}

// VendorContract resolves one contract, which must be active.
func (r *Resolver) VendorContract(ctx context.Context, id int64) (VendorContract, error) {
	if id <= 0 {
		return VendorContract{}, shared.NewValidationError("vendor_contract_id", "required")
	}
	var out VendorContract
	err := r.fetch(ctx, &out, func(ctx context.Context) (any, error) {
		return r.source.VendorContract(ctx, id)
	}, "vendor_contract", strconv.FormatInt(id, 10))
	if err != nil {
		return VendorContract{}, err
	}
	if !out.IsActive {
		return VendorContract{}, fmt.Errorf("reference: vendor contract %d inactive: %w", id, shared.ErrNotFound)
	}
	return out, nil
}

// Invalidate drops every cached lookup.
func (r *Resolver) Invalidate(ctx context.Context) error {
	return r.cache.Bump(ctx)
}

func (r *Resolver) fetch(ctx context.Context, dest any, loader func(context.Context) (any, error), parts ...string) error {
	key, err := r.cache.BuildKey(ctx, parts...)
	if err != nil {
		r.logger.Warn("reference cache unavailable", slog.Any("error", err))
		return r.direct(ctx, dest, loader)
	}
	return r.cache.FetchJSON(ctx, key, dest, loader)
}

func (r *Resolver) direct(ctx context.Context, dest any, loader func(context.Context) (any, error)) error {
	return NewCache(nil, 0).FetchJSON(ctx, "direct", dest, loader)
}

func boolToken(v *bool) string {
	if v == nil {
		return "all"
	}
	return strconv.FormatBool(*v)
}
