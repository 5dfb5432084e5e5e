// Package reference resolves the read-only catalog that purchase requests and
// orders are built from: purchase types, inventories and vendor contracts.
package reference

import "github.com/shopspring/decimal"

// PurchaseType classifies a purchase request.
type PurchaseType struct {
	ID       int64  `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

// PurchaseSubType refines a PurchaseType.
type PurchaseSubType struct {
	ID       int64  `json:"id"`
	TypeID   int64  `json:"type_id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

// Inventory is a purchasable catalog item.
type Inventory struct {
	ID           int64           `json:"id"`
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	Unit         string          `json:"unit"`
	Currency     string          `json:"currency"`
	DefaultPrice decimal.Decimal `json:"default_price"`
	IsActive     bool            `json:"is_active"`
}

// InventoryFilter narrows inventory lookups.
type InventoryFilter struct {
	Search   string `json:"search"`
	Unit     string `json:"unit"`
	IsActive *bool  `json:"is_active"`
	Limit    int    `json:"limit"`
}

// VendorContract is the agreement a PO snapshots its counterparty from.
type VendorContract struct {
	ID                int64  `json:"id"`
	ContractNumber    string `json:"contract_number"`
	VendorCode        string `json:"vendor_code"`
	VendorName        string `json:"vendor_name"`
	VendorEmail       string `json:"vendor_email"`
	SubCoreBusinessID int64  `json:"sub_core_business_id"`
	Currency          string `json:"currency"`
	IsActive          bool   `json:"is_active"`
}
