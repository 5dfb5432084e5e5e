// Package invoicing creates vendor invoices against payment schedule entries
// and posts or rejects them.
package invoicing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the invoice lifecycle.
type Status string

const (
	StatusDraft    Status = "DRAFT"
	StatusPosted   Status = "POSTED"
	StatusRejected Status = "REJECTED"
)

// Invoice is a vendor bill against one schedule entry.
type Invoice struct {
	ID            int64           `json:"id"`
	InvoiceNumber string          `json:"invoice_number"`
	PONumber      string          `json:"po_number"`
	EntryID       int64           `json:"entry_id"`
	VendorCode    string          `json:"vendor_code"`
	VendorName    string          `json:"vendor_name"`
	Currency      string          `json:"currency"`
	Amount        decimal.Decimal `json:"amount"`
	Status        Status          `json:"status"`
	Remark        string          `json:"remark,omitempty"`
	Lines         []Line          `json:"lines"`
	CreatedBy     int64           `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
	DecidedBy     int64           `json:"decided_by,omitempty"`
	DecidedAt     *time.Time      `json:"decided_at,omitempty"`
}

// Line is one billed GRN line.
type Line struct {
	GRNLineID   int64           `json:"grn_line_id"`
	POItemID    int64           `json:"po_item_id"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Amount      decimal.Decimal `json:"amount"`
}

// ReceiptLine is an active GRN line available for billing. Billed is the
// quantity already held by Draft or Posted invoices.
type ReceiptLine struct {
	ID             int64
	POItemID       int64
	Description    string
	UnitPrice      decimal.Decimal
	ActualReceived decimal.Decimal
	ReceivedAt     time.Time
	Billed         decimal.Decimal
}

// Unbilled is the received quantity no invoice holds yet.
func (r ReceiptLine) Unbilled() decimal.Decimal {
	u := r.ActualReceived.Sub(r.Billed)
	if u.IsNegative() {
		return decimal.Zero
	}
	return u
}

// PurchaseOrder is the vendor snapshot source.
type PurchaseOrder struct {
	Number     string
	VendorCode string
	VendorName string
	Currency   string
}

// CreateLine selects a GRN line; Quantity defaults to the received quantity.
type CreateLine struct {
	GRNLineID int64            `json:"grn_line_id" validate:"required,gt=0"`
	Quantity  *decimal.Decimal `json:"quantity"`
}

// CreateInput is the request to draft an invoice.
type CreateInput struct {
	InvoiceNumber string       `json:"invoice_number" validate:"required,max=64"`
	PONumber      string       `json:"po_number" validate:"required"`
	EntryID       int64        `json:"entry_id" validate:"required,gt=0"`
	Lines         []CreateLine `json:"lines" validate:"required,min=1,dive"`
	ActorID       int64        `json:"-"`
}

// BulkResult is the outcome of one invoice in a bulk post.
type BulkResult struct {
	ID      int64  `json:"id"`
	Success bool   `json:"success"`
	Status  Status `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrNotDraft is returned when posting or rejecting a decided invoice.
var ErrNotDraft = errors.New("invoicing: invoice is not draft")
