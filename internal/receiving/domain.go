// Package receiving records goods receipts (GRN lines) against released POs.
package receiving

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/p2p/internal/billing"
)

// ErrBelowInvoiced is returned when a receipt would drop under the quantity
// invoices already bill.
var ErrBelowInvoiced = errors.New("receiving: received quantity below invoiced quantity")

// Line is the single GRN line of a (PO, item) pair. Item data is a snapshot
// taken from the PO line at first receipt.
type Line struct {
	ID             int64           `json:"id"`
	PONumber       string          `json:"po_number"`
	POItemID       int64           `json:"po_item_id"`
	ItemCode       string          `json:"item_code"`
	Description    string          `json:"description"`
	Unit           string          `json:"unit"`
	Currency       string          `json:"currency"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	Ordered        decimal.Decimal `json:"ordered"`
	ActualReceived decimal.Decimal `json:"actual_received"`
	Amount         decimal.Decimal `json:"amount"`
	Remark         string          `json:"remark,omitempty"`
	ReceivedAt     time.Time       `json:"received_at"`
	IsActive       bool            `json:"is_active"`
	UpdatedBy      int64           `json:"updated_by"`
}

// Received reports whether the ordered quantity has been received.
func (l Line) Received() bool {
	return l.IsActive && l.ActualReceived.GreaterThanOrEqual(l.Ordered)
}

// POItem is a PO line as seen by the recorder.
type POItem struct {
	ID          int64
	ItemCode    string
	Description string
	Unit        string
	Currency    string
	UnitPrice   decimal.Decimal
	Quantity    decimal.Decimal
}

// PurchaseOrder is the PO header data the recorder needs.
type PurchaseOrder struct {
	Number   string
	PRNumber string
}

// SaveLine is one submitted receipt. ActualReceived defaults to the ordered quantity.
type SaveLine struct {
	POItemID       int64            `json:"po_item_id" validate:"required,gt=0"`
	ActualReceived *decimal.Decimal `json:"actual_received"`
	Remark         string           `json:"remark" validate:"max=500"`
	ReceivedAt     *time.Time       `json:"received_at"`
}

// SaveInput is the GRN save request.
type SaveInput struct {
	PONumber string     `json:"po_number" validate:"required"`
	Lines    []SaveLine `json:"lines" validate:"required,min=1,dive"`
	ActorID  int64      `json:"-"`
}

// SaveResult reports the stored lines and the recalculated schedule. Schedule
// is nil when the PO has no schedule configured yet.
type SaveResult struct {
	Lines    []Line            `json:"lines"`
	Skipped  []int64           `json:"skipped,omitempty"`
	Schedule *billing.Schedule `json:"schedule,omitempty"`
}
