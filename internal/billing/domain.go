// Package billing owns PO payment schedules: it derives the invoice eligible
// amount of every Term-of-Payment or Period-of-Payment entry and is the only
// writer of schedule entry state.
package billing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/p2p/internal/workflow"
)

// ScheduleType selects how a PO is billed.
type ScheduleType string

const (
	// ScheduleTerm bills fixed shares of the PO total regardless of delivery.
	ScheduleTerm ScheduleType = "TERM"
	// SchedulePeriod bills goods received within date ranges.
	SchedulePeriod ScheduleType = "PERIOD"
)

// Valid reports whether t is a known schedule type.
func (t ScheduleType) Valid() bool {
	return t == ScheduleTerm || t == SchedulePeriod
}

// EntryStatus is the lifecycle of one schedule entry. It only moves Open to
// Invoiced or Open to Cancelled.
type EntryStatus string

const (
	EntryOpen      EntryStatus = "OPEN"
	EntryInvoiced  EntryStatus = "INVOICED"
	EntryCancelled EntryStatus = "CANCELLED"
)

// ValueType says how a term value is expressed.
type ValueType string

const (
	ValuePercent ValueType = "PERCENT"
	ValueFixed   ValueType = "FIXED"
)

// Entry is one term or period.
type Entry struct {
	ID          int64           `json:"id"`
	PONumber    string          `json:"po_number"`
	Sequence    int             `json:"sequence"`
	Type        ScheduleType    `json:"type"`
	ValueType   ValueType       `json:"value_type,omitempty"`
	Value       decimal.Decimal `json:"value"`
	Target      decimal.Decimal `json:"target"`
	Eligible    decimal.Decimal `json:"eligible"`
	Invoiced    decimal.Decimal `json:"invoiced"`
	Status      EntryStatus     `json:"status"`
	StartDate   *time.Time      `json:"start_date,omitempty"`
	EndDate     *time.Time      `json:"end_date,omitempty"`
	CancelledAt *time.Time      `json:"cancelled_at,omitempty"`
	Remark      string          `json:"remark,omitempty"`
}

// Remaining is the part of the eligible amount not yet invoiced.
func (e Entry) Remaining() decimal.Decimal {
	r := e.Eligible.Sub(e.Invoiced)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// Covers reports whether a receipt dated at falls inside the entry's billing
// window. Terms are not date bound and cover every receipt.
func (e Entry) Covers(at time.Time) bool {
	if e.Type != SchedulePeriod {
		return true
	}
	if e.StartDate == nil || e.EndDate == nil {
		return false
	}
	d := day(at)
	return !d.Before(day(*e.StartDate)) && !d.After(day(*e.EndDate))
}

// CancelledAmount is the part of a Cancelled entry's target that will never
// be billed. It is zero for entries that are not Cancelled.
func (e Entry) CancelledAmount() decimal.Decimal {
	if e.Status != EntryCancelled {
		return decimal.Zero
	}
	r := e.Target.Sub(e.Invoiced)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// Schedule is the payment plan of one PO.
type Schedule struct {
	PONumber string          `json:"po_number"`
	Type     ScheduleType    `json:"type"`
	Currency string          `json:"currency"`
	Total    decimal.Decimal `json:"total"`
	Entries  []Entry         `json:"entries"`
}

// Entry returns the entry with id.
func (s Schedule) Entry(id int64) (Entry, bool) {
	for _, e := range s.Entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// Closed reports whether every entry is Invoiced or Cancelled.
func (s Schedule) Closed() bool {
	if len(s.Entries) == 0 {
		return false
	}
	for _, e := range s.Entries {
		if e.Status == EntryOpen {
			return false
		}
	}
	return true
}

// Receipt is an active GRN line as seen by billing.
type Receipt struct {
	Amount     decimal.Decimal
	ReceivedAt time.Time
}

// PurchaseOrder is the PO header data billing needs.
type PurchaseOrder struct {
	Number   string
	Status   workflow.Status
	Currency string
	Total    decimal.Decimal
}

// TermSpec configures one Term-of-Payment entry.
type TermSpec struct {
	ValueType ValueType       `json:"value_type" validate:"required,oneof=PERCENT FIXED"`
	Value     decimal.Decimal `json:"value"`
}

// PeriodSpec configures one Period-of-Payment entry.
type PeriodSpec struct {
	Start  time.Time       `json:"start" validate:"required"`
	End    time.Time       `json:"end" validate:"required"`
	Target decimal.Decimal `json:"target"`
}

var (
	// ErrEntryNotOpen is returned when an Invoiced or Cancelled entry is changed.
	ErrEntryNotOpen = errors.New("billing: schedule entry not open")
	// ErrExceedsRemaining is returned when an amount exceeds the entry remaining amount.
	ErrExceedsRemaining = errors.New("billing: amount exceeds remaining eligible amount")
)
