package billing

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/p2p/internal/shared"
)

const moneyPlaces = 2

var hundred = decimal.NewFromInt(100)

func round(d decimal.Decimal) decimal.Decimal {
	return d.Round(moneyPlaces)
}

// BuildTerms validates term specs against total and returns Open entries with
// their targets. Percent terms must sum to 100 and fixed terms to total; the
// last term absorbs rounding so targets always add up to total.
func BuildTerms(poNumber string, total decimal.Decimal, specs []TermSpec) ([]Entry, error) {
	verr := &shared.ValidationError{}
	if len(specs) == 0 {
		verr.Add("terms", "at least one term required")
		return nil, verr
	}
	valueType := specs[0].ValueType
	sum := decimal.Zero
	for i, spec := range specs {
		if spec.ValueType != valueType {
			verr.Add(fmt.Sprintf("terms[%d].value_type", i), "all terms must use the same value type")
		}
		if spec.ValueType != ValuePercent && spec.ValueType != ValueFixed {
			verr.Add(fmt.Sprintf("terms[%d].value_type", i), "must be PERCENT or FIXED")
		}
		if !spec.Value.IsPositive() {
			verr.Add(fmt.Sprintf("terms[%d].value", i), "must be positive")
		}
		sum = sum.Add(spec.Value)
	}
	switch valueType {
	case ValuePercent:
		if !sum.Equal(hundred) {
			verr.Add("terms", "percentages must sum to 100")
		}
	case ValueFixed:
		if !sum.Equal(total) {
			verr.Add("terms", "fixed amounts must sum to the PO total")
		}
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	entries := make([]Entry, len(specs))
	allocated := decimal.Zero
	for i, spec := range specs {
		target := spec.Value
		if valueType == ValuePercent {
			target = round(total.Mul(spec.Value).Div(hundred))
		}
		if i == len(specs)-1 {
			target = total.Sub(allocated)
		}
		allocated = allocated.Add(target)
		entries[i] = Entry{
			PONumber:  poNumber,
			Sequence:  i + 1,
			Type:      ScheduleTerm,
			ValueType: spec.ValueType,
			Value:     spec.Value,
			Target:    target,
			Eligible:  decimal.Zero,
			Invoiced:  decimal.Zero,
			Status:    EntryOpen,
		}
	}
	return entries, nil
}

// BuildPeriods validates period specs and returns Open entries ordered by start.
// Periods may not overlap and targets must sum to total.
func BuildPeriods(poNumber string, total decimal.Decimal, specs []PeriodSpec) ([]Entry, error) {
	verr := &shared.ValidationError{}
	if len(specs) == 0 {
		verr.Add("periods", "at least one period required")
		return nil, verr
	}
	sorted := append([]PeriodSpec(nil), specs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })
	sum := decimal.Zero
	for i, spec := range sorted {
		if spec.Start.IsZero() || spec.End.IsZero() || spec.End.Before(spec.Start) {
			verr.Add(fmt.Sprintf("periods[%d]", i), "end must not be before start")
		}
		if !spec.Target.IsPositive() {
			verr.Add(fmt.Sprintf("periods[%d].target", i), "must be positive")
		}
		if i > 0 && !spec.Start.After(sorted[i-1].End) {
			verr.Add(fmt.Sprintf("periods[%d]", i), "overlaps previous period")
		}
		sum = sum.Add(spec.Target)
	}
	if !sum.Equal(total) {
		verr.Add("periods", "targets must sum to the PO total")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	entries := make([]Entry, len(sorted))
	for i, spec := range sorted {
		start, end := spec.Start, spec.End
		entries[i] = Entry{
			PONumber:  poNumber,
			Sequence:  i + 1,
			Type:      SchedulePeriod,
			ValueType: ValueFixed,
			Value:     spec.Target,
			Target:    spec.Target,
			Eligible:  decimal.Zero,
			Invoiced:  decimal.Zero,
			Status:    EntryOpen,
			StartDate: &start,
			EndDate:   &end,
		}
	}
	return entries, nil
}

// Recompute derives the eligible amount of every Open entry. Invoiced and
// Cancelled entries are returned untouched. It is pure and idempotent.
//
// Terms are eligible for their full target. Periods are eligible for the
// receipts dated inside [start, end] (whole days), capped at the target.
// An Open entry never drops below what has already been invoiced against it.
func Recompute(schedule Schedule, receipts []Receipt) (Schedule, error) {
	if !schedule.Type.Valid() || len(schedule.Entries) == 0 {
		return Schedule{}, fmt.Errorf("billing: PO %s has no payment schedule: %w", schedule.PONumber, shared.ErrConfigurationMissing)
	}
	out := schedule
	out.Entries = make([]Entry, len(schedule.Entries))
	for i, entry := range schedule.Entries {
		if entry.Status != EntryOpen {
			out.Entries[i] = entry
			continue
		}
		var eligible decimal.Decimal
		switch schedule.Type {
		case ScheduleTerm:
			eligible = entry.Target
		case SchedulePeriod:
			eligible = decimal.Min(periodReceipts(entry, receipts), entry.Target)
		}
		eligible = round(decimal.Max(eligible, entry.Invoiced))
		entry.Eligible = eligible
		out.Entries[i] = entry
	}
	return out, nil
}

func periodReceipts(entry Entry, receipts []Receipt) decimal.Decimal {
	sum := decimal.Zero
	for _, r := range receipts {
		if entry.Covers(r.ReceivedAt) {
			sum = sum.Add(r.Amount)
		}
	}
	return sum
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Cancel marks an Open entry Cancelled. A partly invoiced entry keeps what was
// already billed; only the remainder of its target is cancelled.
func Cancel(entry Entry, remark string, at time.Time) (Entry, error) {
	if entry.Status != EntryOpen {
		return Entry{}, fmt.Errorf("%w: entry %d is %s: %w", ErrEntryNotOpen, entry.Sequence, entry.Status, shared.ErrConflict)
	}
	entry.Eligible = entry.Invoiced
	entry.Status = EntryCancelled
	entry.Remark = remark
	entry.CancelledAt = &at
	return entry, nil
}

// Post books amount against an Open entry. The entry becomes Invoiced once the
// invoiced total reaches its target; a period that is only partly delivered
// stays Open for later receipts.
func Post(entry Entry, amount decimal.Decimal) (Entry, error) {
	if entry.Status != EntryOpen {
		return Entry{}, fmt.Errorf("%w: entry %d is %s: %w", ErrEntryNotOpen, entry.Sequence, entry.Status, shared.ErrConflict)
	}
	if !amount.IsPositive() {
		return Entry{}, shared.NewValidationError("amount", "must be positive")
	}
	if amount.GreaterThan(entry.Remaining()) {
		return Entry{}, fmt.Errorf("%w: %s > %s: %w", ErrExceedsRemaining, amount.StringFixed(moneyPlaces), entry.Remaining().StringFixed(moneyPlaces), shared.ErrConflict)
	}
	entry.Invoiced = entry.Invoiced.Add(amount)
	if entry.Invoiced.GreaterThanOrEqual(entry.Target) {
		entry.Status = EntryInvoiced
	}
	return entry, nil
}

// CheckBillable verifies an amount could be posted against entry now.
func CheckBillable(entry Entry, amount decimal.Decimal) error {
	_, err := Post(entry, amount)
	return err
}
