package billing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/p2p/internal/shared"
)

// RepositoryPort describes the persistence required by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSchedule(ctx context.Context, poNumber string) (Schedule, error)
}

// TxRepository exposes schedule writes on an open transaction. Invoicing
// obtains one bound to its own transaction.
type TxRepository interface {
	LockPurchaseOrder(ctx context.Context, poNumber string) (PurchaseOrder, error)
	LockSchedule(ctx context.Context, poNumber string) (Schedule, error)
	ActiveReceipts(ctx context.Context, poNumber string) ([]Receipt, error)
	ReplaceSchedule(ctx context.Context, po PurchaseOrder, typ ScheduleType, entries []Entry) ([]Entry, error)
	UpdateEntry(ctx context.Context, entry Entry, expected EntryStatus) error
	RecordAudit(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates schedule configuration, recalculation and cancellation.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs Service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// ConfigureInput selects and defines the payment schedule of a PO.
type ConfigureInput struct {
	PONumber string       `json:"-"`
	Type     ScheduleType `json:"type" validate:"required,oneof=TERM PERIOD"`
	Terms    []TermSpec   `json:"terms" validate:"omitempty,dive"`
	Periods  []PeriodSpec `json:"periods" validate:"omitempty,dive"`
	ActorID  int64        `json:"-"`
}

// Configure replaces the schedule of a PO that is still in Draft or Approved1.
// A schedule with billed or cancelled entries cannot be replaced.
func (s *Service) Configure(ctx context.Context, input ConfigureInput) (Schedule, error) {
	input.PONumber = strings.TrimSpace(input.PONumber)
	verr := &shared.ValidationError{}
	if input.PONumber == "" {
		verr.Add("po_number", "required")
	}
	if !input.Type.Valid() {
		verr.Add("type", "must be TERM or PERIOD")
	}
	if input.Type == ScheduleTerm && len(input.Periods) > 0 {
		verr.Add("periods", "not allowed for TERM schedules")
	}
	if input.Type == SchedulePeriod && len(input.Terms) > 0 {
		verr.Add("terms", "not allowed for PERIOD schedules")
	}
	if err := verr.OrNil(); err != nil {
		return Schedule{}, err
	}
	var out Schedule
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPurchaseOrder(ctx, input.PONumber)
		if err != nil {
			return err
		}
		if !po.Status.AllowsScheduleEdit() {
			return fmt.Errorf("billing: PO %s is %s, schedule is frozen: %w", po.Number, po.Status, shared.ErrConflict)
		}
		if !po.Total.IsPositive() {
			return shared.NewValidationError("total", "PO total must be positive before configuring a schedule")
		}
		var entries []Entry
		if input.Type == ScheduleTerm {
			entries, err = BuildTerms(po.Number, po.Total, input.Terms)
		} else {
			entries, err = BuildPeriods(po.Number, po.Total, input.Periods)
		}
		if err != nil {
			return err
		}
		entries, err = tx.ReplaceSchedule(ctx, po, input.Type, entries)
		if err != nil {
			return err
		}
		out, err = recalculate(ctx, tx, Schedule{PONumber: po.Number, Type: input.Type, Currency: po.Currency, Total: po.Total, Entries: entries})
		if err != nil {
			return err
		}
		return tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "schedule.configure",
			Entity:   "purchase_order",
			EntityID: po.Number,
			Meta:     map[string]any{"type": string(input.Type), "entries": len(entries)},
			At:       s.now(),
		})
	})
	if err != nil {
		return Schedule{}, err
	}
	return out, nil
}

// Recalculate recomputes all Open entries of the PO in its own transaction.
func (s *Service) Recalculate(ctx context.Context, poNumber string) (Schedule, error) {
	poNumber = strings.TrimSpace(poNumber)
	if poNumber == "" {
		return Schedule{}, shared.NewValidationError("po_number", "required")
	}
	var out Schedule
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = RecalculateTx(ctx, tx, poNumber)
		return err
	})
	if err != nil {
		return Schedule{}, err
	}
	s.logger.Debug("schedule recalculated", slog.String("po", poNumber), slog.Int("entries", len(out.Entries)))
	return out, nil
}

// RecalculateTx recomputes the PO schedule on an existing transaction.
func RecalculateTx(ctx context.Context, tx TxRepository, poNumber string) (Schedule, error) {
	schedule, err := tx.LockSchedule(ctx, poNumber)
	if err != nil {
		return Schedule{}, err
	}
	return recalculate(ctx, tx, schedule)
}

func recalculate(ctx context.Context, tx TxRepository, schedule Schedule) (Schedule, error) {
	receipts, err := tx.ActiveReceipts(ctx, schedule.PONumber)
	if err != nil {
		return Schedule{}, err
	}
	next, err := Recompute(schedule, receipts)
	if err != nil {
		return Schedule{}, err
	}
	for i, entry := range next.Entries {
		prev := schedule.Entries[i]
		if entry.Status != EntryOpen || entry.Eligible.Equal(prev.Eligible) {
			continue
		}
		if err := tx.UpdateEntry(ctx, entry, EntryOpen); err != nil {
			return Schedule{}, err
		}
	}
	return next, nil
}

// CancelInput identifies the entry to cancel.
type CancelInput struct {
	PONumber string `json:"-"`
	EntryID  int64  `json:"-"`
	ActorID  int64  `json:"-"`
	Remark   string `json:"remark"`
}

// CancelEntry marks an Open entry Cancelled. Amounts already invoiced against it
// stay billed and historical GRN data is untouched.
func (s *Service) CancelEntry(ctx context.Context, input CancelInput) (Entry, error) {
	input.PONumber = strings.TrimSpace(input.PONumber)
	verr := &shared.ValidationError{}
	if input.PONumber == "" {
		verr.Add("po_number", "required")
	}
	if input.EntryID <= 0 {
		verr.Add("entry_id", "required")
	}
	if err := verr.OrNil(); err != nil {
		return Entry{}, err
	}
	var out Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		schedule, err := tx.LockSchedule(ctx, input.PONumber)
		if err != nil {
			return err
		}
		entry, ok := schedule.Entry(input.EntryID)
		if !ok {
			return fmt.Errorf("billing: entry %d of PO %s: %w", input.EntryID, input.PONumber, shared.ErrNotFound)
		}
		cancelled, err := Cancel(entry, strings.TrimSpace(input.Remark), s.now())
		if err != nil {
			return err
		}
		if err := tx.UpdateEntry(ctx, cancelled, EntryOpen); err != nil {
			return err
		}
		out = cancelled
		return tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "schedule.cancel_entry",
			Entity:   "payment_schedule_entry",
			EntityID: fmt.Sprintf("%s/%d", input.PONumber, entry.Sequence),
			Meta: map[string]any{
				"target":    entry.Target.StringFixed(moneyPlaces),
				"invoiced":  entry.Invoiced.StringFixed(moneyPlaces),
				"cancelled": cancelled.CancelledAmount().StringFixed(moneyPlaces),
				"remark":    cancelled.Remark,
			},
			At:       s.now(),
		})
	})
	if err != nil {
		return Entry{}, err
	}
	return out, nil
}

// Schedule returns the stored schedule.
func (s *Service) Schedule(ctx context.Context, poNumber string) (Schedule, error) {
	poNumber = strings.TrimSpace(poNumber)
	if poNumber == "" {
		return Schedule{}, shared.NewValidationError("po_number", "required")
	}
	return s.repo.GetSchedule(ctx, poNumber)
}

// PostTx books amount against entryID on an existing transaction and returns
// the updated schedule. The entry row is locked by LockSchedule.
func PostTx(ctx context.Context, tx TxRepository, poNumber string, entryID int64, amount decimal.Decimal) (Schedule, error) {
	schedule, err := tx.LockSchedule(ctx, poNumber)
	if err != nil {
		return Schedule{}, err
	}
	for i, entry := range schedule.Entries {
		if entry.ID != entryID {
			continue
		}
		posted, err := Post(entry, amount)
		if err != nil {
			return Schedule{}, err
		}
		if err := tx.UpdateEntry(ctx, posted, EntryOpen); err != nil {
			return Schedule{}, err
		}
		schedule.Entries[i] = posted
		return schedule, nil
	}
	return Schedule{}, fmt.Errorf("billing: entry %d of PO %s: %w", entryID, poNumber, shared.ErrNotFound)
}
