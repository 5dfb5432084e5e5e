package invoicing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/p2p/internal/billing"
	"github.com/odyssey-erp/p2p/internal/shared"
	"github.com/odyssey-erp/p2p/internal/workflow"
)

// RepositoryPort describes persistence required by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetInvoice(ctx context.Context, id int64) (Invoice, error)
	ListInvoices(ctx context.Context, poNumber string) ([]Invoice, error)
}

// TxRepository exposes transactional invoice operations.
type TxRepository interface {
	LockPurchaseOrder(ctx context.Context, poNumber string) (PurchaseOrder, error)
	ActiveReceiptLines(ctx context.Context, poNumber string) ([]ReceiptLine, error)
	InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error)
	LockInvoice(ctx context.Context, id int64) (Invoice, error)
	UpdateStatus(ctx context.Context, inv Invoice, expected Status) error
	RecordAudit(ctx context.Context, log shared.AuditLog) error
	Billing() billing.TxRepository
	Workflow() workflow.TxRepository
}

// Transitioner applies workflow transitions on a caller owned transaction.
type Transitioner interface {
	ApplyInTx(ctx context.Context, tx workflow.TxRepository, cmd workflow.Command) (workflow.Result, error)
	Dispatch(ctx context.Context, res workflow.Result)
}

const (
	bulkConcurrency = 4
	postAttempts    = 3
)

// Service implements invoice creation and posting.
type Service struct {
	repo   RepositoryPort
	flow   Transitioner
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs Service.
func NewService(repo RepositoryPort, flow Transitioner, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, flow: flow, logger: logger, now: time.Now}
}

// Create drafts an invoice. The PO must be released with a configured schedule
// and the target entry must be Open with enough remaining amount.
func (s *Service) Create(ctx context.Context, input CreateInput) (Invoice, error) {
	input.PONumber = strings.TrimSpace(input.PONumber)
	input.InvoiceNumber = strings.TrimSpace(input.InvoiceNumber)
	if err := validateCreate(input); err != nil {
		return Invoice{}, err
	}
	var out Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPurchaseOrder(ctx, input.PONumber)
		if err != nil {
			return err
		}
		if err := ensureInvoiceable(ctx, tx, po.Number); err != nil {
			return err
		}
		schedule, err := tx.Billing().LockSchedule(ctx, po.Number)
		if err != nil {
			return err
		}
		entry, ok := schedule.Entry(input.EntryID)
		if !ok {
			return fmt.Errorf("invoicing: entry %d of PO %s: %w", input.EntryID, po.Number, shared.ErrNotFound)
		}
		receipts, err := tx.ActiveReceiptLines(ctx, po.Number)
		if err != nil {
			return err
		}
		lines, total, err := billLines(input.Lines, receipts, entry)
		if err != nil {
			return err
		}
		if err := billing.CheckBillable(entry, total); err != nil {
			return err
		}
		out, err = tx.InsertInvoice(ctx, Invoice{
			InvoiceNumber: input.InvoiceNumber,
			PONumber:      po.Number,
			EntryID:       entry.ID,
			VendorCode:    po.VendorCode,
			VendorName:    po.VendorName,
			Currency:      po.Currency,
			Amount:        total,
			Status:        StatusDraft,
			Lines:         lines,
			CreatedBy:     input.ActorID,
			CreatedAt:     s.now(),
		})
		return err
	})
	if err != nil {
		return Invoice{}, err
	}
	return out, nil
}

// Post finalises a Draft invoice, consumes the entry's remaining amount and
// completes the PO once every schedule entry is closed.
func (s *Service) Post(ctx context.Context, id, actorID int64) (Invoice, error) {
	if id <= 0 {
		return Invoice{}, shared.NewValidationError("id", "required")
	}
	var (
		out        Invoice
		transition workflow.Result
		err        error
	)
	for attempt := 1; attempt <= postAttempts; attempt++ {
		out, transition, err = s.post(ctx, id, actorID)
		if err == nil || !errors.Is(err, workflow.ErrConcurrentUpdate) {
			break
		}
	}
	if err != nil {
		return Invoice{}, err
	}
	if s.flow != nil && transition.Number != "" {
		s.flow.Dispatch(ctx, transition)
		s.logger.Info("purchase order completed", slog.String("po", out.PONumber))
	}
	return out, nil
}

func (s *Service) post(ctx context.Context, id, actorID int64) (Invoice, workflow.Result, error) {
	var (
		out        Invoice
		transition workflow.Result
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.LockInvoice(ctx, id)
		if err != nil {
			return err
		}
		if inv.Status != StatusDraft {
			return fmt.Errorf("%w: invoice %d is %s: %w", ErrNotDraft, id, inv.Status, shared.ErrConflict)
		}
		if err := ensureInvoiceable(ctx, tx, inv.PONumber); err != nil {
			return err
		}
		schedule, err := billing.PostTx(ctx, tx.Billing(), inv.PONumber, inv.EntryID, inv.Amount)
		if err != nil {
			return err
		}
		now := s.now()
		inv.Status = StatusPosted
		inv.DecidedBy = actorID
		inv.DecidedAt = &now
		if err := tx.UpdateStatus(ctx, inv, StatusDraft); err != nil {
			return err
		}
		if err := tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "invoice.post",
			Entity:   "invoice",
			EntityID: fmt.Sprint(inv.ID),
			Meta:     map[string]any{"po": inv.PONumber, "entry_id": inv.EntryID, "amount": inv.Amount.StringFixed(2)},
			At:       now,
		}); err != nil {
			return err
		}
		out = inv
		if s.flow != nil && schedule.Closed() {
			transition, err = s.flow.ApplyInTx(ctx, tx.Workflow(), workflow.Command{
				Kind:     workflow.KindPO,
				Number:   inv.PONumber,
				From:     workflow.POReleased,
				Decision: workflow.DecisionAdvance,
				ActorID:  shared.SystemActorID,
				Remarks:  "fully billed",
			})
			return err
		}
		return nil
	})
	if err != nil {
		return Invoice{}, workflow.Result{}, err
	}
	return out, transition, nil
}

// Reject closes a Draft invoice without touching the schedule entry.
func (s *Service) Reject(ctx context.Context, id, actorID int64, remark string) (Invoice, error) {
	remark = strings.TrimSpace(remark)
	verr := &shared.ValidationError{}
	if id <= 0 {
		verr.Add("id", "required")
	}
	if remark == "" {
		verr.Add("remark", "required")
	}
	if err := verr.OrNil(); err != nil {
		return Invoice{}, err
	}
	var out Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.LockInvoice(ctx, id)
		if err != nil {
			return err
		}
		if inv.Status != StatusDraft {
			return fmt.Errorf("%w: invoice %d is %s: %w", ErrNotDraft, id, inv.Status, shared.ErrConflict)
		}
		now := s.now()
		inv.Status = StatusRejected
		inv.Remark = remark
		inv.DecidedBy = actorID
		inv.DecidedAt = &now
		if err := tx.UpdateStatus(ctx, inv, StatusDraft); err != nil {
			return err
		}
		out = inv
		return tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "invoice.reject",
			Entity:   "invoice",
			EntityID: fmt.Sprint(inv.ID),
			Meta:     map[string]any{"remark": remark},
			At:       now,
		})
	})
	if err != nil {
		return Invoice{}, err
	}
	return out, nil
}

// BulkPost posts each invoice in its own transaction. A failure never undoes
// the others; results follow the order of ids.
func (s *Service) BulkPost(ctx context.Context, ids []int64, actorID int64) ([]BulkResult, error) {
	if len(ids) == 0 {
		return nil, shared.NewValidationError("ids", "at least one id required")
	}
	results := make([]BulkResult, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bulkConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			inv, err := s.Post(gctx, id, actorID)
			if err != nil {
				results[i] = BulkResult{ID: id, Success: false, Message: shared.UserSafeMessage(err)}
				s.logger.Warn("bulk post invoice", slog.Int64("id", id), slog.Any("error", err))
				return nil
			}
			results[i] = BulkResult{ID: id, Success: true, Status: inv.Status}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Get returns one invoice.
func (s *Service) Get(ctx context.Context, id int64) (Invoice, error) {
	if id <= 0 {
		return Invoice{}, shared.NewValidationError("id", "required")
	}
	return s.repo.GetInvoice(ctx, id)
}

// ListByPO returns the invoices of a PO.
func (s *Service) ListByPO(ctx context.Context, poNumber string) ([]Invoice, error) {
	poNumber = strings.TrimSpace(poNumber)
	if poNumber == "" {
		return nil, shared.NewValidationError("po_number", "required")
	}
	return s.repo.ListInvoices(ctx, poNumber)
}

func ensureInvoiceable(ctx context.Context, tx TxRepository, poNumber string) error {
	status, err := tx.Workflow().CurrentStatus(ctx, workflow.KindPO, poNumber)
	if err != nil {
		return err
	}
	if !status.AllowsInvoicing() {
		return fmt.Errorf("invoicing: PO %s is %s: %w", poNumber, status, shared.ErrConflict)
	}
	return nil
}

// billLines prices the selected GRN lines. A line can only be billed up to its
// unbilled quantity and, for a period entry, only when it was received inside
// the period.
func billLines(in []CreateLine, receipts []ReceiptLine, entry billing.Entry) ([]Line, decimal.Decimal, error) {
	byID := make(map[int64]ReceiptLine, len(receipts))
	for _, r := range receipts {
		byID[r.ID] = r
	}
	verr := &shared.ValidationError{}
	seen := make(map[int64]bool, len(in))
	lines := make([]Line, 0, len(in))
	total := decimal.Zero
	for i, l := range in {
		r, ok := byID[l.GRNLineID]
		if !ok {
			verr.Add(fmt.Sprintf("lines[%d].grn_line_id", i), "not an active receipt of this PO")
			continue
		}
		if seen[l.GRNLineID] {
			verr.Add(fmt.Sprintf("lines[%d].grn_line_id", i), "duplicate line")
			continue
		}
		seen[l.GRNLineID] = true
		if !entry.Covers(r.ReceivedAt) {
			verr.Add(fmt.Sprintf("lines[%d].grn_line_id", i), "received outside the billing period")
			continue
		}
		unbilled := r.Unbilled()
		if !unbilled.IsPositive() {
			verr.Add(fmt.Sprintf("lines[%d].grn_line_id", i), "already fully billed")
			continue
		}
		qty := unbilled
		if l.Quantity != nil {
			qty = *l.Quantity
		}
		if !qty.IsPositive() || qty.GreaterThan(unbilled) {
			verr.Add(fmt.Sprintf("lines[%d].quantity", i), "must be positive and not exceed unbilled quantity "+unbilled.String())
			continue
		}
		amount := qty.Mul(r.UnitPrice)
		total = total.Add(amount)
		lines = append(lines, Line{
			GRNLineID:   r.ID,
			POItemID:    r.POItemID,
			Description: r.Description,
			Quantity:    qty,
			UnitPrice:   r.UnitPrice,
			Amount:      amount.Round(2),
		})
	}
	if err := verr.OrNil(); err != nil {
		return nil, decimal.Zero, err
	}
	return lines, total.Round(2), nil
}

func validateCreate(input CreateInput) error {
	verr := &shared.ValidationError{}
	if input.InvoiceNumber == "" {
		verr.Add("invoice_number", "required")
	}
	if input.PONumber == "" {
		verr.Add("po_number", "required")
	}
	if input.EntryID <= 0 {
		verr.Add("entry_id", "required")
	}
	if len(input.Lines) == 0 {
		verr.Add("lines", "at least one line required")
	}
	if input.ActorID == 0 {
		verr.Add("actor", "required")
	}
	return verr.OrNil()
}
