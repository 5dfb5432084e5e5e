package receiving

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/p2p/internal/billing"
	"github.com/odyssey-erp/p2p/internal/shared"
	"github.com/odyssey-erp/p2p/internal/workflow"
)

// RepositoryPort describes persistence required by the recorder.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ActiveLines(ctx context.Context, poNumber string) ([]Line, error)
}

// TxRepository exposes transactional GRN operations. Billing and Workflow
// return collaborators bound to the same transaction.
type TxRepository interface {
	LockPurchaseOrder(ctx context.Context, poNumber string) (PurchaseOrder, error)
	ListPOItems(ctx context.Context, poNumber string) ([]POItem, error)
	ListLines(ctx context.Context, poNumber string) ([]Line, error)
	UpsertLine(ctx context.Context, line Line) (Line, error)
	// BilledQuantities returns, per PO item, the quantity held by Draft or
	// Posted invoices.
	BilledQuantities(ctx context.Context, poNumber string) (map[int64]decimal.Decimal, error)
	Billing() billing.TxRepository
	Workflow() workflow.TxRepository
}

// Transitioner applies workflow transitions on a caller owned transaction.
type Transitioner interface {
	ApplyInTx(ctx context.Context, tx workflow.TxRepository, cmd workflow.Command) (workflow.Result, error)
	Dispatch(ctx context.Context, res workflow.Result)
}

// Service records goods receipts.
type Service struct {
	repo   RepositoryPort
	flow   Transitioner
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the recorder.
func NewService(repo RepositoryPort, flow Transitioner, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, flow: flow, logger: logger, now: time.Now}
}

// Save upserts one GRN line per submitted PO item and recalculates the PO
// schedule in the same transaction. Unknown item ids are skipped. A line keeps
// the date of its first receipt; re-saves only change quantities.
func (s *Service) Save(ctx context.Context, input SaveInput) (SaveResult, error) {
	input.PONumber = strings.TrimSpace(input.PONumber)
	if err := validateSave(input); err != nil {
		return SaveResult{}, err
	}
	var (
		result     SaveResult
		transition workflow.Result
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPurchaseOrder(ctx, input.PONumber)
		if err != nil {
			return err
		}
		status, err := tx.Workflow().CurrentStatus(ctx, workflow.KindPO, po.Number)
		if err != nil {
			return err
		}
		if !status.AllowsReceiving() {
			return fmt.Errorf("receiving: PO %s is %s: %w", po.Number, status, shared.ErrConflict)
		}
		items, err := tx.ListPOItems(ctx, po.Number)
		if err != nil {
			return err
		}
		byID := make(map[int64]POItem, len(items))
		for _, item := range items {
			byID[item.ID] = item
		}
		billed, err := tx.BilledQuantities(ctx, po.Number)
		if err != nil {
			return err
		}
		now := s.now()
		for i, in := range input.Lines {
			item, ok := byID[in.POItemID]
			if !ok {
				result.Skipped = append(result.Skipped, in.POItemID)
				continue
			}
			actual := item.Quantity
			if in.ActualReceived != nil {
				actual = *in.ActualReceived
			}
			if actual.GreaterThan(item.Quantity) {
				return shared.NewValidationError(fmt.Sprintf("lines[%d].actual_received", i), "exceeds ordered quantity "+item.Quantity.String())
			}
			if held, ok := billed[item.ID]; ok && actual.LessThan(held) {
				return fmt.Errorf("%w: PO %s item %d has %s invoiced: %w", ErrBelowInvoiced, po.Number, item.ID, held.String(), shared.ErrConflict)
			}
			receivedAt := now
			if in.ReceivedAt != nil {
				receivedAt = *in.ReceivedAt
			}
			line, err := tx.UpsertLine(ctx, Line{
				PONumber:       po.Number,
				POItemID:       item.ID,
				ItemCode:       item.ItemCode,
				Description:    item.Description,
				Unit:           item.Unit,
				Currency:       item.Currency,
				UnitPrice:      item.UnitPrice,
				Ordered:        item.Quantity,
				ActualReceived: actual,
				Amount:         actual.Mul(item.UnitPrice),
				Remark:         strings.TrimSpace(in.Remark),
				ReceivedAt:     receivedAt,
				IsActive:       true,
				UpdatedBy:      input.ActorID,
			})
			if err != nil {
				return err
			}
			result.Lines = append(result.Lines, line)
		}
		if len(result.Lines) == 0 {
			return nil
		}
		schedule, err := billing.RecalculateTx(ctx, tx.Billing(), po.Number)
		switch {
		case errors.Is(err, shared.ErrConfigurationMissing):
			// receipts are kept; invoicing stays blocked until a schedule exists
		case err != nil:
			return err
		default:
			result.Schedule = &schedule
		}
		transition, err = s.advanceRequest(ctx, tx, po, items)
		return err
	})
	if err != nil {
		return SaveResult{}, err
	}
	if s.flow != nil && transition.Number != "" {
		s.flow.Dispatch(ctx, transition)
	}
	s.logger.Info("goods receipt saved",
		slog.String("po", input.PONumber),
		slog.Int("lines", len(result.Lines)),
		slog.Int("skipped", len(result.Skipped)))
	return result, nil
}

// advanceRequest moves the originating PR to Received once every PO line is fully received.
func (s *Service) advanceRequest(ctx context.Context, tx TxRepository, po PurchaseOrder, items []POItem) (workflow.Result, error) {
	if s.flow == nil || po.PRNumber == "" {
		return workflow.Result{}, nil
	}
	lines, err := tx.ListLines(ctx, po.Number)
	if err != nil {
		return workflow.Result{}, err
	}
	received := make(map[int64]bool, len(lines))
	for _, line := range lines {
		received[line.POItemID] = line.Received()
	}
	for _, item := range items {
		if !received[item.ID] {
			return workflow.Result{}, nil
		}
	}
	prStatus, err := tx.Workflow().CurrentStatus(ctx, workflow.KindPR, po.PRNumber)
	if err != nil {
		return workflow.Result{}, err
	}
	if prStatus != workflow.PRPendingReceive {
		return workflow.Result{}, nil
	}
	return s.flow.ApplyInTx(ctx, tx.Workflow(), workflow.Command{
		Kind:     workflow.KindPR,
		Number:   po.PRNumber,
		From:     workflow.PRPendingReceive,
		Decision: workflow.DecisionAdvance,
		ActorID:  shared.SystemActorID,
		Remarks:  "goods received on " + po.Number,
	})
}

// ItemsForInvoice returns the active GRN lines of a PO, the billable projection.
func (s *Service) ItemsForInvoice(ctx context.Context, poNumber string) ([]Line, error) {
	poNumber = strings.TrimSpace(poNumber)
	if poNumber == "" {
		return nil, shared.NewValidationError("po_number", "required")
	}
	return s.repo.ActiveLines(ctx, poNumber)
}

func validateSave(input SaveInput) error {
	verr := &shared.ValidationError{}
	if input.PONumber == "" {
		verr.Add("po_number", "required")
	}
	if len(input.Lines) == 0 {
		verr.Add("lines", "at least one line required")
	}
	if input.ActorID == 0 {
		verr.Add("actor", "required")
	}
	for i, line := range input.Lines {
		if line.POItemID <= 0 {
			verr.Add(fmt.Sprintf("lines[%d].po_item_id", i), "required")
		}
		if line.ActualReceived != nil && line.ActualReceived.IsNegative() {
			verr.Add(fmt.Sprintf("lines[%d].actual_received", i), "must not be negative")
		}
	}
	return verr.OrNil()
}
