package procurement

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/p2p/internal/documents"
	"github.com/odyssey-erp/p2p/internal/reference"
	"github.com/odyssey-erp/p2p/internal/shared"
	"github.com/odyssey-erp/p2p/internal/workflow"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRequest(ctx context.Context, number string) (PurchaseRequest, error)
	GetOrder(ctx context.Context, number string) (PurchaseOrder, error)
	ListDocuments(ctx context.Context, prNumber string) ([]Document, error)
	GetDocument(ctx context.Context, prNumber string, id int64) (Document, error)
	GridOrders(ctx context.Context, filter GridFilter) ([]GridRow, int, error)
}

// TxRepository exposes transactional PR/PO writes. Workflow returns the
// status writer bound to the same transaction.
type TxRepository interface {
	InsertRequest(ctx context.Context, pr PurchaseRequest) error
	LockRequest(ctx context.Context, number string) (PurchaseRequest, error)
	ReplaceRequestItems(ctx context.Context, number string, items []Item, total decimal.Decimal) ([]Item, error)
	ReplaceAttributes(ctx context.Context, number string, attrs []Attribute) error
	InsertDocument(ctx context.Context, doc Document) (Document, error)
	OrderForRequest(ctx context.Context, prNumber string) (string, error)
	InsertOrder(ctx context.Context, po PurchaseOrder) error
	LockOrder(ctx context.Context, number string) (PurchaseOrder, error)
	ReplaceOrderItems(ctx context.Context, number string, items []Item, total decimal.Decimal) ([]Item, error)
	ClearSchedule(ctx context.Context, poNumber string) (bool, error)
	RecordAudit(ctx context.Context, log shared.AuditLog) error
	Workflow() workflow.TxRepository
}

// Transitioner is the workflow engine surface used by procurement.
type Transitioner interface {
	Apply(ctx context.Context, cmd workflow.Command) (workflow.Result, error)
	ApplyInTx(ctx context.Context, tx workflow.TxRepository, cmd workflow.Command) (workflow.Result, error)
	Dispatch(ctx context.Context, res workflow.Result)
	History(ctx context.Context, kind workflow.Kind, number string) ([]workflow.HistoryEntry, error)
}

// ContractResolver resolves vendor contracts for the PO snapshot.
type ContractResolver interface {
	VendorContract(ctx context.Context, id int64) (reference.VendorContract, error)
}

// DocumentStore keeps attachment bytes.
type DocumentStore interface {
	Put(ctx context.Context, name string, r io.Reader) (documents.Object, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// Service orchestrates purchase request and purchase order flows.
type Service struct {
	repo      RepositoryPort
	flow      Transitioner
	contracts ContractResolver
	store     DocumentStore
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, flow Transitioner, contracts ContractResolver, store DocumentStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, flow: flow, contracts: contracts, store: store, logger: logger, now: time.Now}
}

// CreatePurchaseRequest persists a Draft PR with its items and attributes.
func (s *Service) CreatePurchaseRequest(ctx context.Context, input CreatePRInput) (PurchaseRequest, error) {
	input.Number = strings.TrimSpace(input.Number)
	input.Currency = strings.ToUpper(strings.TrimSpace(input.Currency))
	verr := &shared.ValidationError{}
	if input.RequestorID <= 0 {
		verr.Add("actor", "required")
	}
	if input.PurchaseTypeID <= 0 {
		verr.Add("purchase_type_id", "required")
	}
	if input.PurchaseSubTypeID <= 0 {
		verr.Add("purchase_sub_type_id", "required")
	}
	if len(input.Currency) != 3 {
		verr.Add("currency", "must be an ISO 4217 code")
	}
	items, total := buildItems(verr, input.Items, input.Currency)
	validateAttributes(verr, input.Attributes)
	if err := verr.OrNil(); err != nil {
		return PurchaseRequest{}, err
	}
	if input.Number == "" {
		input.Number = generateNumber("PR", s.now())
	}
	applicant := input.ApplicantID
	if applicant == 0 {
		applicant = input.RequestorID
	}
	now := s.now()
	pr := PurchaseRequest{
		Number:            input.Number,
		RequestorID:       input.RequestorID,
		ApplicantID:       applicant,
		PurchaseTypeID:    input.PurchaseTypeID,
		PurchaseSubTypeID: input.PurchaseSubTypeID,
		SubCoreBusinessID: input.SubCoreBusinessID,
		CompanyCode:       strings.TrimSpace(input.CompanyCode),
		Currency:          input.Currency,
		Total:             total,
		Status:            workflow.PRDraft,
		Remark:            strings.TrimSpace(input.Remark),
		Attributes:        input.Attributes,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.InsertRequest(ctx, pr); err != nil {
			return err
		}
		stored, err := tx.ReplaceRequestItems(ctx, pr.Number, items, total)
		if err != nil {
			return err
		}
		pr.Items = stored
		if len(input.Attributes) > 0 {
			if err := tx.ReplaceAttributes(ctx, pr.Number, input.Attributes); err != nil {
				return err
			}
		}
		return tx.RecordAudit(ctx, s.audit(input.RequestorID, "pr.create", "purchase_request", pr.Number, map[string]any{"total": total.String(), "items": len(items)}))
	})
	if err != nil {
		return PurchaseRequest{}, err
	}
	s.logger.Info("purchase request created", slog.String("pr", pr.Number), slog.String("total", total.String()))
	return pr, nil
}

// ReplaceRequestItems swaps the item set of a Draft PR and recomputes its total.
func (s *Service) ReplaceRequestItems(ctx context.Context, number string, inputs []ItemInput, actorID int64) (PurchaseRequest, error) {
	number = strings.TrimSpace(number)
	var pr PurchaseRequest
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		pr, err = s.editableRequest(ctx, tx, number, actorID)
		if err != nil {
			return err
		}
		verr := &shared.ValidationError{}
		items, total := buildItems(verr, inputs, pr.Currency)
		if err := verr.OrNil(); err != nil {
			return err
		}
		pr.Items, err = tx.ReplaceRequestItems(ctx, pr.Number, items, total)
		if err != nil {
			return err
		}
		pr.Total = total
		return tx.RecordAudit(ctx, s.audit(actorID, "pr.items.replace", "purchase_request", pr.Number, map[string]any{"total": total.String(), "items": len(items)}))
	})
	if err != nil {
		return PurchaseRequest{}, err
	}
	return pr, nil
}

// SetAttributes replaces the additional attributes of a Draft PR.
func (s *Service) SetAttributes(ctx context.Context, number string, attrs []Attribute, actorID int64) error {
	number = strings.TrimSpace(number)
	verr := &shared.ValidationError{}
	validateAttributes(verr, attrs)
	if err := verr.OrNil(); err != nil {
		return err
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pr, err := s.editableRequest(ctx, tx, number, actorID)
		if err != nil {
			return err
		}
		if err := tx.ReplaceAttributes(ctx, pr.Number, attrs); err != nil {
			return err
		}
		return tx.RecordAudit(ctx, s.audit(actorID, "pr.attributes.replace", "purchase_request", pr.Number, map[string]any{"count": len(attrs)}))
	})
}

// AttachDocuments stores uploads and records their metadata on a Draft PR.
// Uploads the store rejects are reported in Failed; the rest are kept.
func (s *Service) AttachDocuments(ctx context.Context, number string, uploads []Upload, actorID int64) (AttachResult, error) {
	number = strings.TrimSpace(number)
	if len(uploads) == 0 {
		return AttachResult{}, shared.NewValidationError("files", "at least one file required")
	}
	if s.store == nil {
		return AttachResult{}, fmt.Errorf("procurement: document store not configured: %w", shared.ErrDependencyFailure)
	}
	if err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := s.editableRequest(ctx, tx, number, actorID)
		return err
	}); err != nil {
		return AttachResult{}, err
	}

	var result AttachResult
	for _, up := range uploads {
		obj, err := s.store.Put(ctx, up.Name, up.Body)
		if err != nil {
			s.logger.Warn("store purchase request document",
				slog.String("pr", number), slog.String("name", up.Name), slog.Any("error", err))
			result.Failed = append(result.Failed, FailedUpload{Name: up.Name, Error: shared.UserSafeMessage(err)})
			continue
		}
		var doc Document
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if _, err := s.editableRequest(ctx, tx, number, actorID); err != nil {
				return err
			}
			doc, err = tx.InsertDocument(ctx, Document{
				PRNumber:   number,
				Name:       obj.Name,
				Path:       obj.Key,
				Size:       obj.Size,
				UploadedBy: actorID,
				UploadedAt: s.now(),
			})
			if err != nil {
				return err
			}
			return tx.RecordAudit(ctx, s.audit(actorID, "pr.document.add", "purchase_request", number, map[string]any{"name": obj.Name, "size": obj.Size}))
		})
		if err != nil {
			if derr := s.store.Delete(ctx, obj.Key); derr != nil {
				s.logger.Warn("remove orphan document", slog.String("key", obj.Key), slog.Any("error", derr))
			}
			if len(result.Saved) == 0 && len(result.Failed) == 0 {
				return AttachResult{}, err
			}
			result.Failed = append(result.Failed, FailedUpload{Name: up.Name, Error: shared.UserSafeMessage(err)})
			continue
		}
		result.Saved = append(result.Saved, doc)
	}
	if len(result.Saved) == 0 {
		return result, fmt.Errorf("procurement: no document stored for %s: %w", number, shared.ErrDependencyFailure)
	}
	return result, nil
}

// ListDocuments returns document metadata of a PR.
func (s *Service) ListDocuments(ctx context.Context, number string) ([]Document, error) {
	return s.repo.ListDocuments(ctx, strings.TrimSpace(number))
}

// OpenDocument returns the metadata and bytes of one PR document.
func (s *Service) OpenDocument(ctx context.Context, number string, id int64) (Document, io.ReadCloser, error) {
	doc, err := s.repo.GetDocument(ctx, strings.TrimSpace(number), id)
	if err != nil {
		return Document{}, nil, err
	}
	if s.store == nil {
		return Document{}, nil, fmt.Errorf("procurement: document store not configured: %w", shared.ErrDependencyFailure)
	}
	body, err := s.store.Open(ctx, doc.Path)
	if err != nil {
		return Document{}, nil, err
	}
	return doc, body, nil
}

// Decide applies a user decision to a PR or PO through the workflow engine.
func (s *Service) Decide(ctx context.Context, input DecisionInput) (workflow.Result, error) {
	input.Number = strings.TrimSpace(input.Number)
	if input.Decision == workflow.DecisionAdvance {
		return workflow.Result{}, shared.NewValidationError("decision", "ADVANCE is reserved for the system")
	}
	if input.Decision == workflow.DecisionSubmit {
		if err := s.ensureItems(ctx, input.Kind, input.Number); err != nil {
			return workflow.Result{}, err
		}
	}
	res, err := s.flow.Apply(ctx, workflow.Command{
		Kind:     input.Kind,
		Number:   input.Number,
		From:     input.From,
		Decision: input.Decision,
		ActorID:  input.ActorID,
		Remarks:  input.Remarks,
	})
	if err != nil {
		return workflow.Result{}, err
	}
	s.logger.Info("workflow decision applied",
		slog.String("kind", string(res.Kind)),
		slog.String("number", res.Number),
		slog.String("from", string(res.From)),
		slog.String("to", string(res.To)),
		slog.Int64("actor", input.ActorID))
	return res, nil
}

// History returns the approval log of a PR or PO.
func (s *Service) History(ctx context.Context, kind workflow.Kind, number string) ([]workflow.HistoryEntry, error) {
	return s.flow.History(ctx, kind, number)
}

// ConvertToOrder creates a Draft PO from an approved PR, snapshotting the
// vendor contract, and advances the PR to PendingReceive in the same transaction.
func (s *Service) ConvertToOrder(ctx context.Context, input ConvertInput) (PurchaseOrder, error) {
	input.PRNumber = strings.TrimSpace(input.PRNumber)
	input.Number = strings.TrimSpace(input.Number)
	verr := &shared.ValidationError{}
	if input.PRNumber == "" {
		verr.Add("pr_number", "required")
	}
	if input.BuyerID <= 0 {
		verr.Add("actor", "required")
	}
	if input.VendorContractID <= 0 {
		verr.Add("vendor_contract_id", "required")
	}
	if err := verr.OrNil(); err != nil {
		return PurchaseOrder{}, err
	}
	contract, err := s.contracts.VendorContract(ctx, input.VendorContractID)
	if err != nil {
		return PurchaseOrder{}, err
	}
	var (
		po         PurchaseOrder
		transition workflow.Result
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pr, err := tx.LockRequest(ctx, input.PRNumber)
		if err != nil {
			return err
		}
		status, err := tx.Workflow().CurrentStatus(ctx, workflow.KindPR, pr.Number)
		if err != nil {
			return err
		}
		if status != workflow.PRApproved {
			return fmt.Errorf("procurement: PR %s is %s, only approved requests convert: %w", pr.Number, status, shared.ErrConflict)
		}
		if existing, err := tx.OrderForRequest(ctx, pr.Number); err != nil {
			return err
		} else if existing != "" {
			return fmt.Errorf("procurement: PR %s already converted to %s: %w", pr.Number, existing, shared.ErrConflict)
		}
		if contract.Currency != "" && contract.Currency != pr.Currency {
			return shared.NewValidationError("vendor_contract_id", fmt.Sprintf("contract currency %s differs from request currency %s", contract.Currency, pr.Currency))
		}
		number := input.Number
		if number == "" {
			number = generateNumber("PO", s.now())
		}
		now := s.now()
		po = PurchaseOrder{
			Number:            number,
			PRNumber:          pr.Number,
			BuyerID:           input.BuyerID,
			PurchaseTypeID:    pr.PurchaseTypeID,
			PurchaseSubTypeID: pr.PurchaseSubTypeID,
			VendorContractID:  contract.ID,
			ContractNumber:    contract.ContractNumber,
			VendorCode:        contract.VendorCode,
			VendorName:        contract.VendorName,
			VendorEmail:       contract.VendorEmail,
			Currency:          pr.Currency,
			Total:             pr.Total,
			Status:            workflow.PODraft,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := tx.InsertOrder(ctx, po); err != nil {
			return err
		}
		po.Items, err = tx.ReplaceOrderItems(ctx, po.Number, copyItems(pr.Items), pr.Total)
		if err != nil {
			return err
		}
		transition, err = s.flow.ApplyInTx(ctx, tx.Workflow(), workflow.Command{
			Kind:     workflow.KindPR,
			Number:   pr.Number,
			From:     workflow.PRApproved,
			Decision: workflow.DecisionAdvance,
			ActorID:  shared.SystemActorID,
			Remarks:  "converted to " + po.Number,
		})
		if err != nil {
			return err
		}
		return tx.RecordAudit(ctx, s.audit(input.BuyerID, "po.create", "purchase_order", po.Number, map[string]any{"pr": pr.Number, "contract": contract.ContractNumber}))
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.flow.Dispatch(ctx, transition)
	s.logger.Info("purchase order created", slog.String("po", po.Number), slog.String("pr", po.PRNumber))
	return po, nil
}

// ReplaceOrderItems amends the items of a Draft PO. A configured payment
// schedule no longer matches the new total and is removed.
func (s *Service) ReplaceOrderItems(ctx context.Context, number string, inputs []ItemInput, actorID int64) (PurchaseOrder, error) {
	number = strings.TrimSpace(number)
	var po PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, err = tx.LockOrder(ctx, number)
		if err != nil {
			return err
		}
		status, err := tx.Workflow().CurrentStatus(ctx, workflow.KindPO, po.Number)
		if err != nil {
			return err
		}
		if !status.AllowsItemEdit() {
			return fmt.Errorf("procurement: PO %s is %s: %w: %w", po.Number, status, ErrNotEditable, shared.ErrConflict)
		}
		if actorID != po.BuyerID {
			return fmt.Errorf("procurement: only the buyer may amend PO %s: %w", po.Number, shared.ErrForbidden)
		}
		verr := &shared.ValidationError{}
		items, total := buildItems(verr, inputs, po.Currency)
		if err := verr.OrNil(); err != nil {
			return err
		}
		po.Items, err = tx.ReplaceOrderItems(ctx, po.Number, items, total)
		if err != nil {
			return err
		}
		po.Total = total
		cleared, err := tx.ClearSchedule(ctx, po.Number)
		if err != nil {
			return err
		}
		return tx.RecordAudit(ctx, s.audit(actorID, "po.items.replace", "purchase_order", po.Number, map[string]any{"total": total.String(), "schedule_cleared": cleared}))
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

// GetRequest returns a PR with items, attributes and documents.
func (s *Service) GetRequest(ctx context.Context, number string) (PurchaseRequest, error) {
	return s.repo.GetRequest(ctx, strings.TrimSpace(number))
}

// GetOrder returns a PO with items.
func (s *Service) GetOrder(ctx context.Context, number string) (PurchaseOrder, error) {
	return s.repo.GetOrder(ctx, strings.TrimSpace(number))
}

// Grid lists POs page by page.
func (s *Service) Grid(ctx context.Context, filter GridFilter) (Grid, error) {
	for i, st := range filter.Statuses {
		if st.Kind() != workflow.KindPO {
			return Grid{}, shared.NewValidationError(fmt.Sprintf("statuses[%d]", i), "unknown PO status "+string(st))
		}
	}
	filter.Search = strings.TrimSpace(filter.Search)
	filter.Page, filter.PerPage = shared.NormalizePage(filter.Page, filter.PerPage)
	rows, total, err := s.repo.GridOrders(ctx, filter)
	if err != nil {
		return Grid{}, err
	}
	return Grid{Rows: rows, Total: total, Page: filter.Page, PerPage: filter.PerPage}, nil
}

func (s *Service) editableRequest(ctx context.Context, tx TxRepository, number string, actorID int64) (PurchaseRequest, error) {
	pr, err := tx.LockRequest(ctx, number)
	if err != nil {
		return PurchaseRequest{}, err
	}
	status, err := tx.Workflow().CurrentStatus(ctx, workflow.KindPR, pr.Number)
	if err != nil {
		return PurchaseRequest{}, err
	}
	if !status.AllowsItemEdit() {
		return PurchaseRequest{}, fmt.Errorf("procurement: PR %s is %s: %w: %w", pr.Number, status, ErrNotEditable, shared.ErrConflict)
	}
	if actorID != pr.RequestorID {
		return PurchaseRequest{}, fmt.Errorf("procurement: only the requestor may edit PR %s: %w", pr.Number, shared.ErrForbidden)
	}
	pr.Status = status
	return pr, nil
}

func (s *Service) ensureItems(ctx context.Context, kind workflow.Kind, number string) error {
	var count int
	switch kind {
	case workflow.KindPR:
		pr, err := s.repo.GetRequest(ctx, number)
		if err != nil {
			return err
		}
		count = len(pr.Items)
	case workflow.KindPO:
		po, err := s.repo.GetOrder(ctx, number)
		if err != nil {
			return err
		}
		count = len(po.Items)
	default:
		return shared.NewValidationError("kind", "must be PR or PO")
	}
	if count == 0 {
		return shared.NewValidationError("items", "at least one item required before submit")
	}
	return nil
}

func (s *Service) audit(actorID int64, action, entity, id string, meta map[string]any) shared.AuditLog {
	return shared.AuditLog{ActorID: actorID, Action: action, Entity: entity, EntityID: id, Meta: meta, At: s.now()}
}

// buildItems validates inputs and computes amounts. The total is the exact
// sum of line amounts.
func buildItems(verr *shared.ValidationError, inputs []ItemInput, currency string) ([]Item, decimal.Decimal) {
	if len(inputs) == 0 {
		verr.Add("items", "at least one item required")
		return nil, decimal.Zero
	}
	items := make([]Item, 0, len(inputs))
	total := decimal.Zero
	for i, in := range inputs {
		field := fmt.Sprintf("items[%d]", i)
		code := strings.TrimSpace(in.ItemCode)
		if code == "" {
			verr.Add(field+".item_code", "required")
		}
		if strings.TrimSpace(in.Unit) == "" {
			verr.Add(field+".unit", "required")
		}
		if !in.Quantity.IsPositive() {
			verr.Add(field+".quantity", "must be positive")
		}
		if in.UnitPrice.IsNegative() {
			verr.Add(field+".unit_price", "must not be negative")
		}
		amount := in.Quantity.Mul(in.UnitPrice)
		total = total.Add(amount)
		items = append(items, Item{
			LineNo:      i + 1,
			ItemCode:    code,
			Description: strings.TrimSpace(in.Description),
			Unit:        strings.TrimSpace(in.Unit),
			Currency:    currency,
			Quantity:    in.Quantity,
			UnitPrice:   in.UnitPrice,
			Amount:      amount,
		})
	}
	return items, total
}

func validateAttributes(verr *shared.ValidationError, attrs []Attribute) {
	seen := make(map[string]bool, len(attrs))
	for i, a := range attrs {
		key := strings.TrimSpace(a.Key)
		if key == "" {
			verr.Add(fmt.Sprintf("attributes[%d].key", i), "required")
			continue
		}
		if seen[key] {
			verr.Add(fmt.Sprintf("attributes[%d].key", i), "duplicate "+key)
		}
		seen[key] = true
	}
}

func copyItems(items []Item) []Item {
	out := make([]Item, len(items))
	for i, item := range items {
		item.ID = 0
		item.LineNo = i + 1
		out[i] = item
	}
	return out
}

func generateNumber(prefix string, now time.Time) string {
	return fmt.Sprintf("%s-%s-%d", prefix, now.Format("200601"), now.UnixNano()%1_000_000_000)
}
