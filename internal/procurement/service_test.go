package procurement

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/p2p/internal/documents"
	"github.com/odyssey-erp/p2p/internal/reference"
	"github.com/odyssey-erp/p2p/internal/shared"
	"github.com/odyssey-erp/p2p/internal/workflow"
	"github.com/odyssey-erp/p2p/internal/workflow/workflowtest"
)

type memoryProcRepo struct {
	mu        sync.Mutex
	prs       map[string]PurchaseRequest
	pos       map[string]PurchaseOrder
	docs      map[string][]Document
	schedules map[string]bool
	audits    []shared.AuditLog
	nextID    int64
	flow      *workflowtest.Memory
}

type memoryProcTx struct {
	repo      *memoryProcRepo
	prs       map[string]PurchaseRequest
	pos       map[string]PurchaseOrder
	docs      map[string][]Document
	schedules map[string]bool
	audits    []shared.AuditLog
	nextID    int64
	workflow  *workflowtest.Tx
}

func newMemoryProcRepo() *memoryProcRepo {
	return &memoryProcRepo{
		prs:       make(map[string]PurchaseRequest),
		pos:       make(map[string]PurchaseOrder),
		docs:      make(map[string][]Document),
		schedules: make(map[string]bool),
		flow:      workflowtest.NewMemory(),
	}
}

func (r *memoryProcRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &memoryProcTx{
		repo:      r,
		prs:       make(map[string]PurchaseRequest),
		pos:       make(map[string]PurchaseOrder),
		docs:      make(map[string][]Document),
		schedules: make(map[string]bool),
		nextID:    r.nextID,
		workflow:  r.flow.Begin(),
	}
	if err := fn(ctx, tx); err != nil {
		tx.workflow.Rollback()
		return err
	}
	for k, v := range tx.prs {
		r.prs[k] = v
	}
	for k, v := range tx.pos {
		r.pos[k] = v
	}
	for k, v := range tx.docs {
		r.docs[k] = v
	}
	for k, v := range tx.schedules {
		r.schedules[k] = v
	}
	r.audits = append(r.audits, tx.audits...)
	r.nextID = tx.nextID
	tx.workflow.Commit()
	return nil
}

func (r *memoryProcRepo) GetRequest(_ context.Context, number string) (PurchaseRequest, error) {
	r.mu.Lock()
	pr, ok := r.prs[number]
	docs := append([]Document(nil), r.docs[number]...)
	r.mu.Unlock()
	if !ok {
		return PurchaseRequest{}, fmt.Errorf("PR %s: %w", number, shared.ErrNotFound)
	}
	pr.Status = r.flow.Status(workflow.KindPR, number)
	pr.Documents = docs
	return pr, nil
}

func (r *memoryProcRepo) GetOrder(_ context.Context, number string) (PurchaseOrder, error) {
	r.mu.Lock()
	po, ok := r.pos[number]
	r.mu.Unlock()
	if !ok {
		return PurchaseOrder{}, fmt.Errorf("PO %s: %w", number, shared.ErrNotFound)
	}
	po.Status = r.flow.Status(workflow.KindPO, number)
	return po, nil
}

func (r *memoryProcRepo) ListDocuments(_ context.Context, prNumber string) ([]Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.prs[prNumber]; !ok {
		return nil, fmt.Errorf("PR %s: %w", prNumber, shared.ErrNotFound)
	}
	return append([]Document(nil), r.docs[prNumber]...), nil
}

func (r *memoryProcRepo) GetDocument(_ context.Context, prNumber string, id int64) (Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.docs[prNumber] {
		if d.ID == id {
			return d, nil
		}
	}
	return Document{}, fmt.Errorf("document %d: %w", id, shared.ErrNotFound)
}

func (r *memoryProcRepo) GridOrders(_ context.Context, filter GridFilter) ([]GridRow, int, error) {
	r.mu.Lock()
	numbers := make([]string, 0, len(r.pos))
	for n := range r.pos {
		numbers = append(numbers, n)
	}
	r.mu.Unlock()
	sort.Strings(numbers)
	var rows []GridRow
	for _, n := range numbers {
		po, _ := r.GetOrder(context.Background(), n)
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, po.Status) {
			continue
		}
		if filter.Search != "" && !strings.Contains(po.Number+po.VendorName, filter.Search) {
			continue
		}
		rows = append(rows, GridRow{Number: po.Number, PRNumber: po.PRNumber, VendorName: po.VendorName, Currency: po.Currency, Total: po.Total, Status: po.Status, StatusLabel: string(po.Status)})
	}
	total := len(rows)
	start := shared.Offset(filter.Page, filter.PerPage)
	if start > total {
		start = total
	}
	end := start + filter.PerPage
	if end > total {
		end = total
	}
	return rows[start:end], total, nil
}

func containsStatus(list []workflow.Status, s workflow.Status) bool {
	for _, candidate := range list {
		if candidate == s {
			return true
		}
	}
	return false
}

func (t *memoryProcTx) Workflow() workflow.TxRepository { return t.workflow }

func (t *memoryProcTx) request(number string) (PurchaseRequest, bool) {
	if pr, ok := t.prs[number]; ok {
		return pr, true
	}
	pr, ok := t.repo.prs[number]
	return pr, ok
}

func (t *memoryProcTx) order(number string) (PurchaseOrder, bool) {
	if po, ok := t.pos[number]; ok {
		return po, true
	}
	po, ok := t.repo.pos[number]
	return po, ok
}

func (t *memoryProcTx) InsertRequest(_ context.Context, pr PurchaseRequest) error {
	if _, ok := t.request(pr.Number); ok {
		return fmt.Errorf("PR %s exists: %w", pr.Number, shared.ErrConflict)
	}
	t.prs[pr.Number] = pr
	t.workflow.Seed(workflow.KindPR, pr.Number, workflow.PRDraft, pr.RequestorID)
	return nil
}

func (t *memoryProcTx) LockRequest(_ context.Context, number string) (PurchaseRequest, error) {
	pr, ok := t.request(number)
	if !ok {
		return PurchaseRequest{}, fmt.Errorf("PR %s: %w", number, shared.ErrNotFound)
	}
	return pr, nil
}

func (t *memoryProcTx) ReplaceRequestItems(_ context.Context, number string, items []Item, total decimal.Decimal) ([]Item, error) {
	pr, _ := t.request(number)
	out := make([]Item, len(items))
	for i, item := range items {
		t.nextID++
		item.ID = t.nextID
		out[i] = item
	}
	pr.Items, pr.Total = out, total
	t.prs[number] = pr
	return out, nil
}

func (t *memoryProcTx) ReplaceAttributes(_ context.Context, number string, attrs []Attribute) error {
	pr, _ := t.request(number)
	pr.Attributes = append([]Attribute(nil), attrs...)
	t.prs[number] = pr
	return nil
}

func (t *memoryProcTx) InsertDocument(_ context.Context, doc Document) (Document, error) {
	t.nextID++
	doc.ID = t.nextID
	existing := t.docs[doc.PRNumber]
	if existing == nil {
		existing = append([]Document(nil), t.repo.docs[doc.PRNumber]...)
	}
	t.docs[doc.PRNumber] = append(existing, doc)
	return doc, nil
}

func (t *memoryProcTx) OrderForRequest(_ context.Context, prNumber string) (string, error) {
	for _, set := range []map[string]PurchaseOrder{t.pos, t.repo.pos} {
		for _, po := range set {
			if po.PRNumber == prNumber {
				return po.Number, nil
			}
		}
	}
	return "", nil
}

func (t *memoryProcTx) InsertOrder(_ context.Context, po PurchaseOrder) error {
	if _, ok := t.order(po.Number); ok {
		return fmt.Errorf("PO %s exists: %w", po.Number, shared.ErrConflict)
	}
	t.pos[po.Number] = po
	t.workflow.Seed(workflow.KindPO, po.Number, workflow.PODraft, po.BuyerID)
	return nil
}

func (t *memoryProcTx) LockOrder(_ context.Context, number string) (PurchaseOrder, error) {
	po, ok := t.order(number)
	if !ok {
		return PurchaseOrder{}, fmt.Errorf("PO %s: %w", number, shared.ErrNotFound)
	}
	return po, nil
}

func (t *memoryProcTx) ReplaceOrderItems(_ context.Context, number string, items []Item, total decimal.Decimal) ([]Item, error) {
	po, _ := t.order(number)
	out := make([]Item, len(items))
	for i, item := range items {
		t.nextID++
		item.ID = t.nextID
		out[i] = item
	}
	po.Items, po.Total = out, total
	t.pos[number] = po
	return out, nil
}

func (t *memoryProcTx) ClearSchedule(_ context.Context, poNumber string) (bool, error) {
	had := t.repo.schedules[poNumber] || t.schedules[poNumber]
	t.schedules[poNumber] = false
	return had, nil
}

func (t *memoryProcTx) RecordAudit(_ context.Context, log shared.AuditLog) error {
	t.audits = append(t.audits, log)
	return nil
}

type stubContracts map[int64]reference.VendorContract

func (s stubContracts) VendorContract(_ context.Context, id int64) (reference.VendorContract, error) {
	c, ok := s[id]
	if !ok || !c.IsActive {
		return reference.VendorContract{}, fmt.Errorf("contract %d: %w", id, shared.ErrNotFound)
	}
	return c, nil
}

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    map[string]bool
	deleted []string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: make(map[string][]byte), fail: make(map[string]bool)}
}

func (s *memoryStore) Put(_ context.Context, name string, r io.Reader) (documents.Object, error) {
	if s.fail[name] {
		return documents.Object{}, fmt.Errorf("disk full: %w", shared.ErrDependencyFailure)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return documents.Object{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fmt.Sprintf("key-%d-%s", len(s.objects)+1, name)
	s.objects[key] = body
	return documents.Object{Key: key, Name: name, Size: int64(len(body))}, nil
}

func (s *memoryStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, ok := s.objects[key]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(string(body))), nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	s.deleted = append(s.deleted, key)
	return nil
}

const (
	requestor = int64(11)
	approver  = int64(21)
	buyer     = int64(31)
)

type fixture struct {
	repo    *memoryProcRepo
	store   *memoryStore
	service *Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	repo := newMemoryProcRepo()
	store := newMemoryStore()
	engine := workflow.NewEngine(repo.flow, nil, workflow.NewAssignmentAuthorizer(repo.flow), nil, nil)
	contracts := stubContracts{
		7: {ID: 7, ContractNumber: "CTR-007", VendorCode: "V-07", VendorName: "PT Sumber Makmur", VendorEmail: "ap@sumber.test", Currency: "IDR", IsActive: true},
		8: {ID: 8, ContractNumber: "CTR-008", VendorCode: "V-08", VendorName: "Acme", Currency: "USD", IsActive: true},
	}
	svc := NewService(repo, engine, contracts, store, nil)
	svc.now = func() time.Time { return time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC) }
	return fixture{repo: repo, store: store, service: svc}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func prInput(number string) CreatePRInput {
	return CreatePRInput{
		Number:            number,
		PurchaseTypeID:    1,
		PurchaseSubTypeID: 2,
		SubCoreBusinessID: 3,
		CompanyCode:       "ODY",
		Currency:          "idr",
		RequestorID:       requestor,
		Items: []ItemInput{
			{ItemCode: "LAP-01", Description: "Laptop", Unit: "PCS", Quantity: dec("2"), UnitPrice: dec("12500000.50")},
			{ItemCode: "MOU-01", Description: "Mouse", Unit: "PCS", Quantity: dec("3"), UnitPrice: dec("150000")},
		},
		Attributes: []Attribute{{Key: "cost_center", Value: "IT"}},
	}
}

// approveRequest walks a PR from Draft to Approved.
func (f fixture) approveRequest(t *testing.T, number string) {
	t.Helper()
	ctx := context.Background()
	f.repo.flow.Assign(workflow.KindPR, number, workflow.PRPendingApproval, approver)
	_, err := f.service.Decide(ctx, DecisionInput{Kind: workflow.KindPR, Number: number, Decision: workflow.DecisionSubmit, ActorID: requestor})
	require.NoError(t, err)
	_, err = f.service.Decide(ctx, DecisionInput{Kind: workflow.KindPR, Number: number, Decision: workflow.DecisionApprove, Remarks: "budget ok", ActorID: approver})
	require.NoError(t, err)
}

func TestCreatePurchaseRequestComputesTotal(t *testing.T) {
	f := newFixture(t)
	pr, err := f.service.CreatePurchaseRequest(context.Background(), prInput("PR-001"))
	require.NoError(t, err)

	require.Equal(t, workflow.PRDraft, pr.Status)
	require.Equal(t, "IDR", pr.Currency)
	require.True(t, dec("25450001").Equal(pr.Total), pr.Total.String())
	require.Len(t, pr.Items, 2)
	require.True(t, dec("25000001").Equal(pr.Items[0].Amount))
	require.Equal(t, 2, pr.Items[1].LineNo)

	sum := decimal.Zero
	for _, item := range pr.Items {
		sum = sum.Add(item.Amount)
	}
	require.True(t, sum.Equal(pr.Total))
	require.Equal(t, workflow.PRDraft, f.repo.flow.Status(workflow.KindPR, "PR-001"))
	require.Len(t, f.repo.audits, 1)
	require.Equal(t, "pr.create", f.repo.audits[0].Action)
}

func TestCreatePurchaseRequestValidation(t *testing.T) {
	f := newFixture(t)
	input := prInput("PR-002")
	input.Items[0].Quantity = decimal.Zero
	input.Items[1].ItemCode = ""
	input.Attributes = append(input.Attributes, Attribute{Key: "cost_center"})
	_, err := f.service.CreatePurchaseRequest(context.Background(), input)
	require.ErrorIs(t, err, shared.ErrValidation)
	fields := shared.FieldErrors(err)
	require.Contains(t, fields, "items[0].quantity")
	require.Contains(t, fields, "items[1].item_code")
	require.Contains(t, fields, "attributes[1].key")

	input = prInput("PR-002")
	input.Items = nil
	_, err = f.service.CreatePurchaseRequest(context.Background(), input)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRequestEditableOnlyInDraftByRequestor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.service.CreatePurchaseRequest(ctx, prInput("PR-003"))
	require.NoError(t, err)

	pr, err := f.service.ReplaceRequestItems(ctx, "PR-003", []ItemInput{{ItemCode: "DSK-01", Unit: "PCS", Quantity: dec("1.5"), UnitPrice: dec("1000")}}, requestor)
	require.NoError(t, err)
	require.True(t, dec("1500").Equal(pr.Total))

	_, err = f.service.ReplaceRequestItems(ctx, "PR-003", []ItemInput{{ItemCode: "DSK-01", Unit: "PCS", Quantity: dec("1"), UnitPrice: dec("1")}}, approver)
	require.ErrorIs(t, err, shared.ErrForbidden)

	f.approveRequest(t, "PR-003")
	_, err = f.service.ReplaceRequestItems(ctx, "PR-003", []ItemInput{{ItemCode: "DSK-01", Unit: "PCS", Quantity: dec("1"), UnitPrice: dec("1")}}, requestor)
	require.ErrorIs(t, err, shared.ErrConflict)
	require.ErrorIs(t, err, ErrNotEditable)

	err = f.service.SetAttributes(ctx, "PR-003", []Attribute{{Key: "project", Value: "X"}}, requestor)
	require.ErrorIs(t, err, shared.ErrConflict)

	stored, err := f.service.GetRequest(ctx, "PR-003")
	require.NoError(t, err)
	require.True(t, dec("1500").Equal(stored.Total))
}

func TestConvertApprovedRequestToOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.service.CreatePurchaseRequest(ctx, prInput("PR-004"))
	require.NoError(t, err)
	f.approveRequest(t, "PR-004")

	po, err := f.service.ConvertToOrder(ctx, ConvertInput{PRNumber: "PR-004", Number: "PO-004", VendorContractID: 7, BuyerID: buyer})
	require.NoError(t, err)
	require.Equal(t, workflow.PODraft, po.Status)
	require.Equal(t, "PR-004", po.PRNumber)
	require.Equal(t, "PT Sumber Makmur", po.VendorName)
	require.Equal(t, "CTR-007", po.ContractNumber)
	require.True(t, dec("25450001").Equal(po.Total))
	require.Len(t, po.Items, 2)
	require.Equal(t, "LAP-01", po.Items[0].ItemCode)

	require.Equal(t, workflow.PRPendingReceive, f.repo.flow.Status(workflow.KindPR, "PR-004"))
	require.Equal(t, workflow.PODraft, f.repo.flow.Status(workflow.KindPO, "PO-004"))

	history, err := f.service.History(ctx, workflow.KindPR, "PR-004")
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, workflow.DecisionAdvance, history[2].Decision)
	require.Equal(t, shared.SystemActorID, history[2].ActorID)

	_, err = f.service.ConvertToOrder(ctx, ConvertInput{PRNumber: "PR-004", VendorContractID: 7, BuyerID: buyer})
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestConvertRequiresApprovedRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.service.CreatePurchaseRequest(ctx, prInput("PR-005"))
	require.NoError(t, err)

	_, err = f.service.ConvertToOrder(ctx, ConvertInput{PRNumber: "PR-005", VendorContractID: 7, BuyerID: buyer})
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Equal(t, workflow.PRDraft, f.repo.flow.Status(workflow.KindPR, "PR-005"))

	f.approveRequest(t, "PR-005")
	_, err = f.service.ConvertToOrder(ctx, ConvertInput{PRNumber: "PR-005", VendorContractID: 8, BuyerID: buyer})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = f.service.ConvertToOrder(ctx, ConvertInput{PRNumber: "PR-005", VendorContractID: 99, BuyerID: buyer})
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Equal(t, workflow.PRApproved, f.repo.flow.Status(workflow.KindPR, "PR-005"))
}

func TestDecideRejectsSystemAdvanceAndEmptySubmit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.service.CreatePurchaseRequest(ctx, prInput("PR-006"))
	require.NoError(t, err)

	_, err = f.service.Decide(ctx, DecisionInput{Kind: workflow.KindPR, Number: "PR-006", Decision: workflow.DecisionAdvance, ActorID: requestor})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.service.Decide(ctx, DecisionInput{Kind: workflow.KindPR, Number: "PR-006", Decision: workflow.DecisionApprove, Remarks: "ok", ActorID: approver})
	require.ErrorIs(t, err, shared.ErrConflict)

	_, err = f.service.Decide(ctx, DecisionInput{Kind: workflow.KindPR, Number: "PR-404", Decision: workflow.DecisionSubmit, ActorID: requestor})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestAttachDocumentsPartialSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.service.CreatePurchaseRequest(ctx, prInput("PR-007"))
	require.NoError(t, err)
	f.store.fail["broken.pdf"] = true

	result, err := f.service.AttachDocuments(ctx, "PR-007", []Upload{
		{Name: "quote.pdf", Body: strings.NewReader("quote")},
		{Name: "broken.pdf", Body: strings.NewReader("x")},
	}, requestor)
	require.NoError(t, err)
	require.True(t, result.Partial())
	require.Len(t, result.Saved, 1)
	require.Equal(t, "broken.pdf", result.Failed[0].Name)

	docs, err := f.service.ListDocuments(ctx, "PR-007")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.EqualValues(t, 5, docs[0].Size)

	doc, body, err := f.service.OpenDocument(ctx, "PR-007", docs[0].ID)
	require.NoError(t, err)
	defer body.Close()
	raw, _ := io.ReadAll(body)
	require.Equal(t, "quote.pdf", doc.Name)
	require.Equal(t, "quote", string(raw))

	_, err = f.service.AttachDocuments(ctx, "PR-007", []Upload{{Name: "broken.pdf", Body: strings.NewReader("x")}}, requestor)
	require.ErrorIs(t, err, shared.ErrDependencyFailure)
}

func TestAttachDocumentsRequiresDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.service.CreatePurchaseRequest(ctx, prInput("PR-008"))
	require.NoError(t, err)
	f.approveRequest(t, "PR-008")

	_, err = f.service.AttachDocuments(ctx, "PR-008", []Upload{{Name: "late.pdf", Body: strings.NewReader("x")}}, requestor)
	require.True(t, errors.Is(err, ErrNotEditable))
	require.Empty(t, f.store.objects)
}

func TestReplaceOrderItemsClearsSchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.service.CreatePurchaseRequest(ctx, prInput("PR-009"))
	require.NoError(t, err)
	f.approveRequest(t, "PR-009")
	_, err = f.service.ConvertToOrder(ctx, ConvertInput{PRNumber: "PR-009", Number: "PO-009", VendorContractID: 7, BuyerID: buyer})
	require.NoError(t, err)
	f.repo.schedules["PO-009"] = true

	items := []ItemInput{{ItemCode: "LAP-01", Unit: "PCS", Quantity: dec("4"), UnitPrice: dec("250000")}}
	_, err = f.service.ReplaceOrderItems(ctx, "PO-009", items, requestor)
	require.ErrorIs(t, err, shared.ErrForbidden)

	po, err := f.service.ReplaceOrderItems(ctx, "PO-009", items, buyer)
	require.NoError(t, err)
	require.True(t, dec("1000000").Equal(po.Total))
	require.False(t, f.repo.schedules["PO-009"])
	last := f.repo.audits[len(f.repo.audits)-1]
	require.Equal(t, "po.items.replace", last.Action)
	require.Equal(t, true, last.Meta["schedule_cleared"])

	f.repo.flow.Assign(workflow.KindPO, "PO-009", workflow.POPendingApproval1, approver)
	_, err = f.service.Decide(ctx, DecisionInput{Kind: workflow.KindPO, Number: "PO-009", Decision: workflow.DecisionSubmit, ActorID: buyer})
	require.NoError(t, err)
	_, err = f.service.ReplaceOrderItems(ctx, "PO-009", items, buyer)
	require.ErrorIs(t, err, ErrNotEditable)
}

func TestGridFiltersByStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, n := range []string{"010", "011", "012"} {
		_, err := f.service.CreatePurchaseRequest(ctx, prInput("PR-"+n))
		require.NoError(t, err)
		f.approveRequest(t, "PR-"+n)
		_, err = f.service.ConvertToOrder(ctx, ConvertInput{PRNumber: "PR-" + n, Number: "PO-" + n, VendorContractID: 7, BuyerID: buyer})
		require.NoError(t, err)
	}
	_, err := f.service.Decide(ctx, DecisionInput{Kind: workflow.KindPO, Number: "PO-011", Decision: workflow.DecisionCancel, ActorID: buyer})
	require.NoError(t, err)

	grid, err := f.service.Grid(ctx, GridFilter{Statuses: []workflow.Status{workflow.PODraft}, PerPage: 1, Page: 2})
	require.NoError(t, err)
	require.Equal(t, 2, grid.Total)
	require.Len(t, grid.Rows, 1)
	require.Equal(t, "PO-012", grid.Rows[0].Number)

	_, err = f.service.Grid(ctx, GridFilter{Statuses: []workflow.Status{workflow.PRDraft}})
	require.ErrorIs(t, err, shared.ErrValidation)
}
