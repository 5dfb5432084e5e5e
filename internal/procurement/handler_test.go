package procurement

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/p2p/internal/platform/httpx"
	"github.com/odyssey-erp/p2p/internal/shared"
	"github.com/odyssey-erp/p2p/internal/workflow"
)

func newTestRouter(t *testing.T) (fixture, http.Handler) {
	t.Helper()
	f := newFixture(t)
	r := chi.NewRouter()
	NewHandler(nil, f.service).MountRoutes(r)
	return f, r
}

func doJSON(t *testing.T, h http.Handler, method, path string, actor string, body string) (*httptest.ResponseRecorder, httpx.Envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set(shared.ActorHeader, actor)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var env httpx.Envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

const createBody = `{"number":"PR-100","purchase_type_id":1,"purchase_sub_type_id":2,"sub_core_business_id":3,
"company_code":"ODY","currency":"IDR","items":[{"item_code":"LAP-01","unit":"PCS","quantity":"2","unit_price":"1000.25"}]}`

func TestHandlerApprovalRoundTrip(t *testing.T) {
	f, h := newTestRouter(t)

	rec, env := doJSON(t, h, http.MethodPost, "/PurchaseRequest/PurchaseRequests", "11", createBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.True(t, env.Success)

	f.repo.flow.Assign(workflow.KindPR, "PR-100", workflow.PRPendingApproval, approver)
	rec, _ = doJSON(t, h, http.MethodPost, "/PurchaseRequest/PurchaseRequestApprovals/PR-100", "11", `{"decision":"SUBMIT"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, env = doJSON(t, h, http.MethodPost, "/PurchaseRequest/PurchaseRequestApprovals/PR-100", "21", `{"decision":"APPROVE"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "required", env.Errors["remarks"])

	rec, env = doJSON(t, h, http.MethodPost, "/PurchaseRequest/PurchaseRequestApprovals/PR-100", "99", `{"decision":"APPROVE","remarks":"ok"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.False(t, env.Success)

	rec, env = doJSON(t, h, http.MethodPost, "/PurchaseRequest/PurchaseRequestApprovals/PR-100", "21", `{"decision":"APPROVE","remarks":"ok","from":"PR_PENDING_APPROVAL"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "Status updated to PR_APPROVED", env.Message)

	rec, _ = doJSON(t, h, http.MethodPost, "/PurchaseRequest/PurchaseRequestApprovals/PR-100", "21", `{"decision":"APPROVE","remarks":"again"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec, env = doJSON(t, h, http.MethodGet, "/PurchaseRequest/PurchaseRequestApprovals/History/PR-100", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	entries, ok := env.Data.([]any)
	require.True(t, ok)
	require.Len(t, entries, 2)
}

func TestHandlerRequiresActor(t *testing.T) {
	_, h := newTestRouter(t)
	rec, env := doJSON(t, h, http.MethodPost, "/PurchaseRequest/PurchaseRequests", "", createBody)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "required", env.Errors["actor"])

	rec, _ = doJSON(t, h, http.MethodPost, "/PurchaseRequest/PurchaseRequestApprovals/PR-1", "abc", `{"decision":"SUBMIT"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerDecisionRejectsAdvanceAndUnknownDecision(t *testing.T) {
	_, h := newTestRouter(t)
	rec, env := doJSON(t, h, http.MethodPost, "/PurchaseOrder/PurchaseOrderApprovals/PO-1", "31", `{"decision":"ADVANCE"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, env.Errors["decision"], "must be one of")
}

func TestHandlerGrid(t *testing.T) {
	f, h := newTestRouter(t)
	_, err := f.service.CreatePurchaseRequest(t.Context(), prInput("PR-200"))
	require.NoError(t, err)
	f.approveRequest(t, "PR-200")
	_, err = f.service.ConvertToOrder(t.Context(), ConvertInput{PRNumber: "PR-200", Number: "PO-200", VendorContractID: 7, BuyerID: buyer})
	require.NoError(t, err)

	rec, env := doJSON(t, h, http.MethodPost, "/PurchaseOrder/PurchaseOrders/Grid", "31", `{"statuses":["PO_DRAFT"],"page":1,"per_page":10}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := env.Data.(map[string]any)
	require.EqualValues(t, 1, data["total"])

	rec, _ = doJSON(t, h, http.MethodPost, "/PurchaseOrder/PurchaseOrders/Grid", "31", `{"per_page":1000}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerDocumentUploadPartial(t *testing.T) {
	f, h := newTestRouter(t)
	_, err := f.service.CreatePurchaseRequest(t.Context(), prInput("PR-300"))
	require.NoError(t, err)
	f.store.fail["broken.pdf"] = true

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, body := range map[string]string{"quote.pdf": "quote", "broken.pdf": "x"} {
		part, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/PurchaseRequest/PurchaseRequests/PR-300/Documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(shared.ActorHeader, "11")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusMultiStatus, rec.Code, rec.Body.String())

	docs, err := f.service.ListDocuments(t.Context(), "PR-300")
	require.NoError(t, err)
	require.Len(t, docs, 1)
}
