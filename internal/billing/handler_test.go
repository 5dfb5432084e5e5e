package billing_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/p2p/internal/billing"
	"github.com/odyssey-erp/p2p/internal/platform/httpx"
	"github.com/odyssey-erp/p2p/internal/shared"
	"github.com/odyssey-erp/p2p/internal/workflow"
)

func newRouter(svc *billing.Service) http.Handler {
	r := chi.NewRouter()
	billing.NewHandler(nil, svc).MountRoutes(r)
	return r
}

func call(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, httpx.Envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(shared.ActorHeader, "10")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var env httpx.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec, env
}

func TestHandlerConfigureAndRead(t *testing.T) {
	svc, _ := newService(workflow.PODraft)
	h := newRouter(svc)

	rec, env := call(t, h, http.MethodPut, "/Finance/PaymentSchedules/PO-7",
		`{"type":"TERM","terms":[{"value_type":"PERCENT","value":"40"},{"value_type":"PERCENT","value":"60"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "Payment schedule saved", env.Message)

	rec, env = call(t, h, http.MethodGet, "/Finance/PaymentSchedules/PO-7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := env.Data.(map[string]any)
	require.Equal(t, "TERM", data["type"])
	require.Len(t, data["entries"], 2)
}

func TestHandlerConfigureValidation(t *testing.T) {
	svc, _ := newService(workflow.PODraft)
	h := newRouter(svc)

	rec, env := call(t, h, http.MethodPut, "/Finance/PaymentSchedules/PO-7", `{"type":"WEEKLY"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, env.Errors["type"], "must be one of")

	rec, _ = call(t, h, http.MethodPut, "/Finance/PaymentSchedules/PO-7",
		`{"type":"TERM","terms":[{"value_type":"PERCENT","value":"60"}]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerRecalculateWithoutSchedule(t *testing.T) {
	svc, _ := newService(workflow.POReleased)
	rec, _ := call(t, newRouter(svc), http.MethodGet, "/Inventory/GoodReceiveNotes/RecalcAmortization/PO-7", "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandlerCancelEntry(t *testing.T) {
	svc, _ := newService(workflow.PODraft)
	s := configurePeriods(t, svc)
	h := newRouter(svc)

	rec, env := call(t, h, http.MethodPost, "/Finance/PaymentSchedules/PO-7/Entries/x/Cancel", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid id", env.Errors["entry_id"])

	path := "/Finance/PaymentSchedules/PO-7/Entries/" + strconv.FormatInt(s.Entries[2].ID, 10) + "/Cancel"
	rec, env = call(t, h, http.MethodPost, path, `{"remark":"no longer needed"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, string(billing.EntryCancelled), env.Data.(map[string]any)["status"])

	rec, _ = call(t, h, http.MethodPost, path, "")
	require.Equal(t, http.StatusConflict, rec.Code)
}
