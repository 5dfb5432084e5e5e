package invoicing

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/p2p/internal/platform/httpx"
	"github.com/odyssey-erp/p2p/internal/shared"
)

// Handler exposes invoice endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers invoicing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/Finance/Invoice/Invoices", h.create)
	r.Get("/Finance/Invoice/Invoices", h.list)
	r.Post("/Finance/Invoice/Invoices/BulkPost", h.bulkPost)
	r.Get("/Finance/Invoice/Invoices/{id}", h.get)
	r.Post("/Finance/Invoice/Invoices/{id}/Post", h.post)
	r.Post("/Finance/Invoice/Invoices/{id}/Reject", h.reject)
}

type rejectRequest struct {
	Remark string `json:"remark" validate:"required,max=500"`
}

type bulkRequest struct {
	IDs []int64 `json:"ids" validate:"required,min=1,max=100,dive,gt=0"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var input CreateInput
	if err := httpx.Bind(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input.ActorID = actor
	inv, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.fail(w, "create invoice", err)
		return
	}
	httpx.OK(w, http.StatusCreated, "Invoice drafted", inv)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	invoices, err := h.service.ListByPO(r.Context(), r.URL.Query().Get("poNumber"))
	if err != nil {
		h.fail(w, "list invoices", err)
		return
	}
	httpx.OK(w, http.StatusOK, "", invoices)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := invoiceID(w, r)
	if !ok {
		return
	}
	inv, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get invoice", err)
		return
	}
	httpx.OK(w, http.StatusOK, "", inv)
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, ok := invoiceID(w, r)
	if !ok {
		return
	}
	inv, err := h.service.Post(r.Context(), id, actor)
	if err != nil {
		h.fail(w, "post invoice", err)
		return
	}
	httpx.OK(w, http.StatusOK, "Invoice posted", inv)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, ok := invoiceID(w, r)
	if !ok {
		return
	}
	var req rejectRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.Reject(r.Context(), id, actor, req.Remark)
	if err != nil {
		h.fail(w, "reject invoice", err)
		return
	}
	httpx.OK(w, http.StatusOK, "Invoice rejected", inv)
}

func (h *Handler) bulkPost(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req bulkRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	results, err := h.service.BulkPost(r.Context(), req.IDs, actor)
	if err != nil {
		h.fail(w, "bulk post invoices", err)
		return
	}
	failed := 0
	for _, res := range results {
		if !res.Success {
			failed++
		}
	}
	if failed > 0 {
		httpx.Partial(w, strconv.Itoa(failed)+" invoice(s) could not be posted", results)
		return
	}
	httpx.OK(w, http.StatusOK, "Invoices posted", results)
}

func invoiceID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, shared.NewValidationError("id", "invalid id"))
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
