package billing

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/p2p/internal/platform/httpx"
	"github.com/odyssey-erp/p2p/internal/shared"
)

// Handler exposes payment schedule endpoints.
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

// MountRoutes registers billing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/Finance/PaymentSchedules/{poNumber}", h.schedule)
	r.Put("/Finance/PaymentSchedules/{poNumber}", h.configure)
	r.Post("/Finance/PaymentSchedules/{poNumber}/Entries/{entryID}/Cancel", h.cancel)
	r.Get("/Inventory/GoodReceiveNotes/RecalcAmortization/{poNumber}", h.recalculate)
}

func (h *Handler) schedule(w http.ResponseWriter, r *http.Request) {
	s, err := h.service.Schedule(r.Context(), chi.URLParam(r, "poNumber"))
	if err != nil {
		h.fail(w, "get schedule", err)
		return
	}
	httpx.OK(w, http.StatusOK, "", s)
}

func (h *Handler) configure(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var input ConfigureInput
	if err := httpx.Bind(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input.PONumber = chi.URLParam(r, "poNumber")
	input.ActorID = actor
	s, err := h.service.Configure(r.Context(), input)
	if err != nil {
		h.fail(w, "configure schedule", err)
		return
	}
	httpx.OK(w, http.StatusOK, "Payment schedule saved", s)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entryID, err := strconv.ParseInt(chi.URLParam(r, "entryID"), 10, 64)
	if err != nil || entryID <= 0 {
		httpx.RespondError(w, shared.NewValidationError("entry_id", "invalid id"))
		return
	}
	var input CancelInput
	if r.ContentLength != 0 {
		if err := httpx.Bind(r, &input); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	input.PONumber = chi.URLParam(r, "poNumber")
	input.EntryID = entryID
	input.ActorID = actor
	entry, err := h.service.CancelEntry(r.Context(), input)
	if err != nil {
		h.fail(w, "cancel schedule entry", err)
		return
	}
	httpx.OK(w, http.StatusOK, "Entry cancelled", entry)
}

func (h *Handler) recalculate(w http.ResponseWriter, r *http.Request) {
	s, err := h.service.Recalculate(r.Context(), chi.URLParam(r, "poNumber"))
	if err != nil {
		h.fail(w, "recalculate schedule", err)
		return
	}
	httpx.OK(w, http.StatusOK, "", s)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
