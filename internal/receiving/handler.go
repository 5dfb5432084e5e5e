package receiving

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/p2p/internal/platform/httpx"
)

// Handler exposes the goods receipt endpoints.
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

// MountRoutes registers receiving routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/Inventory/GoodReceiveNotes/Save", h.save)
	r.Get("/Inventory/GoodReceiveNotes/ItemsForInvoice/{poNumber}", h.itemsForInvoice)
}

func (h *Handler) save(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var input SaveInput
	if err := httpx.Bind(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input.ActorID = actor
	res, err := h.service.Save(r.Context(), input)
	if err != nil {
		if httpx.StatusFor(err) >= http.StatusInternalServerError {
			h.logger.Error("save goods receipt", slog.String("po", input.PONumber), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	msg := "Goods receipt saved"
	if res.Schedule == nil {
		msg = "Goods receipt saved; payment schedule not configured"
	}
	httpx.OK(w, http.StatusOK, msg, res)
}

func (h *Handler) itemsForInvoice(w http.ResponseWriter, r *http.Request) {
	lines, err := h.service.ItemsForInvoice(r.Context(), chi.URLParam(r, "poNumber"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, "", lines)
}
