package reference

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/p2p/internal/platform/httpx"
	"github.com/odyssey-erp/p2p/internal/shared"
)

// Handler exposes catalog lookups.
type Handler struct {
	resolver *Resolver
}

// NewHandler builds Handler.
func NewHandler(resolver *Resolver) *Handler {
	return &Handler{resolver: resolver}
}

// MountRoutes registers lookup routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/PurchaseTypes", h.purchaseTypes)
	r.Get("/PurchaseTypes/{typeID}/SubTypes", h.purchaseSubTypes)
	r.Get("/Inventories", h.inventories)
	r.Get("/VendorContracts", h.vendorContracts)
}

func (h *Handler) purchaseTypes(w http.ResponseWriter, r *http.Request) {
	active, err := parseActive(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, err := h.resolver.PurchaseTypes(r.Context(), active)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, "", items)
}

func (h *Handler) purchaseSubTypes(w http.ResponseWriter, r *http.Request) {
	typeID, _ := strconv.ParseInt(chi.URLParam(r, "typeID"), 10, 64)
	active, err := parseActive(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, err := h.resolver.PurchaseSubTypes(r.Context(), typeID, active)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, "", items)
}

func (h *Handler) inventories(w http.ResponseWriter, r *http.Request) {
	active, err := parseActive(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := h.resolver.Inventories(r.Context(), InventoryFilter{
		Search:   r.URL.Query().Get("search"),
		Unit:     r.URL.Query().Get("unit"),
		IsActive: active,
		Limit:    limit,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, "", items)
}

func (h *Handler) vendorContracts(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(r.URL.Query().Get("subCoreBusinessId"), 10, 64)
	items, err := h.resolver.VendorContracts(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, "", items)
}

func parseActive(r *http.Request) (*bool, error) {
	raw := r.URL.Query().Get("isActive")
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, shared.NewValidationError("isActive", "must be true or false")
	}
	return &v, nil
}
