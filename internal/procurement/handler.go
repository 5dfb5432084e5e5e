package procurement

import (
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/p2p/internal/platform/httpx"
	"github.com/odyssey-erp/p2p/internal/shared"
	"github.com/odyssey-erp/p2p/internal/workflow"
)

// maxUpload bounds a multipart document request.
const maxUpload = 32 << 20

// Handler manages procurement endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/PurchaseRequest", func(r chi.Router) {
		r.Post("/PurchaseRequests", h.createRequest)
		r.Get("/PurchaseRequests/{prNumber}", h.getRequest)
		r.Put("/PurchaseRequests/{prNumber}/Items", h.replaceRequestItems)
		r.Put("/PurchaseRequests/{prNumber}/Attributes", h.setAttributes)
		r.Post("/PurchaseRequests/{prNumber}/Documents", h.attachDocuments)
		r.Get("/PurchaseRequests/{prNumber}/Documents", h.listDocuments)
		r.Get("/PurchaseRequests/{prNumber}/Documents/{docID}", h.downloadDocument)
		r.Post("/PurchaseRequests/{prNumber}/ConvertToPO", h.convert)
		r.Post("/PurchaseRequestApprovals/{prNumber}", h.decide(workflow.KindPR, "prNumber"))
		r.Get("/PurchaseRequestApprovals/History/{prNumber}", h.history(workflow.KindPR, "prNumber"))
	})
	r.Route("/PurchaseOrder", func(r chi.Router) {
		r.Post("/PurchaseOrders/Grid", h.grid)
		r.Get("/PurchaseOrders/{poNumber}", h.getOrder)
		r.Put("/PurchaseOrders/{poNumber}/Items", h.replaceOrderItems)
		r.Post("/PurchaseOrderApprovals/{poNumber}", h.decide(workflow.KindPO, "poNumber"))
		r.Get("/PurchaseOrderApprovals/History/{poNumber}", h.history(workflow.KindPO, "poNumber"))
	})
}

type itemsRequest struct {
	Items []ItemInput `json:"items" validate:"required,min=1,dive"`
}

type attributesRequest struct {
	Attributes []Attribute `json:"attributes" validate:"dive"`
}

func (h *Handler) createRequest(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var input CreatePRInput
	if err := httpx.Bind(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input.RequestorID = actor
	pr, err := h.service.CreatePurchaseRequest(r.Context(), input)
	if err != nil {
		h.fail(w, "create PR", err)
		return
	}
	httpx.OK(w, http.StatusCreated, "Purchase request created", pr)
}

func (h *Handler) getRequest(w http.ResponseWriter, r *http.Request) {
	pr, err := h.service.GetRequest(r.Context(), chi.URLParam(r, "prNumber"))
	if err != nil {
		h.fail(w, "get PR", err)
		return
	}
	httpx.OK(w, http.StatusOK, "", pr)
}

func (h *Handler) replaceRequestItems(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req itemsRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	pr, err := h.service.ReplaceRequestItems(r.Context(), chi.URLParam(r, "prNumber"), req.Items, actor)
	if err != nil {
		h.fail(w, "replace PR items", err)
		return
	}
	httpx.OK(w, http.StatusOK, "Items updated", pr)
}

func (h *Handler) setAttributes(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req attributesRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.SetAttributes(r.Context(), chi.URLParam(r, "prNumber"), req.Attributes, actor); err != nil {
		h.fail(w, "set PR attributes", err)
		return
	}
	httpx.OK(w, http.StatusOK, "Attributes updated", nil)
}

func (h *Handler) attachDocuments(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		httpx.RespondError(w, shared.NewValidationError("files", "invalid multipart body"))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()
	headers := r.MultipartForm.File["files"]
	uploads := make([]Upload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			httpx.RespondError(w, shared.NewValidationError("files", "unreadable file "+fh.Filename))
			return
		}
		defer func(f multipart.File) { _ = f.Close() }(f)
		uploads = append(uploads, Upload{Name: fh.Filename, Body: f})
	}
	result, err := h.service.AttachDocuments(r.Context(), chi.URLParam(r, "prNumber"), uploads, actor)
	if err != nil {
		h.fail(w, "attach PR documents", err)
		return
	}
	if result.Partial() {
		httpx.Partial(w, "Some documents could not be stored", result)
		return
	}
	httpx.OK(w, http.StatusCreated, "Documents stored", result)
}

func (h *Handler) listDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.service.ListDocuments(r.Context(), chi.URLParam(r, "prNumber"))
	if err != nil {
		h.fail(w, "list PR documents", err)
		return
	}
	httpx.OK(w, http.StatusOK, "", docs)
}

func (h *Handler) downloadDocument(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "docID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, shared.NewValidationError("docID", "invalid id"))
		return
	}
	doc, body, err := h.service.OpenDocument(r.Context(), chi.URLParam(r, "prNumber"), id)
	if err != nil {
		h.fail(w, "open PR document", err)
		return
	}
	defer body.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+doc.Name+`"`)
	w.Header().Set("Content-Length", strconv.FormatInt(doc.Size, 10))
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("stream document", slog.Int64("id", id), slog.Any("error", err))
	}
}

func (h *Handler) convert(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var input ConvertInput
	if err := httpx.Bind(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input.PRNumber = chi.URLParam(r, "prNumber")
	input.BuyerID = actor
	po, err := h.service.ConvertToOrder(r.Context(), input)
	if err != nil {
		h.fail(w, "convert PR", err)
		return
	}
	httpx.OK(w, http.StatusCreated, "Purchase order created", po)
}

func (h *Handler) decide(kind workflow.Kind, param string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := httpx.Actor(r)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		var input DecisionInput
		if err := httpx.Bind(r, &input); err != nil {
			httpx.RespondError(w, err)
			return
		}
		input.Kind = kind
		input.Number = chi.URLParam(r, param)
		input.ActorID = actor
		res, err := h.service.Decide(r.Context(), input)
		if err != nil {
			h.fail(w, "apply decision", err)
			return
		}
		httpx.OK(w, http.StatusOK, "Status updated to "+string(res.To), res)
	}
}

func (h *Handler) history(kind workflow.Kind, param string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := h.service.History(r.Context(), kind, chi.URLParam(r, param))
		if err != nil {
			h.fail(w, "approval history", err)
			return
		}
		httpx.OK(w, http.StatusOK, "", entries)
	}
}

func (h *Handler) grid(w http.ResponseWriter, r *http.Request) {
	var filter GridFilter
	if err := httpx.Bind(r, &filter); err != nil {
		httpx.RespondError(w, err)
		return
	}
	grid, err := h.service.Grid(r.Context(), filter)
	if err != nil {
		h.fail(w, "PO grid", err)
		return
	}
	httpx.OK(w, http.StatusOK, "", grid)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	po, err := h.service.GetOrder(r.Context(), chi.URLParam(r, "poNumber"))
	if err != nil {
		h.fail(w, "get PO", err)
		return
	}
	httpx.OK(w, http.StatusOK, "", po)
}

func (h *Handler) replaceOrderItems(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req itemsRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.ReplaceOrderItems(r.Context(), chi.URLParam(r, "poNumber"), req.Items, actor)
	if err != nil {
		h.fail(w, "replace PO items", err)
		return
	}
	httpx.OK(w, http.StatusOK, "Items updated", po)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
