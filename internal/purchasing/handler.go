package purchasing

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler wires HTTP endpoints for suppliers and purchase orders.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the purchasing handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers purchasing CRUD routes. Receipt is mounted separately
// by the settlement handler.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/suppliers", h.handleCreateSupplier)
	r.Get("/suppliers", h.handleListSuppliers)
	r.Post("/orders", h.handleCreateOrder)
	r.Get("/orders", h.handleListOrders)
	r.Get("/orders/{id}", h.handleGetOrder)
}

type supplierRequest struct {
	Name     string `json:"name" validate:"required,max=200"`
	Document string `json:"document" validate:"max=50"`
	Email    string `json:"email" validate:"omitempty,email"`
}

type orderRequest struct {
	SupplierID int64  `json:"supplier_id" validate:"required,gt=0"`
	TotalValue string `json:"total_value"`
}

type orderResponse struct {
	ID            int64      `json:"id"`
	Number        string     `json:"number"`
	SupplierID    int64      `json:"supplier_id"`
	Status        string     `json:"status"`
	TotalValue    string     `json:"total_value"`
	InvoiceNumber string     `json:"invoice_number,omitempty"`
	PayableID     *int64     `json:"payable_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ReceivedAt    *time.Time `json:"received_at,omitempty"`
}

func (h *Handler) handleCreateSupplier(w http.ResponseWriter, r *http.Request) {
	if shared.ActorFromContext(r.Context()) == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor identity required")
		return
	}
	var req supplierRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	supplier, err := h.service.CreateSupplier(r.Context(), Supplier{Name: req.Name, Document: req.Document, Email: req.Email})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"id": supplier.ID, "name": supplier.Name, "created_at": supplier.CreatedAt,
	})
}

func (h *Handler) handleListSuppliers(w http.ResponseWriter, r *http.Request) {
	suppliers, err := h.service.ListSuppliers(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(suppliers))
	for _, s := range suppliers {
		out = append(out, map[string]any{
			"id": s.ID, "name": s.Name, "document": s.Document, "email": s.Email, "created_at": s.CreatedAt,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"suppliers": out})
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	if shared.ActorFromContext(r.Context()) == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor identity required")
		return
	}
	var req orderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	total := decimal.Zero
	if req.TotalValue != "" {
		var err error
		if total, err = decimal.NewFromString(req.TotalValue); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid total value")
			return
		}
	}
	order, err := h.service.CreateOrder(r.Context(), req.SupplierID, total)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toOrderResponse(order))
}

func (h *Handler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListOrders(r.Context(), OrderStatus(r.URL.Query().Get("status")))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"orders": out})
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid order id")
		return
	}
	order, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrSupplierNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrAlreadyReceived):
		httpx.Problem(w, http.StatusConflict, "Already Received", err.Error())
	default:
		h.logger.Error("purchasing request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func toOrderResponse(o PurchaseOrder) orderResponse {
	return orderResponse{
		ID:            o.ID,
		Number:        o.Number,
		SupplierID:    o.SupplierID,
		Status:        string(o.Status),
		TotalValue:    o.TotalValue.String(),
		InvoiceNumber: o.InvoiceNumber,
		PayableID:     o.PayableID,
		CreatedAt:     o.CreatedAt,
		ReceivedAt:    o.ReceivedAt,
	}
}
