package sales

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

// Handler wires HTTP endpoints for customers and sales orders.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the sales handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers sales CRUD routes. Order approval is mounted
// separately by the settlement handler.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/customers", h.handleCreateCustomer)
	r.Get("/customers", h.handleListCustomers)
	r.Get("/customers/{id}", h.handleGetCustomer)
	r.Post("/orders", h.handleCreateOrder)
	r.Get("/orders", h.handleListOrders)
	r.Get("/orders/{id}", h.handleGetOrder)
}

type customerRequest struct {
	Name     string `json:"name" validate:"required,max=200"`
	Document string `json:"document" validate:"max=50"`
	Email    string `json:"email" validate:"omitempty,email"`
}

type customerResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Document  string    `json:"document,omitempty"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type orderItemRequest struct {
	MaterialCode string `json:"material_code" validate:"required"`
	Quantity     string `json:"quantity" validate:"required"`
	UnitPrice    string `json:"unit_price" validate:"required"`
}

type orderRequest struct {
	CustomerID int64              `json:"customer_id" validate:"required,gt=0"`
	Items      []orderItemRequest `json:"items" validate:"required,min=1,dive"`
}

type orderItemResponse struct {
	ID           int64  `json:"id"`
	MaterialCode string `json:"material_code"`
	Quantity     string `json:"quantity"`
	UnitPrice    string `json:"unit_price"`
	Value        string `json:"value"`
}

type orderResponse struct {
	ID                int64               `json:"id"`
	Number            string              `json:"number"`
	CustomerID        int64               `json:"customer_id"`
	Status            string              `json:"status"`
	TotalValue        string              `json:"total_value"`
	ReceivableID      *int64              `json:"receivable_id,omitempty"`
	ProductionOrderID *int64              `json:"production_order_id,omitempty"`
	InvoiceID         *int64              `json:"invoice_id,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
	Items             []orderItemResponse `json:"items,omitempty"`
}

func (h *Handler) handleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	if shared.ActorFromContext(r.Context()) == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor identity required")
		return
	}
	var req customerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	customer, err := h.service.CreateCustomer(r.Context(), Customer{Name: req.Name, Document: req.Document, Email: req.Email})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toCustomerResponse(customer))
}

func (h *Handler) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.service.ListCustomers(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]customerResponse, 0, len(customers))
	for _, c := range customers {
		out = append(out, toCustomerResponse(c))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"customers": out})
}

func (h *Handler) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid customer id")
		return
	}
	customer, err := h.service.GetCustomer(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toCustomerResponse(customer))
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
	items := make([]SalesOrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		qty, err := decimal.NewFromString(item.Quantity)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid quantity for "+item.MaterialCode)
			return
		}
		price, err := decimal.NewFromString(item.UnitPrice)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid unit price for "+item.MaterialCode)
			return
		}
		items = append(items, SalesOrderItem{MaterialCode: item.MaterialCode, Quantity: qty, UnitPrice: price})
	}
	order, err := h.service.CreateOrder(r.Context(), req.CustomerID, items)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toOrderResponse(order, nil))
}

func (h *Handler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListOrders(r.Context(), OrderStatus(r.URL.Query().Get("status")))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o, nil))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"orders": out})
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid order id")
		return
	}
	order, items, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toOrderResponse(order, items))
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrCustomerNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidStatus):
		httpx.Problem(w, http.StatusConflict, "Invalid Status", err.Error())
	default:
		h.logger.Error("sales request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func toCustomerResponse(c Customer) customerResponse {
	return customerResponse{ID: c.ID, Name: c.Name, Document: c.Document, Email: c.Email, CreatedAt: c.CreatedAt}
}

func toOrderResponse(o SalesOrder, items []SalesOrderItem) orderResponse {
	resp := orderResponse{
		ID:                o.ID,
		Number:            o.Number,
		CustomerID:        o.CustomerID,
		Status:            string(o.Status),
		TotalValue:        o.TotalValue.String(),
		ReceivableID:      o.ReceivableID,
		ProductionOrderID: o.ProductionOrderID,
		InvoiceID:         o.InvoiceID,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
	for _, item := range items {
		resp.Items = append(resp.Items, orderItemResponse{
			ID:           item.ID,
			MaterialCode: item.MaterialCode,
			Quantity:     item.Quantity.String(),
			UnitPrice:    item.UnitPrice.String(),
			Value:        item.Value().String(),
		})
	}
	return resp
}
