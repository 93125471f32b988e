package settlement

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/billing"
	"github.com/meridian-erp/meridian-erp/internal/finance"
	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/production"
	"github.com/meridian-erp/meridian-erp/internal/purchasing"
	"github.com/meridian-erp/meridian-erp/internal/sales"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RecordsPort abstracts record listing for the handler.
type RecordsPort interface {
	ListRecords(ctx context.Context, originKind string, limit int) ([]Record, error)
}

// Handler wires the settlement workflow endpoints. Each workflow mounts
// under its owning module's route prefix.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	records  RecordsPort
	validate *validator.Validate
}

// NewHandler constructs the settlement handler.
func NewHandler(logger *slog.Logger, service *Service, records RecordsPort) *Handler {
	return &Handler{logger: logger, service: service, records: records, validate: validator.New()}
}

// MountSales registers the approval workflow under the sales prefix.
func (h *Handler) MountSales(r chi.Router) {
	r.Post("/orders/{id}/approve", h.handleApproveSale)
}

// MountPurchasing registers the receipt workflow under the purchasing prefix.
func (h *Handler) MountPurchasing(r chi.Router) {
	r.Post("/orders/{id}/receive", h.handleReceivePurchase)
}

// MountProduction registers consumption and completion under the production
// prefix.
func (h *Handler) MountProduction(r chi.Router) {
	r.Post("/orders/{id}/consume", h.handleConsumeMaterials)
	r.Post("/orders/{id}/complete", h.handleCompleteProduction)
}

// MountBilling registers emission and cancellation under the billing prefix.
func (h *Handler) MountBilling(r chi.Router) {
	r.Post("/invoices", h.handleEmitInvoice)
	r.Post("/invoices/{id}/cancel", h.handleCancelInvoice)
}

// MountRoutes registers the settlement record trail.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/records", h.handleListRecords)
}

type approveSaleRequest struct {
	CreateProductionOrder bool `json:"create_production_order"`
	DebitStock            bool `json:"debit_stock"`
}

type receiveItemRequest struct {
	MaterialCode string `json:"material_code" validate:"required"`
	Quantity     string `json:"quantity" validate:"required"`
	UnitCost     string `json:"unit_cost" validate:"required"`
}

type receivePurchaseRequest struct {
	InvoiceNumber string               `json:"invoice_number" validate:"required,max=100"`
	Items         []receiveItemRequest `json:"items" validate:"required,min=1,dive"`
}

type consumeMaterialRequest struct {
	MaterialCode string `json:"material_code" validate:"required"`
	Quantity     string `json:"quantity" validate:"required"`
}

type consumeMaterialsRequest struct {
	Materials []consumeMaterialRequest `json:"materials" validate:"required,min=1,dive"`
}

type completeProductionRequest struct {
	ProductCode string `json:"product_code" validate:"required"`
	Quantity    string `json:"quantity" validate:"required"`
	UnitCost    string `json:"unit_cost"`
}

type invoiceLineRequest struct {
	MaterialCode string `json:"material_code"`
	Description  string `json:"description" validate:"max=500"`
	Quantity     string `json:"quantity" validate:"required"`
	UnitPrice    string `json:"unit_price" validate:"required"`
	StockTracked bool   `json:"stock_tracked"`
}

type emitInvoiceRequest struct {
	CustomerID   int64                `json:"customer_id" validate:"required,gt=0"`
	SalesOrderID *int64               `json:"sales_order_id"`
	DueDays      int                  `json:"due_days" validate:"gte=0,lte=365"`
	Items        []invoiceLineRequest `json:"items" validate:"required,min=1,dive"`
}

type cancelInvoiceRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) handleApproveSale(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	orderID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req approveSaleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	result, err := h.service.ApproveSale(r.Context(), ApproveSaleInput{
		OrderID:               orderID,
		CreateProductionOrder: req.CreateProductionOrder,
		DebitStock:            req.DebitStock,
		ActorID:               actorID,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"order_id":            result.Order.ID,
		"order_number":        result.Order.Number,
		"status":              string(result.Order.Status),
		"total_value":         result.Order.TotalValue.String(),
		"receivable_id":       result.ReceivableID,
		"production_order_id": result.ProductionOrderID,
		"movements":           toMovementMaps(result.Movements),
	})
}

func (h *Handler) handleReceivePurchase(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	orderID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req receivePurchaseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := ReceivePurchaseInput{PurchaseOrderID: orderID, InvoiceNumber: req.InvoiceNumber, ActorID: actorID}
	for _, item := range req.Items {
		qty, err := decimal.NewFromString(item.Quantity)
		if err != nil || qty.Sign() <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid quantity for "+item.MaterialCode)
			return
		}
		cost, err := decimal.NewFromString(item.UnitCost)
		if err != nil || cost.Sign() < 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid unit cost for "+item.MaterialCode)
			return
		}
		input.Items = append(input.Items, ReceiptItem{MaterialCode: item.MaterialCode, Quantity: qty, UnitCost: cost})
	}
	result, err := h.service.ReceivePurchase(r.Context(), input)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"purchase_order_id": result.Order.ID,
		"payable_id":        result.PayableID,
		"total_value":       result.TotalValue.String(),
		"movements":         toMovementMaps(result.Movements),
	})
}

func (h *Handler) handleConsumeMaterials(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	orderID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req consumeMaterialsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := ConsumeMaterialsInput{ProductionOrderID: orderID, ActorID: actorID}
	for _, mat := range req.Materials {
		qty, err := decimal.NewFromString(mat.Quantity)
		if err != nil || qty.Sign() <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid quantity for "+mat.MaterialCode)
			return
		}
		input.Materials = append(input.Materials, MaterialRequirement{MaterialCode: mat.MaterialCode, Quantity: qty})
	}
	movements, err := h.service.ConsumeProductionMaterials(r.Context(), input)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": toMovementMaps(movements)})
}

func (h *Handler) handleCompleteProduction(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	orderID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req completeProductionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil || qty.Sign() <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid quantity")
		return
	}
	cost := decimal.Zero
	if req.UnitCost != "" {
		if cost, err = decimal.NewFromString(req.UnitCost); err != nil || cost.Sign() < 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid unit cost")
			return
		}
	}
	result, err := h.service.CompleteProduction(r.Context(), CompleteProductionInput{
		ProductionOrderID: orderID,
		ProductCode:       req.ProductCode,
		Quantity:          qty,
		UnitCost:          cost,
		ActorID:           actorID,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"production_order_id": result.Order.ID,
		"status":              string(result.Order.Status),
		"movement":            toMovementMap(result.Movement),
	})
}

func (h *Handler) handleEmitInvoice(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req emitInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := EmitInvoiceInput{CustomerID: req.CustomerID, SalesOrderID: req.SalesOrderID, DueDays: req.DueDays, ActorID: actorID}
	for _, line := range req.Items {
		qty, err := decimal.NewFromString(line.Quantity)
		if err != nil || qty.Sign() <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid quantity for "+line.MaterialCode)
			return
		}
		price, err := decimal.NewFromString(line.UnitPrice)
		if err != nil || price.Sign() < 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid unit price for "+line.MaterialCode)
			return
		}
		if line.StockTracked && line.MaterialCode == "" {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "stock-tracked line requires material code")
			return
		}
		input.Items = append(input.Items, InvoiceLine{
			MaterialCode: line.MaterialCode,
			Description:  line.Description,
			Quantity:     qty,
			UnitPrice:    price,
			StockTracked: line.StockTracked,
		})
	}
	result, err := h.service.EmitInvoice(r.Context(), input)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"invoice_id":     result.Invoice.ID,
		"invoice_number": result.Invoice.Number,
		"status":         string(result.Invoice.Status),
		"total_value":    result.Invoice.TotalValue.String(),
		"receivable_id":  result.ReceivableID,
		"movements":      toMovementMaps(result.Movements),
	})
}

func (h *Handler) handleCancelInvoice(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	invoiceID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req cancelInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	result, err := h.service.CancelInvoice(r.Context(), CancelInvoiceInput{
		InvoiceID: invoiceID,
		Reason:    req.Reason,
		ActorID:   actorID,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"invoice_id": result.Invoice.ID,
		"status":     string(result.Invoice.Status),
		"reversed":   toMovementMaps(result.Reversed),
	})
}

func (h *Handler) handleListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	records, err := h.records.ListRecords(r.Context(), q.Get("origin"), limit)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		out = append(out, map[string]any{
			"id":               rec.ID,
			"reference":        rec.Reference.String(),
			"origin_kind":      rec.OriginKind,
			"origin_id":        rec.OriginID,
			"destination_kind": rec.DestinationKind,
			"destination_id":   rec.DestinationID,
			"value":            rec.Value.String(),
			"actor_id":         rec.ActorID,
			"status":           rec.Status,
			"notes":            rec.Notes,
			"created_at":       rec.CreatedAt.Format(time.RFC3339),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"records": out})
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (int64, bool) {
	actorID := shared.ActorFromContext(r.Context())
	if actorID == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor identity required")
		return 0, false
	}
	return actorID, true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidReason), errors.Is(err, ErrNoItems):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrAlreadySettled),
		errors.Is(err, billing.ErrAlreadyCancelled),
		errors.Is(err, purchasing.ErrAlreadyReceived),
		errors.Is(err, production.ErrAlreadyFinished),
		errors.Is(err, sales.ErrInvalidStatus),
		errors.Is(err, finance.ErrNotPending):
		httpx.Problem(w, http.StatusConflict, "Already Settled", err.Error())
	case errors.Is(err, inventory.ErrInsufficientStock):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	case errors.Is(err, shared.ErrConcurrencyConflict):
		httpx.Problem(w, http.StatusConflict, "Concurrent Update", err.Error())
	case errors.Is(err, inventory.ErrUnknownMaterial):
		httpx.Problem(w, http.StatusNotFound, "Unknown Material", err.Error())
	case errors.Is(err, sales.ErrOrderNotFound),
		errors.Is(err, sales.ErrCustomerNotFound),
		errors.Is(err, purchasing.ErrOrderNotFound),
		errors.Is(err, production.ErrOrderNotFound),
		errors.Is(err, billing.ErrInvoiceNotFound),
		errors.Is(err, finance.ErrTitleNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error("settlement request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func toMovementMaps(movements []inventory.Movement) []map[string]any {
	out := make([]map[string]any, 0, len(movements))
	for _, m := range movements {
		out = append(out, toMovementMap(m))
	}
	return out
}

func toMovementMap(m inventory.Movement) map[string]any {
	return map[string]any{
		"id":              m.ID,
		"material_code":   m.MaterialCode,
		"direction":       string(m.Direction),
		"quantity":        m.Quantity.String(),
		"quantity_before": m.QuantityBefore.String(),
		"quantity_after":  m.QuantityAfter.String(),
		"unit_cost":       m.UnitCost.String(),
	}
}
