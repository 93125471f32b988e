package billing

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
)

// RepositoryPort abstracts repository usage for the handler. Emission and
// cancellation are settlement workflows; only the read side lives here.
type RepositoryPort interface {
	Get(ctx context.Context, id int64) (Invoice, error)
	Items(ctx context.Context, invoiceID int64) ([]InvoiceItem, error)
	List(ctx context.Context, status InvoiceStatus) ([]Invoice, error)
}

// Handler wires read endpoints for invoices.
type Handler struct {
	logger *slog.Logger
	repo   RepositoryPort
}

// NewHandler constructs the billing handler.
func NewHandler(logger *slog.Logger, repo RepositoryPort) *Handler {
	return &Handler{logger: logger, repo: repo}
}

// MountRoutes registers billing read routes. Emission and cancellation are
// mounted separately by the settlement handler.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/invoices", h.handleList)
	r.Get("/invoices/{id}", h.handleGet)
}

type itemResponse struct {
	ID           int64  `json:"id"`
	MaterialCode string `json:"material_code,omitempty"`
	Description  string `json:"description,omitempty"`
	Quantity     string `json:"quantity"`
	UnitPrice    string `json:"unit_price"`
	Value        string `json:"value"`
	StockTracked bool   `json:"stock_tracked"`
}

type invoiceResponse struct {
	ID           int64          `json:"id"`
	Number       string         `json:"number"`
	CustomerID   int64          `json:"customer_id"`
	SalesOrderID *int64         `json:"sales_order_id,omitempty"`
	TotalValue   string         `json:"total_value"`
	Status       string         `json:"status"`
	CancelReason string         `json:"cancel_reason,omitempty"`
	IssuedAt     time.Time      `json:"issued_at"`
	CancelledAt  *time.Time     `json:"cancelled_at,omitempty"`
	Items        []itemResponse `json:"items,omitempty"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	invoices, err := h.repo.List(r.Context(), InvoiceStatus(r.URL.Query().Get("status")))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]invoiceResponse, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, toInvoiceResponse(inv, nil))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invoices": out})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}
	invoice, err := h.repo.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	items, err := h.repo.Items(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toInvoiceResponse(invoice, items))
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvoiceNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error("billing request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func toInvoiceResponse(inv Invoice, items []InvoiceItem) invoiceResponse {
	resp := invoiceResponse{
		ID:           inv.ID,
		Number:       inv.Number,
		CustomerID:   inv.CustomerID,
		SalesOrderID: inv.SalesOrderID,
		TotalValue:   inv.TotalValue.String(),
		Status:       string(inv.Status),
		CancelReason: inv.CancelReason,
		IssuedAt:     inv.IssuedAt,
		CancelledAt:  inv.CancelledAt,
	}
	for _, item := range items {
		resp.Items = append(resp.Items, itemResponse{
			ID:           item.ID,
			MaterialCode: item.MaterialCode,
			Description:  item.Description,
			Quantity:     item.Quantity.String(),
			UnitPrice:    item.UnitPrice.String(),
			Value:        item.Value().String(),
			StockTracked: item.StockTracked,
		})
	}
	return resp
}
