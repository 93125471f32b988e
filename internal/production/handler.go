package production

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the handler. Production
// orders are created by sale approval and mutated by settlement workflows,
// so only the read side is exposed here.
type RepositoryPort interface {
	Get(ctx context.Context, id int64) (ProductionOrder, error)
	List(ctx context.Context, status OrderStatus) ([]ProductionOrder, error)
}

// Handler wires read endpoints for production orders.
type Handler struct {
	logger *slog.Logger
	repo   RepositoryPort
}

// NewHandler constructs the production handler.
func NewHandler(logger *slog.Logger, repo RepositoryPort) *Handler {
	return &Handler{logger: logger, repo: repo}
}

// MountRoutes registers production routes. Consume and complete are mounted
// separately by the settlement handler.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/orders", h.handleList)
	r.Get("/orders/{id}", h.handleGet)
}

type orderResponse struct {
	ID           int64      `json:"id"`
	Number       string     `json:"number"`
	SalesOrderID *int64     `json:"sales_order_id,omitempty"`
	ProductCode  string     `json:"product_code"`
	Quantity     string     `json:"quantity"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	orders, err := h.repo.List(r.Context(), OrderStatus(r.URL.Query().Get("status")))
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

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid order id")
		return
	}
	order, err := h.repo.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "production order not found")
	default:
		h.logger.Error("production request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func toOrderResponse(o ProductionOrder) orderResponse {
	return orderResponse{
		ID:           o.ID,
		Number:       o.Number,
		SalesOrderID: o.SalesOrderID,
		ProductCode:  o.ProductCode,
		Quantity:     o.Quantity.String(),
		Status:       string(o.Status),
		CreatedAt:    o.CreatedAt,
		FinishedAt:   o.FinishedAt,
	}
}
