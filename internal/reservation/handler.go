package reservation

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler wires HTTP endpoints for reservations.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the reservation handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers reservation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/{orderID}", h.handleList)
	r.Post("/{orderID}/consume", h.handleConsume)
	r.Post("/{orderID}/cancel", h.handleCancel)
}

type createItemRequest struct {
	MaterialCode string `json:"material_code" validate:"required"`
	Quantity     string `json:"quantity" validate:"required"`
}

type createRequest struct {
	OrderID int64               `json:"order_id" validate:"required,gt=0"`
	Items   []createItemRequest `json:"items" validate:"required,min=1,dive"`
	TTLDays int                 `json:"ttl_days" validate:"gte=0,lte=365"`
}

type reservationResponse struct {
	ID           int64     `json:"id"`
	OrderID      int64     `json:"order_id"`
	MaterialCode string    `json:"material_code"`
	Quantity     string    `json:"quantity"`
	HolderID     int64     `json:"holder_id"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	actorID := shared.ActorFromContext(r.Context())
	if actorID == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor identity required")
		return
	}
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := CreateInput{OrderID: req.OrderID, TTLDays: req.TTLDays, ActorID: actorID}
	for _, item := range req.Items {
		qty, err := decimal.NewFromString(item.Quantity)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid quantity for "+item.MaterialCode)
			return
		}
		input.Items = append(input.Items, CreateItem{MaterialCode: item.MaterialCode, Quantity: qty})
	}
	result, err := h.service.Create(r.Context(), input)
	if err != nil {
		if errors.Is(err, ErrNoItemsReserved) {
			httpx.JSON(w, http.StatusConflict, map[string]any{
				"reservations": []reservationResponse{},
				"errors":       result.Failed,
			})
			return
		}
		h.respondError(w, r, err)
		return
	}
	out := make([]reservationResponse, 0, len(result.Created))
	for _, res := range result.Created {
		out = append(out, toReservationResponse(res))
	}
	status := http.StatusCreated
	if len(result.Failed) > 0 {
		status = http.StatusMultiStatus
	}
	httpx.JSON(w, status, map[string]any{
		"reservations": out,
		"errors":       result.Failed,
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}
	reservations, err := h.service.ListByOrder(r.Context(), orderID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]reservationResponse, 0, len(reservations))
	for _, res := range reservations {
		out = append(out, toReservationResponse(res))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"reservations": out})
}

func (h *Handler) handleConsume(w http.ResponseWriter, r *http.Request) {
	actorID := shared.ActorFromContext(r.Context())
	if actorID == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor identity required")
		return
	}
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}
	movements, err := h.service.Consume(r.Context(), orderID, actorID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(movements))
	for _, m := range movements {
		out = append(out, map[string]any{
			"id":              m.ID,
			"material_code":   m.MaterialCode,
			"quantity":        m.Quantity.String(),
			"quantity_before": m.QuantityBefore.String(),
			"quantity_after":  m.QuantityAfter.String(),
			"unit_cost":       m.UnitCost.String(),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": out})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	actorID := shared.ActorFromContext(r.Context())
	if actorID == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor identity required")
		return
	}
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}
	count, err := h.service.Cancel(r.Context(), orderID, actorID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"cancelled_count": count})
}

func (h *Handler) orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid order id")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNoActiveReservation):
		httpx.Problem(w, http.StatusNotFound, "No Active Reservation", err.Error())
	case errors.Is(err, ErrInvalidInput):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, inventory.ErrInsufficientStock):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, inventory.ErrUnknownMaterial):
		httpx.Problem(w, http.StatusNotFound, "Unknown Material", err.Error())
	default:
		h.logger.Error("reservation request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func toReservationResponse(r Reservation) reservationResponse {
	return reservationResponse{
		ID:           r.ID,
		OrderID:      r.OrderID,
		MaterialCode: r.MaterialCode,
		Quantity:     r.Quantity.String(),
		HolderID:     r.HolderID,
		Status:       string(r.Status),
		CreatedAt:    r.CreatedAt,
		ExpiresAt:    r.ExpiresAt,
	}
}
