package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler wires HTTP endpoints for the stock ledger.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/balances/{code}", h.handleGetBalance)
	r.Get("/balances/{code}/replay", h.handleVerifyReplay)
	r.Get("/movements", h.handleListMovements)
	r.Post("/adjustments", h.handleAdjustment)
}

type balanceResponse struct {
	MaterialCode     string     `json:"material_code"`
	QuantityPhysical string     `json:"quantity_physical"`
	QuantityReserved string     `json:"quantity_reserved"`
	Available        string     `json:"available"`
	WeightedAvgCost  string     `json:"weighted_avg_cost"`
	LastEntryAt      *time.Time `json:"last_entry_at,omitempty"`
	LastExitAt       *time.Time `json:"last_exit_at,omitempty"`
}

type movementResponse struct {
	ID                   int64     `json:"id"`
	MaterialCode         string    `json:"material_code"`
	Direction            string    `json:"direction"`
	Quantity             string    `json:"quantity"`
	QuantityBefore       string    `json:"quantity_before"`
	QuantityAfter        string    `json:"quantity_after"`
	OriginKind           string    `json:"origin_kind"`
	OriginDocumentID     int64     `json:"origin_document_id,omitempty"`
	OriginDocumentNumber string    `json:"origin_document_number,omitempty"`
	UnitCost             string    `json:"unit_cost"`
	ActorID              int64     `json:"actor_id"`
	OccurredAt           time.Time `json:"occurred_at"`
}

type adjustmentRequest struct {
	MaterialCode string `json:"material_code" validate:"required"`
	Direction    string `json:"direction" validate:"required,oneof=entry exit"`
	Quantity     string `json:"quantity" validate:"required"`
	UnitCost     string `json:"unit_cost"`
	Note         string `json:"note" validate:"max=500"`
}

func (h *Handler) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	balance, err := h.service.GetBalance(r.Context(), code)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBalanceResponse(balance))
}

func (h *Handler) handleVerifyReplay(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	ok, replayed, err := h.service.VerifyReplay(r.Context(), code)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"material_code":     code,
		"consistent":        ok,
		"replayed_quantity": replayed.String(),
	})
}

func (h *Handler) handleListMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := MovementFilter{
		MaterialCode: q.Get("material"),
		OriginKind:   OriginKind(q.Get("origin")),
	}
	if from := q.Get("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid from date")
			return
		}
		filter.From = t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid to date")
			return
		}
		filter.To = t.Add(24*time.Hour - time.Nanosecond)
	}
	movements, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]movementResponse, 0, len(movements))
	for _, m := range movements {
		out = append(out, toMovementResponse(m))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": out})
}

func (h *Handler) handleAdjustment(w http.ResponseWriter, r *http.Request) {
	actorID := shared.ActorFromContext(r.Context())
	if actorID == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor identity required")
		return
	}
	var req adjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	quantity, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid quantity")
		return
	}
	unitCost := decimal.Zero
	if req.UnitCost != "" {
		if unitCost, err = decimal.NewFromString(req.UnitCost); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid unit cost")
			return
		}
	}
	movement, err := h.service.PostAdjustment(r.Context(), AdjustmentInput{
		MaterialCode: req.MaterialCode,
		Direction:    Direction(req.Direction),
		Quantity:     quantity,
		UnitCost:     unitCost,
		Note:         req.Note,
		ActorID:      actorID,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toMovementResponse(movement))
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrUnknownMaterial):
		httpx.Problem(w, http.StatusNotFound, "Unknown Material", err.Error())
	case errors.Is(err, ErrInsufficientStock):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidUnitCost):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("inventory request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func toBalanceResponse(b MaterialBalance) balanceResponse {
	return balanceResponse{
		MaterialCode:     b.MaterialCode,
		QuantityPhysical: b.QuantityPhysical.String(),
		QuantityReserved: b.QuantityReserved.String(),
		Available:        b.Available().String(),
		WeightedAvgCost:  b.WeightedAvgCost.String(),
		LastEntryAt:      b.LastEntryAt,
		LastExitAt:       b.LastExitAt,
	}
}

func toMovementResponse(m Movement) movementResponse {
	return movementResponse{
		ID:                   m.ID,
		MaterialCode:         m.MaterialCode,
		Direction:            string(m.Direction),
		Quantity:             m.Quantity.String(),
		QuantityBefore:       m.QuantityBefore.String(),
		QuantityAfter:        m.QuantityAfter.String(),
		OriginKind:           string(m.OriginKind),
		OriginDocumentID:     m.OriginDocumentID,
		OriginDocumentNumber: m.OriginDocumentNumber,
		UnitCost:             m.UnitCost.String(),
		ActorID:              m.ActorID,
		OccurredAt:           m.OccurredAt,
	}
}
