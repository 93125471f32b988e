package finance

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

// RepositoryPort abstracts repository usage for the handler. Titles are
// created only by settlement workflows; this surface lists and settles them.
type RepositoryPort interface {
	ListReceivables(ctx context.Context, filter TitleFilter) ([]Receivable, error)
	ListPayables(ctx context.Context, filter TitleFilter) ([]Payable, error)
	MarkReceivablePaid(ctx context.Context, id int64) error
	MarkPayablePaid(ctx context.Context, id int64) error
}

// Handler wires HTTP endpoints for receivables and payables.
type Handler struct {
	logger *slog.Logger
	repo   RepositoryPort
}

// NewHandler constructs the finance handler.
func NewHandler(logger *slog.Logger, repo RepositoryPort) *Handler {
	return &Handler{logger: logger, repo: repo}
}

// MountRoutes registers finance routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/receivables", h.handleListReceivables)
	r.Post("/receivables/{id}/pay", h.handlePayReceivable)
	r.Get("/payables", h.handleListPayables)
	r.Post("/payables/{id}/pay", h.handlePayPayable)
}

type titleResponse struct {
	ID         int64      `json:"id"`
	OriginKind string     `json:"origin_kind"`
	OriginID   int64      `json:"origin_id"`
	PartyID    int64      `json:"party_id"`
	Value      string     `json:"value"`
	DueDate    time.Time  `json:"due_date"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	PaidAt     *time.Time `json:"paid_at,omitempty"`
}

func (h *Handler) handleListReceivables(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.filter(w, r)
	if !ok {
		return
	}
	receivables, err := h.repo.ListReceivables(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]titleResponse, 0, len(receivables))
	for _, rec := range receivables {
		out = append(out, titleResponse{
			ID: rec.ID, OriginKind: string(rec.OriginKind), OriginID: rec.OriginID,
			PartyID: rec.CustomerID, Value: rec.Value.String(), DueDate: rec.DueDate,
			Status: string(rec.Status), CreatedAt: rec.CreatedAt, PaidAt: rec.PaidAt,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"receivables": out})
}

func (h *Handler) handleListPayables(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.filter(w, r)
	if !ok {
		return
	}
	payables, err := h.repo.ListPayables(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]titleResponse, 0, len(payables))
	for _, pay := range payables {
		out = append(out, titleResponse{
			ID: pay.ID, OriginKind: string(pay.OriginKind), OriginID: pay.OriginID,
			PartyID: pay.SupplierID, Value: pay.Value.String(), DueDate: pay.DueDate,
			Status: string(pay.Status), CreatedAt: pay.CreatedAt, PaidAt: pay.PaidAt,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"payables": out})
}

func (h *Handler) handlePayReceivable(w http.ResponseWriter, r *http.Request) {
	h.pay(w, r, h.repo.MarkReceivablePaid)
}

func (h *Handler) handlePayPayable(w http.ResponseWriter, r *http.Request) {
	h.pay(w, r, h.repo.MarkPayablePaid)
}

func (h *Handler) pay(w http.ResponseWriter, r *http.Request, mark func(context.Context, int64) error) {
	if shared.ActorFromContext(r.Context()) == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor identity required")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid title id")
		return
	}
	if err := mark(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "status": string(StatusPaid)})
}

func (h *Handler) filter(w http.ResponseWriter, r *http.Request) (TitleFilter, bool) {
	q := r.URL.Query()
	filter := TitleFilter{Status: DocumentStatus(q.Get("status"))}
	if from := q.Get("due_from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid due_from date")
			return TitleFilter{}, false
		}
		filter.DueFrom = t
	}
	if to := q.Get("due_to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid due_to date")
			return TitleFilter{}, false
		}
		filter.DueTo = t.Add(24*time.Hour - time.Nanosecond)
	}
	return filter, true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrTitleNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrNotPending):
		httpx.Problem(w, http.StatusConflict, "Not Pending", err.Error())
	default:
		h.logger.Error("finance request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
