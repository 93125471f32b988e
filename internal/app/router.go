package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/billing"
	"github.com/meridian-erp/meridian-erp/internal/finance"
	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/production"
	"github.com/meridian-erp/meridian-erp/internal/purchasing"
	"github.com/meridian-erp/meridian-erp/internal/reservation"
	"github.com/meridian-erp/meridian-erp/internal/sales"
	"github.com/meridian-erp/meridian-erp/internal/settlement"
	"github.com/meridian-erp/meridian-erp/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	InventoryHandler   *inventory.Handler
	ReservationHandler *reservation.Handler
	SalesHandler       *sales.Handler
	PurchasingHandler  *purchasing.Handler
	ProductionHandler  *production.Handler
	FinanceHandler     *finance.Handler
	BillingHandler     *billing.Handler
	SettlementHandler  *settlement.Handler
	JobsHandler        *jobs.Handler
	Pool               *pgxpool.Pool
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with Meridian defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if params.Pool != nil {
			if err := params.Pool.Ping(r.Context()); err != nil {
				params.Logger.Error("health check", slog.Any("error", err))
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"degraded"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/stock", func(r chi.Router) {
			params.InventoryHandler.MountRoutes(r)
			r.Route("/reservations", func(r chi.Router) {
				params.ReservationHandler.MountRoutes(r)
			})
		})
		r.Route("/sales", func(r chi.Router) {
			params.SalesHandler.MountRoutes(r)
			params.SettlementHandler.MountSales(r)
		})
		r.Route("/purchasing", func(r chi.Router) {
			params.PurchasingHandler.MountRoutes(r)
			params.SettlementHandler.MountPurchasing(r)
		})
		r.Route("/production", func(r chi.Router) {
			params.ProductionHandler.MountRoutes(r)
			params.SettlementHandler.MountProduction(r)
		})
		r.Route("/billing", func(r chi.Router) {
			params.BillingHandler.MountRoutes(r)
			params.SettlementHandler.MountBilling(r)
		})
		r.Route("/finance", func(r chi.Router) {
			params.FinanceHandler.MountRoutes(r)
		})
		r.Route("/settlements", func(r chi.Router) {
			params.SettlementHandler.MountRoutes(r)
		})
		if params.JobsHandler != nil {
			r.Route("/jobs", func(r chi.Router) {
				params.JobsHandler.MountRoutes(r)
			})
		}
	})

	return r
}
