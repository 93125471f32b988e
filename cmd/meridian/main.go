package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/app"
	"github.com/meridian-erp/meridian-erp/internal/billing"
	"github.com/meridian-erp/meridian-erp/internal/finance"
	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/production"
	"github.com/meridian-erp/meridian-erp/internal/purchasing"
	"github.com/meridian-erp/meridian-erp/internal/reservation"
	"github.com/meridian-erp/meridian-erp/internal/sales"
	"github.com/meridian-erp/meridian-erp/internal/settlement"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	metrics := observability.NewMetrics()
	audit := shared.NewAuditLogger(pool)

	inventoryRepo := inventory.NewRepository(pool)
	inventoryService := inventory.NewService(inventoryRepo, audit, metrics)
	inventoryHandler := inventory.NewHandler(logger, inventoryService)

	reservationRepo := reservation.NewRepository(pool)
	reservationService := reservation.NewService(reservationRepo, audit, metrics)
	reservationHandler := reservation.NewHandler(logger, reservationService)

	salesRepo := sales.NewRepository(pool)
	salesService := sales.NewService(salesRepo, audit)
	salesHandler := sales.NewHandler(logger, salesService)

	purchasingRepo := purchasing.NewRepository(pool)
	purchasingService := purchasing.NewService(purchasingRepo, audit)
	purchasingHandler := purchasing.NewHandler(logger, purchasingService)

	productionRepo := production.NewRepository(pool)
	productionHandler := production.NewHandler(logger, productionRepo)

	financeRepo := finance.NewRepository(pool)
	financeHandler := finance.NewHandler(logger, financeRepo)

	billingRepo := billing.NewRepository(pool)
	billingHandler := billing.NewHandler(logger, billingRepo)

	settlementRepo := settlement.NewRepository(pool)
	settlementService := settlement.NewService(settlementRepo, audit, metrics, settlement.Config{
		ReceivableDueDays: cfg.ReceivableDueDays,
		PayableDueDays:    cfg.PayableDueDays,
	})
	settlementHandler := settlement.NewHandler(logger, settlementService, settlementRepo)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		InventoryHandler:   inventoryHandler,
		ReservationHandler: reservationHandler,
		SalesHandler:       salesHandler,
		PurchasingHandler:  purchasingHandler,
		ProductionHandler:  productionHandler,
		FinanceHandler:     financeHandler,
		BillingHandler:     billingHandler,
		SettlementHandler:  settlementHandler,
		JobsHandler:        jobsHandler,
		Pool:               pool,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
