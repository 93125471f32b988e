package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/reservation"
)

// ReservationSweepJob expires reservations whose TTL has passed, returning
// their quantities to available stock.
type ReservationSweepJob struct {
	service *reservation.Service
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewReservationSweepJob constructs the sweep job.
func NewReservationSweepJob(service *reservation.Service, logger *slog.Logger, metrics *observability.Metrics) *ReservationSweepJob {
	return &ReservationSweepJob{service: service, logger: logger, metrics: metrics}
}

// Handle processes TaskReservationSweep tasks.
func (j *ReservationSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload ReservationSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	expired, err := j.service.ExpireDue(ctx, time.Now().UTC())
	if err != nil {
		j.metrics.ObserveJob(TaskReservationSweep, "error")
		j.logger.Error("reservation sweep", slog.Any("error", err))
		return err
	}
	j.metrics.ObserveJob(TaskReservationSweep, "ok")
	if expired > 0 {
		j.logger.Info("reservation sweep", slog.Int64("expired", expired))
	}
	return nil
}
