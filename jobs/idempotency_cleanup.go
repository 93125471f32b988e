package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// IdempotencyCleanupJob prunes keys older than the configured retention so
// the guard table does not grow without bound.
type IdempotencyCleanupJob struct {
	store   *shared.IdempotencyStore
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewIdempotencyCleanupJob constructs the cleanup job.
func NewIdempotencyCleanupJob(store *shared.IdempotencyStore, logger *slog.Logger, metrics *observability.Metrics) *IdempotencyCleanupJob {
	return &IdempotencyCleanupJob{store: store, logger: logger, metrics: metrics}
}

// Handle processes TaskIdempotencyCleanup tasks.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload IdempotencyCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	retention := payload.Retention
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	if err := j.store.Cleanup(ctx, retention); err != nil {
		j.metrics.ObserveJob(TaskIdempotencyCleanup, "error")
		j.logger.Error("idempotency cleanup", slog.Any("error", err))
		return err
	}
	j.metrics.ObserveJob(TaskIdempotencyCleanup, "ok")
	return nil
}
