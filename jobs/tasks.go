package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReservationSweep expires overdue stock reservations.
	TaskReservationSweep = "stock:reservation_sweep"
	// TaskIdempotencyCleanup prunes settled idempotency keys.
	TaskIdempotencyCleanup = "ops:idempotency_cleanup"
)

// ReservationSweepPayload carries scheduling metadata for a sweep run.
type ReservationSweepPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewReservationSweepTask constructs an Asynq task for the reservation sweep.
func NewReservationSweepTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ReservationSweepPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReservationSweep, body, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupPayload bounds how far back the cleanup reaches.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask constructs an Asynq task for key cleanup.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
