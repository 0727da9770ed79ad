package settlement

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
)

// SettleActivityArgs is the background job dispatched by the webhook
// ingestor.
type SettleActivityArgs struct {
	UserID     uuid.UUID `json:"user_id"`
	ActivityID string    `json:"activity_id"`
}

func (SettleActivityArgs) Kind() string { return "settle_activity" }

// InsertOpts disables queue-level retries: redelivery from the provider
// is the retry mechanism, and the engine already does its single
// token-refresh retry internally.
func (SettleActivityArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 1}
}

// Worker runs settlements off the queue. No caller awaits a result, so
// every failure is terminal for the job and observable only via logs and
// metrics.
type Worker struct {
	river.WorkerDefaults[SettleActivityArgs]
	engine *Engine
	log    *slog.Logger
}

func NewWorker(engine *Engine, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{engine: engine, log: log}
}

func (w *Worker) Work(ctx context.Context, job *river.Job[SettleActivityArgs]) error {
	if err := w.engine.Settle(ctx, job.Args.UserID, job.Args.ActivityID); err != nil {
		w.log.Error("settlement failed", "user_id", job.Args.UserID, "activity_id", job.Args.ActivityID, "error", err)
	}
	return nil
}
