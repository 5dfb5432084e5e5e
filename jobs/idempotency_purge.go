package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/p2p/internal/jobs"
)

const (
	// TaskIdempotencyPurge removes expired consumer idempotency keys.
	TaskIdempotencyPurge = "maintenance:idempotency_purge"
)

// IdempotencyPurgePayload contains options for the purge job.
type IdempotencyPurgePayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyPurgeTask builds a purge task keeping keys newer than retention.
func NewIdempotencyPurgeTask(retention time.Duration) (*asynq.Task, error) {
	hours := int(retention / time.Hour)
	if hours <= 0 {
		return nil, errors.New("jobs: idempotency retention must be at least one hour")
	}
	body, err := json.Marshal(IdempotencyPurgePayload{RetentionHours: hours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyPurge, body, asynq.Queue(QueueDefault)), nil
}

// Purger deletes idempotency keys older than a cutoff.
type Purger interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// IdempotencyPurgeJob consumes TaskIdempotencyPurge.
type IdempotencyPurgeJob struct {
	Store   Purger
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle performs one purge.
func (j *IdempotencyPurgeJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload IdempotencyPurgePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.RetentionHours <= 0 {
		return asynq.SkipRetry
	}
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracker := j.Metrics.Track(TaskIdempotencyPurge)
	if err := j.Store.Cleanup(ctx, time.Duration(payload.RetentionHours)*time.Hour); err != nil {
		logger.Error("purge idempotency keys", slog.String("job", TaskIdempotencyPurge), slog.Any("error", err))
		return tracker.End(err)
	}
	logger.Info("purged idempotency keys", slog.String("job", TaskIdempotencyPurge), slog.Int("retention_hours", payload.RetentionHours))
	return tracker.End(nil)
}
