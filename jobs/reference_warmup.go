package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/p2p/internal/jobs"
	"github.com/odyssey-erp/p2p/internal/reference"
)

// TaskReferenceWarmup pre-populates the reference catalog cache.
const TaskReferenceWarmup = "reference:warmup"

// ReferenceWarmupPayload controls one warmup run.
type ReferenceWarmupPayload struct {
	Reset bool `json:"reset"`
}

// NewReferenceWarmupTask builds a warmup task.
func NewReferenceWarmupTask(reset bool) (*asynq.Task, error) {
	body, err := json.Marshal(ReferenceWarmupPayload{Reset: reset})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReferenceWarmup, body, asynq.Queue(QueueDefault)), nil
}

// Catalog is the cached reference surface warmed by the job.
type Catalog interface {
	TypeSource
	Invalidate(ctx context.Context) error
}

// ReferenceWarmupJob loads active purchase types and their sub types through
// the resolver so the first API calls after a deploy hit Redis.
type ReferenceWarmupJob struct {
	Catalog Catalog
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle processes reference warmup tasks.
func (j *ReferenceWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Catalog == nil {
		return errors.New("reference warmup: handler not configured")
	}
	var payload ReferenceWarmupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.Metrics.Track(TaskReferenceWarmup)
	logger := j.logger()
	start := time.Now()

	if payload.Reset {
		if err := j.Catalog.Invalidate(ctx); err != nil {
			logger.Error("invalidate reference cache", slog.Any("error", err))
			return tracker.End(err)
		}
	}

	active := true
	types, err := j.Catalog.PurchaseTypes(ctx, &active)
	if err != nil {
		logger.Error("load purchase types", slog.Any("error", err))
		return tracker.End(err)
	}
	for _, pt := range types {
		if err := j.warmType(ctx, pt, &active); err != nil {
			logger.Error("warm purchase sub types", slog.Int64("type_id", pt.ID), slog.Any("error", err))
			return tracker.End(err)
		}
	}

	logger.Info("completed reference warmup", slog.Int("types", len(types)), slog.Duration("duration", time.Since(start)))
	return tracker.End(nil)
}

func (j *ReferenceWarmupJob) warmType(ctx context.Context, pt reference.PurchaseType, active *bool) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := j.Catalog.PurchaseSubTypes(ctx, pt.ID, active)
	return err
}

func (j *ReferenceWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReferenceWarmup))
	}
	return slog.Default().With(slog.String("job", TaskReferenceWarmup))
}
