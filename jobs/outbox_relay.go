package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/p2p/internal/jobs"
)

// Relayer re-dispatches undelivered workflow effects.
type Relayer interface {
	RelayPending(ctx context.Context, limit int) (int, error)
}

// OutboxRelayJob consumes TaskOutboxRelay.
type OutboxRelayJob struct {
	Relayer Relayer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle runs one relay batch.
func (j *OutboxRelayJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload OutboxRelayPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	tracker := j.Metrics.Track(TaskOutboxRelay)
	delivered, err := j.Relayer.RelayPending(ctx, payload.Limit)
	if err != nil {
		j.logger().Error("relay outbox", slog.Any("error", err))
		return tracker.End(err)
	}
	j.Metrics.Relayed(delivered)
	if delivered > 0 {
		j.logger().Info("relayed workflow effects", slog.Int("delivered", delivered))
	}
	return tracker.End(nil)
}

func (j *OutboxRelayJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskOutboxRelay))
	}
	return slog.Default().With(slog.String("job", TaskOutboxRelay))
}
