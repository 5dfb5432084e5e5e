package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/p2p/internal/workflow"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReleaseNotification mails the release notice of a purchase order.
	TaskReleaseNotification = "procurement:release_notification"
	// TaskOutboxRelay re-dispatches workflow effects that were not delivered after commit.
	TaskOutboxRelay = "workflow:outbox_relay"
)

// taskNamespace scopes the deterministic task ids derived from effect keys.
var taskNamespace = uuid.MustParse("5b0d1f5e-8f0a-4c59-9a63-3f2c8a1e7d40")

// ReleaseNotificationPayload describes one release notice.
type ReleaseNotificationPayload struct {
	Key      string `json:"key"`
	PONumber string `json:"po_number"`
	Remark   string `json:"remark"`
}

// TaskID returns the queue id for an effect key. Enqueueing the same effect
// twice yields the same id, so asynq rejects the duplicate.
func TaskID(key string) string {
	return uuid.NewSHA1(taskNamespace, []byte(key)).String()
}

// NewReleaseNotificationTask converts a workflow effect into a queue task.
// Enqueue it with ReleaseOptions.
func NewReleaseNotificationTask(effect workflow.Effect) (*asynq.Task, error) {
	if effect.Type != workflow.EffectSendReleaseNotification {
		return nil, fmt.Errorf("jobs: effect %s is not a release notification", effect.Type)
	}
	if effect.Kind != workflow.KindPO || effect.Number == "" {
		return nil, fmt.Errorf("jobs: release notification needs a PO number, got %s %q", effect.Kind, effect.Number)
	}
	body, err := json.Marshal(ReleaseNotificationPayload{
		Key:      effect.Key(),
		PONumber: effect.Number,
		Remark:   effect.Remarks,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReleaseNotification, body), nil
}

// ReleaseOptions are the enqueue options of a release notification.
func ReleaseOptions(effect workflow.Effect, maxRetry int) []asynq.Option {
	return []asynq.Option{
		asynq.Queue(QueueDefault),
		asynq.TaskID(TaskID(effect.Key())),
		asynq.MaxRetry(maxRetry),
	}
}

// OutboxRelayPayload carries the batch size of one relay run.
type OutboxRelayPayload struct {
	Limit int `json:"limit"`
}

// NewOutboxRelayTask builds the periodic relay task.
func NewOutboxRelayTask(limit int) (*asynq.Task, error) {
	body, err := json.Marshal(OutboxRelayPayload{Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOutboxRelay, body, asynq.Queue(QueueDefault)), nil
}
