package shared

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/odyssey-erp/p2p/internal/platform/db"
)

// ApprovalAction enumerates approval log actions.
type ApprovalAction string

const (
	// ApprovalSubmit marks a submit action.
	ApprovalSubmit ApprovalAction = "SUBMIT"
	// ApprovalApprove marks an approve action.
	ApprovalApprove ApprovalAction = "APPROVE"
	// ApprovalReject marks a reject action.
	ApprovalReject ApprovalAction = "REJECT"
	// ApprovalCancel marks a withdrawal by the owner or an approver.
	ApprovalCancel ApprovalAction = "CANCEL"
	// ApprovalAdvance marks a system driven move.
	ApprovalAdvance ApprovalAction = "ADVANCE"
)

// ApprovalLog represents a single approval history row. Rows are keyed by
// (Module, RefNumber, Sequence) and never updated.
type ApprovalLog struct {
	ID         int64
	Module     string
	RefNumber  string
	Sequence   int
	ActorID    int64
	Action     ApprovalAction
	FromStatus int
	ToStatus   int
	Note       string
	At         time.Time
}

// ErrApprovalSequenceTaken is returned when a concurrent writer appended the same sequence.
var ErrApprovalSequenceTaken = errors.New("approval sequence already recorded")

// ApprovalRecorder persists approval history.
type ApprovalRecorder struct {
	logger *slog.Logger
}

// NewApprovalRecorder constructs ApprovalRecorder.
func NewApprovalRecorder(logger *slog.Logger) *ApprovalRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApprovalRecorder{logger: logger}
}

// Append writes the next history row for module/ref and returns it with its sequence.
// It must run on the same transaction as the status change it records.
func (r *ApprovalRecorder) Append(ctx context.Context, q db.Querier, log ApprovalLog) (ApprovalLog, error) {
	if r == nil {
		return ApprovalLog{}, errors.New("approval recorder not initialised")
	}
	if log.Module == "" {
		return ApprovalLog{}, errors.New("approval module required")
	}
	if log.ActorID == 0 {
		return ApprovalLog{}, errors.New("approval actor required")
	}
	if log.RefNumber == "" {
		return ApprovalLog{}, errors.New("approval ref number required")
	}
	if log.Action == "" {
		return ApprovalLog{}, errors.New("approval action required")
	}
	if log.At.IsZero() {
		log.At = time.Now()
	}
	err := q.QueryRow(ctx, `INSERT INTO approval_history (module, ref_number, sequence, actor_id, action, from_status_id, to_status_id, note, at)
SELECT $1, $2, COALESCE(MAX(sequence), 0) + 1, $3, $4, $5, $6, $7, $8
FROM approval_history WHERE module=$1 AND ref_number=$2
RETURNING id, sequence`, log.Module, log.RefNumber, log.ActorID, string(log.Action), log.FromStatus, log.ToStatus, log.Note, log.At).Scan(&log.ID, &log.Sequence)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ApprovalLog{}, ErrApprovalSequenceTaken
		}
		r.logger.Error("record approval", slog.String("module", log.Module), slog.String("ref", log.RefNumber), slog.Any("error", err))
		return ApprovalLog{}, err
	}
	return log, nil
}

// List returns approvals for module/ref ordered by sequence.
func (r *ApprovalRecorder) List(ctx context.Context, q db.Querier, module, ref string) ([]ApprovalLog, error) {
	if r == nil {
		return nil, errors.New("approval recorder not initialised")
	}
	rows, err := q.Query(ctx, `SELECT id, module, ref_number, sequence, actor_id, action, from_status_id, to_status_id, note, at
FROM approval_history WHERE module=$1 AND ref_number=$2 ORDER BY sequence ASC`, module, ref)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []ApprovalLog
	for rows.Next() {
		var l ApprovalLog
		var action string
		if err := rows.Scan(&l.ID, &l.Module, &l.RefNumber, &l.Sequence, &l.ActorID, &action, &l.FromStatus, &l.ToStatus, &l.Note, &l.At); err != nil {
			return nil, err
		}
		l.Action = ApprovalAction(action)
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}
