package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/p2p/internal/platform/db"
	"github.com/odyssey-erp/p2p/internal/shared"
)

// entityTables maps an aggregate kind to its header table and owner column.
var entityTables = map[Kind]struct{ table, owner string }{
	KindPR: {table: "purchase_requests", owner: "requestor_id"},
	KindPO: {table: "purchase_orders", owner: "buyer_id"},
}

// PGRepository persists statuses, history and the effect outbox in Postgres.
type PGRepository struct {
	pool     *pgxpool.Pool
	registry *Registry
	recorder *shared.ApprovalRecorder
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool, registry *Registry, recorder *shared.ApprovalRecorder) *PGRepository {
	return &PGRepository{pool: pool, registry: registry, recorder: recorder}
}

// Tx exposes the transactional operations on a transaction owned by another repository.
func (r *PGRepository) Tx(tx pgx.Tx) TxRepository {
	return &pgTx{q: tx, registry: r.registry, recorder: r.recorder}
}

// WithTx implements Repository.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, r.Tx(tx))
	})
	return MapTxError(err)
}

// ErrConcurrentUpdate marks a conflict caused by a concurrent writer rather
// than by the entity's state. Callers may retry it.
var ErrConcurrentUpdate = errors.New("concurrent update")

// MapTxError converts a lost serialization race into a conflict.
func MapTxError(err error) error {
	if err != nil && db.IsSerializationFailure(err) {
		return fmt.Errorf("%w: %w", ErrConcurrentUpdate, shared.ErrConflict)
	}
	return err
}

// CurrentStatus implements Repository.
func (r *PGRepository) CurrentStatus(ctx context.Context, kind Kind, number string) (Status, error) {
	return currentStatus(ctx, r.pool, r.registry, kind, number, false)
}

// History implements Repository.
func (r *PGRepository) History(ctx context.Context, kind Kind, number string) ([]HistoryEntry, error) {
	if _, err := r.CurrentStatus(ctx, kind, number); err != nil {
		return nil, err
	}
	logs, err := r.recorder.List(ctx, r.pool, string(kind), number)
	if err != nil {
		return nil, err
	}
	entries := make([]HistoryEntry, 0, len(logs))
	for _, l := range logs {
		from, err := r.registry.Decode(l.FromStatus)
		if err != nil {
			return nil, err
		}
		to, err := r.registry.Decode(l.ToStatus)
		if err != nil {
			return nil, err
		}
		entries = append(entries, HistoryEntry{
			Kind:     kind,
			Number:   l.RefNumber,
			Sequence: l.Sequence,
			From:     from,
			To:       to,
			Decision: Decision(l.Action),
			ActorID:  l.ActorID,
			Remarks:  l.Note,
			At:       l.At,
		})
	}
	return entries, nil
}

// PendingEffects implements Repository.
func (r *PGRepository) PendingEffects(ctx context.Context, limit int) ([]Effect, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, effect_type, kind, number, sequence, actor_id, remarks, created_at
FROM workflow_outbox WHERE dispatched_at IS NULL ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var effects []Effect
	for rows.Next() {
		var e Effect
		var effectType, kind string
		if err := rows.Scan(&e.ID, &effectType, &kind, &e.Number, &e.Sequence, &e.ActorID, &e.Remarks, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = EffectType(effectType)
		e.Kind = Kind(kind)
		effects = append(effects, e)
	}
	return effects, rows.Err()
}

// MarkEffectDispatched implements Repository.
func (r *PGRepository) MarkEffectDispatched(ctx context.Context, id int64, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE workflow_outbox SET dispatched_at=$2 WHERE id=$1 AND dispatched_at IS NULL`, id, at)
	return err
}

type pgTx struct {
	q        db.Querier
	registry *Registry
	recorder *shared.ApprovalRecorder
}

func (t *pgTx) CurrentStatus(ctx context.Context, kind Kind, number string) (Status, error) {
	return currentStatus(ctx, t.q, t.registry, kind, number, true)
}

func (t *pgTx) CompareAndSetStatus(ctx context.Context, kind Kind, number string, from, to Status) error {
	meta, ok := entityTables[kind]
	if !ok {
		return fmt.Errorf("workflow: unknown kind %q", kind)
	}
	fromCode, err := t.registry.Code(from)
	if err != nil {
		return err
	}
	toCode, err := t.registry.Code(to)
	if err != nil {
		return err
	}
	tag, err := t.q.Exec(ctx, fmt.Sprintf(`UPDATE %s SET status_id=$3, updated_at=NOW() WHERE number=$1 AND status_id=$2 AND is_active`, meta.table), number, fromCode, toCode)
	if err != nil {
		return MapTxError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("workflow: %s %s no longer %s: %w", kind, number, from, shared.ErrConflict)
	}
	return nil
}

func (t *pgTx) AppendHistory(ctx context.Context, entry HistoryEntry) (HistoryEntry, error) {
	fromCode, err := t.registry.Code(entry.From)
	if err != nil {
		return HistoryEntry{}, err
	}
	toCode, err := t.registry.Code(entry.To)
	if err != nil {
		return HistoryEntry{}, err
	}
	log, err := t.recorder.Append(ctx, t.q, shared.ApprovalLog{
		Module:     string(entry.Kind),
		RefNumber:  entry.Number,
		ActorID:    entry.ActorID,
		Action:     shared.ApprovalAction(entry.Decision),
		FromStatus: fromCode,
		ToStatus:   toCode,
		Note:       entry.Remarks,
		At:         entry.At,
	})
	if err != nil {
		if errors.Is(err, shared.ErrApprovalSequenceTaken) {
			return HistoryEntry{}, fmt.Errorf("workflow: %s %s history: %w", entry.Kind, entry.Number, shared.ErrConflict)
		}
		return HistoryEntry{}, MapTxError(err)
	}
	entry.Sequence = log.Sequence
	return entry, nil
}

func (t *pgTx) InsertEffect(ctx context.Context, effect Effect) (int64, error) {
	var id int64
	err := t.q.QueryRow(ctx, `INSERT INTO workflow_outbox (effect_type, kind, number, sequence, actor_id, remarks, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		string(effect.Type), string(effect.Kind), effect.Number, effect.Sequence, effect.ActorID, effect.Remarks, effect.CreatedAt).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, fmt.Errorf("workflow: effect %s already queued: %w", effect.Key(), shared.ErrConflict)
		}
		return 0, err
	}
	return id, nil
}

func currentStatus(ctx context.Context, q db.Querier, registry *Registry, kind Kind, number string, lock bool) (Status, error) {
	meta, ok := entityTables[kind]
	if !ok {
		return "", fmt.Errorf("workflow: unknown kind %q", kind)
	}
	query := fmt.Sprintf(`SELECT status_id FROM %s WHERE number=$1 AND is_active`, meta.table)
	if lock {
		query += " FOR UPDATE"
	}
	var code int
	if err := q.QueryRow(ctx, query, number).Scan(&code); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("workflow: %s %s: %w", kind, number, shared.ErrNotFound)
		}
		return "", MapTxError(err)
	}
	return registry.Decode(code)
}

// NewStatusSource reads mst_approval_status through q.
func NewStatusSource(q db.Querier) StatusSource {
	return statusSource{q: q}
}

type statusSource struct {
	q db.Querier
}

func (s statusSource) ListApprovalStatuses(ctx context.Context) ([]StatusRow, error) {
	rows, err := s.q.Query(ctx, `SELECT id, status_key, label, is_active FROM mst_approval_status ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StatusRow
	for rows.Next() {
		var row StatusRow
		if err := rows.Scan(&row.Code, &row.Key, &row.Label, &row.IsActive); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// AssignmentRepository reads owners and approver assignments from Postgres.
type AssignmentRepository struct {
	pool     *pgxpool.Pool
	registry *Registry
}

// NewAssignmentRepository constructs AssignmentRepository.
func NewAssignmentRepository(pool *pgxpool.Pool, registry *Registry) *AssignmentRepository {
	return &AssignmentRepository{pool: pool, registry: registry}
}

// Owner implements AssignmentStore.
func (r *AssignmentRepository) Owner(ctx context.Context, kind Kind, number string) (int64, error) {
	meta, ok := entityTables[kind]
	if !ok {
		return 0, fmt.Errorf("workflow: unknown kind %q", kind)
	}
	var owner int64
	err := r.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE number=$1`, meta.owner, meta.table), number).Scan(&owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("workflow: %s %s: %w", kind, number, shared.ErrNotFound)
		}
		return 0, err
	}
	return owner, nil
}

// Approvers implements AssignmentStore.
func (r *AssignmentRepository) Approvers(ctx context.Context, kind Kind, number string, step Status) ([]int64, error) {
	code, err := r.registry.Code(step)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `SELECT approver_id FROM workflow_assignments
WHERE kind=$1 AND number=$2 AND step_status_id=$3 AND is_active ORDER BY approver_id`, string(kind), number, code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
