package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/p2p/internal/shared"
)

// Command is one requested transition. ActorID is always explicit.
type Command struct {
	Kind     Kind
	Number   string
	From     Status
	Decision Decision
	ActorID  int64
	Remarks  string
}

// HistoryEntry is one append-only approval history row.
type HistoryEntry struct {
	Kind     Kind      `json:"kind"`
	Number   string    `json:"number"`
	Sequence int       `json:"sequence"`
	From     Status    `json:"from"`
	To       Status    `json:"to"`
	Decision Decision  `json:"decision"`
	ActorID  int64     `json:"actor_id"`
	Remarks  string    `json:"remarks"`
	At       time.Time `json:"at"`
}

// Effect is a declarative side effect persisted in the outbox and delivered after commit.
type Effect struct {
	ID        int64      `json:"id"`
	Type      EffectType `json:"type"`
	Kind      Kind       `json:"kind"`
	Number    string     `json:"number"`
	Sequence  int        `json:"sequence"`
	ActorID   int64      `json:"actor_id"`
	Remarks   string     `json:"remarks"`
	CreatedAt time.Time  `json:"created_at"`
}

// Key uniquely identifies the effect of one transition; consumers use it for deduplication.
func (e Effect) Key() string {
	return fmt.Sprintf("%s:%s:%d:%s", e.Kind, e.Number, e.Sequence, e.Type)
}

// Result describes a committed transition.
type Result struct {
	Kind     Kind     `json:"kind"`
	Number   string   `json:"number"`
	From     Status   `json:"from"`
	To       Status   `json:"to"`
	Sequence int      `json:"sequence"`
	Effects  []Effect `json:"effects,omitempty"`
}

// Repository describes the persistence needed by Engine.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	CurrentStatus(ctx context.Context, kind Kind, number string) (Status, error)
	History(ctx context.Context, kind Kind, number string) ([]HistoryEntry, error)
	PendingEffects(ctx context.Context, limit int) ([]Effect, error)
	MarkEffectDispatched(ctx context.Context, id int64, at time.Time) error
}

// TxRepository exposes the transactional writes of a transition. Other
// aggregates hand their own transaction's TxRepository to ApplyInTx.
type TxRepository interface {
	CurrentStatus(ctx context.Context, kind Kind, number string) (Status, error)
	CompareAndSetStatus(ctx context.Context, kind Kind, number string, from, to Status) error
	AppendHistory(ctx context.Context, entry HistoryEntry) (HistoryEntry, error)
	InsertEffect(ctx context.Context, effect Effect) (int64, error)
}

// Dispatcher delivers effects to the background queue.
type Dispatcher interface {
	Dispatch(ctx context.Context, effect Effect) error
}

// Authorizer decides whether the actor may apply the rule.
type Authorizer interface {
	Authorize(ctx context.Context, cmd Command, rule Rule) error
}

// Engine applies transitions. It is safe for concurrent use.
type Engine struct {
	repo       Repository
	table      *Table
	authz      Authorizer
	dispatcher Dispatcher
	logger     *slog.Logger
	now        func() time.Time
}

// NewEngine constructs Engine. A nil table uses DefaultTable.
func NewEngine(repo Repository, table *Table, authz Authorizer, dispatcher Dispatcher, logger *slog.Logger) *Engine {
	if table == nil {
		table = DefaultTable()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{repo: repo, table: table, authz: authz, dispatcher: dispatcher, logger: logger, now: time.Now}
}

// Apply runs the command in its own transaction and dispatches effects after commit.
func (e *Engine) Apply(ctx context.Context, cmd Command) (Result, error) {
	var res Result
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		res, err = e.ApplyInTx(ctx, tx, cmd)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	e.Dispatch(ctx, res)
	return res, nil
}

// ApplyInTx validates and applies cmd using the caller's transaction. The caller
// must call Dispatch with the returned Result once its transaction commits.
func (e *Engine) ApplyInTx(ctx context.Context, tx TxRepository, cmd Command) (Result, error) {
	cmd.Number = strings.TrimSpace(cmd.Number)
	cmd.Remarks = strings.TrimSpace(cmd.Remarks)
	if err := validateCommand(cmd); err != nil {
		return Result{}, err
	}
	current, err := tx.CurrentStatus(ctx, cmd.Kind, cmd.Number)
	if err != nil {
		return Result{}, err
	}
	from := cmd.From
	if from == "" {
		from = current
	}
	if from != current {
		return Result{}, fmt.Errorf("workflow: %s %s is %s, expected %s: %w", cmd.Kind, cmd.Number, current, from, shared.ErrConflict)
	}
	rule, err := e.table.Plan(from, cmd.Decision)
	if err != nil {
		return Result{}, err
	}
	if e.authz != nil {
		if err := e.authz.Authorize(ctx, cmd, rule); err != nil {
			return Result{}, err
		}
	}
	if err := tx.CompareAndSetStatus(ctx, cmd.Kind, cmd.Number, rule.From, rule.To); err != nil {
		return Result{}, err
	}
	now := e.now()
	entry, err := tx.AppendHistory(ctx, HistoryEntry{
		Kind:     cmd.Kind,
		Number:   cmd.Number,
		From:     rule.From,
		To:       rule.To,
		Decision: cmd.Decision,
		ActorID:  cmd.ActorID,
		Remarks:  cmd.Remarks,
		At:       now,
	})
	if err != nil {
		return Result{}, err
	}
	res := Result{Kind: cmd.Kind, Number: cmd.Number, From: rule.From, To: rule.To, Sequence: entry.Sequence}
	for _, effectType := range rule.Effects {
		effect := Effect{
			Type:      effectType,
			Kind:      cmd.Kind,
			Number:    cmd.Number,
			Sequence:  entry.Sequence,
			ActorID:   cmd.ActorID,
			Remarks:   cmd.Remarks,
			CreatedAt: now,
		}
		id, err := tx.InsertEffect(ctx, effect)
		if err != nil {
			return Result{}, err
		}
		effect.ID = id
		res.Effects = append(res.Effects, effect)
	}
	return res, nil
}

// Dispatch hands committed effects to the queue. Failures never undo the
// transition; undelivered effects stay in the outbox for RelayPending.
func (e *Engine) Dispatch(ctx context.Context, res Result) {
	for _, effect := range res.Effects {
		e.deliver(ctx, effect)
	}
}

// RelayPending re-dispatches undelivered outbox effects and returns how many were delivered.
func (e *Engine) RelayPending(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	effects, err := e.repo.PendingEffects(ctx, limit)
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, effect := range effects {
		if e.deliver(ctx, effect) {
			delivered++
		}
	}
	return delivered, nil
}

func (e *Engine) deliver(ctx context.Context, effect Effect) bool {
	if e.dispatcher == nil {
		return false
	}
	if err := e.dispatcher.Dispatch(ctx, effect); err != nil {
		e.logger.Warn("dispatch workflow effect",
			slog.String("effect", effect.Key()),
			slog.Any("error", fmt.Errorf("%w: %v", shared.ErrDependencyFailure, err)))
		return false
	}
	if err := e.repo.MarkEffectDispatched(ctx, effect.ID, e.now()); err != nil {
		e.logger.Warn("mark workflow effect dispatched", slog.String("effect", effect.Key()), slog.Any("error", err))
	}
	return true
}

// History returns the approval log of an entity ordered by sequence.
func (e *Engine) History(ctx context.Context, kind Kind, number string) ([]HistoryEntry, error) {
	number = strings.TrimSpace(number)
	verr := &shared.ValidationError{}
	if !kind.Valid() {
		verr.Add("kind", "must be PR or PO")
	}
	if number == "" {
		verr.Add("number", "required")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return e.repo.History(ctx, kind, number)
}

// CurrentStatus reads the committed status of an entity.
func (e *Engine) CurrentStatus(ctx context.Context, kind Kind, number string) (Status, error) {
	return e.repo.CurrentStatus(ctx, kind, strings.TrimSpace(number))
}

// IsPending reports whether the status awaits an approval decision.
func (e *Engine) IsPending(status Status) bool {
	return e.table.IsPending(status)
}

func validateCommand(cmd Command) error {
	verr := &shared.ValidationError{}
	if !cmd.Kind.Valid() {
		verr.Add("kind", "must be PR or PO")
	}
	if cmd.Number == "" {
		verr.Add("number", "required")
	}
	if !cmd.Decision.Valid() {
		verr.Add("decision", "must be one of SUBMIT, APPROVE, REJECT, CANCEL")
	}
	if cmd.Decision.RequiresRemarks() && cmd.Remarks == "" {
		verr.Add("remarks", "required")
	}
	if cmd.ActorID == 0 {
		verr.Add("actor", "required")
	}
	if cmd.From != "" && cmd.From.Kind() != cmd.Kind {
		verr.Add("from", "does not belong to "+string(cmd.Kind))
	}
	return verr.OrNil()
}
