package workflow

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/p2p/internal/shared"
)

// AssignmentStore resolves who owns an entity and who may decide its pending step.
type AssignmentStore interface {
	Owner(ctx context.Context, kind Kind, number string) (int64, error)
	Approvers(ctx context.Context, kind Kind, number string, step Status) ([]int64, error)
}

// AssignmentAuthorizer is a pure function of (actor, entity, rule) over the
// assignment data. Approve and Reject need the approver assigned to the
// pending step; Submit and Cancel need the owner or that approver; Advance
// is reserved for the system actor.
type AssignmentAuthorizer struct {
	store AssignmentStore
}

// NewAssignmentAuthorizer constructs the authorizer.
func NewAssignmentAuthorizer(store AssignmentStore) *AssignmentAuthorizer {
	return &AssignmentAuthorizer{store: store}
}

// Authorize implements Authorizer.
func (a *AssignmentAuthorizer) Authorize(ctx context.Context, cmd Command, rule Rule) error {
	if rule.Decision == DecisionAdvance {
		if cmd.ActorID != shared.SystemActorID {
			return fmt.Errorf("workflow: %s is system only: %w", rule.Decision, shared.ErrForbidden)
		}
		return nil
	}
	if cmd.ActorID == shared.SystemActorID {
		return fmt.Errorf("workflow: system actor cannot %s: %w", rule.Decision, shared.ErrForbidden)
	}
	approvers, err := a.store.Approvers(ctx, cmd.Kind, cmd.Number, rule.From)
	if err != nil {
		return err
	}
	if contains(approvers, cmd.ActorID) {
		return nil
	}
	if rule.Decision == DecisionSubmit || rule.Decision == DecisionCancel {
		owner, err := a.store.Owner(ctx, cmd.Kind, cmd.Number)
		if err != nil {
			return err
		}
		if owner == cmd.ActorID {
			return nil
		}
	}
	return fmt.Errorf("workflow: actor %d is not assigned to %s %s at %s: %w", cmd.ActorID, cmd.Kind, cmd.Number, rule.From, shared.ErrForbidden)
}

func contains(ids []int64, id int64) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
