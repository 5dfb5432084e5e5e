package workflow_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/p2p/internal/shared"
	"github.com/odyssey-erp/p2p/internal/workflow"
	"github.com/odyssey-erp/p2p/internal/workflow/workflowtest"
)

const (
	buyer     int64 = 10
	approver1 int64 = 21
	vendorRep int64 = 22
	approver2 int64 = 23
)

type recordingDispatcher struct {
	mu      sync.Mutex
	fail    bool
	effects []workflow.Effect
}

func (d *recordingDispatcher) Dispatch(_ context.Context, effect workflow.Effect) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return errors.New("redis unavailable")
	}
	d.effects = append(d.effects, effect)
	return nil
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.effects)
}

func newPOEngine(t *testing.T, status workflow.Status) (*workflow.Engine, *workflowtest.Memory, *recordingDispatcher) {
	t.Helper()
	mem := workflowtest.NewMemory()
	mem.Seed(workflow.KindPO, "PO-001", status, buyer)
	mem.Assign(workflow.KindPO, "PO-001", workflow.POPendingApproval1, approver1)
	mem.Assign(workflow.KindPO, "PO-001", workflow.POPendingConfirm, vendorRep)
	mem.Assign(workflow.KindPO, "PO-001", workflow.POPendingApproval2, approver2)
	dispatcher := &recordingDispatcher{}
	engine := workflow.NewEngine(mem, nil, workflow.NewAssignmentAuthorizer(mem), dispatcher, nil)
	return engine, mem, dispatcher
}

func TestEngineReleasesPOThroughAllStages(t *testing.T) {
	engine, mem, dispatcher := newPOEngine(t, workflow.PODraft)
	ctx := context.Background()

	steps := []struct {
		decision workflow.Decision
		actor    int64
		want     workflow.Status
	}{
		{workflow.DecisionSubmit, buyer, workflow.POPendingApproval1},
		{workflow.DecisionApprove, approver1, workflow.POApproved1},
		{workflow.DecisionSubmit, buyer, workflow.POPendingConfirm},
		{workflow.DecisionApprove, vendorRep, workflow.POConfirmed},
		{workflow.DecisionSubmit, buyer, workflow.POPendingApproval2},
		{workflow.DecisionApprove, approver2, workflow.POReleased},
	}
	for i, step := range steps {
		res, err := engine.Apply(ctx, workflow.Command{
			Kind: workflow.KindPO, Number: "PO-001", Decision: step.decision, ActorID: step.actor, Remarks: "ok",
		})
		require.NoError(t, err, step.decision)
		require.Equal(t, step.want, res.To)
		require.Equal(t, i+1, res.Sequence)
	}

	require.Equal(t, workflow.POReleased, mem.Status(workflow.KindPO, "PO-001"))
	require.Equal(t, 1, dispatcher.count())
	require.Equal(t, workflow.EffectSendReleaseNotification, dispatcher.effects[0].Type)
	require.Equal(t, "ok", dispatcher.effects[0].Remarks)

	history, err := engine.History(ctx, workflow.KindPO, "PO-001")
	require.NoError(t, err)
	require.Len(t, history, len(steps))
	for i, entry := range history {
		require.Equal(t, i+1, entry.Sequence)
	}
	require.True(t, workflow.POReleased.AllowsReceiving())

	pending, err := mem.PendingEffects(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestEngineRejectsDecisionFromNonPendingStatus(t *testing.T) {
	engine, mem, _ := newPOEngine(t, workflow.POApproved1)
	ctx := context.Background()

	_, err := engine.Apply(ctx, workflow.Command{
		Kind: workflow.KindPO, Number: "PO-001", Decision: workflow.DecisionApprove, ActorID: approver1, Remarks: "again",
	})
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Equal(t, workflow.POApproved1, mem.Status(workflow.KindPO, "PO-001"))

	history, err := engine.History(ctx, workflow.KindPO, "PO-001")
	require.NoError(t, err)
	require.Empty(t, history)
}

func TestEngineRequiresRemarksForApproveAndReject(t *testing.T) {
	engine, mem, _ := newPOEngine(t, workflow.POPendingApproval1)

	for _, decision := range []workflow.Decision{workflow.DecisionApprove, workflow.DecisionReject} {
		_, err := engine.Apply(context.Background(), workflow.Command{
			Kind: workflow.KindPO, Number: "PO-001", Decision: decision, ActorID: approver1, Remarks: "   ",
		})
		require.ErrorIs(t, err, shared.ErrValidation)
		require.Contains(t, shared.FieldErrors(err), "remarks")
	}
	require.Equal(t, workflow.POPendingApproval1, mem.Status(workflow.KindPO, "PO-001"))
}

func TestEngineRejectsUnassignedActor(t *testing.T) {
	engine, _, _ := newPOEngine(t, workflow.POPendingApproval1)

	_, err := engine.Apply(context.Background(), workflow.Command{
		Kind: workflow.KindPO, Number: "PO-001", Decision: workflow.DecisionApprove, ActorID: approver2, Remarks: "not mine",
	})
	require.ErrorIs(t, err, shared.ErrForbidden)

	_, err = engine.Apply(context.Background(), workflow.Command{
		Kind: workflow.KindPO, Number: "PO-001", Decision: workflow.DecisionApprove, ActorID: buyer, Remarks: "self approve",
	})
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestEngineAdvanceIsSystemOnly(t *testing.T) {
	engine, mem, _ := newPOEngine(t, workflow.POReleased)
	ctx := context.Background()

	_, err := engine.Apply(ctx, workflow.Command{Kind: workflow.KindPO, Number: "PO-001", Decision: workflow.DecisionAdvance, ActorID: buyer})
	require.ErrorIs(t, err, shared.ErrForbidden)

	res, err := engine.Apply(ctx, workflow.Command{Kind: workflow.KindPO, Number: "PO-001", Decision: workflow.DecisionAdvance, ActorID: shared.SystemActorID})
	require.NoError(t, err)
	require.Equal(t, workflow.POCompleted, res.To)
	require.Equal(t, workflow.POCompleted, mem.Status(workflow.KindPO, "PO-001"))
}

func TestEngineStaleFromStatusConflicts(t *testing.T) {
	engine, _, _ := newPOEngine(t, workflow.POPendingConfirm)

	_, err := engine.Apply(context.Background(), workflow.Command{
		Kind: workflow.KindPO, Number: "PO-001", From: workflow.POPendingApproval1,
		Decision: workflow.DecisionApprove, ActorID: approver1, Remarks: "late",
	})
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestEngineUnknownEntityIsNotFound(t *testing.T) {
	engine, _, _ := newPOEngine(t, workflow.PODraft)

	_, err := engine.Apply(context.Background(), workflow.Command{
		Kind: workflow.KindPO, Number: "PO-404", Decision: workflow.DecisionSubmit, ActorID: buyer,
	})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = engine.History(context.Background(), workflow.KindPO, "PO-404")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestEngineConcurrentApprovalsCommitOnce(t *testing.T) {
	engine, mem, dispatcher := newPOEngine(t, workflow.POPendingApproval2)
	ctx := context.Background()

	const attempts = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Apply(ctx, workflow.Command{
				Kind: workflow.KindPO, Number: "PO-001", From: workflow.POPendingApproval2,
				Decision: workflow.DecisionApprove, ActorID: approver2, Remarks: "release",
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, shared.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, successes)
	require.Equal(t, attempts-1, conflicts)
	require.Len(t, mem.Effects(), 1)
	require.Equal(t, 1, dispatcher.count())

	history, err := engine.History(ctx, workflow.KindPO, "PO-001")
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestEngineDispatchFailureKeepsTransitionAndRelays(t *testing.T) {
	engine, mem, dispatcher := newPOEngine(t, workflow.POPendingApproval2)
	ctx := context.Background()
	dispatcher.fail = true

	res, err := engine.Apply(ctx, workflow.Command{
		Kind: workflow.KindPO, Number: "PO-001", Decision: workflow.DecisionApprove, ActorID: approver2, Remarks: "release",
	})
	require.NoError(t, err)
	require.Equal(t, workflow.POReleased, res.To)
	require.Equal(t, workflow.POReleased, mem.Status(workflow.KindPO, "PO-001"))

	delivered, err := engine.RelayPending(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, delivered)

	dispatcher.fail = false
	delivered, err = engine.RelayPending(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, delivered)

	delivered, err = engine.RelayPending(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, delivered)
	require.Equal(t, 1, dispatcher.count())
}

func TestEngineOwnerCancelsPurchaseRequest(t *testing.T) {
	mem := workflowtest.NewMemory()
	mem.Seed(workflow.KindPR, "PR-9", workflow.PRPendingApproval, 5)
	engine := workflow.NewEngine(mem, nil, workflow.NewAssignmentAuthorizer(mem), nil, nil)

	res, err := engine.Apply(context.Background(), workflow.Command{
		Kind: workflow.KindPR, Number: "PR-9", Decision: workflow.DecisionCancel, ActorID: 5, Remarks: "duplicate",
	})
	require.NoError(t, err)
	require.Equal(t, workflow.PRRejected, res.To)
	require.True(t, res.To.Halted())
}

func TestEngineValidatesCommand(t *testing.T) {
	engine, _, _ := newPOEngine(t, workflow.PODraft)

	_, err := engine.Apply(context.Background(), workflow.Command{Kind: "XX", Decision: "MAYBE"})
	require.ErrorIs(t, err, shared.ErrValidation)
	fields := shared.FieldErrors(err)
	require.Contains(t, fields, "kind")
	require.Contains(t, fields, "number")
	require.Contains(t, fields, "decision")
	require.Contains(t, fields, "actor")
}
