package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/p2p/internal/billing"
	"github.com/odyssey-erp/p2p/internal/billing/billingtest"
	"github.com/odyssey-erp/p2p/internal/shared"
	"github.com/odyssey-erp/p2p/internal/workflow"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

func newService(status workflow.Status) (*billing.Service, *billingtest.Memory) {
	mem := billingtest.NewMemory()
	mem.SeedPO(billing.PurchaseOrder{Number: "PO-7", Status: status, Currency: "IDR", Total: dec("1000000")})
	return billing.NewService(mem, nil), mem
}

func configurePeriods(t *testing.T, svc *billing.Service) billing.Schedule {
	t.Helper()
	s, err := svc.Configure(context.Background(), billing.ConfigureInput{
		PONumber: "PO-7",
		Type:     billing.SchedulePeriod,
		ActorID:  10,
		Periods: []billing.PeriodSpec{
			{Start: day("2024-01-01"), End: day("2024-01-31"), Target: dec("400000")},
			{Start: day("2024-02-01"), End: day("2024-02-29"), Target: dec("200000")},
			{Start: day("2024-03-01"), End: day("2024-03-31"), Target: dec("400000")},
		},
	})
	require.NoError(t, err)
	return s
}

func TestConfigureRequiresEditableStatus(t *testing.T) {
	svc, _ := newService(workflow.POReleased)
	_, err := svc.Configure(context.Background(), billing.ConfigureInput{
		PONumber: "PO-7", Type: billing.ScheduleTerm,
		Terms: []billing.TermSpec{{ValueType: billing.ValuePercent, Value: dec("100")}},
	})
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestConfigureTermsMakesTargetsEligible(t *testing.T) {
	svc, mem := newService(workflow.PODraft)
	s, err := svc.Configure(context.Background(), billing.ConfigureInput{
		PONumber: "PO-7", Type: billing.ScheduleTerm, ActorID: 10,
		Terms: []billing.TermSpec{
			{ValueType: billing.ValuePercent, Value: dec("30")},
			{ValueType: billing.ValuePercent, Value: dec("70")},
		},
	})
	require.NoError(t, err)
	require.True(t, s.Entries[0].Eligible.Equal(dec("300000")))
	require.True(t, s.Entries[1].Eligible.Equal(dec("700000")))
	require.Len(t, mem.Audits(), 1)

	stored, err := svc.Schedule(context.Background(), "PO-7")
	require.NoError(t, err)
	require.True(t, stored.Entries[1].Eligible.Equal(dec("700000")))
}

func TestScheduleMissingIsConfigurationMissing(t *testing.T) {
	svc, _ := newService(workflow.POReleased)
	_, err := svc.Recalculate(context.Background(), "PO-7")
	require.ErrorIs(t, err, shared.ErrConfigurationMissing)

	_, err = svc.Recalculate(context.Background(), "PO-404")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRecalculateFollowsReceiptsAndIsStable(t *testing.T) {
	svc, mem := newService(workflow.PODraft)
	configurePeriods(t, svc)

	mem.SetReceipts("PO-7",
		billing.Receipt{Amount: dec("250000"), ReceivedAt: day("2024-01-15")},
		billing.Receipt{Amount: dec("250000"), ReceivedAt: day("2024-01-20")},
		billing.Receipt{Amount: dec("50000"), ReceivedAt: day("2024-02-10")},
	)
	first, err := svc.Recalculate(context.Background(), "PO-7")
	require.NoError(t, err)
	require.True(t, first.Entries[0].Eligible.Equal(dec("400000")))
	require.True(t, first.Entries[1].Eligible.Equal(dec("50000")))
	require.True(t, first.Entries[2].Eligible.IsZero())

	second, err := svc.Recalculate(context.Background(), "PO-7")
	require.NoError(t, err)
	for i := range first.Entries {
		require.True(t, first.Entries[i].Eligible.Equal(second.Entries[i].Eligible))
	}
}

func TestCancelEntryOpenThenInvoiced(t *testing.T) {
	svc, mem := newService(workflow.PODraft)
	s := configurePeriods(t, svc)
	ctx := context.Background()

	mem.SetReceipts("PO-7", billing.Receipt{Amount: dec("400000"), ReceivedAt: day("2024-01-10")})
	_, err := svc.Recalculate(ctx, "PO-7")
	require.NoError(t, err)

	tx := mem.Begin()
	_, err = billing.PostTx(ctx, tx, "PO-7", s.Entries[0].ID, dec("400000"))
	require.NoError(t, err)
	tx.Commit()

	cancelled, err := svc.CancelEntry(ctx, billing.CancelInput{PONumber: "PO-7", EntryID: s.Entries[1].ID, ActorID: 10, Remark: "scope cut"})
	require.NoError(t, err)
	require.Equal(t, billing.EntryCancelled, cancelled.Status)

	_, err = svc.CancelEntry(ctx, billing.CancelInput{PONumber: "PO-7", EntryID: s.Entries[0].ID, ActorID: 10})
	require.ErrorIs(t, err, shared.ErrConflict)

	_, err = svc.CancelEntry(ctx, billing.CancelInput{PONumber: "PO-7", EntryID: 999, ActorID: 10})
	require.ErrorIs(t, err, shared.ErrNotFound)

	mem.SetReceipts("PO-7",
		billing.Receipt{Amount: dec("400000"), ReceivedAt: day("2024-01-10")},
		billing.Receipt{Amount: dec("200000"), ReceivedAt: day("2024-02-10")},
	)
	after, err := svc.Recalculate(ctx, "PO-7")
	require.NoError(t, err)
	require.Equal(t, billing.EntryInvoiced, after.Entries[0].Status)
	require.Equal(t, billing.EntryCancelled, after.Entries[1].Status)
	require.True(t, after.Entries[1].Eligible.IsZero())
}

func TestReconfigureBlockedOnceBilled(t *testing.T) {
	svc, mem := newService(workflow.PODraft)
	s := configurePeriods(t, svc)
	ctx := context.Background()

	mem.SetReceipts("PO-7", billing.Receipt{Amount: dec("100"), ReceivedAt: day("2024-01-10")})
	_, err := svc.Recalculate(ctx, "PO-7")
	require.NoError(t, err)
	tx := mem.Begin()
	_, err = billing.PostTx(ctx, tx, "PO-7", s.Entries[0].ID, dec("100"))
	require.NoError(t, err)
	tx.Commit()

	configureAgain := func() error {
		_, err := svc.Configure(ctx, billing.ConfigureInput{
			PONumber: "PO-7", Type: billing.ScheduleTerm,
			Terms: []billing.TermSpec{{ValueType: billing.ValuePercent, Value: dec("100")}},
		})
		return err
	}
	require.ErrorIs(t, configureAgain(), shared.ErrConflict)
}
