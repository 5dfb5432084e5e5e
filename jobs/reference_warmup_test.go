package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/p2p/internal/reference"
)

type countingCatalog struct {
	stubTypes
	invalidated int
	subTypeIDs  []int64
	typesErr    error
}

func (c *countingCatalog) PurchaseTypes(ctx context.Context, active *bool) ([]reference.PurchaseType, error) {
	if c.typesErr != nil {
		return nil, c.typesErr
	}
	return c.stubTypes.PurchaseTypes(ctx, active)
}

func (c *countingCatalog) PurchaseSubTypes(ctx context.Context, typeID int64, active *bool) ([]reference.PurchaseSubType, error) {
	c.subTypeIDs = append(c.subTypeIDs, typeID)
	return c.stubTypes.PurchaseSubTypes(ctx, typeID, active)
}

func (c *countingCatalog) Invalidate(context.Context) error {
	c.invalidated++
	return nil
}

func TestReferenceWarmupLoadsSubTypesPerType(t *testing.T) {
	catalog := &countingCatalog{}
	job := &ReferenceWarmupJob{Catalog: catalog}

	task, err := NewReferenceWarmupTask(true)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 1, catalog.invalidated)
	require.Equal(t, []int64{1}, catalog.subTypeIDs)

	task, err = NewReferenceWarmupTask(false)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 1, catalog.invalidated)
}

func TestReferenceWarmupFailures(t *testing.T) {
	catalog := &countingCatalog{typesErr: errors.New("db down")}
	job := &ReferenceWarmupJob{Catalog: catalog}
	task, err := NewReferenceWarmupTask(false)
	require.NoError(t, err)
	require.Error(t, job.Handle(context.Background(), task))

	err = job.Handle(context.Background(), asynq.NewTask(TaskReferenceWarmup, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
