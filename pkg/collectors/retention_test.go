package collectors

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/config"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/storage"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
)

func newTestSweeper(t *testing.T) (*Sweeper, storage.Store) {
	t.Helper()
	st := newTestStore(t)
	return NewSweeper(st, config.Default().Retention), st
}

func seedUsage(t *testing.T, st storage.Store, at time.Time) {
	t.Helper()
	require.NoError(t, st.InsertNetworkUsage(context.Background(), []types.NetworkUsage{
		{Host: "hv01", Link: "net0", IPackets: 1, RBytes: 1, ScanTimestamp: at},
	}))
}

func TestSweepRemovesExpiredSamplesOnly(t *testing.T) {
	w, st := newTestSweeper(t)
	ctx := context.Background()

	now := time.Now().UTC()
	seedUsage(t, st, now.AddDate(0, 0, -10))
	seedUsage(t, st, now)

	w.sweep(ctx)

	rows, err := st.ListNetworkUsageSince(ctx, "hv01", "", time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1, "only the sample inside the seven-day horizon survives")
	assert.WithinDuration(t, now, rows[0].ScanTimestamp, time.Minute)
}

func TestZeroRetentionDaysKeepsForever(t *testing.T) {
	w, st := newTestSweeper(t)
	w.cfg.NetworkUsageDays = 0
	ctx := context.Background()

	seedUsage(t, st, time.Now().UTC().AddDate(0, 0, -365))
	w.sweep(ctx)

	rows, err := st.ListNetworkUsageSince(ctx, "hv01", "", time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestSweepPrunesFinishedTasksWhenConfigured(t *testing.T) {
	w, st := newTestSweeper(t)
	w.cfg.TasksDays = 1
	ctx := context.Background()

	done, _, err := st.InsertTask(ctx, &types.Task{
		ID:        uuid.NewString(),
		ZoneName:  "web01",
		Operation: types.OpStart,
		Status:    types.TaskStatusPending,
		CreatedBy: "test",
	})
	require.NoError(t, err)
	claimed, err := st.ClaimNextTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, done.ID, claimed.ID)
	require.NoError(t, st.MarkTaskCompleted(ctx, done.ID))

	pending, _, err := st.InsertTask(ctx, &types.Task{
		ID:        uuid.NewString(),
		ZoneName:  "db01",
		Operation: types.OpStart,
		Status:    types.TaskStatusPending,
		CreatedBy: "test",
	})
	require.NoError(t, err)

	// A clock ten days ahead puts the completion past the one-day horizon.
	w.now = func() time.Time { return time.Now().UTC().AddDate(0, 0, 10) }
	w.sweep(ctx)

	_, err = st.GetTask(ctx, done.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	still, err := st.GetTask(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusPending, still.Status, "unfinished tasks are never pruned")
}

func TestSweepWithoutTaskRetentionKeepsFinishedTasks(t *testing.T) {
	w, st := newTestSweeper(t)
	require.Zero(t, w.cfg.TasksDays)
	ctx := context.Background()

	done, _, err := st.InsertTask(ctx, &types.Task{
		ID:        uuid.NewString(),
		ZoneName:  "web01",
		Operation: types.OpStart,
		Status:    types.TaskStatusPending,
		CreatedBy: "test",
	})
	require.NoError(t, err)
	claimed, err := st.ClaimNextTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, done.ID, claimed.ID)
	require.NoError(t, st.MarkTaskCompleted(ctx, done.ID))

	w.now = func() time.Time { return time.Now().UTC().AddDate(1, 0, 0) }
	w.sweep(ctx)

	_, err = st.GetTask(ctx, done.ID)
	assert.NoError(t, err, "task retention disabled keeps terminal tasks for audit")
}
