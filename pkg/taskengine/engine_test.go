package taskengine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/config"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/storage"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	s, err := storage.Open(filepath.Join(t.TempDir(), "engine.db"), 5000)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	_, err = s.Migrate(context.Background(), false)
	require.NoError(t, err)
	return s
}

func testEngineConfig() config.TaskEngineConfig {
	return config.TaskEngineConfig{
		Workers:             2,
		PollIntervalSeconds: 1,
		MaxAttempts:         3,
		RetryBackoffSeconds: 0,
	}
}

// startEngine runs an engine until the test ends.
func startEngine(t *testing.T, store storage.Store, reg *Registry) *Engine {
	t.Helper()
	e := New(testEngineConfig(), store, reg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = e.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return e
}

// waitForStatus polls until the task reaches want.
func waitForStatus(t *testing.T, store storage.Store, id string, want types.TaskStatus) *types.Task {
	t.Helper()
	var got *types.Task
	require.Eventually(t, func() bool {
		task, err := store.GetTask(context.Background(), id)
		if err != nil {
			return false
		}
		got = task
		return task.Status == want
	}, 10*time.Second, 20*time.Millisecond, "task %s never reached %s", id, want)
	return got
}

func TestEngineExecutesTask(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	var mu sync.Mutex
	var executed []string
	reg := NewRegistry()
	reg.RegisterFunc(types.OpStart, func(ctx context.Context, task *types.Task) error {
		mu.Lock()
		executed = append(executed, task.ZoneName)
		mu.Unlock()
		return nil
	})

	e := startEngine(t, store, reg)

	task, _, err := store.InsertTask(ctx, &types.Task{
		ZoneName:  "web01",
		Operation: types.OpStart,
		CreatedBy: "test",
	})
	require.NoError(t, err)
	e.Wake()

	done := waitForStatus(t, store, task.ID, types.TaskStatusCompleted)
	require.NotNil(t, done.StartedAt)
	require.NotNil(t, done.CompletedAt)
	assert.Empty(t, done.ErrorMessage)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"web01"}, executed)
}

func TestEngineRunsChainInOrder(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	var mu sync.Mutex
	var order []string
	reg := NewRegistry()
	reg.RegisterFunc(types.OpZoneSync, func(ctx context.Context, task *types.Task) error {
		mu.Lock()
		order = append(order, task.ID)
		mu.Unlock()
		return nil
	})

	e := startEngine(t, store, reg)

	first := uuid.New().String()
	second := uuid.New().String()
	_, err := store.InsertTaskChain(ctx, []*types.Task{
		{ID: first, ZoneName: "web01", Operation: types.OpZoneSync, CreatedBy: "test"},
		{ID: second, ZoneName: "web01", Operation: types.OpZoneSync, DependsOn: first, CreatedBy: "test"},
	})
	require.NoError(t, err)
	e.Wake()

	a := waitForStatus(t, store, first, types.TaskStatusCompleted)
	b := waitForStatus(t, store, second, types.TaskStatusCompleted)

	mu.Lock()
	assert.Equal(t, []string{first, second}, order)
	mu.Unlock()

	// The dependent only starts after its predecessor's completion write.
	require.NotNil(t, a.CompletedAt)
	require.NotNil(t, b.StartedAt)
	assert.False(t, b.StartedAt.Before(*a.CompletedAt))
}

func TestEngineRetriesThenCompletes(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	var mu sync.Mutex
	runs := 0
	reg := NewRegistry()
	reg.RegisterFunc(types.OpStop, func(ctx context.Context, task *types.Task) error {
		mu.Lock()
		defer mu.Unlock()
		runs++
		if runs < 3 {
			return Retryable(fmt.Errorf("zone busy, run %d", runs))
		}
		return nil
	})

	e := startEngine(t, store, reg)

	task, _, err := store.InsertTask(ctx, &types.Task{
		ZoneName:  "web01",
		Operation: types.OpStop,
		CreatedBy: "test",
	})
	require.NoError(t, err)
	e.Wake()

	done := waitForStatus(t, store, task.ID, types.TaskStatusCompleted)
	assert.Equal(t, 2, done.Attempts)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, runs)
}

func TestEngineRetriesExhausted(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	var mu sync.Mutex
	runs := 0
	reg := NewRegistry()
	reg.RegisterFunc(types.OpStop, func(ctx context.Context, task *types.Task) error {
		mu.Lock()
		runs++
		mu.Unlock()
		return Retryable(errors.New("device held open"))
	})

	e := startEngine(t, store, reg)

	task, _, err := store.InsertTask(ctx, &types.Task{
		ZoneName:  "web01",
		Operation: types.OpStop,
		CreatedBy: "test",
	})
	require.NoError(t, err)
	e.Wake()

	done := waitForStatus(t, store, task.ID, types.TaskStatusFailed)
	assert.Equal(t, "device held open", done.ErrorMessage)
	assert.Equal(t, 2, done.Attempts)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, runs)
}

func TestEngineTerminalFailureCancelsDependents(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	reg := NewRegistry()
	reg.RegisterFunc(types.OpZoneProvisioningExtract, func(ctx context.Context, task *types.Task) error {
		return errors.New("dataset exists")
	})
	reg.RegisterFunc(types.OpStart, func(ctx context.Context, task *types.Task) error {
		t.Error("dependent of a failed task must never run")
		return nil
	})
	reg.RegisterFunc(types.OpZoneWaitSSH, func(ctx context.Context, task *types.Task) error {
		t.Error("transitive dependent of a failed task must never run")
		return nil
	})

	e := startEngine(t, store, reg)

	extract := uuid.New().String()
	start := uuid.New().String()
	wait := uuid.New().String()
	_, err := store.InsertTaskChain(ctx, []*types.Task{
		{ID: extract, ZoneName: "web01", Operation: types.OpZoneProvisioningExtract, CreatedBy: "test"},
		{ID: start, ZoneName: "web01", Operation: types.OpStart, DependsOn: extract, CreatedBy: "test"},
		{ID: wait, ZoneName: "web01", Operation: types.OpZoneWaitSSH, DependsOn: start, CreatedBy: "test"},
	})
	require.NoError(t, err)
	e.Wake()

	failed := waitForStatus(t, store, extract, types.TaskStatusFailed)
	assert.Equal(t, "dataset exists", failed.ErrorMessage)

	waitForStatus(t, store, start, types.TaskStatusCancelled)
	cancelled := waitForStatus(t, store, wait, types.TaskStatusCancelled)
	assert.Contains(t, cancelled.ErrorMessage, "did not complete")
}

func TestEngineFailsTaskWithoutHandler(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	e := startEngine(t, store, NewRegistry())

	task, _, err := store.InsertTask(ctx, &types.Task{
		ZoneName:  "web01",
		Operation: types.OpDelete,
		CreatedBy: "test",
	})
	require.NoError(t, err)
	e.Wake()

	done := waitForStatus(t, store, task.ID, types.TaskStatusFailed)
	assert.Contains(t, done.ErrorMessage, "no handler registered")
}

func TestEngineSettlesAggregateParent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	reg := NewRegistry()
	reg.RegisterFunc(types.OpZoneSync, func(ctx context.Context, task *types.Task) error {
		return nil
	})

	e := startEngine(t, store, reg)

	parent := uuid.New().String()
	c1 := uuid.New().String()
	c2 := uuid.New().String()
	_, err := store.InsertTaskChain(ctx, []*types.Task{
		{ID: parent, ZoneName: "web01", Operation: types.OpZoneSyncParent, CreatedBy: "test"},
		{ID: c1, ZoneName: "web01", Operation: types.OpZoneSync, ParentTaskID: parent, CreatedBy: "test"},
		{ID: c2, ZoneName: "web01", Operation: types.OpZoneSync, ParentTaskID: parent, DependsOn: c1, CreatedBy: "test"},
	})
	require.NoError(t, err)
	e.Wake()

	waitForStatus(t, store, c1, types.TaskStatusCompleted)
	waitForStatus(t, store, c2, types.TaskStatusCompleted)
	settled := waitForStatus(t, store, parent, types.TaskStatusCompleted)
	assert.Empty(t, settled.ErrorMessage)
}

func TestEngineFailsAggregateParentOnChildFailure(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	reg := NewRegistry()
	reg.RegisterFunc(types.OpZoneProvision, func(ctx context.Context, task *types.Task) error {
		return errors.New("playbook exited 2")
	})

	e := startEngine(t, store, reg)

	parent := uuid.New().String()
	c1 := uuid.New().String()
	c2 := uuid.New().String()
	_, err := store.InsertTaskChain(ctx, []*types.Task{
		{ID: parent, ZoneName: "web01", Operation: types.OpZoneProvisionParent, CreatedBy: "test"},
		{ID: c1, ZoneName: "web01", Operation: types.OpZoneProvision, ParentTaskID: parent, CreatedBy: "test"},
		{ID: c2, ZoneName: "web01", Operation: types.OpZoneProvision, ParentTaskID: parent, DependsOn: c1, CreatedBy: "test"},
	})
	require.NoError(t, err)
	e.Wake()

	waitForStatus(t, store, c1, types.TaskStatusFailed)
	waitForStatus(t, store, c2, types.TaskStatusCancelled)
	settled := waitForStatus(t, store, parent, types.TaskStatusFailed)
	assert.Equal(t, "1 of 2 child tasks failed", settled.ErrorMessage)
}

func TestEngineShutdownLeavesTaskRunning(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	started := make(chan struct{})
	reg := NewRegistry()
	reg.RegisterFunc(types.OpStart, func(ctx context.Context, task *types.Task) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	e := New(testEngineConfig(), store, reg)
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = e.Run(runCtx)
		close(done)
	}()

	task, _, err := store.InsertTask(ctx, &types.Task{
		ZoneName:  "web01",
		Operation: types.OpStart,
		CreatedBy: "test",
	})
	require.NoError(t, err)
	e.Wake()

	select {
	case <-started:
	case <-time.After(10 * time.Second):
		t.Fatal("task never started")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("engine never stopped")
	}

	// The interrupted task keeps its running status for the boot-time sweep.
	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusRunning, got.Status)

	n, err := store.ResetRunningTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err = store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusPending, got.Status)
}

func TestRetryableClassification(t *testing.T) {
	assert.Nil(t, Retryable(nil))

	base := errors.New("ssh not ready")
	assert.False(t, IsRetryable(base))
	assert.True(t, IsRetryable(Retryable(base)))

	// The marker survives further wrapping.
	wrapped := fmt.Errorf("probe 10.0.0.5: %w", Retryable(base))
	assert.True(t, IsRetryable(wrapped))
	assert.True(t, errors.Is(wrapped, base))
	assert.Equal(t, "ssh not ready", Retryable(base).Error())
}
