package collectors

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/config"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/hostcmd"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/storage"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   []string
	results map[string]*hostcmd.Result
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{results: map[string]*hostcmd.Result{}}
}

func (f *fakeRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (*hostcmd.Result, error) {
	key := strings.Join(append([]string{name}, args...), " ")
	f.mu.Lock()
	f.calls = append(f.calls, key)
	f.mu.Unlock()
	if res, ok := f.results[key]; ok {
		return res, nil
	}
	return &hostcmd.Result{}, nil
}

func (f *fakeRunner) stub(key, stdout string) {
	f.results[key] = &hostcmd.Result{Stdout: stdout}
}

func (f *fakeRunner) stubExit(key string, code int, stderr string) {
	f.results[key] = &hostcmd.Result{ExitCode: code, Stderr: stderr}
}

func (f *fakeRunner) callsMade() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	s, err := storage.Open(filepath.Join(t.TempDir(), "collectors.db"), 5000)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	_, err = s.Migrate(context.Background(), false)
	require.NoError(t, err)
	return s
}

func newTestService(t *testing.T) (*Service, *fakeRunner, storage.Store) {
	t.Helper()
	r := newFakeRunner()
	st := newTestStore(t)
	s := New(st, r, config.Default().Collectors, "hv01")
	return s, r, st
}

// setClock pins the service clock and returns an advance function.
func setClock(s *Service, start time.Time) func(d time.Duration) {
	current := start
	s.now = func() time.Time { return current }
	return func(d time.Duration) { current = current.Add(d) }
}

func failingLoop(name string) loop {
	return loop{
		name:    name,
		column:  storage.ScanCPU,
		collect: func(context.Context) error { return errors.New("kstat exited 1") },
	}
}

func TestCollectorSelfDisablesAtThreshold(t *testing.T) {
	s, _, st := newTestService(t)
	s.cfg.ErrorThreshold = 3
	ctx := context.Background()

	l := failingLoop("cpu")
	for i := 0; i < 3; i++ {
		require.False(t, s.isDisabled("cpu"))
		s.runOnce(ctx, l)
	}
	assert.True(t, s.isDisabled("cpu"))

	hi, err := st.GetHostInfo(ctx, "hv01")
	require.NoError(t, err)
	assert.Equal(t, 3, hi.CollectorErrors["cpu"])
	assert.Contains(t, hi.DisabledCollectors, "cpu")
	assert.Equal(t, "kstat exited 1", hi.LastErrorMessage)
	assert.Nil(t, hi.LastCPUScan)
}

func TestSuccessClearsConsecutiveErrors(t *testing.T) {
	s, _, st := newTestService(t)
	s.cfg.ErrorThreshold = 5
	ctx := context.Background()

	s.runOnce(ctx, failingLoop("cpu"))
	s.runOnce(ctx, failingLoop("cpu"))

	ok := loop{name: "cpu", column: storage.ScanCPU, collect: func(context.Context) error { return nil }}
	s.runOnce(ctx, ok)

	assert.False(t, s.isDisabled("cpu"))
	hi, err := st.GetHostInfo(ctx, "hv01")
	require.NoError(t, err)
	assert.Empty(t, hi.CollectorErrors)
	assert.Empty(t, hi.DisabledCollectors)
	assert.NotNil(t, hi.LastCPUScan, "successful cycle should stamp the scan column")
}

func TestRunLoopStopsAfterSelfDisable(t *testing.T) {
	s, _, _ := newTestService(t)
	s.cfg.ErrorThreshold = 1

	l := failingLoop("cpu")
	l.interval = time.Hour

	done := make(chan struct{})
	go func() {
		s.runLoop(context.Background(), l)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runLoop did not exit after the collector disabled itself")
	}
}

func TestRunSkipsCollectorsDisabledByConfig(t *testing.T) {
	s, r, _ := newTestService(t)
	s.cfg.Disabled = []string{
		"network_config", "network_usage", "cpu", "memory",
		"storage", "disk_io", "arc", "pci",
	}

	require.NoError(t, s.Run(context.Background()))
	assert.Empty(t, r.callsMade())
}

func TestFailuresDuringShutdownAreNotCounted(t *testing.T) {
	s, _, st := newTestService(t)
	s.cfg.ErrorThreshold = 1
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s.runOnce(ctx, failingLoop("cpu"))
	assert.False(t, s.isDisabled("cpu"))

	_, err := st.GetHostInfo(context.Background(), "hv01")
	assert.ErrorIs(t, err, storage.ErrNotFound, "no health row should be written during shutdown")
}

func TestLoopsCoverEveryCollector(t *testing.T) {
	s, _, _ := newTestService(t)
	names := make([]string, 0, 8)
	for _, l := range s.loops() {
		names = append(names, l.name)
		assert.NotNil(t, l.collect, l.name)
		assert.Positive(t, l.interval, l.name)
	}
	assert.Equal(t, []string{
		"network_config", "network_usage", "cpu", "memory",
		"storage", "disk_io", "arc", "pci",
	}, names)
}
