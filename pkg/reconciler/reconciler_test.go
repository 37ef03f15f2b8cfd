package reconciler

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/config"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/hostcmd"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/storage"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/zones"
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

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	s, err := storage.Open(filepath.Join(t.TempDir(), "reconciler.db"), 5000)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	_, err = s.Migrate(context.Background(), false)
	require.NoError(t, err)
	return s
}

func newTestReconciler(t *testing.T) (*Reconciler, *fakeRunner, storage.Store) {
	t.Helper()
	r := newFakeRunner()
	st := newTestStore(t)
	rec := New(st, zones.NewManager(r), config.Default().Collectors, "hv01")
	return rec, r, st
}

const discoveryOutput = `0:global:running:/::ipkg:shared
1:web01:running:/zones/web01:8d4f1f2a-21c3-4b8e-9f35-6a1f6f9dcd8f:lipkg:excl
-:db01:configured:/zones/db01::bhyve:excl
`

func TestDiscoveryInsertsZonesAsAutoDiscovered(t *testing.T) {
	rec, r, st := newTestReconciler(t)
	r.stub("zoneadm list -cp", discoveryOutput)
	ctx := context.Background()

	require.NoError(t, rec.reconcileZones(ctx))

	web, err := st.GetZone(ctx, "web01")
	require.NoError(t, err)
	assert.True(t, web.AutoDiscovered)
	assert.False(t, web.IsOrphaned)
	assert.Equal(t, "hv01", web.Host)
	assert.Equal(t, types.ZoneStatusRunning, web.Status)
	assert.Equal(t, "/zones/web01", web.Zonepath)
	assert.Equal(t, "8d4f1f2a-21c3-4b8e-9f35-6a1f6f9dcd8f", web.ZoneID)
	assert.False(t, web.LastSeen.IsZero())

	db, err := st.GetZone(ctx, "db01")
	require.NoError(t, err)
	assert.Equal(t, types.ZoneStatusConfigured, db.Status)
	assert.Equal(t, "bhyve", db.Brand)
}

func TestDiscoveryPreservesManagedZoneMetadata(t *testing.T) {
	rec, r, st := newTestReconciler(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertZone(ctx, &types.Zone{
		Name:          "web01",
		Host:          "hv01",
		Brand:         "lipkg",
		Status:        types.ZoneStatusInstalled,
		Configuration: `{"zone_name":"web01","brand":"lipkg"}`,
	}))

	r.stub("zoneadm list -cp", discoveryOutput)
	require.NoError(t, rec.reconcileZones(ctx))

	web, err := st.GetZone(ctx, "web01")
	require.NoError(t, err)
	assert.False(t, web.AutoDiscovered, "zones created through the API keep their flag")
	assert.Equal(t, `{"zone_name":"web01","brand":"lipkg"}`, web.Configuration,
		"discovery must not clobber the stored configuration document")
	assert.Equal(t, types.ZoneStatusRunning, web.Status, "status refreshes from zoneadm")
}

func TestDiscoveryMarksVanishedZoneOrphaned(t *testing.T) {
	rec, r, st := newTestReconciler(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertZone(ctx, &types.Zone{
		Name:   "old01",
		Host:   "hv01",
		Status: types.ZoneStatusRunning,
	}))

	r.stub("zoneadm list -cp", discoveryOutput)
	require.NoError(t, rec.reconcileZones(ctx))

	old, err := st.GetZone(ctx, "old01")
	require.NoError(t, err)
	assert.True(t, old.IsOrphaned)

	web, err := st.GetZone(ctx, "web01")
	require.NoError(t, err)
	assert.False(t, web.IsOrphaned)

	// The zone comes back in the next inventory; the flag clears.
	r.stub("zoneadm list -cp", discoveryOutput+"3:old01:running:/zones/old01::lipkg:excl\n")
	require.NoError(t, rec.reconcileZones(ctx))

	old, err = st.GetZone(ctx, "old01")
	require.NoError(t, err)
	assert.False(t, old.IsOrphaned)
}

func TestSweepClosesSessionsWithDeadPids(t *testing.T) {
	rec, _, st := newTestReconciler(t)
	ctx := context.Background()

	const alivePID, deadPID = 4242, 99999

	deadConsole := &types.ConsoleSession{ID: uuid.NewString(), ZoneName: "web01"}
	require.NoError(t, st.CreateConsoleSession(ctx, deadConsole))
	require.NoError(t, st.UpdateConsoleSession(ctx, deadConsole.ID, types.SessionActive, deadPID))

	liveConsole := &types.ConsoleSession{ID: uuid.NewString(), ZoneName: "db01"}
	require.NoError(t, st.CreateConsoleSession(ctx, liveConsole))
	require.NoError(t, st.UpdateConsoleSession(ctx, liveConsole.ID, types.SessionActive, alivePID))

	deadTerm := &types.TerminalSession{ID: uuid.NewString(), Command: "bash"}
	require.NoError(t, st.CreateTerminalSession(ctx, deadTerm))
	require.NoError(t, st.UpdateTerminalSession(ctx, deadTerm.ID, types.SessionActive, deadPID))

	deadVNC := &types.VNCSession{ID: uuid.NewString(), ZoneName: "web01", WSPort: 8100}
	require.NoError(t, st.CreateVNCSession(ctx, deadVNC))
	require.NoError(t, st.UpdateVNCSession(ctx, deadVNC.ID, types.SessionActive, deadPID))

	rec.pidAlive = func(pid int) bool { return pid == alivePID }
	rec.sweepSessions(ctx)

	got, err := st.GetConsoleSession(ctx, deadConsole.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionClosed, got.Status)

	live, err := st.GetConsoleSession(ctx, liveConsole.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionActive, live.Status)

	term, err := st.GetTerminalSession(ctx, deadTerm.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionClosed, term.Status)

	vnc, err := st.GetVNCSession(ctx, deadVNC.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionClosed, vnc.Status)
}

func TestSweepSkipsSessionsStillConnecting(t *testing.T) {
	rec, _, st := newTestReconciler(t)
	ctx := context.Background()

	// No pid recorded yet; the console manager is still starting zlogin.
	pending := &types.ConsoleSession{ID: uuid.NewString(), ZoneName: "web01"}
	require.NoError(t, st.CreateConsoleSession(ctx, pending))

	rec.pidAlive = func(int) bool { return false }
	rec.sweepSessions(ctx)

	got, err := st.GetConsoleSession(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionConnecting, got.Status)
}

func TestRunStopsWhenContextEnds(t *testing.T) {
	rec, r, _ := newTestReconciler(t)
	r.stub("zoneadm list -cp", discoveryOutput)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("reconciler did not stop after cancel")
	}
}
