package vnc

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/config"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/storage"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	s, err := storage.Open(filepath.Join(t.TempDir(), "vnc.db"), 5000)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	_, err = s.Migrate(context.Background(), false)
	require.NoError(t, err)
	return s
}

// newTestManager builds a manager on its own port band so tests never trade
// EADDRINUSE with each other.
func newTestManager(t *testing.T, portMin, portMax int) (*Manager, storage.Store) {
	t.Helper()
	st := newTestStore(t)
	m := NewManager(st, config.VNCConfig{PortMin: portMin, PortMax: portMax})
	t.Cleanup(m.Shutdown)
	return m, st
}

func runningBhyveZone(name, zonepath string) *types.Zone {
	return &types.Zone{
		Name:     name,
		Brand:    brandBhyve,
		Status:   types.ZoneStatusRunning,
		Zonepath: zonepath,
	}
}

func TestStartAllocatesPortAndPersistsSession(t *testing.T) {
	m, st := newTestManager(t, 42800, 42804)
	ctx := context.Background()

	sess, err := m.Start(ctx, runningBhyveZone("web01", t.TempDir()))
	require.NoError(t, err)

	assert.GreaterOrEqual(t, sess.WSPort, 42800)
	assert.LessOrEqual(t, sess.WSPort, 42804)
	assert.Equal(t, os.Getpid(), sess.PID)
	assert.Equal(t, types.SessionActive, sess.Status)

	row, err := st.GetActiveVNCSessionByZone(ctx, "web01")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, row.ID)
	assert.Equal(t, sess.WSPort, row.WSPort)
}

func TestStartIsIdempotentWhileProxyRuns(t *testing.T) {
	m, _ := newTestManager(t, 42805, 42809)
	ctx := context.Background()
	zone := runningBhyveZone("web01", t.TempDir())

	first, err := m.Start(ctx, zone)
	require.NoError(t, err)

	second, err := m.Start(ctx, zone)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.WSPort, second.WSPort)
}

func TestStartValidatesZone(t *testing.T) {
	m, _ := newTestManager(t, 42810, 42814)
	ctx := context.Background()

	lipkg := runningBhyveZone("web01", t.TempDir())
	lipkg.Brand = "lipkg"
	_, err := m.Start(ctx, lipkg)
	assert.ErrorIs(t, err, storage.ErrValidation)

	halted := runningBhyveZone("db01", t.TempDir())
	halted.Status = types.ZoneStatusInstalled
	_, err = m.Start(ctx, halted)
	assert.ErrorIs(t, err, storage.ErrValidation)

	pathless := runningBhyveZone("cache01", "")
	_, err = m.Start(ctx, pathless)
	assert.ErrorIs(t, err, storage.ErrValidation)
}

func TestStartReclaimsStaleSessionRow(t *testing.T) {
	m, st := newTestManager(t, 42815, 42819)
	ctx := context.Background()

	// Row left over from a previous agent process; no in-memory proxy backs it.
	stale := &types.VNCSession{ID: uuid.NewString(), ZoneName: "web01", WSPort: 42816, PID: 99999}
	require.NoError(t, st.CreateVNCSession(ctx, stale))
	require.NoError(t, st.UpdateVNCSession(ctx, stale.ID, types.SessionActive, stale.PID))

	sess, err := m.Start(ctx, runningBhyveZone("web01", t.TempDir()))
	require.NoError(t, err)
	assert.NotEqual(t, stale.ID, sess.ID)

	old, err := st.GetVNCSession(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionClosed, old.Status)

	active, err := st.GetActiveVNCSessionByZone(ctx, "web01")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, active.ID)
}

func TestPortAllocationSkipsPortsHeldByRows(t *testing.T) {
	m, st := newTestManager(t, 42820, 42821)
	ctx := context.Background()

	// Another zone's non-closed row claims the first port in the band.
	other := &types.VNCSession{ID: uuid.NewString(), ZoneName: "db01", WSPort: 42820, PID: 99999}
	require.NoError(t, st.CreateVNCSession(ctx, other))

	sess, err := m.Start(ctx, runningBhyveZone("web01", t.TempDir()))
	require.NoError(t, err)
	assert.Equal(t, 42821, sess.WSPort)
}

func TestStartFailsWhenPortBandExhausted(t *testing.T) {
	m, st := newTestManager(t, 42822, 42822)
	ctx := context.Background()

	other := &types.VNCSession{ID: uuid.NewString(), ZoneName: "db01", WSPort: 42822, PID: 99999}
	require.NoError(t, st.CreateVNCSession(ctx, other))

	_, err := m.Start(ctx, runningBhyveZone("web01", t.TempDir()))
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func TestProxyStreamsBytes(t *testing.T) {
	zonepath := t.TempDir()
	socket := vmSocket(zonepath)
	require.NoError(t, os.MkdirAll(filepath.Dir(socket), 0o755))

	backend, err := net.Listen("unix", socket)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	greeting := []byte("RFB 003.008\n")
	received := make(chan []byte, 1)
	go func() {
		conn, err := backend.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Write(greeting)
		buf := make([]byte, 64)
		n, err := conn.Read(buf)
		if err == nil {
			received <- append([]byte(nil), buf[:n]...)
		}
	}()

	m, _ := newTestManager(t, 42825, 42829)
	sess, err := m.Start(context.Background(), runningBhyveZone("web01", zonepath))
	require.NoError(t, err)

	ws, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://127.0.0.1:%d/", sess.WSPort), nil)
	require.NoError(t, err)
	defer ws.Close()

	mt, msg, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, mt)
	assert.Equal(t, greeting, msg)

	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte("key-event")))
	select {
	case got := <-received:
		assert.Equal(t, []byte("key-event"), got)
	case <-time.After(5 * time.Second):
		t.Fatal("framebuffer socket never received the client bytes")
	}
}

func TestClientGetsCloseWhenSocketMissing(t *testing.T) {
	// Running zone but no vm.vnc socket behind it.
	m, _ := newTestManager(t, 42830, 42834)
	sess, err := m.Start(context.Background(), runningBhyveZone("web01", t.TempDir()))
	require.NoError(t, err)

	ws, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://127.0.0.1:%d/", sess.WSPort), nil)
	require.NoError(t, err)
	defer ws.Close()

	_, _, err = ws.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseInternalServerErr),
		"expected a close frame naming the missing framebuffer, got %v", err)
}

func TestStopClosesRowAndReleasesPort(t *testing.T) {
	m, st := newTestManager(t, 42835, 42839)
	ctx := context.Background()

	sess, err := m.Start(ctx, runningBhyveZone("web01", t.TempDir()))
	require.NoError(t, err)

	require.NoError(t, m.Stop(ctx, "web01"))

	row, err := st.GetVNCSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionClosed, row.Status)

	_, err = net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", sess.WSPort), time.Second)
	assert.Error(t, err, "listener should be gone after Stop")

	// The slot is free again.
	again, err := m.Start(ctx, runningBhyveZone("web01", t.TempDir()))
	require.NoError(t, err)
	assert.NotEqual(t, sess.ID, again.ID)
}

func TestStopWithoutSessionReturnsNotFound(t *testing.T) {
	m, _ := newTestManager(t, 42840, 42844)
	err := m.Stop(context.Background(), "ghost")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRunTearsDownProxiesOnCancel(t *testing.T) {
	m, st := newTestManager(t, 42845, 42849)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	sess, err := m.Start(context.Background(), runningBhyveZone("web01", t.TempDir()))
	require.NoError(t, err)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("manager did not stop after cancel")
	}

	row, err := st.GetVNCSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionClosed, row.Status)
}
