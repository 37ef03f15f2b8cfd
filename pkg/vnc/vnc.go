package vnc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/config"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/log"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/storage"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
)

// Only bhyve zones have a framebuffer.
const brandBhyve = "bhyve"

// vmSocket is where bhyve exposes the framebuffer inside the zone root.
func vmSocket(zonepath string) string {
	return filepath.Join(zonepath, "root", "tmp", "vm.vnc")
}

// Manager runs the per-zone framebuffer proxies. All proxies live in this
// process; a session row without a matching in-memory proxy is stale by
// definition and gets reclaimed on the next Start.
type Manager struct {
	store    storage.Store
	cfg      config.VNCConfig
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	proxies map[string]*proxy

	// Injection points for tests.
	listen func(network, addr string) (net.Listener, error)
	dial   func(network, addr string) (net.Conn, error)
}

// NewManager creates a VNC proxy manager bound to the configured port range.
func NewManager(store storage.Store, cfg config.VNCConfig) *Manager {
	return &Manager{
		store:  store,
		cfg:    cfg,
		logger: log.WithComponent("vnc"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			Subprotocols:    []string{"binary"},
			// Origin policy belongs to the reverse proxy in front of the agent.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		proxies: make(map[string]*proxy),
		listen:  net.Listen,
		dial:    net.Dial,
	}
}

// proxy is one zone's WebSocket listener plus the connections running
// through it. server.Close does not reach hijacked websocket connections,
// so they are tracked and closed explicitly.
type proxy struct {
	session *types.VNCSession
	socket  string
	server  *http.Server

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

func (p *proxy) track(c net.Conn) {
	p.mu.Lock()
	p.conns[c] = struct{}{}
	p.mu.Unlock()
}

func (p *proxy) untrack(c net.Conn) {
	p.mu.Lock()
	delete(p.conns, c)
	p.mu.Unlock()
}

func (p *proxy) close() {
	_ = p.server.Close()
	p.mu.Lock()
	for c := range p.conns {
		_ = c.Close()
	}
	p.conns = make(map[net.Conn]struct{})
	p.mu.Unlock()
}

// Start ensures a framebuffer proxy is running for the zone and returns its
// session. Starting a zone whose proxy is already up returns the existing
// session unchanged.
func (m *Manager) Start(ctx context.Context, zone *types.Zone) (*types.VNCSession, error) {
	if zone.Brand != brandBhyve {
		return nil, fmt.Errorf("%w: zone %s is %s-branded; VNC consoles require bhyve",
			storage.ErrValidation, zone.Name, zone.Brand)
	}
	if zone.Status != types.ZoneStatusRunning {
		return nil, fmt.Errorf("%w: zone %s is %s; the framebuffer socket only exists while the zone runs",
			storage.ErrValidation, zone.Name, zone.Status)
	}
	if zone.Zonepath == "" {
		return nil, fmt.Errorf("%w: zone %s has no zonepath", storage.ErrValidation, zone.Name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.proxies[zone.Name]; ok {
		return p.session, nil
	}

	if prev, err := m.store.GetActiveVNCSessionByZone(ctx, zone.Name); err == nil {
		m.logger.Info().Str("zone", zone.Name).Str("session_id", prev.ID).Int("pid", prev.PID).
			Msg("Reclaiming stale VNC session row")
		if err := m.store.CloseVNCSession(ctx, prev.ID); err != nil {
			return nil, fmt.Errorf("reclaim stale VNC session: %w", err)
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	port, ln, err := m.allocatePort(ctx)
	if err != nil {
		return nil, err
	}

	session := &types.VNCSession{
		ID:       uuid.NewString(),
		ZoneName: zone.Name,
		WSPort:   port,
		PID:      os.Getpid(),
		Status:   types.SessionConnecting,
	}
	if err := m.store.CreateVNCSession(ctx, session); err != nil {
		_ = ln.Close()
		return nil, err
	}

	p := &proxy{
		session: session,
		socket:  vmSocket(zone.Zonepath),
		conns:   make(map[net.Conn]struct{}),
	}
	p.server = &http.Server{Handler: m.wsHandler(p)}
	m.proxies[zone.Name] = p

	go func() {
		if err := p.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Warn().Err(err).Str("zone", zone.Name).Msg("VNC proxy listener failed")
		}
	}()

	if err := m.store.UpdateVNCSession(ctx, session.ID, types.SessionActive, session.PID); err != nil {
		delete(m.proxies, zone.Name)
		p.close()
		_ = m.store.CloseVNCSession(ctx, session.ID)
		return nil, err
	}
	session.Status = types.SessionActive

	m.logger.Info().Str("zone", zone.Name).Str("session_id", session.ID).
		Int("ws_port", port).Msg("VNC proxy started")
	return session, nil
}

// Stop tears down the zone's proxy and closes its session row. Without a
// live proxy it still closes any leftover row so the slot frees up.
func (m *Manager) Stop(ctx context.Context, zoneName string) error {
	m.mu.Lock()
	p, ok := m.proxies[zoneName]
	if ok {
		delete(m.proxies, zoneName)
	}
	m.mu.Unlock()

	if ok {
		p.close()
		if err := m.store.CloseVNCSession(ctx, p.session.ID); err != nil {
			return err
		}
		m.logger.Info().Str("zone", zoneName).Str("session_id", p.session.ID).
			Msg("VNC proxy stopped")
		return nil
	}

	prev, err := m.store.GetActiveVNCSessionByZone(ctx, zoneName)
	if err != nil {
		return err
	}
	return m.store.CloseVNCSession(ctx, prev.ID)
}

// Run blocks until the context ends, then tears down every proxy. It slots
// the manager into the agent's run group like the other long-running
// components.
func (m *Manager) Run(ctx context.Context) error {
	<-ctx.Done()
	m.Shutdown()
	return ctx.Err()
}

// Shutdown stops all proxies and closes their session rows.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	proxies := make([]*proxy, 0, len(m.proxies))
	for zone, p := range m.proxies {
		proxies = append(proxies, p)
		delete(m.proxies, zone)
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, p := range proxies {
		p.close()
		_ = m.store.CloseVNCSession(ctx, p.session.ID)
	}
}

// allocatePort binds the first free port in the configured range. Ports
// recorded on non-closed session rows are skipped without probing so a
// restart cannot hand out a port another zone's row still claims.
func (m *Manager) allocatePort(ctx context.Context) (int, net.Listener, error) {
	used, err := m.store.UsedVNCPorts(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("list used VNC ports: %w", err)
	}
	taken := make(map[int]bool, len(used))
	for _, p := range used {
		taken[p] = true
	}

	for port := m.cfg.PortMin; port <= m.cfg.PortMax; port++ {
		if taken[port] {
			continue
		}
		ln, err := m.listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			continue
		}
		return port, ln, nil
	}
	return 0, nil, fmt.Errorf("%w: no free VNC websocket port in %d-%d",
		storage.ErrConflict, m.cfg.PortMin, m.cfg.PortMax)
}

func (m *Manager) wsHandler(p *proxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := m.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error.
			return
		}
		defer ws.Close()

		back, err := m.dial("unix", p.socket)
		if err != nil {
			m.logger.Warn().Err(err).Str("zone", p.session.ZoneName).
				Msg("Framebuffer socket unavailable")
			_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(
				websocket.CloseInternalServerErr, "framebuffer socket unavailable"))
			return
		}
		defer back.Close()

		p.track(ws.UnderlyingConn())
		p.track(back)
		defer p.untrack(ws.UnderlyingConn())
		defer p.untrack(back)

		touchCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = m.store.UpdateVNCSession(touchCtx, p.session.ID, types.SessionActive, p.session.PID)
		cancel()

		m.pump(ws, back, p.session.ZoneName)
	}
}

// pump shuttles bytes until either side fails. RFB is a plain byte stream,
// so client frames are written verbatim and socket reads go back as binary
// messages. The deferred closes in the handler unblock whichever goroutine
// did not report the first error.
func (m *Manager) pump(ws *websocket.Conn, back net.Conn, zone string) {
	errc := make(chan error, 2)

	go func() {
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				errc <- err
				return
			}
			if _, err := back.Write(data); err != nil {
				errc <- err
				return
			}
		}
	}()

	go func() {
		buf := make([]byte, 32*1024)
		for {
			n, err := back.Read(buf)
			if n > 0 {
				if werr := ws.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
					errc <- werr
					return
				}
			}
			if err != nil {
				errc <- err
				return
			}
		}
	}()

	err := <-errc
	if err != nil && !errors.Is(err, net.ErrClosed) &&
		!websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		m.logger.Debug().Err(err).Str("zone", zone).Msg("VNC stream ended")
	}
	_ = ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
