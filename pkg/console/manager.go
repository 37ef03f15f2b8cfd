package console

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/config"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/hostcmd"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/log"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/storage"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
)

// ErrAutomationActive rejects interactive writes and competing automations
// while a recipe holds a console.
var ErrAutomationActive = errors.New("automation holds the console")

// expectWindowBytes bounds the sliding window Expect matches against.
const expectWindowBytes = 16 * 1024

// persistInterval is how often a live session's buffer and timestamps are
// flushed to the store.
const persistInterval = 5 * time.Second

// Manager owns at most one live console per zone.
type Manager struct {
	cfg    config.ConsoleConfig
	store  storage.Store
	logger zerolog.Logger

	// newCommand builds the PTY child. Tests substitute a harmless command.
	newCommand func(zone string) *exec.Cmd

	mu       sync.Mutex
	consoles map[string]*Console
}

// NewManager returns a console manager backed by the given store.
func NewManager(cfg config.ConsoleConfig, store storage.Store) *Manager {
	return &Manager{
		cfg:    cfg,
		store:  store,
		logger: log.WithComponent("console"),
		newCommand: func(zone string) *exec.Cmd {
			return exec.Command("zlogin", "-C", zone)
		},
		consoles: make(map[string]*Console),
	}
}

// Console is one zone's live zlogin -C attachment.
type Console struct {
	ZoneName  string
	SessionID string

	mgr  *Manager
	pump *pump

	amu        sync.Mutex
	automation bool
}

// GetOrCreate returns the zone's live console, starting one if necessary.
// A session row left behind by a previous process is reclaimed first: its
// zlogin would otherwise hold the zone's console line exclusively, and its
// persisted buffer seeds the new session's replay.
func (m *Manager) GetOrCreate(ctx context.Context, zone string) (*Console, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.consoles[zone]; ok && c.pump.alive() {
		_ = m.store.TouchConsoleSession(ctx, c.SessionID, time.Now(), time.Time{})
		return c, nil
	}
	delete(m.consoles, zone)

	seed := ""
	if prev, err := m.store.GetActiveConsoleSession(ctx, zone); err == nil {
		seed = prev.SessionBuffer
		if hostcmd.PIDAlive(prev.PID) {
			_ = syscall.Kill(prev.PID, syscall.SIGKILL)
		}
		if err := m.store.CloseConsoleSession(ctx, prev.ID); err != nil {
			return nil, err
		}
		m.logger.Info().Str("zone", zone).Str("session_id", prev.ID).
			Msg("Reclaimed stale console session")
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	cs := &types.ConsoleSession{ID: uuid.NewString(), ZoneName: zone}
	if err := m.store.CreateConsoleSession(ctx, cs); err != nil {
		return nil, err
	}

	pmp, err := newPump(m.newCommand(zone), m.cfg.SubscriberQueueDepth,
		m.cfg.ReplayBufferBytes, m.cfg.SessionBufferLines, seed)
	if err != nil {
		_ = m.store.CloseConsoleSession(ctx, cs.ID)
		return nil, fmt.Errorf("failed to start console for zone %s: %w", zone, err)
	}
	if err := m.store.UpdateConsoleSession(ctx, cs.ID, types.SessionActive, pmp.pid()); err != nil {
		pmp.terminate()
		return nil, err
	}

	c := &Console{ZoneName: zone, SessionID: cs.ID, mgr: m, pump: pmp}
	m.consoles[zone] = c
	go c.supervise()
	m.logger.Info().Str("zone", zone).Str("session_id", cs.ID).
		Int("pid", pmp.pid()).Msg("Console session started")
	return c, nil
}

// Get returns the live console for a zone, if any.
func (m *Manager) Get(zone string) (*Console, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.consoles[zone]
	if !ok || !c.pump.alive() {
		return nil, false
	}
	return c, true
}

// IsAlive reports whether the zone has a live console in this process.
func (m *Manager) IsAlive(zone string) bool {
	_, ok := m.Get(zone)
	return ok
}

// IsAutomationActive reports whether a recipe currently holds the zone's
// console.
func (m *Manager) IsAutomationActive(zone string) bool {
	c, ok := m.Get(zone)
	return ok && c.IsAutomationActive()
}

// SubscriberCount returns the number of attached readers for a zone.
func (m *Manager) SubscriberCount(zone string) int {
	c, ok := m.Get(zone)
	if !ok {
		return 0
	}
	return c.pump.subscriberCount()
}

// TotalSubscribers returns the number of attached readers across all live
// consoles.
func (m *Manager) TotalSubscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, c := range m.consoles {
		total += c.pump.subscriberCount()
	}
	return total
}

// Destroy tears a zone's console down and closes its record. It also
// reclaims rows without a live PTY in this process, killing the recorded
// pid if it still runs.
func (m *Manager) Destroy(ctx context.Context, zone string) error {
	m.mu.Lock()
	c, ok := m.consoles[zone]
	m.mu.Unlock()
	if !ok {
		prev, err := m.store.GetActiveConsoleSession(ctx, zone)
		if err != nil {
			return err
		}
		if hostcmd.PIDAlive(prev.PID) {
			_ = syscall.Kill(prev.PID, syscall.SIGKILL)
		}
		return m.store.CloseConsoleSession(ctx, prev.ID)
	}
	c.pump.terminate()
	select {
	case <-c.pump.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	m.reap(c)
	return nil
}

// Run drives the idle sweep until the context ends, then tears down every
// live console.
func (m *Manager) Run(ctx context.Context) error {
	interval := time.Duration(m.cfg.CleanupIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.Shutdown()
			return ctx.Err()
		case <-ticker.C:
			m.sweepIdle()
		}
	}
}

// sweepIdle destroys consoles nobody has touched for the idle timeout.
// Sessions with attached subscribers or a running automation are spared.
func (m *Manager) sweepIdle() {
	timeout := time.Duration(m.cfg.IdleTimeoutMinutes) * time.Minute
	if timeout <= 0 {
		return
	}
	m.mu.Lock()
	var idle []*Console
	for _, c := range m.consoles {
		if c.pump.subscriberCount() > 0 || c.IsAutomationActive() {
			continue
		}
		if time.Since(time.Unix(0, c.pump.lastAccess.Load())) > timeout {
			idle = append(idle, c)
		}
	}
	m.mu.Unlock()
	for _, c := range idle {
		m.logger.Info().Str("zone", c.ZoneName).Str("session_id", c.SessionID).
			Msg("Destroying idle console session")
		c.pump.terminate()
	}
}

// Shutdown kills every live console PTY and waits for teardown.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	consoles := make([]*Console, 0, len(m.consoles))
	for _, c := range m.consoles {
		consoles = append(consoles, c)
	}
	m.mu.Unlock()
	for _, c := range consoles {
		c.pump.terminate()
		<-c.pump.done
	}
}

// reap persists the final buffer and closes the session row. Safe to call
// more than once.
func (m *Manager) reap(c *Console) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = m.store.SaveConsoleBuffer(ctx, c.SessionID, c.pump.bufferSnapshot())
	_ = m.store.CloseConsoleSession(ctx, c.SessionID)
	m.mu.Lock()
	if m.consoles[c.ZoneName] == c {
		delete(m.consoles, c.ZoneName)
	}
	m.mu.Unlock()
	m.logger.Info().Str("zone", c.ZoneName).Str("session_id", c.SessionID).
		Msg("Console session closed")
}

// supervise flushes the session buffer periodically and reaps the console
// when its PTY exits.
func (c *Console) supervise() {
	ticker := time.NewTicker(persistInterval)
	defer ticker.Stop()
	var lastSaved int64
	for {
		select {
		case <-ticker.C:
			out := c.pump.lastOutput.Load()
			if out == lastSaved {
				continue
			}
			lastSaved = out
			c.persist(out)
		case <-c.pump.done:
			c.mgr.reap(c)
			return
		}
	}
}

func (c *Console) persist(lastOutput int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = c.mgr.store.SaveConsoleBuffer(ctx, c.SessionID, c.pump.bufferSnapshot())
	_ = c.mgr.store.TouchConsoleSession(ctx, c.SessionID,
		time.Unix(0, c.pump.lastAccess.Load()), time.Unix(0, lastOutput))
}

// Subscription is one reader's attachment to a session.
type Subscription struct {
	ID     int
	Ch     <-chan []byte
	Replay []byte

	p *pump
}

// Close detaches the reader.
func (s *Subscription) Close() {
	s.p.unsubscribe(s.ID)
}

// Subscribe attaches a reader to the console.
func (c *Console) Subscribe() (*Subscription, error) {
	id, ch, replay, err := c.pump.subscribe()
	if err != nil {
		return nil, err
	}
	return &Subscription{ID: id, Ch: ch, Replay: replay, p: c.pump}, nil
}

// Write sends interactive input to the console. Input is discarded while an
// automation holds the session.
func (c *Console) Write(b []byte) error {
	c.amu.Lock()
	held := c.automation
	c.amu.Unlock()
	if held {
		return ErrAutomationActive
	}
	return c.pump.Write(b)
}

// Alive reports whether the console PTY still runs.
func (c *Console) Alive() bool {
	return c.pump.alive()
}

// IsAutomationActive reports whether a recipe holds this console.
func (c *Console) IsAutomationActive() bool {
	c.amu.Lock()
	defer c.amu.Unlock()
	return c.automation
}

// AcquireAutomation takes exclusive write control for recipe execution.
// Attached subscribers keep receiving output and see a start marker.
func (c *Console) AcquireAutomation() (*Automation, error) {
	c.amu.Lock()
	defer c.amu.Unlock()
	if c.automation {
		return nil, ErrAutomationActive
	}
	sub, err := c.Subscribe()
	if err != nil {
		return nil, err
	}
	c.automation = true
	c.pump.broadcast(markerAutomationStart)
	return &Automation{console: c, sub: sub}, nil
}

// Automation drives a console exclusively, running the expect/send steps of
// a recipe.
type Automation struct {
	console *Console
	sub     *Subscription
	window  []byte
	once    sync.Once
}

// Send writes input followed by a carriage return.
func (a *Automation) Send(input string) error {
	return a.console.pump.Write([]byte(input + "\r"))
}

// SendRaw writes input without a line ending.
func (a *Automation) SendRaw(input string) error {
	return a.console.pump.Write([]byte(input))
}

// Expect blocks until console output contains the pattern, matching across
// chunk boundaries. Output already consumed by an earlier Expect is not
// reconsidered; text following the match stays available for the next call.
func (a *Automation) Expect(ctx context.Context, pattern string, timeout time.Duration) error {
	if pattern == "" {
		return nil
	}
	pat := []byte(pattern)
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if i := bytes.Index(a.window, pat); i >= 0 {
			a.window = append([]byte(nil), a.window[i+len(pat):]...)
			return nil
		}
		select {
		case chunk, ok := <-a.sub.Ch:
			if !ok {
				return ErrSessionClosed
			}
			a.window = append(a.window, chunk...)
			if len(a.window) > expectWindowBytes {
				a.window = a.window[len(a.window)-expectWindowBytes:]
			}
		case <-deadline.C:
			return fmt.Errorf("timed out after %s waiting for %q", timeout, pattern)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Release returns the console to interactive use. Safe to call repeatedly.
func (a *Automation) Release() {
	a.once.Do(func() {
		a.sub.Close()
		a.console.amu.Lock()
		a.console.automation = false
		a.console.amu.Unlock()
		a.console.pump.broadcast(markerAutomationEnd)
	})
}
