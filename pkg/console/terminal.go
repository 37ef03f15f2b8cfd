package console

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
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

// defaultShell is the command a host terminal runs when the request does
// not name one.
const defaultShell = "bash -l"

// TerminalManager owns host shell PTYs. Unlike zone consoles, several may
// run at once; they are keyed by session id.
type TerminalManager struct {
	cfg    config.ConsoleConfig
	store  storage.Store
	logger zerolog.Logger

	// newCommand builds the PTY child from an argv. Tests substitute a
	// harmless command.
	newCommand func(argv []string) *exec.Cmd

	mu        sync.Mutex
	terminals map[string]*Terminal
}

// NewTerminalManager returns a host terminal manager backed by the store.
func NewTerminalManager(cfg config.ConsoleConfig, store storage.Store) *TerminalManager {
	return &TerminalManager{
		cfg:    cfg,
		store:  store,
		logger: log.WithComponent("terminal"),
		newCommand: func(argv []string) *exec.Cmd {
			cmd := exec.Command(argv[0], argv[1:]...)
			cmd.Env = append(os.Environ(), "TERM=xterm-256color")
			return cmd
		},
		terminals: make(map[string]*Terminal),
	}
}

// Terminal is one live host shell.
type Terminal struct {
	ID      string
	Command string

	mgr  *TerminalManager
	pump *pump
}

// Start spawns a host shell on a fresh PTY. The command is split on
// whitespace; shell quoting is not interpreted.
func (m *TerminalManager) Start(ctx context.Context, command string) (*Terminal, error) {
	if command == "" {
		command = defaultShell
	}
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return nil, fmt.Errorf("%w: terminal command is empty", storage.ErrValidation)
	}

	ts := &types.TerminalSession{ID: uuid.NewString(), Command: command}
	if err := m.store.CreateTerminalSession(ctx, ts); err != nil {
		return nil, err
	}

	pmp, err := newPump(m.newCommand(argv), m.cfg.SubscriberQueueDepth,
		m.cfg.ReplayBufferBytes, m.cfg.SessionBufferLines, "")
	if err != nil {
		_ = m.store.CloseTerminalSession(ctx, ts.ID)
		return nil, fmt.Errorf("failed to start terminal: %w", err)
	}
	if err := m.store.UpdateTerminalSession(ctx, ts.ID, types.SessionActive, pmp.pid()); err != nil {
		pmp.terminate()
		return nil, err
	}

	t := &Terminal{ID: ts.ID, Command: command, mgr: m, pump: pmp}
	m.mu.Lock()
	m.terminals[t.ID] = t
	m.mu.Unlock()
	go t.supervise()
	m.logger.Info().Str("session_id", t.ID).Str("command", command).
		Int("pid", pmp.pid()).Msg("Terminal session started")
	return t, nil
}

// Get returns a live terminal by id.
func (m *TerminalManager) Get(id string) (*Terminal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.terminals[id]
	if !ok || !t.pump.alive() {
		return nil, false
	}
	return t, true
}

// Stop tears a terminal down and closes its record. Records without a live
// PTY in this process are reclaimed by pid.
func (m *TerminalManager) Stop(ctx context.Context, id string) error {
	m.mu.Lock()
	t, ok := m.terminals[id]
	m.mu.Unlock()
	if !ok {
		prev, err := m.store.GetTerminalSession(ctx, id)
		if err != nil {
			return err
		}
		if prev.Status != types.SessionClosed && hostcmd.PIDAlive(prev.PID) {
			_ = syscall.Kill(prev.PID, syscall.SIGKILL)
		}
		return m.store.CloseTerminalSession(ctx, id)
	}
	t.pump.terminate()
	select {
	case <-t.pump.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	m.reap(t)
	return nil
}

// Run drives the idle sweep until the context ends, then tears down every
// live terminal.
func (m *TerminalManager) Run(ctx context.Context) error {
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

func (m *TerminalManager) sweepIdle() {
	timeout := time.Duration(m.cfg.IdleTimeoutMinutes) * time.Minute
	if timeout <= 0 {
		return
	}
	m.mu.Lock()
	var idle []*Terminal
	for _, t := range m.terminals {
		if t.pump.subscriberCount() > 0 {
			continue
		}
		if time.Since(time.Unix(0, t.pump.lastAccess.Load())) > timeout {
			idle = append(idle, t)
		}
	}
	m.mu.Unlock()
	for _, t := range idle {
		m.logger.Info().Str("session_id", t.ID).Msg("Destroying idle terminal session")
		t.pump.terminate()
	}
}

// Shutdown kills every live terminal PTY and waits for teardown.
func (m *TerminalManager) Shutdown() {
	m.mu.Lock()
	terminals := make([]*Terminal, 0, len(m.terminals))
	for _, t := range m.terminals {
		terminals = append(terminals, t)
	}
	m.mu.Unlock()
	for _, t := range terminals {
		t.pump.terminate()
		<-t.pump.done
	}
}

func (m *TerminalManager) reap(t *Terminal) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = m.store.SaveTerminalBuffer(ctx, t.ID, t.pump.bufferSnapshot())
	_ = m.store.CloseTerminalSession(ctx, t.ID)
	m.mu.Lock()
	if m.terminals[t.ID] == t {
		delete(m.terminals, t.ID)
	}
	m.mu.Unlock()
	m.logger.Info().Str("session_id", t.ID).Msg("Terminal session closed")
}

func (t *Terminal) supervise() {
	ticker := time.NewTicker(persistInterval)
	defer ticker.Stop()
	var lastSaved int64
	for {
		select {
		case <-ticker.C:
			out := t.pump.lastOutput.Load()
			if out == lastSaved {
				continue
			}
			lastSaved = out
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = t.mgr.store.SaveTerminalBuffer(ctx, t.ID, t.pump.bufferSnapshot())
			_ = t.mgr.store.TouchTerminalSession(ctx, t.ID, time.Unix(0, t.pump.lastAccess.Load()))
			cancel()
		case <-t.pump.done:
			t.mgr.reap(t)
			return
		}
	}
}

// Subscribe attaches a reader to the terminal.
func (t *Terminal) Subscribe() (*Subscription, error) {
	id, ch, replay, err := t.pump.subscribe()
	if err != nil {
		return nil, err
	}
	return &Subscription{ID: id, Ch: ch, Replay: replay, p: t.pump}, nil
}

// Write sends input to the shell.
func (t *Terminal) Write(b []byte) error {
	return t.pump.Write(b)
}

// Resize adjusts the PTY window to match the client.
func (t *Terminal) Resize(rows, cols uint16) error {
	return t.pump.resize(rows, cols)
}

// Alive reports whether the terminal PTY still runs.
func (t *Terminal) Alive() bool {
	return t.pump.alive()
}
