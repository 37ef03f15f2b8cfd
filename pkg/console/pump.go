package console

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/armon/circbuf"
	"github.com/creack/pty"
)

// ErrSessionClosed is returned for operations on a session whose PTY has
// exited.
var ErrSessionClosed = errors.New("session closed")

// Markers injected into subscriber streams. They land in the replay and
// persisted buffers too, so a reconnecting client sees them in context.
var (
	markerDropped         = []byte("\r\n[output dropped]\r\n")
	markerAutomationStart = []byte("\r\n[automation active]\r\n")
	markerAutomationEnd   = []byte("\r\n[automation ended]\r\n")
)

// subscriber is one attached reader with a bounded delivery queue. push is
// only ever called with the pump mutex held, so the fields need no locking
// of their own.
type subscriber struct {
	id      int
	ch      chan []byte
	dropped bool
}

func (s *subscriber) tryEnqueue(b []byte) bool {
	select {
	case s.ch <- b:
		return true
	default:
		return false
	}
}

func (s *subscriber) discard() {
	select {
	case <-s.ch:
	default:
	}
}

// push delivers a chunk without ever blocking. When the queue is full the
// oldest entries are discarded and a gap marker is delivered ahead of the
// chunk, so the reader can tell output went missing.
func (s *subscriber) push(chunk []byte) {
	if !s.dropped && s.tryEnqueue(chunk) {
		return
	}
	s.discard()
	s.discard()
	if !s.tryEnqueue(markerDropped) {
		s.dropped = true
		return
	}
	s.dropped = false
	if !s.tryEnqueue(chunk) {
		s.dropped = true
	}
}

// pump owns one PTY. A single read loop fans output out to subscribers and
// feeds the two output tails; a single write loop applies queued input in
// arrival order. The mutex orders broadcasts against subscription changes
// and shutdown, which keeps replay snapshots exact: chunks delivered on a
// subscription channel strictly follow the replay bytes it was handed.
type pump struct {
	ptmx       *os.File
	cmd        *exec.Cmd
	queueDepth int

	mu      sync.Mutex
	subs    map[int]*subscriber
	nextSub int
	replay  *circbuf.Buffer
	lines   *lineRing
	closed  bool

	writeCh chan []byte
	done    chan struct{}

	lastOutput atomic.Int64 // UnixNano of the newest PTY output
	lastAccess atomic.Int64 // UnixNano of the newest subscriber interaction
}

// newPump starts cmd on a fresh PTY. seed pre-populates both output tails
// with a buffer persisted by an earlier process, so reconnecting clients
// keep their context across agent restarts.
func newPump(cmd *exec.Cmd, queueDepth, replayBytes, bufferLines int, seed string) (*pump, error) {
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, err
	}
	replay, err := circbuf.NewBuffer(int64(replayBytes))
	if err != nil {
		_ = ptmx.Close()
		return nil, err
	}
	p := &pump{
		ptmx:       ptmx,
		cmd:        cmd,
		queueDepth: queueDepth,
		subs:       make(map[int]*subscriber),
		replay:     replay,
		lines:      newLineRing(bufferLines),
		writeCh:    make(chan []byte, 64),
		done:       make(chan struct{}),
	}
	if seed != "" {
		_, _ = p.replay.Write([]byte(seed))
		p.lines.Seed(seed)
	}
	now := time.Now().UnixNano()
	p.lastOutput.Store(now)
	p.lastAccess.Store(now)
	go p.readLoop()
	go p.writeLoop()
	return p, nil
}

func (p *pump) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := p.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			p.broadcast(chunk)
		}
		if err != nil {
			p.shutdown()
			return
		}
	}
}

func (p *pump) writeLoop() {
	for {
		select {
		case b := <-p.writeCh:
			if _, err := p.ptmx.Write(b); err != nil {
				return
			}
		case <-p.done:
			return
		}
	}
}

// broadcast records a chunk in both tails and fans it out.
func (p *pump) broadcast(chunk []byte) {
	p.lastOutput.Store(time.Now().UnixNano())
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	_, _ = p.replay.Write(chunk)
	p.lines.Write(chunk)
	for _, s := range p.subs {
		s.push(chunk)
	}
}

// shutdown runs exactly once, from the read loop, after the PTY errors out.
func (p *pump) shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	subs := p.subs
	p.subs = map[int]*subscriber{}
	p.mu.Unlock()

	for _, s := range subs {
		close(s.ch)
	}
	_ = p.ptmx.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	_ = p.cmd.Wait()
	close(p.done)
}

// terminate asks the PTY child to die; the read loop then observes EOF and
// runs the shutdown path. Callers that need the teardown to finish wait on
// the done channel.
func (p *pump) terminate() {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}

// Write queues input for the PTY, preserving arrival order.
func (p *pump) Write(b []byte) error {
	select {
	case <-p.done:
		return ErrSessionClosed
	default:
	}
	p.lastAccess.Store(time.Now().UnixNano())
	dup := make([]byte, len(b))
	copy(dup, b)
	select {
	case p.writeCh <- dup:
		return nil
	case <-p.done:
		return ErrSessionClosed
	}
}

// subscribe attaches a reader and returns its id, delivery channel and a
// snapshot of the replay tail as of attachment.
func (p *pump) subscribe() (int, chan []byte, []byte, error) {
	p.lastAccess.Store(time.Now().UnixNano())
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, nil, nil, ErrSessionClosed
	}
	p.nextSub++
	s := &subscriber{id: p.nextSub, ch: make(chan []byte, p.queueDepth)}
	p.subs[s.id] = s
	replay := make([]byte, len(p.replay.Bytes()))
	copy(replay, p.replay.Bytes())
	return s.id, s.ch, replay, nil
}

// unsubscribe detaches a reader. Its channel is left open for the consumer
// to abandon; only shutdown closes channels.
func (p *pump) unsubscribe(id int) {
	p.lastAccess.Store(time.Now().UnixNano())
	p.mu.Lock()
	delete(p.subs, id)
	p.mu.Unlock()
}

func (p *pump) subscriberCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// bufferSnapshot renders the persisted line tail.
func (p *pump) bufferSnapshot() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lines.String()
}

func (p *pump) alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// resize adjusts the PTY window.
func (p *pump) resize(rows, cols uint16) error {
	return pty.Setsize(p.ptmx, &pty.Winsize{Rows: rows, Cols: cols})
}

func (p *pump) pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}
