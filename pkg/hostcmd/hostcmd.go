// Package hostcmd executes host utilities with bounded output capture and
// reliable teardown. Everything the agent learns about the host flows
// through here: zoneadm, zonecfg, dladm, kstat, zfs, zpool and friends.
package hostcmd

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/armon/circbuf"
)

const (
	// DefaultMaxOutputBytes caps each of stdout and stderr per invocation.
	// Older output is discarded first, so a runaway utility cannot grow
	// the agent's heap.
	DefaultMaxOutputBytes = 64 * 1024

	defaultGrace = 5 * time.Second
)

// Result is the outcome of one utility invocation. A non-zero ExitCode is
// not an error at this layer; callers decide what exit codes mean.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// Runner executes host utilities. The production implementation shells out;
// tests substitute fakes that replay canned output.
type Runner interface {
	Run(ctx context.Context, timeout time.Duration, name string, args ...string) (*Result, error)
}

// ExecRunner runs commands directly, argv-style, never through a shell.
// Each command gets its own process group so a timeout can take down the
// whole tree (zlogin spawns children).
type ExecRunner struct {
	// MaxOutputBytes caps captured output per stream. Zero means
	// DefaultMaxOutputBytes.
	MaxOutputBytes int64
	// Grace is how long a signalled command gets between SIGTERM and
	// SIGKILL. Zero means 5 seconds.
	Grace time.Duration
}

// NewRunner returns an ExecRunner with default limits.
func NewRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes name with args. A timeout of zero means no timeout. On
// timeout the command is terminated and the partial result is returned
// with TimedOut set; the returned error stays nil. Context cancellation
// also terminates the command but surfaces ctx.Err().
func (r *ExecRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (*Result, error) {
	if name == "" {
		return nil, fmt.Errorf("no command specified")
	}
	max := r.MaxOutputBytes
	if max <= 0 {
		max = DefaultMaxOutputBytes
	}
	stdout, _ := circbuf.NewBuffer(max)
	stderr, _ := circbuf.NewBuffer(max)

	cmd := exec.Command(name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- cmd.Wait() }()

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	res := &Result{}
	select {
	case err := <-errCh:
		res.ExitCode = exitCode(err)
	case <-expired:
		res.TimedOut = true
		res.ExitCode = exitCode(r.terminate(cmd, errCh))
	case <-ctx.Done():
		_ = r.terminate(cmd, errCh)
		res.Duration = time.Since(start)
		res.Stdout = string(stdout.Bytes())
		res.Stderr = string(stderr.Bytes())
		return res, ctx.Err()
	}

	res.Duration = time.Since(start)
	res.Stdout = string(stdout.Bytes())
	res.Stderr = string(stderr.Bytes())
	return res, nil
}

// terminate signals the command's process group with SIGTERM, escalating
// to SIGKILL after the grace period, and returns the Wait error.
func (r *ExecRunner) terminate(cmd *exec.Cmd, errCh <-chan error) error {
	if cmd.Process == nil {
		return nil
	}
	grace := r.Grace
	if grace <= 0 {
		grace = defaultGrace
	}
	pgid := cmd.Process.Pid
	_ = syscall.Kill(-pgid, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-time.After(grace):
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		return <-errCh
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
	}
	return 1
}

// PIDAlive reports whether a process with the given pid exists. Session
// records persist pids across agent restarts; this is how stale rows are
// told apart from live ones.
func PIDAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// Output runs a utility and returns its stdout. Timeouts and non-zero
// exits become errors with stderr folded into the message. Collectors use
// this; task handlers that care about exit codes call Run directly.
func Output(ctx context.Context, r Runner, timeout time.Duration, name string, args ...string) (string, error) {
	res, err := r.Run(ctx, timeout, name, args...)
	if err != nil {
		return "", err
	}
	if res.TimedOut {
		return "", fmt.Errorf("%s timed out after %s", name, timeout)
	}
	if res.ExitCode != 0 {
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = strings.TrimSpace(res.Stdout)
		}
		return "", fmt.Errorf("%s exited %d: %s", name, res.ExitCode, msg)
	}
	return res.Stdout, nil
}
