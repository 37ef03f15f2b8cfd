package hostcmd

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestRunCapturesOutput tests stdout/stderr capture and exit code zero
func TestRunCapturesOutput(t *testing.T) {
	r := NewRunner()
	res, err := r.Run(context.Background(), 10*time.Second, "sh", "-c", "echo out; echo err 1>&2")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	assert.Equal(t, 0, res.ExitCode)
	assert.False(t, res.TimedOut)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
	assert.Greater(t, res.Duration, time.Duration(0))
}

// TestRunNonZeroExit tests that exit codes are reported, not errored
func TestRunNonZeroExit(t *testing.T) {
	r := NewRunner()
	res, err := r.Run(context.Background(), 10*time.Second, "sh", "-c", "exit 3")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	assert.Equal(t, 3, res.ExitCode)
	assert.False(t, res.TimedOut)
}

// TestRunTimeout tests SIGTERM-then-SIGKILL on expiry
func TestRunTimeout(t *testing.T) {
	r := &ExecRunner{Grace: 100 * time.Millisecond}
	start := time.Now()
	res, err := r.Run(context.Background(), 100*time.Millisecond, "sleep", "10")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	assert.True(t, res.TimedOut)
	assert.NotEqual(t, 0, res.ExitCode)
	assert.Less(t, time.Since(start), 5*time.Second, "kill escalation should not wait for sleep")
}

// TestRunContextCancel tests that cancellation surfaces ctx.Err
func TestRunContextCancel(t *testing.T) {
	r := &ExecRunner{Grace: 100 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := r.Run(ctx, 0, "sleep", "10")
	assert.ErrorIs(t, err, context.Canceled)
}

// TestRunMissingBinary tests the start failure path
func TestRunMissingBinary(t *testing.T) {
	r := NewRunner()
	_, err := r.Run(context.Background(), time.Second, "/no/such/binary")
	assert.Error(t, err)

	_, err = r.Run(context.Background(), time.Second, "")
	assert.Error(t, err)
}

// TestRunOutputCap tests that the circular buffer keeps the tail
func TestRunOutputCap(t *testing.T) {
	r := &ExecRunner{MaxOutputBytes: 1024}
	script := "i=0; while [ $i -lt 4096 ]; do printf x; i=$((i+1)); done; printf END"
	res, err := r.Run(context.Background(), 10*time.Second, "sh", "-c", script)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	assert.LessOrEqual(t, len(res.Stdout), 1024)
	assert.True(t, strings.HasSuffix(res.Stdout, "END"), "newest output must survive capping")
}

// TestOutputHelper tests the stdout convenience wrapper
func TestOutputHelper(t *testing.T) {
	r := NewRunner()

	out, err := Output(context.Background(), r, 10*time.Second, "sh", "-c", "echo hello")
	assert.NoError(t, err)
	assert.Equal(t, "hello\n", out)

	_, err = Output(context.Background(), r, 10*time.Second, "sh", "-c", "echo broken 1>&2; exit 2")
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "exited 2")
		assert.Contains(t, err.Error(), "broken")
	}

	fast := &ExecRunner{Grace: 100 * time.Millisecond}
	_, err = Output(context.Background(), fast, 100*time.Millisecond, "sleep", "10")
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "timed out")
	}
}
