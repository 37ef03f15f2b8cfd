package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	scp "github.com/bramvdbogaerde/go-scp"
	"golang.org/x/crypto/ssh"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
)

// Target identifies an SSH endpoint inside a zone.
type Target struct {
	IP          string
	Port        int
	Credentials types.Credentials
}

// Addr renders the dial address, defaulting the port to 22.
func (t Target) Addr() string {
	port := t.Port
	if port <= 0 {
		port = 22
	}
	return net.JoinHostPort(t.IP, strconv.Itoa(port))
}

// clientConfig assembles the ssh configuration for a target. Private key
// auth is preferred when both credentials are present.
func clientConfig(t Target, timeout time.Duration) (*ssh.ClientConfig, error) {
	if t.IP == "" {
		return nil, errors.New("ssh target has no address")
	}
	if t.Credentials.Username == "" {
		return nil, errors.New("ssh target has no username")
	}
	var methods []ssh.AuthMethod
	if t.Credentials.PrivateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(t.Credentials.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if t.Credentials.Password != "" {
		methods = append(methods, ssh.Password(t.Credentials.Password))
	}
	if len(methods) == 0 {
		return nil, errors.New("ssh target has no password or private key")
	}
	return &ssh.ClientConfig{
		User:            t.Credentials.Username,
		Auth:            methods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}, nil
}

// Dial opens an authenticated SSH connection to a zone. The context bounds
// the TCP dial together with the handshake.
func Dial(ctx context.Context, target Target, timeout time.Duration) (*Client, error) {
	cfg, err := clientConfig(target, timeout)
	if err != nil {
		return nil, err
	}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", target.Addr())
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", target.Addr(), err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, target.Addr(), cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", target.Addr(), err)
	}
	sshClient := ssh.NewClient(sshConn, chans, reqs)
	copier := scp.NewConfigurer("", nil).SSHClient(sshClient).Create()
	return &Client{target: target, ssh: sshClient, scp: &copier}, nil
}

// Probe reports whether the target completes an SSH handshake within the
// timeout. It is the pre-flight check used when planning a provisioning
// chain and the poll body of the SSH wait step.
func Probe(ctx context.Context, target Target, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	client, err := Dial(ctx, target, timeout)
	if err != nil {
		return err
	}
	return client.Close()
}

// Client is an authenticated SSH and SCP connection to one zone.
type Client struct {
	target Target
	ssh    *ssh.Client
	scp    *scp.Client
}

// Close tears the connection down.
func (c *Client) Close() error {
	return c.ssh.Close()
}

// Run executes a command on the zone and returns its stdout. A non-zero
// exit status surfaces as an error carrying the exit code and stderr;
// cancelling the context closes the session mid-flight.
func (c *Client) Run(ctx context.Context, command string) (string, error) {
	session, err := c.ssh.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to open ssh session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		session.Close()
		<-done
		return stdout.String(), ctx.Err()
	case err := <-done:
		if err != nil {
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				return stdout.String(), fmt.Errorf("remote command exited %d: %s",
					exitErr.ExitStatus(), strings.TrimSpace(stderr.String()))
			}
			return stdout.String(), fmt.Errorf("remote command failed: %w", err)
		}
		return stdout.String(), nil
	}
}

// shQuote single-quotes a string for a remote POSIX shell.
func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
