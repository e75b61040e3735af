// Package ssh connects to remote hosts and opens interactive shells on them.
package ssh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/acolita/ptyexec/internal/adapters/realclock"
	"github.com/acolita/ptyexec/internal/adapters/realsshdialer"
	"github.com/acolita/ptyexec/internal/ports"
	"github.com/acolita/ptyexec/internal/sftp"
)

// ErrNotConnected is returned when the client has no open connection.
var ErrNotConnected = errors.New("ssh: not connected")

// Client manages one SSH connection.
type Client struct {
	conn   *ssh.Client
	config *ssh.ClientConfig
	host   string
	port   int
	mu     sync.Mutex

	keepaliveInterval time.Duration
	keepaliveStop     chan struct{}
	alive             bool

	// sftpClient is started on first use.
	sftpClient *sftp.Client

	clock  ports.Clock
	dialer ports.SSHDialer
	logger *slog.Logger
}

// ClientOptions configures SSH client behavior.
type ClientOptions struct {
	Host              string
	Port              int
	User              string
	AuthMethods       []ssh.AuthMethod
	HostKeyCallback   ssh.HostKeyCallback
	Timeout           time.Duration
	KeepaliveInterval time.Duration
	Clock             ports.Clock
	Dialer            ports.SSHDialer
	Logger            *slog.Logger
}

// NewClient creates a new SSH client with the given options.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if opts.User == "" {
		return nil, fmt.Errorf("user is required")
	}
	if len(opts.AuthMethods) == 0 {
		return nil, fmt.Errorf("at least one auth method is required")
	}
	if opts.HostKeyCallback == nil {
		return nil, fmt.Errorf("host key callback is required")
	}
	if opts.Port == 0 {
		opts.Port = 22
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.KeepaliveInterval == 0 {
		opts.KeepaliveInterval = 30 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = realclock.New()
	}
	if opts.Dialer == nil {
		opts.Dialer = realsshdialer.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Client{
		config: &ssh.ClientConfig{
			User:            opts.User,
			Auth:            opts.AuthMethods,
			HostKeyCallback: opts.HostKeyCallback,
			Timeout:         opts.Timeout,
		},
		host:              opts.Host,
		port:              opts.Port,
		keepaliveInterval: opts.KeepaliveInterval,
		clock:             opts.Clock,
		dialer:            opts.Dialer,
		logger:            opts.Logger,
	}, nil
}

// Connect establishes the SSH connection. Connecting twice is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	addr := c.Addr()
	conn, err := c.dialer.Dial(ctx, "tcp", addr, c.config)
	if err != nil {
		return fmt.Errorf("ssh dial %s: %w", addr, err)
	}

	c.conn = conn
	c.alive = true
	c.keepaliveStop = make(chan struct{})

	// The goroutine gets its own copy of the stop channel.
	go c.keepalive(c.keepaliveStop)
	go c.watch(conn)
	return nil
}

// keepalive pings the server so idle sessions are not dropped, and marks
// the connection dead when a ping fails.
func (c *Client) keepalive(stop <-chan struct{}) {
	ticker := c.clock.NewTicker(c.keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				return
			}
			if _, _, err := conn.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				c.logger.Debug("keepalive failed", slog.String("addr", c.Addr()), slog.Any("error", err))
				c.markDead(conn)
				return
			}
		}
	}
}

// watch marks the connection dead once the server goes away.
func (c *Client) watch(conn *ssh.Client) {
	err := conn.Wait()
	c.logger.Debug("connection ended", slog.String("addr", c.Addr()), slog.Any("error", err))
	c.markDead(conn)
}

func (c *Client) markDead(conn *ssh.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.alive = false
	}
}

// NewSession opens a session channel on the connection.
func (c *Client) NewSession() (*ssh.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, ErrNotConnected
	}

	session, err := c.conn.NewSession()
	if err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}
	return session, nil
}

// SFTPClient returns the file client sharing this connection.
func (c *Client) SFTPClient() (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, ErrNotConnected
	}
	if c.sftpClient == nil {
		c.sftpClient = sftp.NewClient(c.conn)
	}
	return c.sftpClient, nil
}

// Close closes the file client and the SSH connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.keepaliveStop != nil {
		close(c.keepaliveStop)
		c.keepaliveStop = nil
	}

	if c.sftpClient != nil {
		c.sftpClient.Close()
		c.sftpClient = nil
	}

	c.alive = false
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// IsConnected returns true while the connection is open and answering.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && c.alive
}

// Addr returns host:port.
func (c *Client) Addr() string {
	return net.JoinHostPort(c.host, strconv.Itoa(c.port))
}

// RemoteAddr returns the remote address if connected.
func (c *Client) RemoteAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn.RemoteAddr()
	}
	return nil
}
