package ssh

import (
	"context"
	"log/slog"
	"time"

	"github.com/acolita/ptyexec/internal/ports"
)

// profileMode keeps the session profile private to the remote user.
const profileMode = 0o600

// TransportOptions configures how targets are reached. The password comes
// from each Target; everything else is shared.
type TransportOptions struct {
	Auth                  AuthConfig
	KnownHostsPath        string
	InsecureIgnoreHostKey bool
	Timeout               time.Duration
	KeepaliveInterval     time.Duration
	Clock                 ports.Clock
	Dialer                ports.SSHDialer
	Logger                *slog.Logger
}

// Transport opens SSH connections.
type Transport struct {
	opts TransportOptions
}

// NewTransport creates a Transport.
func NewTransport(opts TransportOptions) *Transport {
	return &Transport{opts: opts}
}

// Open authenticates against target and returns the connection.
func (t *Transport) Open(ctx context.Context, target ports.Target) (ports.ChannelFactory, error) {
	auth := t.opts.Auth
	auth.Password = target.Credential
	auth.Host = target.Host

	methods, err := BuildAuthMethods(auth)
	if err != nil {
		return nil, err
	}
	hostKey, err := BuildHostKeyCallback(t.opts.KnownHostsPath, t.opts.InsecureIgnoreHostKey)
	if err != nil {
		return nil, err
	}

	client, err := NewClient(ClientOptions{
		Host:              target.Host,
		Port:              target.Port,
		User:              target.User,
		AuthMethods:       methods,
		HostKeyCallback:   hostKey,
		Timeout:           t.opts.Timeout,
		KeepaliveInterval: t.opts.KeepaliveInterval,
		Clock:             t.opts.Clock,
		Dialer:            t.opts.Dialer,
		Logger:            t.opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return &Connection{client: client}, nil
}

// Connection is an open SSH connection handing out shells and file access.
type Connection struct {
	client *Client
}

// NewConnection wraps an already configured client.
func NewConnection(client *Client) *Connection {
	return &Connection{client: client}
}

// NewPTY starts a shell on a new terminal.
func (c *Connection) NewPTY(term string, cols, rows int) (ports.Channel, error) {
	return NewPTY(c.client, term, cols, rows)
}

// WriteFile writes data to path over SFTP, readable by the owner only.
func (c *Connection) WriteFile(path string, data []byte) error {
	fs, err := c.client.SFTPClient()
	if err != nil {
		return err
	}
	return fs.WriteFile(path, data, profileMode)
}

// RemoveFile deletes path over SFTP.
func (c *Connection) RemoveFile(path string) error {
	fs, err := c.client.SFTPClient()
	if err != nil {
		return err
	}
	return fs.Remove(path)
}

// Active reports whether the connection is still up.
func (c *Connection) Active() bool {
	return c.client.IsConnected()
}

// Close closes the connection.
func (c *Connection) Close() error {
	return c.client.Close()
}

var (
	_ ports.Transport      = (*Transport)(nil)
	_ ports.ChannelFactory = (*Connection)(nil)
)
