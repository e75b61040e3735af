// Package sftp writes and removes the small files a session needs on the
// remote host, over the SSH connection the session already uses.
package sftp

import (
	"errors"
	"fmt"
	"os"
	"path"
	"sync"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("sftp client is closed")

// Client wraps an SFTP client. The subsystem is started lazily on first use
// and reused until Close.
type Client struct {
	open       func() (*sftp.Client, error)
	sftpClient *sftp.Client
	mu         sync.Mutex
	closed     bool
}

// NewClient creates a client that starts the SFTP subsystem on sshConn.
func NewClient(sshConn *ssh.Client) *Client {
	return NewClientFunc(func() (*sftp.Client, error) {
		if sshConn == nil {
			return nil, errors.New("ssh connection is nil")
		}
		return sftp.NewClient(sshConn)
	})
}

// NewClientFunc creates a client that obtains its SFTP session from open.
func NewClientFunc(open func() (*sftp.Client, error)) *Client {
	return &Client{open: open}
}

// session returns the SFTP client, starting it if needed. Callers hold c.mu.
func (c *Client) session() (*sftp.Client, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if c.sftpClient != nil {
		return c.sftpClient, nil
	}

	client, err := c.open()
	if err != nil {
		return nil, fmt.Errorf("create sftp client: %w", err)
	}
	c.sftpClient = client
	return client, nil
}

// WriteFile creates or truncates name with data and sets perm. Missing
// parent directories are created.
func (c *Client) WriteFile(name string, data []byte, perm os.FileMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	client, err := c.session()
	if err != nil {
		return err
	}

	if dir := path.Dir(name); dir != "." && dir != "/" {
		if err := client.MkdirAll(dir); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	f, err := client.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := client.Chmod(name, perm); err != nil {
		return fmt.Errorf("chmod %s: %w", name, err)
	}
	return nil
}

// Remove deletes name.
func (c *Client) Remove(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	client, err := c.session()
	if err != nil {
		return err
	}
	if err := client.Remove(name); err != nil {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	return nil
}

// IsConnected returns true if the subsystem has been started and not closed.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sftpClient != nil && !c.closed
}

// Close stops the subsystem. The SSH connection stays open.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.sftpClient != nil {
		err := c.sftpClient.Close()
		c.sftpClient = nil
		return err
	}
	return nil
}
