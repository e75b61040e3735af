// Package realsshdialer dials SSH servers over TCP.
package realsshdialer

import (
	"context"
	"net"

	"golang.org/x/crypto/ssh"

	"github.com/acolita/ptyexec/internal/ports"
)

// Dialer opens a TCP connection and runs the SSH handshake on it.
type Dialer struct {
	net net.Dialer
}

// New returns a Dialer.
func New() *Dialer {
	return &Dialer{}
}

// Dial connects to addr. ctx bounds the TCP connect and the handshake;
// config.Timeout still applies to the TCP connect.
func (d *Dialer) Dial(ctx context.Context, network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	nd := d.net
	if config.Timeout > 0 {
		nd.Timeout = config.Timeout
	}
	conn, err := nd.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	// Abort the handshake when ctx is done.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if !stop() {
		if err == nil {
			c.Close()
		}
		return nil, ctx.Err()
	}
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

var _ ports.SSHDialer = (*Dialer)(nil)
