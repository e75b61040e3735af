// Package fakesshdialer provides a fake ports.SSHDialer for testing.
package fakesshdialer

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/crypto/ssh"

	"github.com/acolita/ptyexec/internal/ports"
)

// DialFunc is the behaviour of Dial.
type DialFunc func(ctx context.Context, network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)

// Dialer is a fake SSH dialer that can be configured to return errors or
// delegate to another dialer.
type Dialer struct {
	mu    sync.Mutex
	dial  DialFunc
	calls []DialCall
}

// DialCall records a call to Dial.
type DialCall struct {
	Network string
	Addr    string
	User    string
}

// New creates a new fake Dialer that returns an error by default.
func New() *Dialer {
	return &Dialer{
		dial: func(context.Context, string, string, *ssh.ClientConfig) (*ssh.Client, error) {
			return nil, fmt.Errorf("fakesshdialer: not configured")
		},
	}
}

// Wrap returns a Dialer recording calls and passing them on to next.
func Wrap(next ports.SSHDialer) *Dialer {
	d := New()
	d.dial = next.Dial
	return d
}

// Dial records the call and delegates to the configured behaviour.
func (d *Dialer) Dial(ctx context.Context, network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	d.mu.Lock()
	d.calls = append(d.calls, DialCall{Network: network, Addr: addr, User: config.User})
	dial := d.dial
	d.mu.Unlock()
	return dial(ctx, network, addr, config)
}

// Calls returns all recorded Dial calls.
func (d *Dialer) Calls() []DialCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DialCall(nil), d.calls...)
}

// SetDialFunc sets the function called by Dial.
func (d *Dialer) SetDialFunc(fn DialFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dial = fn
}

// SetError configures the dialer to always return the given error.
func (d *Dialer) SetError(err error) {
	d.SetDialFunc(func(context.Context, string, string, *ssh.ClientConfig) (*ssh.Client, error) {
		return nil, err
	})
}

var _ ports.SSHDialer = (*Dialer)(nil)
