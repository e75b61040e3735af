package faketransport

import (
	"bytes"
	"io"
	"sync"

	"github.com/acolita/ptyexec/internal/ports"
)

// Responder turns the data sent to a channel into terminal output.
type Responder func(sent string) string

// Channel is a fake ports.Channel. Output is queued with AddOutput or
// produced by a Responder on every Send.
type Channel struct {
	mu        sync.Mutex
	pending   bytes.Buffer
	sent      []string
	responder Responder
	chunk     int
	closed    bool
	sendErr   error
	recvErr   error
}

// NewChannel creates a channel with nothing queued.
func NewChannel() *Channel {
	return &Channel{}
}

// SetResponder makes every Send queue r's output.
func (c *Channel) SetResponder(r Responder) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responder = r
	return c
}

// SetChunkSize caps every Recv at n bytes, regardless of the caller's max.
func (c *Channel) SetChunkSize(n int) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunk = n
	return c
}

// SetSendError sets an error to return from Send.
func (c *Channel) SetSendError(err error) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
	return c
}

// SetRecvError sets an error to return from Recv.
func (c *Channel) SetRecvError(err error) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recvErr = err
	return c
}

// AddOutput queues terminal output.
func (c *Channel) AddOutput(s string) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending.WriteString(s)
	return c
}

// Send records data and queues the responder's output.
func (c *Channel) Send(data string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return io.ErrClosedPipe
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, data)
	if c.responder != nil {
		c.pending.WriteString(c.responder(data))
	}
	return nil
}

// RecvReady reports whether output is queued.
func (c *Channel) RecvReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recvErr != nil || c.pending.Len() > 0
}

// Recv returns up to max queued bytes.
func (c *Channel) Recv(max int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.recvErr != nil {
		return nil, c.recvErr
	}
	if c.pending.Len() == 0 && c.closed {
		return nil, io.EOF
	}
	if c.chunk > 0 && c.chunk < max {
		max = c.chunk
	}
	return append([]byte(nil), c.pending.Next(max)...), nil
}

// Close marks the channel closed.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// --- Test inspection methods ---

// Sent returns every Send payload in order.
func (c *Channel) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

// IsClosed returns true if Close was called.
func (c *Channel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

var _ ports.Channel = (*Channel)(nil)
