// Package faketransport provides scripted Transport, ChannelFactory and
// Channel implementations for testing the executor without a real shell.
package faketransport

import (
	"context"
	"sync"

	"github.com/acolita/ptyexec/internal/ports"
)

// Transport is a fake ports.Transport that hands out Factories.
type Transport struct {
	mu      sync.Mutex
	openErr error
	targets []ports.Target
	factory *Factory
}

// New creates a fake transport whose Open returns factory. A nil factory
// gets a fresh one on every Open.
func New(factory *Factory) *Transport {
	return &Transport{factory: factory}
}

// SetOpenError sets an error to return from Open.
func (t *Transport) SetOpenError(err error) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.openErr = err
	return t
}

// Open records target and returns the configured factory.
func (t *Transport) Open(ctx context.Context, target ports.Target) (ports.ChannelFactory, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.targets = append(t.targets, target)
	if t.openErr != nil {
		return nil, t.openErr
	}
	if t.factory == nil {
		return NewFactory(nil), nil
	}
	t.factory.reopen()
	return t.factory, nil
}

// Targets returns every target passed to Open.
func (t *Transport) Targets() []ports.Target {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]ports.Target(nil), t.targets...)
}

// PTYRequest records one NewPTY call.
type PTYRequest struct {
	Term       string
	Cols, Rows int
}

// Factory is a fake ports.ChannelFactory. Every NewPTY call builds a
// Channel with the configured constructor.
type Factory struct {
	mu         sync.Mutex
	newChannel func() *Channel
	channels   []*Channel
	requests   []PTYRequest
	files      map[string][]byte
	removed    []string
	active     bool
	closed     bool
	ptyErr     error
	writeErr   error
	removeErr  error
	closeErr   error
}

// NewFactory creates a factory. newChannel may be nil, in which case channels
// have no scripted output.
func NewFactory(newChannel func() *Channel) *Factory {
	if newChannel == nil {
		newChannel = NewChannel
	}
	return &Factory{
		newChannel: newChannel,
		files:      make(map[string][]byte),
		active:     true,
	}
}

// NewShellFactory creates a factory whose channels run a copy of shell.
func NewShellFactory(shell Shell) *Factory {
	return NewFactory(func() *Channel {
		s := shell
		return NewChannel().SetResponder(s.Respond)
	})
}

func (f *Factory) reopen() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = true
	f.closed = false
}

// SetPTYError sets an error to return from NewPTY.
func (f *Factory) SetPTYError(err error) *Factory {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ptyErr = err
	return f
}

// SetWriteError sets an error to return from WriteFile.
func (f *Factory) SetWriteError(err error) *Factory {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr = err
	return f
}

// SetRemoveError sets an error to return from RemoveFile.
func (f *Factory) SetRemoveError(err error) *Factory {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeErr = err
	return f
}

// SetCloseError sets an error to return from Close.
func (f *Factory) SetCloseError(err error) *Factory {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeErr = err
	return f
}

// SetActive overrides what Active reports, simulating a dropped connection.
func (f *Factory) SetActive(active bool) *Factory {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = active
	return f
}

// NewPTY records the request and returns a new scripted channel.
func (f *Factory) NewPTY(term string, cols, rows int) (ports.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, PTYRequest{Term: term, Cols: cols, Rows: rows})
	if f.ptyErr != nil {
		return nil, f.ptyErr
	}
	ch := f.newChannel()
	f.channels = append(f.channels, ch)
	return ch, nil
}

// WriteFile stores data under path.
func (f *Factory) WriteFile(path string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.writeErr != nil {
		return f.writeErr
	}
	f.files[path] = append([]byte(nil), data...)
	return nil
}

// RemoveFile deletes path and records the call.
func (f *Factory) RemoveFile(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.removed = append(f.removed, path)
	if f.removeErr != nil {
		return f.removeErr
	}
	delete(f.files, path)
	return nil
}

// Active reports whether the fake connection is usable.
func (f *Factory) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active && !f.closed
}

// Close marks the factory closed.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	return f.closeErr
}

// --- Test inspection methods ---

// Channels returns every channel created so far.
func (f *Factory) Channels() []*Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Channel(nil), f.channels...)
}

// Requests returns every NewPTY request.
func (f *Factory) Requests() []PTYRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]PTYRequest(nil), f.requests...)
}

// Files returns a copy of the written files.
func (f *Factory) Files() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string]string, len(f.files))
	for k, v := range f.files {
		out[k] = string(v)
	}
	return out
}

// Removed returns every path passed to RemoveFile.
func (f *Factory) Removed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

// IsClosed returns true if Close was called.
func (f *Factory) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

var (
	_ ports.Transport      = (*Transport)(nil)
	_ ports.ChannelFactory = (*Factory)(nil)
)
