package ports

import "context"

// Target identifies the remote account a Transport connects to.
type Target struct {
	Host       string
	Port       int
	User       string
	Credential string // password; key based auth is configured on the transport
}

// Transport establishes the secure channel to a target.
type Transport interface {
	// Open authenticates against target and returns a factory for PTY
	// channels and remote file operations over the same connection.
	Open(ctx context.Context, target Target) (ChannelFactory, error)
}

// ChannelFactory is one established connection.
type ChannelFactory interface {
	// NewPTY allocates an interactive shell attached to a pseudo-terminal.
	NewPTY(term string, cols, rows int) (Channel, error)

	// WriteFile creates or truncates path on the remote side.
	WriteFile(path string, data []byte) error

	// RemoveFile deletes path on the remote side.
	RemoveFile(path string) error

	// Active reports whether the underlying connection is still usable.
	Active() bool

	// Close tears the connection down.
	Close() error
}

// Channel is a single pseudo-terminal. Send and Recv never block waiting for
// the remote side; RecvReady reports whether Recv would return data.
type Channel interface {
	Send(data string) error
	RecvReady() bool
	Recv(max int) ([]byte, error)
	Close() error
}
