package shell

import "context"

// Caller identifies who is executing a command. Every distinct Caller gets
// its own terminal on the connection, so state such as the working directory
// carries over between calls of the same Caller and never leaks to another.
type Caller struct {
	// Origin names the calling component, for example a tool or package.
	Origin string
	// Worker names the concurrent unit inside Origin.
	Worker string
}

// DefaultCaller is used when the context carries no Caller.
var DefaultCaller = Caller{Origin: "ptyexec", Worker: "main"}

// Key is the session name derived from the caller.
func (c Caller) Key() string {
	return c.Origin + "-" + c.Worker
}

type callerKey struct{}

// WithCaller returns a context carrying c.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the Caller attached to ctx, or DefaultCaller.
func CallerFrom(ctx context.Context) Caller {
	if c, ok := ctx.Value(callerKey{}).(Caller); ok {
		return c
	}
	return DefaultCaller
}
