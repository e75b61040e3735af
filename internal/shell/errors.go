package shell

import (
	"errors"
	"fmt"
	"time"

	"github.com/acolita/ptyexec/internal/ports"
)

var (
	// ErrNotConnected is returned by Execute before Connect or after Close.
	ErrNotConnected = errors.New("not connected")

	// ErrAlreadyConnected is returned by a second Connect.
	ErrAlreadyConnected = errors.New("already connected")
)

// ConnectionError reports a failure to establish the connection or to write
// the environment profile.
type ConnectionError struct {
	Op     string
	Target ports.Target
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s ssh://%s@%s:%d: %v", e.Op, e.Target.User, e.Target.Host, e.Target.Port, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// CommandError is returned when the command finished with a non-zero or
// unreadable return code.
type CommandError struct {
	Command    string
	Expect     Expectation
	ReturnCode string
	Output     string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q (expect %s) returned %q\n%s", e.Command, e.Expect, e.ReturnCode, e.Output)
}

// TimeoutError is returned when no completion was observed in time. Output
// holds the purified text seen so far.
type TimeoutError struct {
	Command string
	Expect  Expectation
	After   time.Duration
	Output  string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %s: command %q (expect %s)\n%s", e.After, e.Command, e.Expect, e.Output)
}

// Timeout lets callers test for timeouts through a net.Error style check.
func (e *TimeoutError) Timeout() bool { return true }

// UnknownSessionError is returned by CloseSession for a name not in use.
type UnknownSessionError struct {
	Name string
}

func (e *UnknownSessionError) Error() string {
	return fmt.Sprintf("session not found: %s", e.Name)
}
