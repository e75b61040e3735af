// Package pty runs shells on local pseudo-terminals. It gives the executor
// a transport to the machine it runs on, with the same shape as the SSH one.
package pty

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/creack/pty"

	"github.com/acolita/ptyexec/internal/ports"
)

// LocalPTY is a shell running on a local pseudo-terminal. A goroutine copies
// its output into a buffer so reads never block.
type LocalPTY struct {
	cmd   *exec.Cmd
	pty   *os.File
	shell string

	mu      sync.Mutex
	buf     bytes.Buffer
	readErr error
	closed  bool
}

// PTYOptions configures PTY allocation.
type PTYOptions struct {
	Shell string   // defaults to $SHELL, then bash, zsh, sh
	Term  string   // TERM for the shell
	Rows  uint16   // default 24
	Cols  uint16   // default 80
	Dir   string   // initial working directory
	Env   []string // appended to the current environment
	NoRC  bool     // skip the shell's startup files
}

// ShellEnv returns environment variables that keep prompt hooks of the given
// shell from writing around the prompt.
func ShellEnv(shell string) []string {
	env := []string{"NO_COLOR=1", "PROMPT_COMMAND="}
	if filepath.Base(shell) == "zsh" {
		env = append(env, "RPROMPT=", "precmd_functions=")
	}
	return env
}

// NewLocalPTY starts a shell on a new pseudo-terminal.
func NewLocalPTY(opts PTYOptions) (*LocalPTY, error) {
	if opts.Shell == "" {
		opts.Shell = detectShell()
	}
	if opts.Term == "" {
		opts.Term = "dumb"
	}
	if opts.Rows == 0 {
		opts.Rows = 24
	}
	if opts.Cols == 0 {
		opts.Cols = 80
	}

	cmd := exec.Command(opts.Shell, noRCFlags(opts.Shell, opts.NoRC)...)
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	cmd.Env = append(os.Environ(), "TERM="+opts.Term)
	cmd.Env = append(cmd.Env, ShellEnv(opts.Shell)...)
	cmd.Env = append(cmd.Env, opts.Env...)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: opts.Rows, Cols: opts.Cols})
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}

	p := &LocalPTY{
		cmd:   cmd,
		pty:   ptmx,
		shell: opts.Shell,
	}
	go p.pump()
	return p, nil
}

func (p *LocalPTY) pump() {
	chunk := make([]byte, 4096)
	for {
		n, err := p.pty.Read(chunk)
		p.mu.Lock()
		p.buf.Write(chunk[:n])
		if err != nil {
			p.readErr = err
		}
		p.mu.Unlock()
		if err != nil {
			return
		}
	}
}

// Shell returns the shell being used.
func (p *LocalPTY) Shell() string {
	return p.shell
}

// Send writes data to the shell's input.
func (p *LocalPTY) Send(data string) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return io.ErrClosedPipe
	}

	if _, err := p.pty.WriteString(data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// RecvReady reports whether output is buffered or the shell has exited.
func (p *LocalPTY) RecvReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.Len() > 0 || p.readErr != nil
}

// Recv returns up to max buffered bytes, or io.EOF once the shell has exited
// and its output is drained.
func (p *LocalPTY) Recv(max int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.buf.Len() == 0 {
		if p.readErr != nil {
			// Linux reports EIO on the master once the last slave fd closes.
			if errors.Is(p.readErr, io.EOF) || errors.Is(p.readErr, syscall.EIO) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read: %w", p.readErr)
		}
		return nil, nil
	}
	return append([]byte(nil), p.buf.Next(max)...), nil
}

// Resize resizes the PTY window.
func (p *LocalPTY) Resize(rows, cols uint16) error {
	return pty.Setsize(p.pty, &pty.Winsize{Rows: rows, Cols: cols})
}

// Signal sends a signal to the shell process.
func (p *LocalPTY) Signal(sig os.Signal) error {
	if p.cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	return p.cmd.Process.Signal(sig)
}

// Interrupt sends SIGINT to the shell.
func (p *LocalPTY) Interrupt() error {
	return p.Signal(syscall.SIGINT)
}

// Close closes the PTY and kills the shell. It is safe to call twice.
func (p *LocalPTY) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	var errs []error
	if err := p.pty.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close pty: %w", err))
	}
	if p.cmd.Process != nil {
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			errs = append(errs, fmt.Errorf("kill process: %w", err))
		}
		p.cmd.Wait()
	}
	return errors.Join(errs...)
}

// noRCFlags returns the flags that make shell skip its startup files.
func noRCFlags(shell string, noRC bool) []string {
	if !noRC {
		return nil
	}
	switch filepath.Base(shell) {
	case "bash":
		return []string{"--norc", "--noprofile"}
	case "zsh":
		return []string{"--no-rcs", "--no-globalrcs"}
	case "fish":
		return []string{"--no-config"}
	}
	return nil
}

// detectShell returns $SHELL or the first common shell installed.
func detectShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	for _, shell := range []string{"/bin/bash", "/bin/zsh", "/bin/sh"} {
		if _, err := os.Stat(shell); err == nil {
			return shell
		}
	}
	return "/bin/sh"
}

// Transport opens shells on the local machine. The target only labels the
// connection; nothing is dialed.
type Transport struct {
	opts PTYOptions
}

// NewTransport creates a local transport. Term, Rows and Cols of opts are
// overridden by each NewPTY call.
func NewTransport(opts PTYOptions) *Transport {
	return &Transport{opts: opts}
}

// Open returns a Host for target. Only local hosts are accepted.
func (t *Transport) Open(ctx context.Context, target ports.Target) (ports.ChannelFactory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !IsLocal(target.Host) {
		return nil, fmt.Errorf("local transport cannot reach %q", target.Host)
	}
	return &Host{opts: t.opts}, nil
}

// IsLocal reports whether host names this machine.
func IsLocal(host string) bool {
	switch strings.ToLower(host) {
	case "", "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// Host hands out local shells and writes local files.
type Host struct {
	opts PTYOptions

	mu     sync.Mutex
	ptys   []*LocalPTY
	closed bool
}

// NewPTY starts a shell on a terminal of the given type and size.
func (h *Host) NewPTY(term string, cols, rows int) (ports.Channel, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, io.ErrClosedPipe
	}

	opts := h.opts
	opts.Term = term
	opts.Cols = clampSize(cols)
	opts.Rows = clampSize(rows)

	p, err := NewLocalPTY(opts)
	if err != nil {
		return nil, err
	}
	h.ptys = append(h.ptys, p)
	return p, nil
}

func clampSize(n int) uint16 {
	if n <= 0 {
		return 0
	}
	if n > 0xffff {
		return 0xffff
	}
	return uint16(n)
}

// WriteFile writes data to path, readable by the owner only.
func (h *Host) WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// RemoveFile deletes path.
func (h *Host) RemoveFile(path string) error {
	return os.Remove(path)
}

// Active reports whether Close has not been called.
func (h *Host) Active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.closed
}

// Close kills every shell started by h.
func (h *Host) Close() error {
	h.mu.Lock()
	ptys := h.ptys
	h.ptys = nil
	h.closed = true
	h.mu.Unlock()

	var errs []error
	for _, p := range ptys {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ ports.Transport      = (*Transport)(nil)
	_ ports.ChannelFactory = (*Host)(nil)
	_ ports.Channel        = (*LocalPTY)(nil)
)
