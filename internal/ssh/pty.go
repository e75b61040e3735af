package ssh

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/ssh"

	"github.com/acolita/ptyexec/internal/ports"
)

// PTY is an interactive shell on a remote pseudo-terminal. A goroutine
// copies the shell's output into a buffer so reads never block.
type PTY struct {
	session *ssh.Session
	stdin   io.WriteCloser

	mu      sync.Mutex
	buf     bytes.Buffer
	readErr error // set when the output stream ended
	closed  bool
}

// NewPTY requests a terminal of the given type and size on a new session
// and starts a login shell on it.
func NewPTY(client *Client, term string, cols, rows int) (*PTY, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, err
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(term, rows, cols, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	p := &PTY{
		session: session,
		stdin:   stdin,
	}
	go p.pump(stdout)
	return p, nil
}

func (p *PTY) pump(r io.Reader) {
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
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

// Send writes data to the shell's input.
func (p *PTY) Send(data string) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return io.ErrClosedPipe
	}

	if _, err := io.WriteString(p.stdin, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// RecvReady reports whether output is buffered or the stream has ended.
func (p *PTY) RecvReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.Len() > 0 || p.readErr != nil
}

// Recv returns up to max buffered bytes. Once the buffer is drained after
// the shell exited it returns io.EOF.
func (p *PTY) Recv(max int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.buf.Len() == 0 {
		if p.readErr != nil {
			if errors.Is(p.readErr, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read: %w", p.readErr)
		}
		return nil, nil
	}
	return append([]byte(nil), p.buf.Next(max)...), nil
}

// Close ends the session.
func (p *PTY) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	err := p.session.Close()
	if errors.Is(err, io.EOF) {
		err = nil
	}
	return err
}

var _ ports.Channel = (*PTY)(nil)
