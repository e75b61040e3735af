// Package realdialog asks for secrets at the controlling terminal using
// charmbracelet/huh. When stdin is not a terminal the form falls back to
// huh's line based accessible mode so piped input still works.
package realdialog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"

	"github.com/acolita/ptyexec/internal/ports"
)

// ErrAborted is returned when the user cancels the prompt.
var ErrAborted = errors.New("prompt aborted")

// Provider implements ports.Prompter on a terminal.
type Provider struct {
	in         io.Reader
	out        io.Writer
	accessible bool
}

// New returns a Provider bound to stdin and stderr. Stdout is left alone so
// command output stays clean when piped.
func New() *Provider {
	return &Provider{
		in:         os.Stdin,
		out:        os.Stderr,
		accessible: !isatty.IsTerminal(os.Stdin.Fd()),
	}
}

// NewWithIO returns a Provider reading answers line by line from in.
func NewWithIO(in io.Reader, out io.Writer) *Provider {
	return &Provider{in: in, out: out, accessible: true}
}

// Password shows a masked input and returns what was typed.
func (p *Provider) Password(title, description string) (string, error) {
	var secret string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(title).
				Description(description).
				EchoMode(huh.EchoModePassword).
				Validate(notEmpty).
				Value(&secret),
		),
	).WithInput(p.in).WithOutput(p.out).WithAccessible(p.accessible)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return "", ErrAborted
		}
		return "", fmt.Errorf("password prompt: %w", err)
	}
	return secret, nil
}

func notEmpty(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("a value is required")
	}
	return nil
}

var _ ports.Prompter = (*Provider)(nil)
