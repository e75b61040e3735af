// Package fakedialog provides a test fake for ports.Prompter.
package fakedialog

import "github.com/acolita/ptyexec/internal/ports"

// Prompter is a controllable fake Prompter for testing.
type Prompter struct {
	// Answer is returned by Password.
	Answer string
	// Err is the error returned by Password.
	Err error
	// Titles records the title of every prompt shown.
	Titles []string
}

// New returns a fake prompter answering with answer.
func New(answer string) *Prompter {
	return &Prompter{Answer: answer}
}

// Password records the prompt and returns the configured Answer and Err.
func (p *Prompter) Password(title, _ string) (string, error) {
	p.Titles = append(p.Titles, title)
	if p.Err != nil {
		return "", p.Err
	}
	return p.Answer, nil
}

// Calls returns how many prompts were shown.
func (p *Prompter) Calls() int {
	return len(p.Titles)
}

var _ ports.Prompter = (*Prompter)(nil)
