package shell

import "fmt"

// ExpectKind selects how Execute decides a command is complete.
type ExpectKind int

const (
	// ExpectExitCodeZero waits for the shell's return code and requires 0.
	ExpectExitCodeZero ExpectKind = iota
	// ExpectNone waits for the prompt to come back and never checks the code.
	ExpectNone
	// ExpectContains waits until the pattern shows up in the output.
	ExpectContains
)

// Expectation is the completion and success criterion of one Execute call.
// The zero value is ExitCodeZero.
type Expectation struct {
	Kind    ExpectKind
	Pattern string
}

// ExitCodeZero expects the command to exit with status 0.
func ExitCodeZero() Expectation {
	return Expectation{Kind: ExpectExitCodeZero}
}

// NoCheck returns whatever is printed before the next prompt.
func NoCheck() Expectation {
	return Expectation{Kind: ExpectNone}
}

// Contains completes as soon as pattern appears in the command output, which
// is how interactive confirmations ("remove 'd1'?") are answered.
func Contains(pattern string) Expectation {
	return Expectation{Kind: ExpectContains, Pattern: pattern}
}

// String renders the expectation the way it shows up in logs and errors.
func (e Expectation) String() string {
	switch e.Kind {
	case ExpectExitCodeZero:
		return "exit code 0"
	case ExpectNone:
		return "none"
	case ExpectContains:
		return fmt.Sprintf("contains %q", e.Pattern)
	default:
		return fmt.Sprintf("ExpectKind(%d)", int(e.Kind))
	}
}
