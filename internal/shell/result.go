package shell

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/charmbracelet/x/ansi"
)

// leadingDigits matches a line that starts like a return code.
var leadingDigits = regexp.MustCompile(`^\d+`)

// scanState is where locate is in a pass over the output lines.
type scanState int

const (
	seekStart scanState = iota // echo of the command not seen yet
	seekEnd                    // inside the command output
	scanDone                   // terminating prompt found
)

// Result accumulates the terminal output of one command and works out when
// the command is finished and which lines are its own output.
//
// A typical exchange on a session that already shows the prompt:
//
//	[sh@ptyexec]$ echo -e 'a\nb'   <- echo, start is the next line
//	a                              <- output
//	b                              <- output, end
//	[sh@ptyexec]$ echo $?          <- terminating prompt
//	0                              <- return code
//	[sh@ptyexec]$
//
// Only the raw bytes are kept between appends. Boundaries, output and return
// code are derived again from the whole accumulator on every Append so that
// a line split across two reads never leaves stale state behind.
type Result struct {
	prompt     string
	command    string
	expect     Expectation
	promptLine *regexp.Regexp

	raw     []byte
	start   int // first output line, -1 until the echo is seen
	end     int // last output line, valid when ended
	ended   bool
	skipped int // prompt lines skipped while waiting for a multi-word echo
	output  string
	rc      string
}

// NewResult prepares a parser for command, whose completion is judged by
// expect. prompt is the exact PS1 the session was configured with.
func NewResult(prompt, command string, expect Expectation) *Result {
	return &Result{
		prompt:     prompt,
		command:    command,
		expect:     expect,
		promptLine: regexp.MustCompile(regexp.QuoteMeta(prompt)),
		start:      -1,
	}
}

// Append adds a chunk read from the terminal.
func (r *Result) Append(chunk []byte) {
	r.raw = append(r.raw, chunk...)

	lines := splitLines(r.Raw())
	r.locate(lines)
	r.output = r.purify(lines)
	if r.expect.Kind == ExpectExitCodeZero {
		r.rc = r.returnCode(lines)
	}
}

// Finished reports whether enough output has arrived for the expectation.
func (r *Result) Finished() bool {
	switch r.expect.Kind {
	case ExpectExitCodeZero:
		return r.rc != ""
	case ExpectNone:
		return r.ended
	case ExpectContains:
		return strings.Contains(r.output, r.expect.Pattern)
	default:
		return false
	}
}

// Output is the command's own output: no echo, no prompt, trimmed. Before the
// terminating prompt shows up it is everything after the echo.
func (r *Result) Output() string {
	return r.output
}

// ReturnCode is the line printed by "echo $?", available only for
// ExitCodeZero once the trailing prompt came back.
func (r *Result) ReturnCode() (string, bool) {
	return r.rc, r.rc != ""
}

// Succeeded reports a return code of exactly 0.
func (r *Result) Succeeded() bool {
	return strings.TrimSpace(r.rc) == "0"
}

// Raw is the accumulated text with invalid UTF-8 and escape sequences removed.
func (r *Result) Raw() string {
	return ansi.Strip(strings.ToValidUTF8(string(r.raw), ""))
}

// Bounds returns the line indexes of the output. start is -1 when the echo
// has not been seen; ended is false while the command is still running.
func (r *Result) Bounds() (start, end int, ended bool) {
	return r.start, r.end, r.ended
}

// SkippedPrompts counts prompt lines that were not taken as the terminator
// because a multi-word command had not been echoed yet. A non-zero value on a
// finished result means the skip heuristic fired.
func (r *Result) SkippedPrompts() int {
	return r.skipped
}

func (r *Result) locate(lines []string) {
	r.start, r.end, r.ended, r.skipped = -1, 0, false, 0

	trimmed := strings.TrimSpace(r.command)
	multiWord := strings.IndexFunc(trimmed, unicode.IsSpace) >= 0

	state := seekStart
	for i, line := range lines {
		if state == scanDone {
			break
		}

		// Echo without a prompt: typed ahead before the shell printed one.
		if state == seekStart && line == r.command {
			r.start = i + 1
			state = seekEnd
			continue
		}

		isPrompt := r.promptLine.MatchString(line)
		if !isPrompt {
			continue
		}

		// Echo after a prompt. A later echo wins over an earlier one.
		if trimmed != "" && strings.HasSuffix(line, r.command) {
			r.start = i + 1
			state = seekEnd
			continue
		}

		// The echo of a multi-word command can be delayed or wrapped, so a
		// prompt seen before it is not the terminator.
		if state == seekStart && multiWord {
			r.skipped++
			continue
		}

		r.end = i - 1
		r.ended = true
		state = scanDone
	}
}

func (r *Result) purify(lines []string) string {
	from := 0
	if r.start > 0 {
		from = min(r.start, len(lines))
	}
	to := len(lines)
	if r.ended {
		to = r.end + 1
	}
	if to <= from {
		return ""
	}
	return strings.TrimSpace(strings.Join(lines[from:to], "\n"))
}

func (r *Result) returnCode(lines []string) string {
	if !r.ended {
		return ""
	}
	tail := lines[r.end+1:]
	if len(tail) < 3 {
		return ""
	}
	if !r.promptLine.MatchString(tail[len(tail)-1]) {
		return ""
	}
	rc := tail[len(tail)-2]
	if !leadingDigits.MatchString(rc) {
		return ""
	}
	return rc
}

// splitLines breaks s on \n, \r\n, \r, \v and \f. A terminator at the very
// end does not produce an empty last line.
func splitLines(s string) []string {
	var lines []string
	begin := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\n', '\v', '\f':
		case '\r':
			if i+1 < len(s) && s[i+1] == '\n' {
				lines = append(lines, s[begin:i])
				i++
				begin = i + 1
				continue
			}
		default:
			continue
		}
		lines = append(lines, s[begin:i])
		begin = i + 1
	}
	if begin < len(s) {
		lines = append(lines, s[begin:])
	}
	return lines
}
