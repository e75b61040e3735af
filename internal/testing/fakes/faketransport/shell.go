package faketransport

import (
	"strconv"
	"strings"
)

// Reply is the scripted behaviour of one command line.
type Reply struct {
	Output string
	Code   int
	// Hang stops processing after Output without printing another prompt,
	// like a command waiting for input. The lines typed next are answered by
	// Next in order.
	Hang bool
	Next []Reply
}

// Shell imitates an interactive shell on a terminal: every line typed is
// echoed after the current prompt, replies are printed with CRLF endings and
// the prompt comes back at the end. Until a "source" line runs the prompt is
// InitialPrompt, afterwards it is Prompt.
//
// A Shell is not safe for concurrent use; each Channel gets its own copy.
type Shell struct {
	InitialPrompt string
	Prompt        string
	Replies       map[string]Reply

	sourced bool
	code    int
	waiting []Reply
}

// Respond implements Responder.
func (s *Shell) Respond(sent string) string {
	var b strings.Builder
	sent = strings.TrimSuffix(sent, "\r")
	for _, line := range strings.Split(sent, "\n") {
		// A hanging command consumes the next line as its input.
		if len(s.waiting) > 0 {
			next := s.waiting[0]
			s.waiting = s.waiting[1:]
			b.WriteString(line + "\r\n")
			if s.reply(&b, next) {
				return b.String()
			}
			continue
		}

		b.WriteString(s.prompt() + line + "\r\n")
		switch {
		case strings.HasPrefix(line, "source "):
			s.sourced = true
			s.code = 0
		case line == "echo $?":
			b.WriteString(strconv.Itoa(s.code) + "\r\n")
		default:
			r, ok := s.Replies[line]
			if !ok {
				r = Reply{Output: "sh: " + line + ": command not found", Code: 127}
			}
			if s.reply(&b, r) {
				return b.String()
			}
		}
	}
	b.WriteString(s.prompt())
	return b.String()
}

func (s *Shell) reply(b *strings.Builder, r Reply) (hang bool) {
	if r.Output != "" {
		out := strings.ReplaceAll(r.Output, "\n", "\r\n")
		b.WriteString(out)
		if !r.Hang {
			b.WriteString("\r\n")
		}
	}
	s.code = r.Code
	if r.Hang {
		s.waiting = append([]Reply(nil), r.Next...)
	}
	return r.Hang
}

func (s *Shell) prompt() string {
	if s.sourced {
		return s.Prompt
	}
	return s.InitialPrompt
}
