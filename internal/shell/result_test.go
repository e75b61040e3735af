package shell

import (
	"fmt"
	"strings"
	"testing"
)

const p = DefaultPrompt

func feed(r *Result, raw string) *Result {
	r.Append([]byte(raw))
	return r
}

func TestResult_ExitCodeZero(t *testing.T) {
	tests := []struct {
		name     string
		command  string
		raw      string
		finished bool
		output   string
		rc       string
		success  bool
	}{
		{
			name:     "success",
			command:  "echo hi",
			raw:      p + "echo hi\r\nhi\r\n" + p + "echo $?\r\n0\r\n" + p,
			finished: true,
			output:   "hi",
			rc:       "0",
			success:  true,
		},
		{
			name:     "silent success",
			command:  "cd /home",
			raw:      p + "cd /home\r\n" + p + "echo $?\r\n0\r\n" + p,
			finished: true,
			output:   "",
			rc:       "0",
			success:  true,
		},
		{
			name:     "failure",
			command:  "cd /nope",
			raw:      p + "cd /nope\r\nsh: cd: /nope: No such file or directory\r\n" + p + "echo $?\r\n1\r\n" + p,
			finished: true,
			output:   "sh: cd: /nope: No such file or directory",
			rc:       "1",
			success:  false,
		},
		{
			name:     "code printed but prompt not back",
			command:  "echo hi",
			raw:      p + "echo hi\r\nhi\r\n" + p + "echo $?\r\n0\r\n",
			finished: false,
			output:   "hi",
		},
		{
			name:     "still running",
			command:  "sleep 5",
			raw:      p + "sleep 5\r\n",
			finished: false,
			output:   "",
		},
		{
			name:     "code line with trailing text is not success",
			command:  "true",
			raw:      p + "true\r\n" + p + "echo $?\r\n0 extra\r\n" + p,
			finished: true,
			rc:       "0 extra",
			success:  false,
		},
		{
			name:     "non numeric code line",
			command:  "true",
			raw:      p + "true\r\n" + p + "echo $?\r\nnope\r\n" + p,
			finished: false,
		},
		{
			name:     "multi-line output",
			command:  `echo -e 'line1\nline2\nline3'`,
			raw:      p + `echo -e 'line1\nline2\nline3'` + "\r\nline1\r\nline2\r\nline3\r\n" + p + "echo $?\r\n0\r\n" + p,
			finished: true,
			output:   "line1\nline2\nline3",
			rc:       "0",
			success:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := feed(NewResult(p, tt.command, ExitCodeZero()), tt.raw)

			if got := r.Finished(); got != tt.finished {
				t.Errorf("Finished() = %v, want %v", got, tt.finished)
			}
			if got := r.Output(); got != tt.output {
				t.Errorf("Output() = %q, want %q", got, tt.output)
			}
			rc, ok := r.ReturnCode()
			if rc != tt.rc || ok != (tt.rc != "") {
				t.Errorf("ReturnCode() = %q, %v, want %q", rc, ok, tt.rc)
			}
			if got := r.Succeeded(); got != tt.success {
				t.Errorf("Succeeded() = %v, want %v", got, tt.success)
			}
		})
	}
}

func TestResult_NoCheck(t *testing.T) {
	r := NewResult(p, "ls", NoCheck())

	r.Append([]byte(p + "ls\r\na\r\n"))
	if r.Finished() {
		t.Fatal("Finished() before the prompt came back")
	}
	if got := r.Output(); got != "a" {
		t.Errorf("partial Output() = %q, want %q", got, "a")
	}

	r.Append([]byte("b\r\n" + p))
	if !r.Finished() {
		t.Fatal("Finished() = false after the prompt came back")
	}
	if got := r.Output(); got != "a\nb" {
		t.Errorf("Output() = %q, want %q", got, "a\nb")
	}
	if _, ok := r.ReturnCode(); ok {
		t.Error("ReturnCode() available for NoCheck")
	}
	if start, end, ended := r.Bounds(); start != 1 || end != 2 || !ended {
		t.Errorf("Bounds() = %d, %d, %v, want 1, 2, true", start, end, ended)
	}
}

func TestResult_NoCheckIgnoresExitCode(t *testing.T) {
	r := feed(NewResult(p, "false", NoCheck()), p+"false\r\n"+p)

	if !r.Finished() {
		t.Fatal("Finished() = false")
	}
	if r.Output() != "" {
		t.Errorf("Output() = %q, want empty", r.Output())
	}
}

func TestResult_ContainsSubPrompt(t *testing.T) {
	tests := []struct {
		name    string
		command string
		pattern string
		raw     string
		output  string
	}{
		{
			name:    "prompted echo",
			command: "rm -ri d1 d2",
			pattern: "'d1'?",
			raw:     p + "rm -ri d1 d2\r\nrm: remove directory 'd1'? ",
			output:  "rm: remove directory 'd1'?",
		},
		{
			name:    "bare echo",
			command: "y",
			pattern: "'d2'?",
			raw:     "y\r\nrm: remove directory 'd2'? ",
			output:  "rm: remove directory 'd2'?",
		},
		{
			name:    "pattern before the prompt returns",
			command: "cat notes",
			pattern: "beta",
			raw:     p + "cat notes\r\nalpha\r\nbeta\r\n" + p,
			output:  "alpha\nbeta",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := feed(NewResult(p, tt.command, Contains(tt.pattern)), tt.raw)

			if !r.Finished() {
				t.Fatalf("Finished() = false, output %q", r.Output())
			}
			if got := r.Output(); got != tt.output {
				t.Errorf("Output() = %q, want %q", got, tt.output)
			}
		})
	}
}

func TestResult_ContainsNotYet(t *testing.T) {
	r := feed(NewResult(p, "rm -ri d1", Contains("'d1'?")), p+"rm -ri d1\r\nrm: remove")

	if r.Finished() {
		t.Error("Finished() before the pattern arrived")
	}
	r.Append([]byte(" directory 'd1'? "))
	if !r.Finished() {
		t.Error("Finished() = false after the pattern arrived")
	}
}

func TestResult_LaterEchoWins(t *testing.T) {
	// Typed ahead input is echoed bare first, then again after the prompt.
	raw := "pwd\r\n" + p + "pwd\r\n/home\r\n" + p + "echo $?\r\n0\r\n" + p
	r := feed(NewResult(p, "pwd", ExitCodeZero()), raw)

	if start, _, _ := r.Bounds(); start != 2 {
		t.Errorf("start = %d, want 2", start)
	}
	if got := r.Output(); got != "/home" {
		t.Errorf("Output() = %q, want %q", got, "/home")
	}
	if !r.Succeeded() {
		t.Error("Succeeded() = false")
	}
}

func TestResult_MultiWordSkipsEarlyPrompt(t *testing.T) {
	raw := p + "\r\n" + p + "echo a b\r\na b\r\n" + p
	r := feed(NewResult(p, "echo a b", NoCheck()), raw)

	if !r.Finished() {
		t.Fatal("Finished() = false")
	}
	if got := r.Output(); got != "a b" {
		t.Errorf("Output() = %q, want %q", got, "a b")
	}
	if got := r.SkippedPrompts(); got != 1 {
		t.Errorf("SkippedPrompts() = %d, want 1", got)
	}
}

func TestResult_SingleWordTakesEarlyPromptAsEnd(t *testing.T) {
	raw := p + "\r\n" + p + "ls\r\nx\r\n" + p
	r := feed(NewResult(p, "ls", NoCheck()), raw)

	start, end, ended := r.Bounds()
	if start != -1 || end != -1 || !ended {
		t.Errorf("Bounds() = %d, %d, %v, want -1, -1, true", start, end, ended)
	}
	if r.Output() != "" {
		t.Errorf("Output() = %q, want empty", r.Output())
	}
	if r.SkippedPrompts() != 0 {
		t.Errorf("SkippedPrompts() = %d, want 0", r.SkippedPrompts())
	}
}

func TestResult_StripsEscapeSequences(t *testing.T) {
	raw := "\x1b[?2004h" + p + "ls\r\n\x1b[01;34mdir\x1b[0m  file\r\n\x1b[?2004h" + p
	r := feed(NewResult(p, "ls", NoCheck()), raw)

	if !r.Finished() {
		t.Fatalf("Finished() = false, raw %q", r.Raw())
	}
	if got := r.Output(); got != "dir  file" {
		t.Errorf("Output() = %q, want %q", got, "dir  file")
	}
}

func TestResult_DropsInvalidUTF8(t *testing.T) {
	r := feed(NewResult(p, "cat blob", NoCheck()), p+"cat blob\r\nab\xffcd\r\n"+p)

	if got := r.Output(); got != "abcd" {
		t.Errorf("Output() = %q, want %q", got, "abcd")
	}
}

func TestResult_RepairsSplitRune(t *testing.T) {
	r := NewResult(p, "echo é", NoCheck())
	raw := []byte(p + "echo é\r\né\r\n" + p)
	cut := strings.LastIndex(string(raw), "é") + 1 // inside the rune

	r.Append(raw[:cut])
	r.Append(raw[cut:])

	if got := r.Output(); got != "é" {
		t.Errorf("Output() = %q, want %q", got, "é")
	}
}

func TestResult_ChunkingIsIdempotent(t *testing.T) {
	cases := []struct {
		command string
		expect  Expectation
		raw     string
	}{
		{"echo hi", ExitCodeZero(), p + "echo hi\r\nhi\r\n" + p + "echo $?\r\n0\r\n" + p},
		{"cd /nope", ExitCodeZero(), p + "cd /nope\r\nno such dir\r\n" + p + "echo $?\r\n1\r\n" + p},
		{"ls -l", NoCheck(), "\x1b[?2004h" + p + "ls -l\r\ntotal 0\r\n\x1b[0m" + p},
		{"rm -ri d1", Contains("'d1'?"), p + "rm -ri d1\r\nrm: remove directory 'd1'? "},
		{"echo ünï", ExitCodeZero(), p + "echo ünï\r\nünï\r\n" + p + "echo $?\r\n0\r\n" + p},
		{"printf 'a\\rb'", NoCheck(), p + "printf 'a\\rb'\r\na\rb\r\n" + p},
	}

	for _, c := range cases {
		whole := feed(NewResult(p, c.command, c.expect), c.raw)
		wantRC, _ := whole.ReturnCode()

		for size := 1; size <= len(c.raw); size++ {
			t.Run(fmt.Sprintf("%s/%d", c.command, size), func(t *testing.T) {
				r := NewResult(p, c.command, c.expect)
				for i := 0; i < len(c.raw); i += size {
					r.Append([]byte(c.raw[i:min(i+size, len(c.raw))]))
				}

				if r.Finished() != whole.Finished() {
					t.Errorf("Finished() = %v, want %v", r.Finished(), whole.Finished())
				}
				if r.Output() != whole.Output() {
					t.Errorf("Output() = %q, want %q", r.Output(), whole.Output())
				}
				if rc, _ := r.ReturnCode(); rc != wantRC {
					t.Errorf("ReturnCode() = %q, want %q", rc, wantRC)
				}
			})
		}
	}
}

func TestSplitLines(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a", []string{"a"}},
		{"a\n", []string{"a"}},
		{"a\r\nb", []string{"a", "b"}},
		{"a\rb\nc", []string{"a", "b", "c"}},
		{"a\r\r\nb", []string{"a", "", "b"}},
		{"a\n\nb", []string{"a", "", "b"}},
		{"a\vb\fc", []string{"a", "b", "c"}},
		{"a\r", []string{"a"}},
	}

	for _, tt := range tests {
		got := splitLines(tt.in)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
			t.Errorf("splitLines(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
