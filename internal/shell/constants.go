package shell

import "time"

// Defaults for an Executor. See the With* options.
const (
	// DefaultPrompt is the PS1 every session runs with. It has to be unusual
	// enough never to appear in command output.
	DefaultPrompt = "[sh@ptyexec]$ "

	// DefaultLocale is forced through LANG and LANGUAGE so that tool output
	// does not depend on the remote account's locale.
	DefaultLocale = "en_US.UTF-8"

	DefaultTerm = "builtin_ansi"
	DefaultCols = 999
	DefaultRows = 999

	DefaultProfileDir   = "/tmp"
	DefaultChunkSize    = 1024
	DefaultPollInterval = 5 * time.Millisecond
	DefaultTimeout      = 10 * time.Second

	profileNameLen = 10
	defaultSSHPort = 22
)

// State represents the session state.
type State string

const (
	StateIdle          State = "idle"
	StateRunning       State = "running"
	StateAwaitingInput State = "awaiting_input"
	StateClosed        State = "closed"
)
