package mcp

const (
	serverName    = "ptyexec"
	serverVersion = "0.1.0"

	// callerOrigin names MCP tool calls in session keys.
	callerOrigin  = "mcp"
	defaultWorker = "main"

	defaultTimeoutMs = 10000

	descServer = "Name of a configured server"
	descWorker = "Worker name; each worker gets its own shell session on the server (default: main)"

	errServerRequired  = "server is required"
	errCommandRequired = "command is required"
)

// Values of the shell_exec expect argument.
const (
	expectExitCode = "exit_code"
	expectNone     = "none"
	expectContains = "contains"
)

// Values of the status field of shell_exec results.
const (
	statusCompleted = "completed"
	statusFailed    = "failed"
	statusTimeout   = "timeout"
)
