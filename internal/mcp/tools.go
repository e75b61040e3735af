package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/acolita/ptyexec/internal/logging"
	"github.com/acolita/ptyexec/internal/session"
	"github.com/acolita/ptyexec/internal/shell"
)

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTool(shellExecTool(), s.handleShellExec)
	s.mcpServer.AddTool(shellSessionCloseTool(), s.handleShellSessionClose)
	s.mcpServer.AddTool(shellSessionsTool(), s.handleShellSessions)
	s.mcpServer.AddTool(shellStatusTool(), s.handleShellStatus)
}

// Tool definitions

func shellExecTool() mcp.Tool {
	return mcp.NewTool("shell_exec",
		mcp.WithDescription("Run a command in a persistent shell on a configured server. "+
			"The working directory and environment carry over between calls of the same worker."),
		mcp.WithString("server",
			mcp.Required(),
			mcp.Description(descServer),
		),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("The command line to run"),
		),
		mcp.WithString("expect",
			mcp.Description("When the command counts as done: 'exit_code' waits for the prompt and fails on a non-zero exit code, "+
				"'none' waits for the prompt only, 'contains' returns as soon as the output contains pattern"),
			mcp.Enum(expectExitCode, expectNone, expectContains),
			mcp.DefaultString(expectExitCode),
		),
		mcp.WithString("pattern",
			mcp.Description("Text to wait for when expect is 'contains'"),
		),
		mcp.WithNumber("timeout_ms",
			mcp.Description("Command timeout in milliseconds (default: 10000)"),
		),
		mcp.WithString("worker",
			mcp.Description(descWorker),
		),
		mcp.WithNumber("tail_lines",
			mcp.Description("Return only the last N lines of output"),
		),
		mcp.WithNumber("head_lines",
			mcp.Description("Return only the first N lines of output"),
		),
	)
}

func shellSessionCloseTool() mcp.Tool {
	return mcp.NewTool("shell_session_close",
		mcp.WithDescription("Close the shell session of a worker on a server"),
		mcp.WithString("server",
			mcp.Required(),
			mcp.Description(descServer),
		),
		mcp.WithString("worker",
			mcp.Description(descWorker),
		),
	)
}

func shellSessionsTool() mcp.Tool {
	return mcp.NewTool("shell_sessions",
		mcp.WithDescription("List the open shell sessions on a server"),
		mcp.WithString("server",
			mcp.Required(),
			mcp.Description(descServer),
		),
	)
}

func shellStatusTool() mcp.Tool {
	return mcp.NewTool("shell_status",
		mcp.WithDescription("Show the configured servers and whether they are connected"),
		mcp.WithString("servers",
			mcp.Description("Glob selecting servers by name, e.g. 'web-*' (default: all)"),
		),
	)
}

// ExecResult is the JSON returned by shell_exec.
type ExecResult struct {
	Server     string `json:"server"`
	Session    string `json:"session"`
	Status     string `json:"status"`
	Output     string `json:"output"`
	ReturnCode string `json:"return_code,omitempty"`
	Truncated  bool   `json:"truncated,omitempty"`
	TotalLines int    `json:"total_lines,omitempty"`
	ShownLines int    `json:"shown_lines,omitempty"`
}

// Tool handlers

func (s *Server) handleShellExec(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := mcp.ParseString(req, "server", "")
	command := mcp.ParseString(req, "command", "")
	expectKind := mcp.ParseString(req, "expect", expectExitCode)
	pattern := mcp.ParseString(req, "pattern", "")
	timeoutMs := mcp.ParseInt(req, "timeout_ms", defaultTimeoutMs)
	tailLines := mcp.ParseInt(req, "tail_lines", 0)
	headLines := mcp.ParseInt(req, "head_lines", 0)

	if errResult := validateExecParams(name, command, tailLines, headLines); errResult != nil {
		return errResult, nil
	}
	expect, err := parseExpectation(expectKind, pattern)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	caller := callerFrom(req)
	ctx = shell.WithCaller(ctx, caller)

	exec, err := s.manager.Executor(ctx, name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	s.logger.Info("executing command",
		slog.String("server", name),
		slog.String("session", caller.Key()),
		slog.String("command", logging.Truncate(command, 200)),
	)

	out, err := exec.Execute(ctx, command, expect, time.Duration(timeoutMs)*time.Millisecond)
	result := ExecResult{Server: name, Session: caller.Key(), Status: statusCompleted}

	var cmdErr *shell.CommandError
	var timeoutErr *shell.TimeoutError
	switch {
	case err == nil:
		result.Output = out
		if expect.Kind == shell.ExpectExitCodeZero {
			result.ReturnCode = "0"
		}
	case errors.As(err, &cmdErr):
		result.Status = statusFailed
		result.Output = cmdErr.Output
		result.ReturnCode = cmdErr.ReturnCode
	case errors.As(err, &timeoutErr):
		result.Status = statusTimeout
		result.Output = timeoutErr.Output
	default:
		return mcp.NewToolResultError(err.Error()), nil
	}

	result.Output, result.Truncated, result.TotalLines, result.ShownLines = truncateOutput(result.Output, tailLines, headLines)
	return jsonResult(result)
}

func (s *Server) handleShellSessionClose(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := mcp.ParseString(req, "server", "")
	if name == "" {
		return mcp.NewToolResultError(errServerRequired), nil
	}
	caller := callerFrom(req)

	s.logger.Info("closing session",
		slog.String("server", name),
		slog.String("session", caller.Key()),
	)

	exec, err := s.manager.Executor(ctx, name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := exec.CloseSession(caller.Key()); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("Session closed"), nil
}

func (s *Server) handleShellSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := mcp.ParseString(req, "server", "")
	if name == "" {
		return mcp.NewToolResultError(errServerRequired), nil
	}

	for _, st := range s.manager.Status() {
		if st.Name != name {
			continue
		}
		sessions := st.Sessions
		if sessions == nil {
			sessions = []shell.SessionInfo{}
		}
		return jsonResult(map[string]any{
			"server":    name,
			"connected": st.Connected,
			"sessions":  sessions,
		})
	}
	return mcp.NewToolResultError(session.ErrUnknownServer.Error() + ": " + name), nil
}

func (s *Server) handleShellStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pattern := mcp.ParseString(req, "servers", "*")

	matched, err := s.manager.Config().MatchServers(pattern)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	want := make(map[string]bool, len(matched))
	for _, server := range matched {
		want[server.Name] = true
	}

	statuses := []session.ServerStatus{}
	for _, st := range s.manager.Status() {
		if want[st.Name] {
			statuses = append(statuses, st)
		}
	}
	return jsonResult(map[string]any{"servers": statuses})
}

// callerFrom builds the caller identity of a tool call from its worker
// argument.
func callerFrom(req mcp.CallToolRequest) shell.Caller {
	worker := mcp.ParseString(req, "worker", "")
	if worker == "" {
		worker = defaultWorker
	}
	return shell.Caller{Origin: callerOrigin, Worker: worker}
}

func parseExpectation(kind, pattern string) (shell.Expectation, error) {
	switch kind {
	case "", expectExitCode:
		return shell.ExitCodeZero(), nil
	case expectNone:
		return shell.NoCheck(), nil
	case expectContains:
		if pattern == "" {
			return shell.Expectation{}, errors.New("pattern is required when expect is 'contains'")
		}
		return shell.Contains(pattern), nil
	}
	return shell.Expectation{}, errors.New("expect must be one of exit_code, none, contains")
}

// validateExecParams returns an error result when the shell_exec arguments
// cannot be used.
func validateExecParams(server, command string, tailLines, headLines int) *mcp.CallToolResult {
	switch {
	case server == "":
		return mcp.NewToolResultError(errServerRequired)
	case strings.TrimSpace(command) == "":
		return mcp.NewToolResultError(errCommandRequired)
	case tailLines < 0 || headLines < 0:
		return mcp.NewToolResultError("tail_lines and head_lines must not be negative")
	case tailLines > 0 && headLines > 0:
		return mcp.NewToolResultError("cannot use both tail_lines and head_lines")
	}
	return nil
}

// truncateOutput keeps the last tail or first head lines of output.
func truncateOutput(output string, tail, head int) (string, bool, int, int) {
	if output == "" {
		return "", false, 0, 0
	}
	lines := strings.Split(output, "\n")
	total := len(lines)

	switch {
	case tail > 0 && tail < total:
		lines = lines[total-tail:]
	case head > 0 && head < total:
		lines = lines[:head]
	default:
		return output, false, total, total
	}
	return strings.Join(lines, "\n"), true, total, len(lines)
}

// jsonResult converts a value to a JSON tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
