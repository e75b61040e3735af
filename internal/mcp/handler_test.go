package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/acolita/ptyexec/internal/config"
	"github.com/acolita/ptyexec/internal/ports"
	"github.com/acolita/ptyexec/internal/session"
	"github.com/acolita/ptyexec/internal/shell"
	"github.com/acolita/ptyexec/internal/testing/fakes/faketransport"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Servers = []config.ServerConfig{
		{Name: "web-1", Transport: config.TransportSSH, Host: "web1.example", Port: 22, User: "deploy"},
		{Name: "web-2", Transport: config.TransportSSH, Host: "web2.example", Port: 22, User: "deploy"},
		{Name: "db", Transport: config.TransportSSH, Host: "db.example", Port: 22, User: "postgres"},
	}
	return cfg
}

func testShell() faketransport.Shell {
	return faketransport.Shell{
		InitialPrompt: "$ ",
		Prompt:        shell.DefaultPrompt,
		Replies: map[string]faketransport.Reply{
			"uptime":    {Output: "up 3 days"},
			"false":     {Code: 1},
			"seq 5":     {Output: "1\n2\n3\n4\n5"},
			"rm -ri d1": {Output: "rm: remove directory 'd1'? ", Hang: true},
			"sleep 100": {Hang: true},
		},
	}
}

// newTestServer returns a server whose SSH servers are scripted shells.
func newTestServer(t *testing.T) (*Server, map[string]*faketransport.Factory) {
	t.Helper()
	cfg := testConfig()
	factories := make(map[string]*faketransport.Factory)
	transports := make(map[string]*faketransport.Transport)
	for _, s := range cfg.Servers {
		factories[s.Name] = faketransport.NewShellFactory(testShell())
		transports[s.Name] = faketransport.New(factories[s.Name])
	}
	manager := session.NewManager(cfg,
		session.WithTransportFactory(func(_ *config.Config, server config.ServerConfig, _ string, _ *slog.Logger) (ports.Transport, error) {
			return transports[server.Name], nil
		}),
	)
	srv := NewServer(cfg, WithSessionManager(manager))
	t.Cleanup(func() { srv.Close() })
	return srv, factories
}

func makeRequest(args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Arguments: args,
		},
	}
}

func resultText(result *mcpgo.CallToolResult) string {
	if result == nil || len(result.Content) == 0 {
		return ""
	}
	tc, ok := mcpgo.AsTextContent(result.Content[0])
	if !ok {
		return ""
	}
	return tc.Text
}

func execResult(t *testing.T, result *mcpgo.CallToolResult) ExecResult {
	t.Helper()
	if result.IsError {
		t.Fatalf("unexpected error result: %s", resultText(result))
	}
	var r ExecResult
	if err := json.Unmarshal([]byte(resultText(result)), &r); err != nil {
		t.Fatalf("failed to parse result JSON: %v (text: %s)", err, resultText(result))
	}
	return r
}

func TestHandleShellExec(t *testing.T) {
	tests := []struct {
		name       string
		args       map[string]any
		wantStatus string
		wantOutput string
		wantCode   string
	}{
		{
			name:       "success",
			args:       map[string]any{"server": "web-1", "command": "uptime"},
			wantStatus: statusCompleted,
			wantOutput: "up 3 days",
			wantCode:   "0",
		},
		{
			name:       "non-zero exit",
			args:       map[string]any{"server": "web-1", "command": "false"},
			wantStatus: statusFailed,
			wantCode:   "1",
		},
		{
			name:       "no check",
			args:       map[string]any{"server": "web-1", "command": "false", "expect": "none"},
			wantStatus: statusCompleted,
		},
		{
			name:       "contains",
			args:       map[string]any{"server": "web-1", "command": "rm -ri d1", "expect": "contains", "pattern": "remove directory"},
			wantStatus: statusCompleted,
			wantOutput: "rm: remove directory 'd1'?",
		},
		{
			name:       "timeout",
			args:       map[string]any{"server": "web-1", "command": "sleep 100", "timeout_ms": 50, "worker": "sleeper"},
			wantStatus: statusTimeout,
		},
		{
			name:       "tail lines",
			args:       map[string]any{"server": "web-1", "command": "seq 5", "tail_lines": 2, "worker": "tail"},
			wantStatus: statusCompleted,
			wantOutput: "4\n5",
			wantCode:   "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t)
			result, err := srv.handleShellExec(context.Background(), makeRequest(tt.args))
			if err != nil {
				t.Fatalf("handler error: %v", err)
			}
			got := execResult(t, result)
			if got.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q (output %q)", got.Status, tt.wantStatus, got.Output)
			}
			if got.Output != tt.wantOutput {
				t.Errorf("output = %q, want %q", got.Output, tt.wantOutput)
			}
			if got.ReturnCode != tt.wantCode {
				t.Errorf("return_code = %q, want %q", got.ReturnCode, tt.wantCode)
			}
		})
	}
}

func TestHandleShellExec_Validation(t *testing.T) {
	tests := []struct {
		name    string
		args    map[string]any
		wantErr string
	}{
		{"missing server", map[string]any{"command": "ls"}, errServerRequired},
		{"missing command", map[string]any{"server": "db"}, errCommandRequired},
		{"blank command", map[string]any{"server": "db", "command": "  "}, errCommandRequired},
		{"tail and head", map[string]any{"server": "db", "command": "ls", "tail_lines": 1, "head_lines": 1}, "cannot use both"},
		{"negative tail", map[string]any{"server": "db", "command": "ls", "tail_lines": -1}, "must not be negative"},
		{"bad expect", map[string]any{"server": "db", "command": "ls", "expect": "maybe"}, "expect must be one of"},
		{"contains without pattern", map[string]any{"server": "db", "command": "ls", "expect": "contains"}, "pattern is required"},
		{"unknown server", map[string]any{"server": "nope", "command": "ls"}, "unknown server"},
	}

	srv, _ := newTestServer(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := srv.handleShellExec(context.Background(), makeRequest(tt.args))
			if err != nil {
				t.Fatalf("handler error: %v", err)
			}
			if !result.IsError {
				t.Fatalf("expected error result, got %s", resultText(result))
			}
			if !strings.Contains(resultText(result), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", resultText(result), tt.wantErr)
			}
		})
	}
}

func TestHandleShellExec_WorkersGetOwnSessions(t *testing.T) {
	srv, factories := newTestServer(t)
	ctx := context.Background()

	for _, worker := range []string{"a", "b", "a"} {
		result, err := srv.handleShellExec(ctx, makeRequest(map[string]any{"server": "db", "command": "uptime", "worker": worker}))
		if err != nil {
			t.Fatal(err)
		}
		if got := execResult(t, result); got.Session != "mcp-"+worker {
			t.Errorf("session = %q, want mcp-%s", got.Session, worker)
		}
	}

	if got := len(factories["db"].Channels()); got != 2 {
		t.Errorf("%d PTYs opened, want one per worker", got)
	}
}

func TestHandleShellSessionClose(t *testing.T) {
	srv, factories := newTestServer(t)
	ctx := context.Background()

	if _, err := srv.handleShellExec(ctx, makeRequest(map[string]any{"server": "db", "command": "uptime"})); err != nil {
		t.Fatal(err)
	}

	result, err := srv.handleShellSessionClose(ctx, makeRequest(map[string]any{"server": "db"}))
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError || resultText(result) != "Session closed" {
		t.Fatalf("close result = %q", resultText(result))
	}
	if !factories["db"].Channels()[0].IsClosed() {
		t.Error("channel still open after close")
	}

	result, _ = srv.handleShellSessionClose(ctx, makeRequest(map[string]any{"server": "db"}))
	if !result.IsError {
		t.Error("closing a closed session succeeded")
	}
	result, _ = srv.handleShellSessionClose(ctx, makeRequest(map[string]any{}))
	if !result.IsError || resultText(result) != errServerRequired {
		t.Errorf("missing server result = %q", resultText(result))
	}
}

func TestHandleShellSessions(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	if _, err := srv.handleShellExec(ctx, makeRequest(map[string]any{"server": "web-2", "command": "uptime", "worker": "w1"})); err != nil {
		t.Fatal(err)
	}

	result, err := srv.handleShellSessions(ctx, makeRequest(map[string]any{"server": "web-2"}))
	if err != nil {
		t.Fatal(err)
	}
	var got struct {
		Connected bool `json:"connected"`
		Sessions  []struct {
			Name     string `json:"name"`
			State    string `json:"state"`
			Commands int    `json:"commands"`
		} `json:"sessions"`
	}
	if err := json.Unmarshal([]byte(resultText(result)), &got); err != nil {
		t.Fatalf("parse: %v (%s)", err, resultText(result))
	}
	if !got.Connected || len(got.Sessions) != 1 {
		t.Fatalf("sessions = %+v", got)
	}
	if s := got.Sessions[0]; s.Name != "mcp-w1" || s.State != string(shell.StateIdle) || s.Commands != 1 {
		t.Errorf("session = %+v", s)
	}

	result, _ = srv.handleShellSessions(ctx, makeRequest(map[string]any{"server": "web-1"}))
	if !strings.Contains(resultText(result), `"sessions": []`) {
		t.Errorf("idle server result = %s", resultText(result))
	}

	result, _ = srv.handleShellSessions(ctx, makeRequest(map[string]any{"server": "nope"}))
	if !result.IsError {
		t.Error("unknown server accepted")
	}
}

func TestHandleShellStatus(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	if _, err := srv.handleShellExec(ctx, makeRequest(map[string]any{"server": "web-1", "command": "uptime"})); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		pattern string
		want    []string
	}{
		{"", []string{"web-1", "web-2", "db"}},
		{"web-*", []string{"web-1", "web-2"}},
		{"db", []string{"db"}},
		{"cache-*", nil},
	}
	for _, tt := range tests {
		args := map[string]any{}
		if tt.pattern != "" {
			args["servers"] = tt.pattern
		}
		result, err := srv.handleShellStatus(ctx, makeRequest(args))
		if err != nil {
			t.Fatal(err)
		}
		var got struct {
			Servers []session.ServerStatus `json:"servers"`
		}
		if err := json.Unmarshal([]byte(resultText(result)), &got); err != nil {
			t.Fatalf("parse: %v", err)
		}
		var names []string
		for _, s := range got.Servers {
			names = append(names, s.Name)
			if wantConnected := s.Name == "web-1"; s.Connected != wantConnected {
				t.Errorf("%s connected = %v", s.Name, s.Connected)
			}
		}
		if strings.Join(names, ",") != strings.Join(tt.want, ",") {
			t.Errorf("servers(%q) = %v, want %v", tt.pattern, names, tt.want)
		}
	}

	result, _ := srv.handleShellStatus(ctx, makeRequest(map[string]any{"servers": "[oops"}))
	if !result.IsError {
		t.Error("invalid pattern accepted")
	}
}

func TestUpdateConfig(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	if _, err := srv.handleShellExec(ctx, makeRequest(map[string]any{"server": "db", "command": "uptime"})); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig()
	cfg.Servers = cfg.Servers[:2]
	srv.UpdateConfig(cfg)

	result, _ := srv.handleShellExec(ctx, makeRequest(map[string]any{"server": "db", "command": "uptime"}))
	if !result.IsError || !strings.Contains(resultText(result), "unknown server") {
		t.Errorf("removed server still usable: %s", resultText(result))
	}
}

func TestTruncateOutput(t *testing.T) {
	output := "l1\nl2\nl3\nl4\nl5"
	tests := []struct {
		name          string
		tail, head    int
		want          string
		wantTruncated bool
		wantShown     int
	}{
		{"none", 0, 0, output, false, 5},
		{"tail", 2, 0, "l4\nl5", true, 2},
		{"head", 0, 3, "l1\nl2\nl3", true, 3},
		{"tail beyond total", 9, 0, output, false, 5},
		{"head beyond total", 0, 9, output, false, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, truncated, total, shown := truncateOutput(output, tt.tail, tt.head)
			if got != tt.want || truncated != tt.wantTruncated || total != 5 || shown != tt.wantShown {
				t.Errorf("truncateOutput() = %q, %v, %d, %d", got, truncated, total, shown)
			}
		})
	}

	if got, truncated, total, shown := truncateOutput("", 1, 0); got != "" || truncated || total != 0 || shown != 0 {
		t.Errorf("truncateOutput(empty) = %q, %v, %d, %d", got, truncated, total, shown)
	}
}

func TestToolDefinitions(t *testing.T) {
	tools := []mcpgo.Tool{shellExecTool(), shellSessionCloseTool(), shellSessionsTool(), shellStatusTool()}
	want := []string{"shell_exec", "shell_session_close", "shell_sessions", "shell_status"}
	for i, tool := range tools {
		if tool.Name != want[i] {
			t.Errorf("tool %d name = %q, want %q", i, tool.Name, want[i])
		}
		if tool.Description == "" {
			t.Errorf("%s has no description", tool.Name)
		}
	}

	required := shellExecTool().InputSchema.Required
	if strings.Join(required, ",") != "server,command" {
		t.Errorf("shell_exec required = %v", required)
	}
}
