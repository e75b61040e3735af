package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func parseLogOutput(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse log output: %v\nraw: %s", err, buf.String())
	}
	return result
}

func newTestLogger(buf *bytes.Buffer, sanitize bool) *slog.Logger {
	inner := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(NewSanitizingHandler(inner, sanitize))
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello world", 5, "hello..."},
		{"", 10, ""},
		{"hello", 0, "..."},
		{"hello", -1, "..."},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestSanitizingHandler_Enabled_DelegatesToInner(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})
	handler := NewSanitizingHandler(inner, true)
	ctx := context.Background()

	if handler.Enabled(ctx, slog.LevelInfo) {
		t.Error("expected info to be disabled")
	}
	if !handler.Enabled(ctx, slog.LevelWarn) {
		t.Error("expected warn to be enabled")
	}
}

func TestHandle_RedactsSensitiveKeys(t *testing.T) {
	keys := []string{"password", "secret", "token", "key", "credential", "passphrase", "auth", "SSH_PASSWORD", "api_token_v2"}

	for _, key := range keys {
		t.Run(key, func(t *testing.T) {
			var buf bytes.Buffer
			newTestLogger(&buf, true).Info("test", slog.String(key, "sensitive-value"))

			result := parseLogOutput(t, &buf)
			if result[key] != redacted {
				t.Errorf("key %q = %v, want %s", key, result[key], redacted)
			}
		})
	}
}

func TestHandle_PassesThrough(t *testing.T) {
	var buf bytes.Buffer
	newTestLogger(&buf, true).Warn("something happened",
		slog.String("command", "ls -l"),
		slog.String("password", "hunter2"),
		slog.Int("bytes", 12),
	)

	result := parseLogOutput(t, &buf)
	if result["msg"] != "something happened" || result["level"] != "WARN" {
		t.Errorf("msg/level = %v/%v", result["msg"], result["level"])
	}
	if result["command"] != "ls -l" {
		t.Errorf("command = %v", result["command"])
	}
	if result["bytes"] != float64(12) {
		t.Errorf("bytes = %v", result["bytes"])
	}
	if strings.Contains(buf.String(), "hunter2") {
		t.Error("password leaked into the log")
	}
}

func TestHandle_SanitizeFalse(t *testing.T) {
	var buf bytes.Buffer
	newTestLogger(&buf, false).Info("test", slog.String("password", "hunter2"))

	if result := parseLogOutput(t, &buf); result["password"] != "hunter2" {
		t.Errorf("password = %v, want it untouched", result["password"])
	}
}

func TestWithAttrs_Redacts(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, true).With(slog.String("token", "abc"), slog.String("target", "ssh://u@h:22"))
	logger.Info("connected")

	result := parseLogOutput(t, &buf)
	if result["token"] != redacted {
		t.Errorf("token = %v, want redacted", result["token"])
	}
	if result["target"] != "ssh://u@h:22" {
		t.Errorf("target = %v", result["target"])
	}
}

func TestGroups_Redacted(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, true).WithGroup("ssh")
	logger.Info("auth",
		slog.Group("server", slog.String("host", "h"), slog.String("password", "pw")),
		slog.String("passphrase", "pp"),
	)

	result := parseLogOutput(t, &buf)
	ssh, ok := result["ssh"].(map[string]any)
	if !ok {
		t.Fatalf("ssh group missing: %s", buf.String())
	}
	if ssh["passphrase"] != redacted {
		t.Errorf("passphrase = %v", ssh["passphrase"])
	}
	server, ok := ssh["server"].(map[string]any)
	if !ok {
		t.Fatalf("server group missing: %s", buf.String())
	}
	if server["host"] != "h" || server["password"] != redacted {
		t.Errorf("server = %v", server)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"unknown", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew_Formats(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "info", "text", true).Info("hello", slog.String("secret", "s"))
	out := buf.String()
	if !strings.Contains(out, "msg=hello") || !strings.Contains(out, "secret="+redacted) {
		t.Errorf("text output = %q", out)
	}

	buf.Reset()
	New(&buf, "info", "json", true).Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug written at info level: %q", buf.String())
	}
	New(&buf, "debug", "json", true).Debug("shown")
	if parseLogOutput(t, &buf)["msg"] != "shown" {
		t.Errorf("json output = %q", buf.String())
	}
}

func TestSetup_InstallsDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := Setup(&buf, "warn", "json", true)
	if slog.Default() != logger {
		t.Error("Setup() did not install the logger as default")
	}
	if slog.Default().Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info enabled after Setup(warn)")
	}
}
