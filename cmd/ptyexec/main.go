// ptyexec runs commands in persistent interactive shells on configured
// servers, from the command line or as an MCP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/acolita/ptyexec/internal/adapters/realdialog"
	"github.com/acolita/ptyexec/internal/adapters/realfs"
	"github.com/acolita/ptyexec/internal/config"
	"github.com/acolita/ptyexec/internal/credential"
	"github.com/acolita/ptyexec/internal/logging"
	"github.com/acolita/ptyexec/internal/mcp"
	"github.com/acolita/ptyexec/internal/session"
	"github.com/acolita/ptyexec/internal/shell"
	"github.com/acolita/ptyexec/internal/tracing"
)

// Version information - set at build time.
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

type options struct {
	configPath  string
	servers     string
	serveMCP    bool
	debug       bool
	showVersion bool
	timeout     time.Duration
	expect      string
	contains    string
	worker      string
}

func main() {
	os.Exit(run())
}

func run() int {
	var opts options
	flag.StringVar(&opts.configPath, "config", config.DefaultConfigPath(), "Path to configuration file")
	flag.StringVar(&opts.servers, "server", "", "Glob selecting the servers to run on, e.g. 'web-*'")
	flag.BoolVar(&opts.serveMCP, "mcp", false, "Serve MCP on stdio instead of running a command")
	flag.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&opts.showVersion, "version", false, "Show version information")
	flag.DurationVar(&opts.timeout, "timeout", 0, "Command timeout (default from config)")
	flag.StringVar(&opts.expect, "expect", "exit_code", "Completion check: exit_code or none")
	flag.StringVar(&opts.contains, "contains", "", "Return as soon as the output contains this text")
	flag.StringVar(&opts.worker, "worker", "cli", "Session name used on every server")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: ptyexec [flags] -server PATTERN COMMAND...\n       ptyexec [flags] -mcp\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if opts.showVersion {
		fmt.Printf("ptyexec version %s\n", Version)
		fmt.Printf("  Build time: %s\n", BuildTime)
		fmt.Printf("  Git commit: %s\n", GitCommit)
		return 0
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	logger := logging.Setup(os.Stderr, cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Sanitize)
	if cfg.Tracing.Enabled {
		if err := tracing.Init("ptyexec", Version, cfg.Tracing.Output); err != nil {
			logger.Warn("tracing disabled", slog.String("error", err.Error()))
		}
		defer tracing.Shutdown(context.Background())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if opts.serveMCP {
		err = serveMCP(cfg, opts, logger)
	} else {
		err = runCLI(ctx, cfg, opts, flag.Args(), logger)
	}
	if err != nil {
		if !errors.Is(err, errCommandsFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func loadConfig(opts options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	applyFlags(cfg, opts)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyFlags lets command line flags win over the file and environment.
func applyFlags(cfg *config.Config, opts options) {
	if opts.debug {
		cfg.Logging.Level = "debug"
	}
	if opts.timeout > 0 {
		cfg.Shell.Timeout = opts.timeout
	}
}

func serveMCP(cfg *config.Config, opts options, logger *slog.Logger) error {
	// Stdin carries the protocol, so there is nobody to prompt.
	resolver := credential.NewResolver(realfs.New(),
		credential.WithKeyring(credential.NewKeyringStore()),
		credential.WithLogger(logger),
	)
	manager := session.NewManager(cfg, session.WithCredentials(resolver), session.WithLogger(logger))
	server := mcp.NewServer(cfg, mcp.WithSessionManager(manager), mcp.WithLogger(logger))
	defer server.Close()

	logger.Info("starting ptyexec", slog.String("version", Version), slog.Int("servers", len(cfg.Servers)))

	if _, err := os.Stat(opts.configPath); err == nil {
		watcher, err := config.NewWatcher(opts.configPath, logger, func(newCfg *config.Config) {
			applyFlags(newCfg, opts)
			server.UpdateConfig(newCfg)
		})
		if err != nil {
			logger.Warn("config hot-reload disabled", slog.String("error", err.Error()))
		} else {
			defer watcher.Close()
			logger.Info("config hot-reload enabled", slog.String("path", opts.configPath))
		}
	}

	return server.Run()
}

var errCommandsFailed = errors.New("command failed")

func runCLI(ctx context.Context, cfg *config.Config, opts options, args []string, logger *slog.Logger) error {
	if opts.servers == "" || len(args) == 0 {
		flag.Usage()
		return errors.New("a server pattern and a command are required")
	}
	expect, err := cliExpectation(opts.expect, opts.contains)
	if err != nil {
		return err
	}

	resolver := credential.NewResolver(realfs.New(),
		credential.WithKeyring(credential.NewKeyringStore()),
		credential.WithPrompter(realdialog.New()),
		credential.WithLogger(logger),
	)
	manager := session.NewManager(cfg, session.WithCredentials(resolver), session.WithLogger(logger))
	defer manager.Close()

	ctx = shell.WithCaller(ctx, shell.Caller{Origin: "cli", Worker: opts.worker})
	return runCommand(ctx, manager, opts.servers, strings.Join(args, " "), expect, opts.timeout, os.Stdout, os.Stderr)
}

func cliExpectation(kind, contains string) (shell.Expectation, error) {
	if contains != "" {
		return shell.Contains(contains), nil
	}
	switch kind {
	case "", "exit_code":
		return shell.ExitCodeZero(), nil
	case "none":
		return shell.NoCheck(), nil
	}
	return shell.Expectation{}, fmt.Errorf("unknown -expect %q, want exit_code or none", kind)
}

// runCommand runs command on every server matching pattern, one after the
// other. Output is prefixed with the server name when several match.
func runCommand(ctx context.Context, manager *session.Manager, pattern, command string,
	expect shell.Expectation, timeout time.Duration, stdout, stderr io.Writer) error {
	servers, err := manager.Config().MatchServers(pattern)
	if err != nil {
		return err
	}
	if len(servers) == 0 {
		return fmt.Errorf("no server matches %q", pattern)
	}

	failed := false
	for _, server := range servers {
		prefix := ""
		if len(servers) > 1 {
			prefix = "[" + server.Name + "] "
		}

		out, err := execute(ctx, manager, server.Name, command, expect, timeout)
		if out != "" {
			for _, line := range strings.Split(out, "\n") {
				fmt.Fprintln(stdout, prefix+line)
			}
		}
		if err != nil {
			failed = true
			fmt.Fprintf(stderr, "%s%s\n", prefix, describe(err))
		}
	}
	if failed {
		return errCommandsFailed
	}
	return nil
}

func execute(ctx context.Context, manager *session.Manager, name, command string,
	expect shell.Expectation, timeout time.Duration) (string, error) {
	exec, err := manager.Executor(ctx, name)
	if err != nil {
		return "", err
	}

	out, err := exec.Execute(ctx, command, expect, timeout)
	var cmdErr *shell.CommandError
	var timeoutErr *shell.TimeoutError
	switch {
	case errors.As(err, &cmdErr):
		return cmdErr.Output, err
	case errors.As(err, &timeoutErr):
		return timeoutErr.Output, err
	}
	return out, err
}

// describe renders err as one line; the output is printed separately.
func describe(err error) string {
	var cmdErr *shell.CommandError
	var timeoutErr *shell.TimeoutError
	switch {
	case errors.As(err, &cmdErr):
		return "exit code " + cmdErr.ReturnCode
	case errors.As(err, &timeoutErr):
		return "timed out after " + timeoutErr.After.String()
	}
	return "error: " + err.Error()
}
