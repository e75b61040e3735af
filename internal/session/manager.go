// Package session keeps one shell executor per configured server. Executors
// are connected on first use and replaced when their connection dies or the
// server's configuration changes.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/acolita/ptyexec/internal/config"
	"github.com/acolita/ptyexec/internal/ports"
	"github.com/acolita/ptyexec/internal/pty"
	"github.com/acolita/ptyexec/internal/shell"
	"github.com/acolita/ptyexec/internal/ssh"
)

// ErrUnknownServer is returned for names missing from the configuration.
var ErrUnknownServer = errors.New("unknown server")

// Credentials supplies the secrets a server needs.
type Credentials interface {
	Password(server config.ServerConfig) (string, error)
	Passphrase(server config.ServerConfig) (string, error)
}

// TransportFactory builds the transport used to reach server.
type TransportFactory func(cfg *config.Config, server config.ServerConfig, passphrase string, logger *slog.Logger) (ports.Transport, error)

// Manager manages the executors of the configured servers.
type Manager struct {
	mu     sync.Mutex
	config *config.Config
	slots  map[string]*slot

	credentials  Credentials
	newTransport TransportFactory
	execOpts     []shell.Option
	logger       *slog.Logger
}

// slot serializes connecting to one server without blocking the others.
type slot struct {
	mu     sync.Mutex
	server config.ServerConfig
	exec   *shell.Executor
}

// Option configures a Manager.
type Option func(*Manager)

// WithCredentials sets where passwords and passphrases come from.
func WithCredentials(c Credentials) Option {
	return func(m *Manager) { m.credentials = c }
}

// WithTransportFactory replaces DefaultTransport.
func WithTransportFactory(f TransportFactory) Option {
	return func(m *Manager) { m.newTransport = f }
}

// WithExecutorOptions appends options given to every executor after the
// ones derived from the shell configuration.
func WithExecutorOptions(opts ...shell.Option) Option {
	return func(m *Manager) { m.execOpts = append(m.execOpts, opts...) }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a manager for the servers of cfg.
func NewManager(cfg *config.Config, opts ...Option) *Manager {
	m := &Manager{
		config:       cfg,
		slots:        make(map[string]*slot),
		newTransport: DefaultTransport,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DefaultTransport returns an SSH transport, or a local PTY transport for
// servers with transport "local".
func DefaultTransport(cfg *config.Config, server config.ServerConfig, passphrase string, logger *slog.Logger) (ports.Transport, error) {
	switch server.Transport {
	case config.TransportLocal:
		return pty.NewTransport(pty.PTYOptions{Shell: cfg.Shell.Path, NoRC: cfg.Shell.NoRC}), nil
	case config.TransportSSH, "":
		return ssh.NewTransport(ssh.TransportOptions{
			Auth: ssh.AuthConfig{
				KeyPath:       server.Auth.KeyPath,
				KeyPassphrase: passphrase,
				UseAgent:      server.Auth.UseAgent,
				ConfigPath:    cfg.SSH.ConfigPath,
			},
			KnownHostsPath:        cfg.SSH.KnownHosts,
			InsecureIgnoreHostKey: cfg.SSH.InsecureIgnoreHostKey,
			Timeout:               cfg.SSH.ConnectTimeout,
			KeepaliveInterval:     cfg.SSH.KeepaliveInterval,
			Logger:                logger,
		}), nil
	}
	return nil, fmt.Errorf("server %q: unknown transport %q", server.Name, server.Transport)
}

// Config returns the configuration in use.
func (m *Manager) Config() *config.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// Executor returns the connected executor of the server called name,
// connecting it first if needed.
func (m *Manager) Executor(ctx context.Context, name string) (*shell.Executor, error) {
	m.mu.Lock()
	cfg := m.config
	server, ok := cfg.Server(name)
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrUnknownServer, name)
	}
	s, ok := m.slots[name]
	if !ok {
		s = &slot{server: server}
		m.slots[name] = s
	}
	m.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exec != nil && !s.exec.Closed() && s.server == server {
		return s.exec, nil
	}
	if s.exec != nil {
		m.logger.Info("reconnecting", slog.String("server", name))
		if err := s.exec.Close(); err != nil {
			m.logger.Warn("closing stale executor", slog.String("server", name), slog.String("error", err.Error()))
		}
		s.exec = nil
	}

	exec, err := m.connect(ctx, cfg, server)
	if err != nil {
		return nil, err
	}
	s.server = server
	s.exec = exec
	return exec, nil
}

func (m *Manager) connect(ctx context.Context, cfg *config.Config, server config.ServerConfig) (*shell.Executor, error) {
	var password, passphrase string
	if m.credentials != nil {
		var err error
		if password, err = m.credentials.Password(server); err != nil {
			return nil, err
		}
		if passphrase, err = m.credentials.Passphrase(server); err != nil {
			return nil, err
		}
	}

	logger := m.logger.With(slog.String("server", server.Name))
	transport, err := m.newTransport(cfg, server, passphrase, logger)
	if err != nil {
		return nil, err
	}

	exec := shell.New(transport, m.executorOptions(cfg, logger)...)
	target := ports.Target{Host: server.Host, Port: server.Port, User: server.User, Credential: password}
	if err := exec.Connect(ctx, target); err != nil {
		return nil, err
	}
	return exec, nil
}

func (m *Manager) executorOptions(cfg *config.Config, logger *slog.Logger) []shell.Option {
	sh := cfg.Shell
	opts := []shell.Option{
		shell.WithLogger(logger),
		shell.WithPrompt(sh.Prompt),
		shell.WithEnv(sh.Env),
		shell.WithProfileDir(sh.ProfileDir),
		shell.WithTerminal(sh.Term, sh.Cols, sh.Rows),
		shell.WithPollInterval(sh.PollInterval),
		shell.WithChunkSize(sh.ChunkSize),
		shell.WithDefaultTimeout(sh.Timeout),
	}
	return append(opts, m.execOpts...)
}

// Disconnect closes the executor of the server called name, if any.
func (m *Manager) Disconnect(name string) error {
	m.mu.Lock()
	s, ok := m.slots[name]
	delete(m.slots, name)
	m.mu.Unlock()
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exec == nil {
		return nil
	}
	err := s.exec.Close()
	s.exec = nil
	return err
}

// Close disconnects every server.
func (m *Manager) Close() error {
	var errs []error
	for _, name := range m.connected() {
		if err := m.Disconnect(name); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) connected() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.slots))
	for name := range m.slots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UpdateConfig switches to cfg. Servers that were removed or whose settings
// changed are disconnected; the rest keep their sessions.
func (m *Manager) UpdateConfig(cfg *config.Config) {
	m.mu.Lock()
	m.config = cfg
	var stale []string
	for name, s := range m.slots {
		server, ok := cfg.Server(name)
		if !ok || server != s.server {
			stale = append(stale, name)
		}
	}
	m.mu.Unlock()

	for _, name := range stale {
		m.logger.Info("server configuration changed, disconnecting", slog.String("server", name))
		if err := m.Disconnect(name); err != nil {
			m.logger.Warn("disconnect failed", slog.String("server", name), slog.String("error", err.Error()))
		}
	}
}

// ServerStatus describes one configured server.
type ServerStatus struct {
	Name      string              `json:"name"`
	Transport string              `json:"transport"`
	Target    string              `json:"target"`
	Connected bool                `json:"connected"`
	Sessions  []shell.SessionInfo `json:"sessions,omitempty"`
}

// Status reports every configured server in configuration order.
func (m *Manager) Status() []ServerStatus {
	m.mu.Lock()
	cfg := m.config
	slots := make(map[string]*slot, len(m.slots))
	for name, s := range m.slots {
		slots[name] = s
	}
	m.mu.Unlock()

	statuses := make([]ServerStatus, 0, len(cfg.Servers))
	for _, server := range cfg.Servers {
		st := ServerStatus{
			Name:      server.Name,
			Transport: server.Transport,
			Target:    shell.TargetURL(ports.Target{Host: server.Host, Port: server.Port, User: server.User}),
		}
		if s, ok := slots[server.Name]; ok {
			s.mu.Lock()
			if s.exec != nil && !s.exec.Closed() {
				st.Connected = true
				st.Sessions = s.exec.Sessions()
			}
			s.mu.Unlock()
		}
		statuses = append(statuses, st)
	}
	return statuses
}
