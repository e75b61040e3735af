// Package config handles configuration parsing for ptyexec.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/acolita/ptyexec/internal/adapters/realfs"
	"github.com/acolita/ptyexec/internal/ports"
)

// EnvPrefix prefixes the environment variables that override the file.
const EnvPrefix = "PTYEXEC"

// Transport names accepted in ServerConfig.Transport.
const (
	TransportSSH   = "ssh"
	TransportLocal = "local"
)

// DefaultConfigPath returns the default config file path:
// $XDG_CONFIG_HOME/ptyexec/config.yaml or ~/.config/ptyexec/config.yaml
func DefaultConfigPath(fsys ...ports.FileSystem) string {
	f := pick(fsys)
	dir := f.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := f.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "ptyexec", "config.yaml")
}

// Config represents the top-level configuration.
type Config struct {
	Servers []ServerConfig `yaml:"servers"`
	Shell   ShellConfig    `yaml:"shell"`
	SSH     SSHConfig      `yaml:"ssh"`
	Logging LoggingConfig  `yaml:"logging"`
	Tracing TracingConfig  `yaml:"tracing"`
}

// ServerConfig defines a target account.
type ServerConfig struct {
	Name      string     `yaml:"name"`
	Transport string     `yaml:"transport,omitempty"` // "ssh" (default) or "local"
	Host      string     `yaml:"host"`
	Port      int        `yaml:"port,omitempty"`
	User      string     `yaml:"user"`
	Auth      AuthConfig `yaml:"auth,omitempty"`
}

// AuthConfig defines authentication settings.
type AuthConfig struct {
	KeyPath       string `yaml:"key_path,omitempty"`       // path to key file
	PassphraseEnv string `yaml:"passphrase_env,omitempty"` // env var containing key passphrase
	PasswordEnv   string `yaml:"password_env,omitempty"`   // env var containing SSH password
	UseAgent      bool   `yaml:"use_agent,omitempty"`      // ask the agent at SSH_AUTH_SOCK
	Keyring       bool   `yaml:"keyring,omitempty"`        // look the password up in the OS keyring
}

// ShellConfig defines how shells are driven.
type ShellConfig struct {
	Prompt       string            `yaml:"prompt,omitempty"`
	Env          map[string]string `yaml:"env,omitempty"`
	Timeout      time.Duration     `yaml:"timeout"`
	PollInterval time.Duration     `yaml:"poll_interval,omitempty"`
	ChunkSize    int               `yaml:"chunk_size,omitempty"`
	ProfileDir   string            `yaml:"profile_dir,omitempty"`
	Term         string            `yaml:"term,omitempty"`
	Cols         int               `yaml:"cols,omitempty"`
	Rows         int               `yaml:"rows,omitempty"`
	Path         string            `yaml:"path,omitempty"`  // local shell, defaults to $SHELL
	NoRC         bool              `yaml:"no_rc,omitempty"` // local shell skips its rc files
}

// SSHConfig defines settings shared by every SSH server.
type SSHConfig struct {
	KnownHosts            string        `yaml:"known_hosts,omitempty"`
	InsecureIgnoreHostKey bool          `yaml:"insecure_ignore_host_key,omitempty"`
	ConfigPath            string        `yaml:"config_path,omitempty"` // ssh config consulted for IdentityFile
	ConnectTimeout        time.Duration `yaml:"connect_timeout"`
	KeepaliveInterval     time.Duration `yaml:"keepalive_interval"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level    string `yaml:"level"`    // "debug", "info", "warn", "error"
	Format   string `yaml:"format"`   // "json" or "text"
	Sanitize bool   `yaml:"sanitize"` // sanitize sensitive data from logs
}

// TracingConfig defines OpenTelemetry settings.
type TracingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Output  string `yaml:"output,omitempty"` // "stderr", "stdout" or a file path
}

// envOverlay lists the settings that can be overridden from the environment,
// e.g. PTYEXEC_LOG_LEVEL=debug.
type envOverlay struct {
	LogLevel              string        `split_words:"true"`
	LogFormat             string        `split_words:"true"`
	KnownHosts            string        `split_words:"true"`
	InsecureIgnoreHostKey *bool         `split_words:"true"`
	Prompt                string
	ProfileDir            string        `split_words:"true"`
	Timeout               time.Duration
	Tracing               *bool
	TraceOutput           string        `split_words:"true"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Shell: ShellConfig{
			Timeout: 10 * time.Second,
		},
		SSH: SSHConfig{
			ConnectTimeout:    30 * time.Second,
			KeepaliveInterval: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Sanitize: true,
		},
		Tracing: TracingConfig{
			Output: "stderr",
		},
	}
}

func pick(fsys []ports.FileSystem) ports.FileSystem {
	if len(fsys) > 0 && fsys[0] != nil {
		return fsys[0]
	}
	return realfs.New()
}

// Load loads configuration from a YAML file and applies PTYEXEC_*
// environment overrides. A missing file yields the defaults.
// An optional FileSystem can be passed for testing; if omitted, the real OS is used.
func Load(path string, fsys ...ports.FileSystem) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := pick(fsys).ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var env envOverlay
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}

	if env.LogLevel != "" {
		c.Logging.Level = env.LogLevel
	}
	if env.LogFormat != "" {
		c.Logging.Format = env.LogFormat
	}
	if env.KnownHosts != "" {
		c.SSH.KnownHosts = env.KnownHosts
	}
	if env.InsecureIgnoreHostKey != nil {
		c.SSH.InsecureIgnoreHostKey = *env.InsecureIgnoreHostKey
	}
	if env.Prompt != "" {
		c.Shell.Prompt = env.Prompt
	}
	if env.ProfileDir != "" {
		c.Shell.ProfileDir = env.ProfileDir
	}
	if env.Timeout > 0 {
		c.Shell.Timeout = env.Timeout
	}
	if env.Tracing != nil {
		c.Tracing.Enabled = *env.Tracing
	}
	if env.TraceOutput != "" {
		c.Tracing.Output = env.TraceOutput
	}
	return nil
}

// Validate fills in defaults and rejects unusable settings.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Servers))
	for i := range c.Servers {
		s := &c.Servers[i]
		if s.Name == "" {
			return fmt.Errorf("server %d: name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("server %q defined twice", s.Name)
		}
		seen[s.Name] = true

		switch s.Transport {
		case "":
			s.Transport = TransportSSH
		case TransportSSH, TransportLocal:
		default:
			return fmt.Errorf("server %q: unknown transport %q", s.Name, s.Transport)
		}
		if s.Transport == TransportSSH {
			if s.Host == "" {
				return fmt.Errorf("server %q: host is required", s.Name)
			}
			if s.User == "" {
				return fmt.Errorf("server %q: user is required", s.Name)
			}
		}
		if s.Port == 0 && s.Transport == TransportSSH {
			s.Port = 22
		}
		if s.Port < 0 || s.Port > 65535 {
			return fmt.Errorf("server %q: invalid port %d", s.Name, s.Port)
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format %q", c.Logging.Format)
	}

	if c.Shell.Timeout <= 0 {
		return fmt.Errorf("shell timeout must be positive, got %s", c.Shell.Timeout)
	}
	if c.Shell.ChunkSize < 0 || c.Shell.Cols < 0 || c.Shell.Rows < 0 {
		return errors.New("shell chunk_size, cols and rows must not be negative")
	}
	return nil
}

// Server returns the server called name.
func (c *Config) Server(name string) (ServerConfig, bool) {
	for _, s := range c.Servers {
		if s.Name == name {
			return s, true
		}
	}
	return ServerConfig{}, false
}

// MatchServers returns the servers whose name matches the glob pattern, in
// configuration order.
func (c *Config) MatchServers(pattern string) ([]ServerConfig, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid server pattern %q", pattern)
	}

	var matched []ServerConfig
	for _, s := range c.Servers {
		if ok, _ := doublestar.Match(pattern, s.Name); ok {
			matched = append(matched, s)
		}
	}
	return matched, nil
}

// AddServer adds a server to the configuration.
// Returns an error if a server with the same name already exists.
func (c *Config) AddServer(server ServerConfig) error {
	if _, ok := c.Server(server.Name); ok {
		return fmt.Errorf("server %q already exists", server.Name)
	}
	c.Servers = append(c.Servers, server)
	return nil
}

// Save writes the configuration to a YAML file.
// An optional FileSystem can be passed for testing; if omitted, the real OS is used.
func Save(cfg *Config, path string, fsys ...ports.FileSystem) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	f := pick(fsys)
	if err := f.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return f.WriteFile(path, data, 0o600)
}
