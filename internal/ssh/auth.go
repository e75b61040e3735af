package ssh

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// defaultKeys are tried in order when nothing else is configured.
var defaultKeys = []string{
	"~/.ssh/id_ed25519",
	"~/.ssh/id_ecdsa",
	"~/.ssh/id_rsa",
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	KeyPath       string // private key file
	KeyPassphrase string // passphrase for an encrypted key
	UseAgent      bool   // ask the agent at SSH_AUTH_SOCK
	Password      string // password and keyboard-interactive answer
	Host          string // host looked up in the ssh config for IdentityFile
	ConfigPath    string // ssh config file, ~/.ssh/config when empty
}

// BuildAuthMethods returns the auth methods for cfg in the order the server
// should try them: agent, key file, ssh config identity, default keys, then
// password.
func BuildAuthMethods(cfg AuthConfig) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if cfg.UseAgent {
		if agentAuth, err := agentAuth(); err == nil {
			methods = append(methods, agentAuth)
		}
	}

	if cfg.KeyPath != "" {
		keyAuth, err := privateKeyAuth(cfg.KeyPath, cfg.KeyPassphrase)
		if err != nil {
			return nil, fmt.Errorf("private key auth: %w", err)
		}
		methods = append(methods, keyAuth)
	}

	if cfg.KeyPath == "" && cfg.Host != "" {
		configPath := cfg.ConfigPath
		if configPath == "" {
			configPath = "~/.ssh/config"
		}
		if identity := identityFileFor(configPath, cfg.Host); identity != "" {
			if keyAuth, err := privateKeyAuth(identity, cfg.KeyPassphrase); err == nil {
				methods = append(methods, keyAuth)
			}
		}
	}

	if cfg.KeyPath == "" && cfg.Password == "" && len(methods) == 0 {
		for _, keyPath := range defaultKeys {
			if keyAuth, err := privateKeyAuth(keyPath, cfg.KeyPassphrase); err == nil {
				methods = append(methods, keyAuth)
				break
			}
		}
	}

	if cfg.Password != "" {
		methods = append(methods, PasswordAuth(cfg.Password), KeyboardInteractiveAuth(cfg.Password))
	}

	if len(methods) == 0 {
		return nil, errors.New("no authentication methods available")
	}
	return methods, nil
}

func agentAuth() (ssh.AuthMethod, error) {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil, errors.New("SSH_AUTH_SOCK not set")
	}

	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, fmt.Errorf("dial agent: %w", err)
	}
	return ssh.PublicKeysCallback(agent.NewClient(conn).Signers), nil
}

func privateKeyAuth(keyPath, passphrase string) (ssh.AuthMethod, error) {
	keyData, err := os.ReadFile(ExpandPath(keyPath))
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(keyData)
	}
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return ssh.PublicKeys(signer), nil
}

// BuildHostKeyCallback verifies host keys against knownHostsPath
// (~/.ssh/known_hosts when empty). insecure skips verification entirely.
func BuildHostKeyCallback(knownHostsPath string, insecure bool) (ssh.HostKeyCallback, error) {
	if insecure {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if knownHostsPath == "" {
		knownHostsPath = "~/.ssh/known_hosts"
	}

	expanded := ExpandPath(knownHostsPath)
	if _, err := os.Stat(expanded); err != nil {
		return nil, fmt.Errorf("known_hosts %s: %w", expanded, err)
	}

	callback, err := knownhosts.New(expanded)
	if err != nil {
		return nil, fmt.Errorf("parse known_hosts: %w", err)
	}
	return callback, nil
}

// ExpandPath expands a leading ~/ to the home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// identityFileFor returns the first IdentityFile of a Host block in the ssh
// config at configPath that matches host.
func identityFileFor(configPath, host string) string {
	file, err := os.Open(ExpandPath(configPath))
	if err != nil {
		return ""
	}
	defer file.Close()

	var matches bool
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		switch strings.ToLower(fields[0]) {
		case "host":
			matches = matchHostPatterns(host, fields[1:])
		case "identityfile":
			if matches {
				return ExpandPath(strings.Join(fields[1:], " "))
			}
		}
	}
	return ""
}

// matchHostPatterns applies ssh config Host patterns (* and ?) to host.
func matchHostPatterns(host string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, host); err == nil && ok {
			return true
		}
	}
	return false
}

// PasswordAuth returns a password auth method.
func PasswordAuth(password string) ssh.AuthMethod {
	return ssh.Password(password)
}

// KeyboardInteractiveAuth answers every keyboard-interactive question with
// password.
func KeyboardInteractiveAuth(password string) ssh.AuthMethod {
	return ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range questions {
			answers[i] = password
		}
		return answers, nil
	})
}
