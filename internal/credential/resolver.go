package credential

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/acolita/ptyexec/internal/config"
	"github.com/acolita/ptyexec/internal/ports"
)

// ErrNoCredential is returned when a server needs a secret and none of the
// sources has it.
var ErrNoCredential = errors.New("no credential available")

// Resolver looks secrets up in order: the environment variable named in the
// server's auth block, the keyring when the server enables it, then the
// prompter. Prompted secrets are saved to the keyring when enabled.
type Resolver struct {
	getenv   func(string) string
	keyring  *KeyringStore
	prompter ports.Prompter
	logger   *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithKeyring enables keyring lookups for servers with auth.keyring set.
func WithKeyring(ks *KeyringStore) Option {
	return func(r *Resolver) { r.keyring = ks }
}

// WithPrompter lets the resolver ask for missing secrets.
func WithPrompter(p ports.Prompter) Option {
	return func(r *Resolver) { r.prompter = p }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// NewResolver creates a Resolver reading environment variables from fsys.
func NewResolver(fsys ports.FileSystem, opts ...Option) *Resolver {
	r := &Resolver{getenv: fsys.Getenv, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Password returns the SSH password for server. Servers that configure no
// password source get "" and no error; key based auth is assumed.
func (r *Resolver) Password(server config.ServerConfig) (string, error) {
	if server.Transport == config.TransportLocal {
		return "", nil
	}
	auth := server.Auth
	if auth.PasswordEnv == "" && !auth.Keyring {
		return "", nil
	}

	lookup := func() (string, error) { return r.keyring.ServerPassword(server.Host, server.User) }
	store := func(s string) error { return r.keyring.StoreServerPassword(server.Host, server.User, s) }
	title := fmt.Sprintf("Password for %s@%s", server.User, server.Host)
	return r.resolve(server.Name, "password", auth.PasswordEnv, auth.Keyring, lookup, store, title)
}

// Passphrase returns the passphrase of the server's private key, or "" when
// the key is not known to be encrypted.
func (r *Resolver) Passphrase(server config.ServerConfig) (string, error) {
	auth := server.Auth
	if auth.KeyPath == "" || (auth.PassphraseEnv == "" && !auth.Keyring) {
		return "", nil
	}

	lookup := func() (string, error) { return r.keyring.SSHPassphrase(auth.KeyPath) }
	store := func(s string) error { return r.keyring.StoreSSHPassphrase(auth.KeyPath, s) }
	title := "Passphrase for " + auth.KeyPath
	secret, err := r.resolve(server.Name, "passphrase", auth.PassphraseEnv, auth.Keyring, lookup, store, title)
	if errors.Is(err, ErrNoCredential) && auth.PassphraseEnv == "" {
		// keyring only: the key may well be unencrypted.
		return "", nil
	}
	return secret, err
}

func (r *Resolver) resolve(name, kind, envVar string, useKeyring bool,
	lookup func() (string, error), store func(string) error, title string) (string, error) {
	logger := r.logger.With(slog.String("server", name), slog.String("kind", kind))

	if envVar != "" {
		if secret := r.getenv(envVar); secret != "" {
			logger.Debug("credential from environment", slog.String("env", envVar))
			return secret, nil
		}
	}

	keyringOK := useKeyring && r.keyring.IsEnabled()
	if keyringOK {
		secret, err := lookup()
		if err != nil {
			logger.Warn("keyring lookup failed", slog.String("error", err.Error()))
		} else if secret != "" {
			logger.Debug("credential from keyring")
			return secret, nil
		}
	}

	if r.prompter == nil {
		return "", fmt.Errorf("server %q %s: %w", name, kind, ErrNoCredential)
	}
	secret, err := r.prompter.Password(title, "server "+name)
	if err != nil {
		return "", fmt.Errorf("server %q %s: %w", name, kind, err)
	}
	if keyringOK {
		if err := store(secret); err != nil {
			logger.Warn("could not save credential to keyring", slog.String("error", err.Error()))
		}
	}
	return secret, nil
}
