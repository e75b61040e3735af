// Package credential finds the passwords and key passphrases servers need,
// from the environment, the OS keyring or the person at the terminal.
package credential

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zalando/go-keyring"
)

// KeyringService is the service name used for keyring entries.
const KeyringService = "ptyexec"

// KeyringStore stores secrets in the system keyring (macOS Keychain, Linux
// Secret Service, Windows Credential Manager).
type KeyringStore struct {
	mu      sync.RWMutex
	enabled bool
}

// NewKeyringStore creates a keyring store. If the system keyring is not
// available the store is disabled and every call fails with ErrKeyringDisabled.
func NewKeyringStore() *KeyringStore {
	ks := &KeyringStore{enabled: true}

	const probe = "__ptyexec_probe__"
	if err := keyring.Set(KeyringService, probe, "probe"); err != nil {
		slog.Debug("keyring not available", slog.String("error", err.Error()))
		ks.enabled = false
		return ks
	}
	_ = keyring.Delete(KeyringService, probe)

	slog.Debug("keyring storage enabled")
	return ks
}

// ErrKeyringDisabled is returned when the system keyring cannot be used.
var ErrKeyringDisabled = errors.New("keyring not available")

// IsEnabled reports whether the keyring is usable.
func (ks *KeyringStore) IsEnabled() bool {
	if ks == nil {
		return false
	}
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.enabled
}

// SetEnabled turns keyring use on or off.
func (ks *KeyringStore) SetEnabled(enabled bool) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.enabled = enabled
}

func serverKey(host, user string) string { return fmt.Sprintf("server:%s@%s", user, host) }

func passphraseKey(keyPath string) string { return "ssh-passphrase:" + keyPath }

// StoreServerPassword stores the SSH password of user@host.
func (ks *KeyringStore) StoreServerPassword(host, user, password string) error {
	if err := ks.set(serverKey(host, user), password); err != nil {
		return fmt.Errorf("store server password: %w", err)
	}
	slog.Debug("stored server password in keyring", slog.String("user", user), slog.String("host", host))
	return nil
}

// ServerPassword returns the stored password of user@host, or "" when none
// is stored.
func (ks *KeyringStore) ServerPassword(host, user string) (string, error) {
	secret, err := ks.get(serverKey(host, user))
	if err != nil {
		return "", fmt.Errorf("get server password: %w", err)
	}
	return secret, nil
}

// DeleteServerPassword forgets the password of user@host.
func (ks *KeyringStore) DeleteServerPassword(host, user string) error {
	return ks.delete(serverKey(host, user))
}

// StoreSSHPassphrase stores the passphrase of the key at keyPath.
func (ks *KeyringStore) StoreSSHPassphrase(keyPath, passphrase string) error {
	if err := ks.set(passphraseKey(keyPath), passphrase); err != nil {
		return fmt.Errorf("store SSH passphrase: %w", err)
	}
	slog.Debug("stored SSH passphrase in keyring", slog.String("key_path", keyPath))
	return nil
}

// SSHPassphrase returns the stored passphrase of the key at keyPath, or ""
// when none is stored.
func (ks *KeyringStore) SSHPassphrase(keyPath string) (string, error) {
	secret, err := ks.get(passphraseKey(keyPath))
	if err != nil {
		return "", fmt.Errorf("get SSH passphrase: %w", err)
	}
	return secret, nil
}

// DeleteSSHPassphrase forgets the passphrase of the key at keyPath.
func (ks *KeyringStore) DeleteSSHPassphrase(keyPath string) error {
	return ks.delete(passphraseKey(keyPath))
}

// Secrets are base64 encoded so any byte sequence survives the backends.
func (ks *KeyringStore) set(key, secret string) error {
	if !ks.IsEnabled() {
		return ErrKeyringDisabled
	}
	return keyring.Set(KeyringService, key, base64.StdEncoding.EncodeToString([]byte(secret)))
}

func (ks *KeyringStore) get(key string) (string, error) {
	if !ks.IsEnabled() {
		return "", ErrKeyringDisabled
	}
	encoded, err := keyring.Get(KeyringService, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	secret, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	return string(secret), nil
}

func (ks *KeyringStore) delete(key string) error {
	if !ks.IsEnabled() {
		return ErrKeyringDisabled
	}
	if err := keyring.Delete(KeyringService, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
