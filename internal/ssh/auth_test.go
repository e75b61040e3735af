package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"net"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// writeKey writes a fresh ed25519 private key to dir and returns its path
// and public half.
func writeKey(t *testing.T, dir, name, passphrase string) (string, ssh.PublicKey) {
	t.Helper()

	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	var block *pem.Block
	if passphrase != "" {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(key, "", []byte(passphrase))
	} else {
		block, err = ssh.MarshalPrivateKey(key, "")
	}
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatal(err)
	}

	signer, err := ssh.NewSignerFromKey(key)
	if err != nil {
		t.Fatal(err)
	}
	return path, signer.PublicKey()
}

// emptyHome points HOME at an empty directory so default keys and the
// agent stay out of the way.
func emptyHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("SSH_AUTH_SOCK", "")
	return home
}

func TestBuildAuthMethods(t *testing.T) {
	emptyHome(t)
	dir := t.TempDir()
	plain, _ := writeKey(t, dir, "plain", "")
	locked, _ := writeKey(t, dir, "locked", "secret")

	tests := []struct {
		name    string
		cfg     AuthConfig
		want    int
		wantErr bool
	}{
		{name: "nothing configured", cfg: AuthConfig{}, wantErr: true},
		{name: "password", cfg: AuthConfig{Password: "pw"}, want: 2},
		{name: "key", cfg: AuthConfig{KeyPath: plain}, want: 1},
		{name: "key and password", cfg: AuthConfig{KeyPath: plain, Password: "pw"}, want: 3},
		{name: "encrypted key", cfg: AuthConfig{KeyPath: locked, KeyPassphrase: "secret"}, want: 1},
		{name: "encrypted key wrong passphrase", cfg: AuthConfig{KeyPath: locked, KeyPassphrase: "nope"}, wantErr: true},
		{name: "missing key", cfg: AuthConfig{KeyPath: filepath.Join(dir, "missing")}, wantErr: true},
		{name: "agent without socket", cfg: AuthConfig{UseAgent: true, Password: "pw"}, want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			methods, err := BuildAuthMethods(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("BuildAuthMethods() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(methods) != tt.want {
				t.Errorf("BuildAuthMethods() returned %d methods, want %d", len(methods), tt.want)
			}
		})
	}
}

func TestBuildAuthMethods_DefaultKey(t *testing.T) {
	home := emptyHome(t)
	sshDir := filepath.Join(home, ".ssh")
	if err := os.MkdirAll(sshDir, 0o700); err != nil {
		t.Fatal(err)
	}
	writeKey(t, sshDir, "id_ecdsa", "")

	methods, err := BuildAuthMethods(AuthConfig{})
	if err != nil {
		t.Fatalf("BuildAuthMethods() error = %v", err)
	}
	if len(methods) != 1 {
		t.Errorf("BuildAuthMethods() returned %d methods, want 1", len(methods))
	}
}

func TestBuildAuthMethods_ConfigIdentity(t *testing.T) {
	emptyHome(t)
	dir := t.TempDir()
	key, _ := writeKey(t, dir, "deploy", "")

	config := filepath.Join(dir, "config")
	content := "# hosts\nHost *.example.com db?\n  User deploy\n  IdentityFile " + key + "\n"
	if err := os.WriteFile(config, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	methods, err := BuildAuthMethods(AuthConfig{Host: "web.example.com", ConfigPath: config})
	if err != nil {
		t.Fatalf("BuildAuthMethods() error = %v", err)
	}
	if len(methods) != 1 {
		t.Errorf("BuildAuthMethods() returned %d methods, want 1", len(methods))
	}

	if _, err := BuildAuthMethods(AuthConfig{Host: "other.org", ConfigPath: config}); err == nil {
		t.Error("BuildAuthMethods() for an unmatched host should fail without other methods")
	}
}

func TestIdentityFileFor(t *testing.T) {
	dir := t.TempDir()
	config := filepath.Join(dir, "config")
	content := `Host bastion
    IdentityFile /keys/bastion

Host *.prod.internal web-?
    IdentityFile /keys/prod
    IdentityFile /keys/second

Host *
    IdentityFile /keys/fallback
`
	if err := os.WriteFile(config, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		host string
		want string
	}{
		{"bastion", "/keys/bastion"},
		{"db.prod.internal", "/keys/prod"},
		{"web-1", "/keys/prod"},
		{"web-10", "/keys/fallback"},
		{"anything", "/keys/fallback"},
	}
	for _, tt := range tests {
		if got := identityFileFor(config, tt.host); got != tt.want {
			t.Errorf("identityFileFor(%q) = %q, want %q", tt.host, got, tt.want)
		}
	}

	if got := identityFileFor(filepath.Join(dir, "missing"), "bastion"); got != "" {
		t.Errorf("identityFileFor(missing config) = %q, want empty", got)
	}
}

func TestMatchHostPatterns(t *testing.T) {
	tests := []struct {
		host     string
		patterns []string
		want     bool
	}{
		{"web.example.com", []string{"*.example.com"}, true},
		{"example.com", []string{"*.example.com"}, false},
		{"db1", []string{"db?"}, true},
		{"db12", []string{"db?"}, false},
		{"x", []string{"a", "b", "x"}, true},
		{"x", nil, false},
	}
	for _, tt := range tests {
		if got := matchHostPatterns(tt.host, tt.patterns); got != tt.want {
			t.Errorf("matchHostPatterns(%q, %v) = %v, want %v", tt.host, tt.patterns, got, tt.want)
		}
	}
}

func TestBuildHostKeyCallback(t *testing.T) {
	dir := t.TempDir()
	_, pub := writeKey(t, dir, "host", "")
	_, other := writeKey(t, dir, "other", "")

	knownHosts := filepath.Join(dir, "known_hosts")
	line := knownhosts.Line([]string{knownhosts.Normalize("server.test:22")}, pub) + "\n"
	if err := os.WriteFile(knownHosts, []byte(line), 0o600); err != nil {
		t.Fatal(err)
	}

	callback, err := BuildHostKeyCallback(knownHosts, false)
	if err != nil {
		t.Fatalf("BuildHostKeyCallback() error = %v", err)
	}

	addr := &net.TCPAddr{IP: net.ParseIP("10.0.0.1"), Port: 22}
	if err := callback("server.test:22", addr, pub); err != nil {
		t.Errorf("known key rejected: %v", err)
	}
	if err := callback("server.test:22", addr, other); err == nil {
		t.Error("changed key accepted")
	}
	if err := callback("unknown.test:22", addr, pub); err == nil {
		t.Error("unknown host accepted")
	}

	if _, err := BuildHostKeyCallback(filepath.Join(dir, "missing"), false); err == nil {
		t.Error("BuildHostKeyCallback() with a missing file should fail")
	}
	insecure, err := BuildHostKeyCallback(filepath.Join(dir, "missing"), true)
	if err != nil || insecure == nil {
		t.Fatalf("BuildHostKeyCallback(insecure) = %v, %v", insecure, err)
	}
	if err := insecure("unknown.test:22", addr, other); err != nil {
		t.Errorf("insecure callback rejected a key: %v", err)
	}
}

func TestExpandPath(t *testing.T) {
	home := emptyHome(t)

	tests := []struct {
		in   string
		want string
	}{
		{"~/.ssh/id_rsa", filepath.Join(home, ".ssh/id_rsa")},
		{"/etc/ssh/key", "/etc/ssh/key"},
		{"relative/key", "relative/key"},
		{"~user/key", "~user/key"},
	}
	for _, tt := range tests {
		if got := ExpandPath(tt.in); got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestKeyboardInteractiveAuth(t *testing.T) {
	if KeyboardInteractiveAuth("pw") == nil {
		t.Fatal("KeyboardInteractiveAuth() = nil")
	}
	if PasswordAuth("pw") == nil {
		t.Fatal("PasswordAuth() = nil")
	}
}
