package ports

import (
	"context"

	"golang.org/x/crypto/ssh"
)

// SSHDialer opens the SSH client connection. Tests swap it for an in-process
// server or a failing stub.
type SSHDialer interface {
	Dial(ctx context.Context, network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)
}
