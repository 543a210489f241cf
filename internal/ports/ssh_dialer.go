package ports

import (
	"golang.org/x/crypto/ssh"
)

// SSHDialer opens the SSH connection a remote program runs on. Tests swap in
// a dialer that fails or points at an in-process server.
type SSHDialer interface {
	// Dial connects to addr and completes the SSH handshake.
	Dial(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)
}
