// Package realsshdialer connects to SSH servers over TCP.
package realsshdialer

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/acolita/satprobe/internal/ports"
)

// Dialer implements ports.SSHDialer. The TCP connection enables keepalives so
// a silent remote program does not get its link dropped by middleboxes.
type Dialer struct {
	KeepAlive time.Duration
}

// New creates a Dialer with a 30 second TCP keepalive.
func New() *Dialer {
	return &Dialer{KeepAlive: 30 * time.Second}
}

// Dial connects to addr and performs the SSH handshake. config.Timeout bounds
// both the TCP connect and the handshake.
func (d *Dialer) Dial(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	nd := net.Dialer{Timeout: config.Timeout, KeepAlive: d.KeepAlive}
	conn, err := nd.Dial(network, addr)
	if err != nil {
		return nil, err
	}

	if config.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(config.Timeout))
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	slog.Debug("ssh handshake complete", slog.String("addr", addr), slog.String("server_version", string(c.ServerVersion())))
	return ssh.NewClient(c, chans, reqs), nil
}

var _ ports.SSHDialer = (*Dialer)(nil)
