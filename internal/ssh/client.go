// Package ssh starts programs under test on remote hosts.
package ssh

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/acolita/satprobe/internal/adapters/realclock"
	"github.com/acolita/satprobe/internal/adapters/realsshdialer"
	"github.com/acolita/satprobe/internal/ports"
	"github.com/acolita/satprobe/internal/sftp"
)

// Client holds one SSH connection to a remote host.
type Client struct {
	conn   *ssh.Client
	config *ssh.ClientConfig
	host   string
	port   int
	mu     sync.Mutex

	keepaliveInterval time.Duration
	keepaliveStop     chan struct{}

	// Lazily opened on the same connection.
	sftpClient *sftp.Client

	clock  ports.Clock
	dialer ports.SSHDialer
}

// ClientOptions configures a Client.
type ClientOptions struct {
	Host              string
	Port              int
	User              string
	AuthMethods       []ssh.AuthMethod
	HostKeyCallback   ssh.HostKeyCallback
	Timeout           time.Duration
	KeepaliveInterval time.Duration
	Clock             ports.Clock
	Dialer            ports.SSHDialer
}

// NewClient validates opts and returns an unconnected client.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if opts.User == "" {
		return nil, fmt.Errorf("user is required")
	}
	if len(opts.AuthMethods) == 0 {
		return nil, fmt.Errorf("at least one auth method is required")
	}
	if opts.Port == 0 {
		opts.Port = 22
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.KeepaliveInterval == 0 {
		opts.KeepaliveInterval = 30 * time.Second
	}
	if opts.HostKeyCallback == nil {
		opts.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	}
	if opts.Clock == nil {
		opts.Clock = realclock.New()
	}
	if opts.Dialer == nil {
		opts.Dialer = realsshdialer.New()
	}

	return &Client{
		config: &ssh.ClientConfig{
			User:            opts.User,
			Auth:            opts.AuthMethods,
			HostKeyCallback: opts.HostKeyCallback,
			Timeout:         opts.Timeout,
		},
		host:              opts.Host,
		port:              opts.Port,
		keepaliveInterval: opts.KeepaliveInterval,
		clock:             opts.Clock,
		dialer:            opts.Dialer,
	}, nil
}

// Connect dials the host. Calling it on a connected client is a no-op.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	addr := net.JoinHostPort(c.host, strconv.Itoa(c.port))
	conn, err := c.dialer.Dial("tcp", addr, c.config)
	if err != nil {
		return fmt.Errorf("ssh dial %s: %w", addr, err)
	}

	c.conn = conn
	c.keepaliveStop = make(chan struct{})
	go c.keepalive(conn, c.keepaliveStop)

	slog.Info("ssh connected", slog.String("addr", addr), slog.String("user", c.config.User))
	return nil
}

// keepalive pings the server until stop is closed. Failures are left for
// the next channel operation to surface.
func (c *Client) keepalive(conn *ssh.Client, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-c.clock.After(c.keepaliveInterval):
			if _, _, err := conn.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				slog.Debug("ssh keepalive failed", slog.String("host", c.host), slog.String("error", err.Error()))
			}
		}
	}
}

// NewSession opens a session channel on the connection.
func (c *Client) NewSession() (*ssh.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, fmt.Errorf("not connected")
	}
	session, err := c.conn.NewSession()
	if err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}
	return session, nil
}

// SFTP returns a file transfer client sharing the SSH connection.
func (c *Client) SFTP() (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, fmt.Errorf("not connected")
	}
	if c.sftpClient == nil {
		c.sftpClient = sftp.NewClient(c.conn)
	}
	return c.sftpClient, nil
}

// Close ends the connection. Programs started on it lose their terminal.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.keepaliveStop != nil {
		close(c.keepaliveStop)
		c.keepaliveStop = nil
	}
	if c.sftpClient != nil {
		c.sftpClient.Close()
		c.sftpClient = nil
	}
	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	c.conn = nil
	slog.Info("ssh disconnected", slog.String("host", c.host))
	return err
}

// IsConnected reports whether Connect succeeded and Close was not called.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Host returns the target host.
func (c *Client) Host() string { return c.host }

// Port returns the target port.
func (c *Client) Port() int { return c.port }
