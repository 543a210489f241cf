// Package sftp copies files produced by a remote program back to the local
// machine over the program's SSH connection.
package sftp

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/acolita/satprobe/internal/ports"
)

// Client wraps an SFTP session. The subsystem is started on first use.
type Client struct {
	sshConn    *ssh.Client
	sftpClient *sftp.Client
	mu         sync.Mutex
	closed     bool
}

// NewClient creates a client on an existing SSH connection.
func NewClient(sshConn *ssh.Client) *Client {
	return &Client{sshConn: sshConn}
}

func (c *Client) ensureConnected() (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, errors.New("sftp client is closed")
	}
	if c.sftpClient != nil {
		return c.sftpClient, nil
	}
	if c.sshConn == nil {
		return nil, errors.New("ssh connection is nil")
	}

	client, err := sftp.NewClient(c.sshConn)
	if err != nil {
		return nil, fmt.Errorf("create sftp client: %w", err)
	}
	c.sftpClient = client
	return client, nil
}

// Close ends the SFTP session. The SSH connection stays open.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.sftpClient == nil {
		return nil
	}
	err := c.sftpClient.Close()
	c.sftpClient = nil
	return err
}

// Fetch copies every regular remote file matching pattern into localDir and
// returns the local paths. A pattern without matches is not an error.
func (c *Client) Fetch(pattern, localDir string, fsys ports.FileSystem) ([]string, error) {
	client, err := c.ensureConnected()
	if err != nil {
		return nil, err
	}

	matches, err := client.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	if len(matches) == 0 {
		slog.Warn("no remote files matched", slog.String("pattern", pattern))
		return nil, nil
	}

	if err := fsys.MkdirAll(localDir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", localDir, err)
	}

	var fetched []string
	for _, remote := range matches {
		info, err := client.Stat(remote)
		if err != nil {
			return fetched, fmt.Errorf("stat %s: %w", remote, err)
		}
		if !info.Mode().IsRegular() {
			continue
		}

		local := filepath.Join(localDir, path.Base(remote))
		n, err := copyFile(client, remote, local, fsys)
		if err != nil {
			return fetched, err
		}
		slog.Info("fetched remote file",
			slog.String("remote", remote),
			slog.String("local", local),
			slog.Int64("bytes", n),
		)
		fetched = append(fetched, local)
	}
	return fetched, nil
}

func copyFile(client *sftp.Client, remote, local string, fsys ports.FileSystem) (int64, error) {
	src, err := client.Open(remote)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", remote, err)
	}
	defer src.Close()

	dst, err := fsys.OpenFile(local, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", local, err)
	}

	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("copy %s: %w", remote, err)
	}
	return n, nil
}
