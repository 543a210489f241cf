package sftp

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/pkg/sftp"

	"github.com/acolita/satprobe/internal/testing/fakes/fakefs"
)

type readWriteCloser struct {
	io.Reader
	io.WriteCloser
}

// newInMemoryClient connects a Client to an in-memory SFTP server.
func newInMemoryClient(t *testing.T) *Client {
	t.Helper()

	clientRead, serverWrite := io.Pipe()
	serverRead, clientWrite := io.Pipe()

	server := sftp.NewRequestServer(readWriteCloser{serverRead, serverWrite}, sftp.InMemHandler())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = server.Serve()
	}()

	inner, err := sftp.NewClientPipe(clientRead, clientWrite)
	if err != nil {
		server.Close()
		t.Fatalf("NewClientPipe() error: %v", err)
	}

	c := &Client{sftpClient: inner}
	t.Cleanup(func() {
		c.Close()
		server.Close()
		<-done
	})
	return c
}

func putRemote(t *testing.T, c *Client, name, data string) {
	t.Helper()
	if err := c.sftpClient.MkdirAll(filepath.Dir(name)); err != nil {
		t.Fatalf("MkdirAll() error: %v", err)
	}
	f, err := c.sftpClient.Create(name)
	if err != nil {
		t.Fatalf("Create(%q) error: %v", name, err)
	}
	if _, err := f.Write([]byte(data)); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	f.Close()
}

func TestFetch_CopiesMatchingFiles(t *testing.T) {
	c := newInMemoryClient(t)
	putRemote(t, c, "/var/log/obc/boot.log", "boot ok\n")
	putRemote(t, c, "/var/log/obc/adcs.log", "sun sensor nominal\n")
	putRemote(t, c, "/var/log/obc/notes.txt", "ignored\n")

	fsys := fakefs.New()
	got, err := c.Fetch("/var/log/obc/*.log", "stored_messages/run-1", fsys)
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Fetch() = %q, want 2 files", got)
	}

	data, err := fsys.ReadFile("stored_messages/run-1/boot.log")
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if string(data) != "boot ok\n" {
		t.Errorf("boot.log = %q", data)
	}
}

func TestFetch_NoMatches(t *testing.T) {
	c := newInMemoryClient(t)

	got, err := c.Fetch("/nowhere/*.log", "out", fakefs.New())
	if err != nil || got != nil {
		t.Errorf("Fetch() = %q, %v; want nil, nil", got, err)
	}
}

func TestFetch_SkipsDirectories(t *testing.T) {
	c := newInMemoryClient(t)
	putRemote(t, c, "/data/sub/file.bin", "x")

	got, err := c.Fetch("/data/*", "out", fakefs.New())
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Fetch() = %q, directories must be skipped", got)
	}
}

func TestClient_ClosedOrUnconnected(t *testing.T) {
	c := NewClient(nil)
	if _, err := c.Fetch("*", "out", fakefs.New()); err == nil {
		t.Error("Fetch() without a connection should fail")
	}

	c = newInMemoryClient(t)
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
	if _, err := c.Fetch("*", "out", fakefs.New()); err == nil {
		t.Error("Fetch() after Close should fail")
	}
}
