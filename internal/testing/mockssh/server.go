// Package mockssh runs an in-process SSH server for tests. Exec requests run
// through /bin/sh on a pseudo-terminal, and the sftp subsystem is served from
// memory.
package mockssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/creack/pty"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Server is a mock SSH server listening on a loopback port.
type Server struct {
	listener net.Listener
	config   *ssh.ServerConfig
	users    map[string]string
	files    sftp.Handlers

	mu       sync.Mutex
	commands []string
	conns    []*ssh.ServerConn

	done chan struct{}
	wg   sync.WaitGroup
}

// Option configures the server.
type Option func(*Server)

// WithUser adds a user/password pair.
func WithUser(username, password string) Option {
	return func(s *Server) {
		s.users[username] = password
	}
}

// New starts a server. The user "test" with password "test" always exists.
func New(opts ...Option) (*Server, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}
	signer, err := ssh.NewSignerFromKey(key)
	if err != nil {
		return nil, fmt.Errorf("host key signer: %w", err)
	}

	s := &Server{
		users: map[string]string{"test": "test"},
		files: sftp.InMemHandler(),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.config = &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if want, ok := s.users[c.User()]; ok && want == string(password) {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", c.User())
		},
	}
	s.config.AddHostKey(signer)

	s.listener, err = net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr returns host:port.
func (s *Server) Addr() string { return s.listener.Addr().String() }

// Host returns the listening host.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

// Port returns the listening port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	n, _ := strconv.Atoi(port)
	return n
}

// Commands returns every exec command received, in order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// PutFile stores a file in the in-memory sftp tree, creating parent dirs.
func (s *Server) PutFile(path string, data []byte) error {
	client, closeFn, err := s.localSFTP()
	if err != nil {
		return err
	}
	defer closeFn()

	if err := client.MkdirAll(dirOf(path)); err != nil {
		return err
	}
	f, err := client.Create(path)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Close stops the server and drops every connection.
func (s *Server) Close() error {
	close(s.done)
	err := s.listener.Close()

	s.mu.Lock()
	for _, c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				continue
			}
		}
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(netConn net.Conn) {
	defer s.wg.Done()
	defer netConn.Close()

	conn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		slog.Debug("mockssh handshake failed", slog.String("error", err.Error()))
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()
	defer conn.Close()

	go ssh.DiscardRequests(reqs)

	for nc := range chans {
		if nc.ChannelType() != "session" {
			nc.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := nc.Accept()
		if err != nil {
			continue
		}
		s.wg.Add(1)
		go s.serveSession(ch, requests)
	}
}

type ptyRequestMsg struct {
	Term     string
	Columns  uint32
	Rows     uint32
	Width    uint32
	Height   uint32
	Modelist string
}

type execMsg struct {
	Command string
}

type subsystemMsg struct {
	Name string
}

func (s *Server) serveSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer s.wg.Done()

	var winsize *pty.Winsize
	for req := range requests {
		switch req.Type {
		case "pty-req":
			var msg ptyRequestMsg
			ok := ssh.Unmarshal(req.Payload, &msg) == nil
			if ok {
				winsize = &pty.Winsize{Rows: uint16(msg.Rows), Cols: uint16(msg.Columns)}
			}
			req.Reply(ok, nil)

		case "env":
			req.Reply(true, nil)

		case "exec":
			var msg execMsg
			if err := ssh.Unmarshal(req.Payload, &msg); err != nil {
				req.Reply(false, nil)
				continue
			}
			s.mu.Lock()
			s.commands = append(s.commands, msg.Command)
			s.mu.Unlock()
			req.Reply(true, nil)
			go runCommand(ch, msg.Command, winsize)

		case "subsystem":
			var msg subsystemMsg
			if err := ssh.Unmarshal(req.Payload, &msg); err != nil || msg.Name != "sftp" {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			go func() {
				server := sftp.NewRequestServer(ch, s.files)
				_ = server.Serve()
				server.Close()
			}()

		default:
			req.Reply(false, nil)
		}
	}
}

func runCommand(ch ssh.Channel, command string, winsize *pty.Winsize) {
	defer ch.Close()

	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.Env = append(os.Environ(), "TERM=dumb")

	code := 0
	if winsize != nil {
		ptmx, err := pty.StartWithSize(cmd, winsize)
		if err != nil {
			sendExitStatus(ch, 127)
			return
		}
		go func() {
			// The client going away hangs up the terminal.
			io.Copy(ptmx, ch)
			ptmx.Close()
		}()
		io.Copy(ch, ptmx) // ends with EIO once the program exits
		code = exitCode(cmd.Wait())
		ptmx.Close()
	} else {
		cmd.Stdin = ch
		cmd.Stdout = ch
		cmd.Stderr = ch.Stderr()
		code = exitCode(cmd.Run())
	}
	sendExitStatus(ch, code)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return 1
}

func sendExitStatus(ch ssh.Channel, code int) {
	ch.CloseWrite()
	ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(code)}))
}

// localSFTP opens a client on the server's in-memory tree without SSH.
func (s *Server) localSFTP() (*sftp.Client, func(), error) {
	clientRead, serverWrite := io.Pipe()
	serverRead, clientWrite := io.Pipe()

	server := sftp.NewRequestServer(struct {
		io.Reader
		io.WriteCloser
	}{serverRead, serverWrite}, s.files)
	go server.Serve()

	client, err := sftp.NewClientPipe(clientRead, clientWrite)
	if err != nil {
		server.Close()
		return nil, nil, err
	}
	return client, func() {
		client.Close()
		server.Close()
	}, nil
}

func dirOf(path string) string {
	for i := len(path) - 1; i > 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "/"
}
