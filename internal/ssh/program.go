package ssh

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/crypto/ssh"

	"github.com/acolita/satprobe/internal/channel"
)

// ProgramOptions configures the terminal a remote program runs on.
type ProgramOptions struct {
	Term string // default "dumb"
	Rows uint32 // default 24
	Cols uint32 // default 120
	Echo bool   // let the terminal echo sent commands back
	Env  map[string]string
}

// RemoteProgram is a program running on the remote host under a PTY.
type RemoteProgram struct {
	command string
	session *ssh.Session
	ch      *channel.Console

	mu     sync.Mutex
	closed bool
}

// StartProgram runs command on a new session with a pseudo-terminal. The
// terminal merges stderr into the output stream, and closing the session
// hangs it up so the program receives SIGHUP.
func (c *Client) StartProgram(command string, opts ProgramOptions) (*RemoteProgram, error) {
	if err := c.Connect(); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	if opts.Term == "" {
		opts.Term = "dumb"
	}
	if opts.Rows == 0 {
		opts.Rows = 24
	}
	if opts.Cols == 0 {
		opts.Cols = 120
	}

	session, err := c.NewSession()
	if err != nil {
		return nil, err
	}

	for key, value := range opts.Env {
		// Servers may refuse; the program then runs without it.
		if err := session.Setenv(key, value); err != nil {
			slog.Debug("remote setenv refused", slog.String("key", key))
		}
	}

	echo := uint32(0)
	if opts.Echo {
		echo = 1
	}
	modes := ssh.TerminalModes{
		ssh.ECHO:          echo,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(opts.Term, int(opts.Rows), int(opts.Cols), modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := session.Start(command); err != nil {
		session.Close()
		return nil, fmt.Errorf("start %q: %w", command, err)
	}

	slog.Info("started remote program", slog.String("command", command), slog.String("host", c.host))
	return &RemoteProgram{
		command: command,
		session: session,
		ch:      channel.NewConsole(channel.KindRemote, stdin, stdout),
	}, nil
}

// Channel returns the console channel attached to the program.
func (p *RemoteProgram) Channel() *channel.Console { return p.ch }

// Command returns the command line the program was started with.
func (p *RemoteProgram) Command() string { return p.command }

// Close ends the session. It is safe to call more than once.
func (p *RemoteProgram) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	p.ch.Close()
	err := p.session.Close()
	if err == io.EOF {
		err = nil
	}
	slog.Info("closed remote program", slog.String("command", p.command))
	return err
}

// Wait blocks until the remote program exits.
func (p *RemoteProgram) Wait() error {
	return p.session.Wait()
}
