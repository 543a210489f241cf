// Package process starts the local program under test and exposes its
// standard streams as a console channel.
package process

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/acolita/satprobe/internal/channel"
)

// DefaultGracePeriod is how long Close waits after SIGTERM before SIGKILL.
const DefaultGracePeriod = 3 * time.Second

// Options configures a program launch.
type Options struct {
	Path   string   // program to run
	Params string   // appended to Path, interpreted by the shell
	Dir    string   // working directory
	Env    []string // additional environment variables

	// UsePTY runs the program on a pseudo-terminal instead of pipes. Some
	// programs only line-buffer their output when attached to a terminal.
	UsePTY bool
	Rows   uint16
	Cols   uint16

	GracePeriod time.Duration
}

// Program is a running program under test.
type Program struct {
	cmd   *exec.Cmd
	ch    *channel.Console
	pty   *os.File
	grace time.Duration

	mu     sync.Mutex
	closed bool
	exited chan struct{}
	err    error
}

// CommandLine returns the shell command line for opts.
func CommandLine(opts Options) string {
	if opts.Params == "" {
		return opts.Path
	}
	return opts.Path + " " + opts.Params
}

// Start launches the program through sh -c in its own process group, with
// stderr merged into stdout.
func Start(opts Options) (*Program, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("program path is required")
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}

	line := CommandLine(opts)
	cmd := exec.Command("/bin/sh", "-c", line)
	cmd.Dir = opts.Dir
	cmd.Env = append(os.Environ(), "NO_COLOR=1")
	cmd.Env = append(cmd.Env, opts.Env...)

	p := &Program{cmd: cmd, grace: opts.GracePeriod, exited: make(chan struct{})}

	if opts.UsePTY {
		if err := p.startPTY(opts); err != nil {
			return nil, err
		}
	} else if err := p.startPipes(); err != nil {
		return nil, err
	}

	go func() {
		p.err = cmd.Wait()
		close(p.exited)
	}()

	slog.Info("started program",
		slog.String("command", line),
		slog.Int("pid", cmd.Process.Pid),
		slog.Bool("pty", opts.UsePTY),
	)
	return p, nil
}

func (p *Program) startPipes() error {
	p.cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := p.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	out, in := io.Pipe()
	p.cmd.Stdout = in
	p.cmd.Stderr = in

	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("start program: %w", err)
	}

	// exec.Cmd copies into the pipe writer; close it once the program is
	// gone so the channel sees EOF.
	go func() {
		<-p.exited
		in.Close()
	}()

	p.ch = channel.NewConsole(channel.KindConsole, stdin, out)
	return nil
}

func (p *Program) startPTY(opts Options) error {
	rows, cols := opts.Rows, opts.Cols
	if rows == 0 {
		rows = 24
	}
	if cols == 0 {
		cols = 120
	}
	p.cmd.Env = append(p.cmd.Env, "TERM=dumb")

	// pty.StartWithSize makes the child a session leader, which also gives
	// it its own process group.
	ptmx, err := pty.StartWithSize(p.cmd, &pty.Winsize{Rows: rows, Cols: cols})
	if err != nil {
		return fmt.Errorf("start pty: %w", err)
	}
	p.pty = ptmx
	p.ch = channel.NewConsole(channel.KindConsole, ptmx, ptmx)
	return nil
}

// Channel returns the console channel attached to the program.
func (p *Program) Channel() *channel.Console { return p.ch }

// Pid returns the process id of the shell running the program.
func (p *Program) Pid() int { return p.cmd.Process.Pid }

// Exited is closed once the program has exited.
func (p *Program) Exited() <-chan struct{} { return p.exited }

// Close asks the program to terminate. The whole process group gets SIGTERM;
// anything still alive after the grace period gets SIGKILL.
func (p *Program) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	var errs []error
	if err := p.ch.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		errs = append(errs, fmt.Errorf("close stdin: %w", err))
	}

	pgid := p.cmd.Process.Pid
	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		errs = append(errs, fmt.Errorf("terminate program: %w", err))
	}

	select {
	case <-p.exited:
	case <-time.After(p.grace):
		slog.Warn("program ignored SIGTERM, killing process group", slog.Int("pgid", pgid))
		if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
			errs = append(errs, fmt.Errorf("kill program: %w", err))
		}
		<-p.exited
	}

	if p.pty != nil {
		p.pty.Close()
	}

	slog.Info("closed program", slog.Int("pid", pgid))
	return errors.Join(errs...)
}

// Wait blocks until the program exits and returns its exit error.
func (p *Program) Wait() error {
	<-p.exited
	return p.err
}
