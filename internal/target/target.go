// Package target brings up the system under test described by the config:
// it launches the local or remote program, opens the command channel and
// waits for the target to settle before the first step.
package target

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/acolita/satprobe/internal/adapters/realclock"
	"github.com/acolita/satprobe/internal/adapters/realfs"
	"github.com/acolita/satprobe/internal/adapters/realnet"
	"github.com/acolita/satprobe/internal/channel"
	"github.com/acolita/satprobe/internal/config"
	"github.com/acolita/satprobe/internal/ports"
	"github.com/acolita/satprobe/internal/process"
	"github.com/acolita/satprobe/internal/reader"
	"github.com/acolita/satprobe/internal/ssh"
)

// DialTimeout bounds the socket connection attempt.
const DialTimeout = 10 * time.Second

// PasswordSource looks up stored SSH passwords. *security.KeyringStore
// implements it.
type PasswordSource interface {
	Password(host, user string) (string, error)
	Passphrase(keyPath string) (string, error)
}

// Deps are the outside-world seams used to bring a target up. Zero values
// select the real implementations.
type Deps struct {
	Net     ports.NetworkDialer
	SSH     ports.SSHDialer
	FS      ports.FileSystem
	Clock   ports.Clock
	Keyring PasswordSource // consulted when remote.use_keyring is set
}

func (d *Deps) defaults() {
	if d.Net == nil {
		d.Net = realnet.NewDialer()
	}
	if d.FS == nil {
		d.FS = realfs.New()
	}
	if d.Clock == nil {
		d.Clock = realclock.New()
	}
}

// Target is a running system under test and the channel to reach it.
type Target struct {
	cfg  *config.Config
	deps Deps

	ch      channel.Channel
	program *process.Program
	client  *ssh.Client
	remote  *ssh.RemoteProgram
	socket  *channel.Socket
}

// Open launches and connects the target described by cfg. On failure every
// resource opened so far is released.
func Open(ctx context.Context, cfg *config.Config, deps Deps) (*Target, error) {
	deps.defaults()
	t := &Target{cfg: cfg, deps: deps}

	if err := t.open(ctx); err != nil {
		if cerr := t.Close(); cerr != nil {
			slog.Warn("cleanup after failed open", slog.String("error", cerr.Error()))
		}
		return nil, err
	}
	return t, nil
}

func (t *Target) open(ctx context.Context) error {
	cfg := t.cfg

	switch cfg.Target.Launch {
	case config.LaunchLocal:
		if err := t.launchLocal(); err != nil {
			return err
		}
		if err := t.settle(ctx, cfg.Program.WaitTime); err != nil {
			return err
		}
	case config.LaunchRemote:
		if err := t.launchRemote(); err != nil {
			return err
		}
		if err := t.settle(ctx, cfg.Remote.WaitTime); err != nil {
			return err
		}
	}

	switch cfg.Target.Channel {
	case config.ChannelSocket:
		sock, err := channel.Dial(t.deps.Net, cfg.Socket.Host, cfg.Socket.Port, DialTimeout)
		if err != nil {
			return err
		}
		t.socket = sock
		t.ch = sock
		return t.settle(ctx, cfg.Socket.WaitTime)
	case config.ChannelConsole:
		switch {
		case t.program != nil:
			t.ch = t.program.Channel()
		case t.remote != nil:
			t.ch = t.remote.Channel()
		default:
			return errors.New("console channel needs a launched program")
		}
		return nil
	default:
		return fmt.Errorf("unknown channel %q", cfg.Target.Channel)
	}
}

func (t *Target) launchLocal() error {
	p := t.cfg.Program
	prog, err := process.Start(process.Options{
		Path:   p.Path,
		Params: p.Params,
		Dir:    p.Dir,
		Env:    p.Env,
		UsePTY: p.PTY,
	})
	if err != nil {
		return fmt.Errorf("start program: %w", err)
	}
	t.program = prog
	return nil
}

func (t *Target) launchRemote() error {
	r := t.cfg.Remote

	auth := ssh.AuthConfig{
		KeyPath:  r.KeyPath,
		UseAgent: r.UseAgent,
	}
	if r.PasswordEnv != "" {
		auth.Password = t.deps.FS.Getenv(r.PasswordEnv)
	}
	if r.PassphraseEnv != "" {
		auth.Passphrase = t.deps.FS.Getenv(r.PassphraseEnv)
	}
	if r.UseKeyring && t.deps.Keyring != nil {
		if auth.Password == "" {
			if pw, err := t.deps.Keyring.Password(r.Host, r.User); err == nil {
				auth.Password = pw
			} else {
				slog.Debug("no keyring password", slog.String("host", r.Host), slog.String("error", err.Error()))
			}
		}
		if auth.Passphrase == "" && r.KeyPath != "" {
			if pp, err := t.deps.Keyring.Passphrase(r.KeyPath); err == nil {
				auth.Passphrase = pp
			}
		}
	}

	methods, err := ssh.BuildAuthMethods(auth)
	if err != nil {
		return fmt.Errorf("build auth methods: %w", err)
	}
	hostKeys, err := ssh.BuildHostKeyCallback(r.KnownHosts, r.Insecure)
	if err != nil {
		return fmt.Errorf("host key callback: %w", err)
	}

	client, err := ssh.NewClient(ssh.ClientOptions{
		Host:            r.Host,
		Port:            r.Port,
		User:            r.User,
		AuthMethods:     methods,
		HostKeyCallback: hostKeys,
		Clock:           t.deps.Clock,
		Dialer:          t.deps.SSH,
	})
	if err != nil {
		return fmt.Errorf("create ssh client: %w", err)
	}
	t.client = client

	prog, err := client.StartProgram(r.Command, ssh.ProgramOptions{Echo: r.Echo})
	if err != nil {
		return fmt.Errorf("start remote program: %w", err)
	}
	t.remote = prog
	slog.Info("remote program started", slog.String("host", r.Host), slog.String("command", r.Command))
	return nil
}

func (t *Target) settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	slog.Debug("waiting for target to settle", slog.Duration("wait", d))
	return reader.Sleep(ctx, t.deps.Clock, d)
}

// Channel returns the command channel.
func (t *Target) Channel() channel.Channel { return t.ch }

// Kind returns the channel kind as used for log tags.
func (t *Target) Kind() channel.Kind { return t.ch.Kind() }

// FetchArtifacts copies the configured remote files into the local artifacts
// directory over SFTP. Targets without a remote launch have nothing to fetch.
func (t *Target) FetchArtifacts() ([]string, error) {
	a := t.cfg.Remote.Artifacts
	if t.client == nil || len(a.Patterns) == 0 {
		return nil, nil
	}

	client, err := t.client.SFTP()
	if err != nil {
		return nil, fmt.Errorf("open sftp: %w", err)
	}

	var all []string
	for _, pattern := range a.Patterns {
		got, err := client.Fetch(pattern, a.Dir, t.deps.FS)
		all = append(all, got...)
		if err != nil {
			return all, err
		}
	}
	return all, nil
}

// Close tears the target down in reverse order of opening: socket, remote
// program and SSH connection, then the local program.
func (t *Target) Close() error {
	var errs []error
	if t.socket != nil {
		errs = append(errs, t.socket.Close())
		t.socket = nil
	}
	if t.remote != nil {
		errs = append(errs, t.remote.Close())
		t.remote = nil
	}
	if t.client != nil {
		errs = append(errs, t.client.Close())
		t.client = nil
	}
	if t.program != nil {
		errs = append(errs, t.program.Close())
		t.program = nil
	}
	return errors.Join(errs...)
}
