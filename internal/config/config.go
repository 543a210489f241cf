// Package config handles configuration parsing for satprobe.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/acolita/satprobe/internal/ports"
)

// DefaultConfigPath returns the default config file path:
// $XDG_CONFIG_HOME/satprobe/config.yaml or ~/.config/satprobe/config.yaml
func DefaultConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "satprobe", "config.yaml")
}

// Channel values select how commands reach the system under test.
const (
	ChannelSocket  = "socket"
	ChannelConsole = "console"
)

// Launch values select which program, if any, is started before a run.
const (
	LaunchNone   = "none"
	LaunchLocal  = "local"
	LaunchRemote = "remote"
)

// Config represents the top-level configuration.
type Config struct {
	Target    TargetConfig    `yaml:"target"`
	Socket    SocketConfig    `yaml:"socket"`
	Program   ProgramConfig   `yaml:"program"`
	Remote    RemoteConfig    `yaml:"remote"`
	Timing    TimingConfig    `yaml:"timing"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Recording RecordingConfig `yaml:"recording"`
}

// TargetConfig selects the channel and launch mode.
type TargetConfig struct {
	Channel string `yaml:"channel"` // "socket" or "console"
	Launch  string `yaml:"launch"`  // "none", "local" or "remote"

	// Regex patterns checked before a command is sent. When allowed patterns
	// are set, a command must match one of them.
	BlockedCommands []string `yaml:"blocked_commands"`
	AllowedCommands []string `yaml:"allowed_commands"`
}

// SocketConfig defines the TCP endpoint of the system under test.
type SocketConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	WaitTime time.Duration `yaml:"wait_time"` // settle time after connecting
}

// ProgramConfig defines a locally launched program.
type ProgramConfig struct {
	Path     string        `yaml:"path"`
	Params   string        `yaml:"params"`
	Dir      string        `yaml:"dir"`
	Env      []string      `yaml:"env"`
	PTY      bool          `yaml:"pty"`
	WaitTime time.Duration `yaml:"wait_time"` // settle time after start
}

// RemoteConfig defines a program launched over SSH.
type RemoteConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	User    string `yaml:"user"`
	Command string `yaml:"command"`

	KeyPath       string `yaml:"key_path"`
	PassphraseEnv string `yaml:"passphrase_env"` // env var containing key passphrase
	PasswordEnv   string `yaml:"password_env"`   // env var containing SSH password
	UseKeyring    bool   `yaml:"use_keyring"`    // fall back to the OS keyring for the password
	UseAgent      bool   `yaml:"use_agent"`
	KnownHosts    string `yaml:"known_hosts"`
	Insecure      bool   `yaml:"insecure"` // skip host key verification

	Echo      bool            `yaml:"echo"` // keep PTY echo on
	WaitTime  time.Duration   `yaml:"wait_time"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
}

// ArtifactsConfig lists remote files fetched over SFTP after each script.
type ArtifactsConfig struct {
	Patterns []string `yaml:"patterns"`
	Dir      string   `yaml:"dir"` // local destination
}

// TimingConfig defines the polling time unit.
type TimingConfig struct {
	Unit time.Duration `yaml:"unit"`
}

// StorageConfig defines where verified capture files go.
type StorageConfig struct {
	Dir string `yaml:"dir"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level    string `yaml:"level"`    // "debug", "info", "warn", "error"
	Format   string `yaml:"format"`   // "json" or "text"
	Sanitize bool   `yaml:"sanitize"` // sanitize sensitive data from logs
}

// RecordingConfig defines transcript recording settings.
type RecordingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"` // directory to store recordings
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Target: TargetConfig{
			Channel: ChannelSocket,
			Launch:  LaunchNone,
		},
		Socket: SocketConfig{
			Host:     "localhost",
			WaitTime: 2 * time.Second,
		},
		Program: ProgramConfig{
			WaitTime: 5 * time.Second,
		},
		Remote: RemoteConfig{
			Port:     22,
			WaitTime: 5 * time.Second,
			Artifacts: ArtifactsConfig{
				Dir: "artifacts",
			},
		},
		Timing: TimingConfig{
			Unit: time.Second,
		},
		Storage: StorageConfig{
			Dir: "stored_messages",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Sanitize: true,
		},
		Recording: RecordingConfig{
			Dir: "recordings",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. An optional FileSystem can be passed for testing; if omitted,
// the real OS is used.
func Load(path string, fsys ...ports.FileSystem) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	var data []byte
	var err error
	if len(fsys) > 0 && fsys[0] != nil {
		data, err = fsys[0].ReadFile(path)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration and fills in derived defaults.
func (c *Config) Validate() error {
	c.Target.Channel = strings.ToLower(c.Target.Channel)
	c.Target.Launch = strings.ToLower(c.Target.Launch)
	if c.Target.Launch == "" {
		c.Target.Launch = LaunchNone
	}

	switch c.Target.Channel {
	case ChannelSocket:
		if c.Socket.Port <= 0 || c.Socket.Port > 65535 {
			return fmt.Errorf("socket.port %d out of range", c.Socket.Port)
		}
	case ChannelConsole:
		if c.Target.Launch == LaunchNone {
			return errors.New("console channel needs target.launch local or remote")
		}
	default:
		return fmt.Errorf("invalid target.channel %q (want socket or console)", c.Target.Channel)
	}

	switch c.Target.Launch {
	case LaunchNone:
	case LaunchLocal:
		if c.Program.Path == "" {
			return errors.New("program.path is required for local launch")
		}
	case LaunchRemote:
		if c.Remote.Host == "" || c.Remote.User == "" {
			return errors.New("remote.host and remote.user are required for remote launch")
		}
		if c.Remote.Command == "" {
			return errors.New("remote.command is required for remote launch")
		}
		if c.Remote.Port <= 0 {
			c.Remote.Port = 22
		}
	default:
		return fmt.Errorf("invalid target.launch %q (want none, local or remote)", c.Target.Launch)
	}

	if c.Timing.Unit <= 0 {
		return fmt.Errorf("timing.unit must be positive, got %v", c.Timing.Unit)
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = "stored_messages"
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("invalid logging.format %q (want json or text)", c.Logging.Format)
	}

	return nil
}

// SettleTime returns how long to wait after the target comes up before the
// first step runs: the launch mode's wait time, plus the socket's when both
// a program and a socket are used.
func (c *Config) SettleTime() time.Duration {
	var d time.Duration
	switch c.Target.Launch {
	case LaunchLocal:
		d = c.Program.WaitTime
	case LaunchRemote:
		d = c.Remote.WaitTime
	}
	if c.Target.Channel == ChannelSocket {
		d += c.Socket.WaitTime
	}
	return d
}
