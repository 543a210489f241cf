package ssh

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthConfig selects the authentication methods offered to the server.
type AuthConfig struct {
	KeyPath    string // private key file, ~ expanded
	Passphrase string // for encrypted keys
	UseAgent   bool   // offer keys from SSH_AUTH_SOCK
	Password   string // password and keyboard-interactive
}

// DefaultKeyPaths are tried when no key, agent or password is configured.
var DefaultKeyPaths = []string{"~/.ssh/id_ed25519", "~/.ssh/id_rsa", "~/.ssh/id_ecdsa"}

// BuildAuthMethods turns cfg into ssh auth methods, in the order the server
// should try them.
func BuildAuthMethods(cfg AuthConfig) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if cfg.UseAgent {
		if m, err := agentAuth(); err == nil {
			methods = append(methods, m)
		} else {
			slog.Debug("ssh agent unavailable", slog.String("error", err.Error()))
		}
	}

	if cfg.KeyPath != "" {
		m, err := privateKeyAuth(cfg.KeyPath, cfg.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("private key auth: %w", err)
		}
		methods = append(methods, m)
	}

	if cfg.Password != "" {
		methods = append(methods, ssh.Password(cfg.Password), KeyboardInteractiveAuth(cfg.Password))
	}

	if len(methods) == 0 {
		for _, path := range DefaultKeyPaths {
			if m, err := privateKeyAuth(path, cfg.Passphrase); err == nil {
				methods = append(methods, m)
				break
			}
		}
	}

	if len(methods) == 0 {
		return nil, errors.New("no authentication methods available")
	}
	return methods, nil
}

func agentAuth() (ssh.AuthMethod, error) {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil, errors.New("SSH_AUTH_SOCK not set")
	}
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, fmt.Errorf("dial agent: %w", err)
	}
	return ssh.PublicKeysCallback(agent.NewClient(conn).Signers), nil
}

func privateKeyAuth(path, passphrase string) (ssh.AuthMethod, error) {
	data, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(data, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return ssh.PublicKeys(signer), nil
}

// KeyboardInteractiveAuth answers every prompt with password.
func KeyboardInteractiveAuth(password string) ssh.AuthMethod {
	return ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range answers {
			answers[i] = password
		}
		return answers, nil
	})
}

// BuildHostKeyCallback verifies host keys against knownHostsPath
// (~/.ssh/known_hosts when empty). With insecure set, or when the file does
// not exist, every host key is accepted.
func BuildHostKeyCallback(knownHostsPath string, insecure bool) (ssh.HostKeyCallback, error) {
	if insecure {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if knownHostsPath == "" {
		knownHostsPath = "~/.ssh/known_hosts"
	}

	path := ExpandPath(knownHostsPath)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		slog.Warn("known_hosts not found, accepting any host key", slog.String("path", path))
		return ssh.InsecureIgnoreHostKey(), nil
	}

	callback, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("parse known_hosts: %w", err)
	}
	return callback, nil
}

// ExpandPath replaces a leading ~/ with the home directory.
func ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
