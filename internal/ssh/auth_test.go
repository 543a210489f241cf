package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"net"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

func writeKey(t *testing.T, passphrase string) (string, ssh.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	var block *pem.Block
	if passphrase == "" {
		block, err = ssh.MarshalPrivateKey(priv, "")
	} else {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, "", []byte(passphrase))
	}
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatal(err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	return path, sshPub
}

func TestBuildAuthMethods_Password(t *testing.T) {
	methods, err := BuildAuthMethods(AuthConfig{Password: "hunter2"})
	if err != nil {
		t.Fatalf("BuildAuthMethods() error: %v", err)
	}
	if len(methods) != 2 {
		t.Errorf("got %d methods, want password and keyboard-interactive", len(methods))
	}
}

func TestBuildAuthMethods_KeyFile(t *testing.T) {
	path, _ := writeKey(t, "")
	methods, err := BuildAuthMethods(AuthConfig{KeyPath: path})
	if err != nil {
		t.Fatalf("BuildAuthMethods() error: %v", err)
	}
	if len(methods) != 1 {
		t.Errorf("got %d methods, want 1", len(methods))
	}
}

func TestBuildAuthMethods_EncryptedKey(t *testing.T) {
	path, _ := writeKey(t, "s3cret")

	if _, err := BuildAuthMethods(AuthConfig{KeyPath: path, Passphrase: "s3cret"}); err != nil {
		t.Errorf("BuildAuthMethods() with passphrase error: %v", err)
	}
	if _, err := BuildAuthMethods(AuthConfig{KeyPath: path}); err == nil {
		t.Error("encrypted key without passphrase should fail")
	}
}

func TestBuildAuthMethods_MissingKey(t *testing.T) {
	if _, err := BuildAuthMethods(AuthConfig{KeyPath: filepath.Join(t.TempDir(), "absent")}); err == nil {
		t.Error("missing key file should fail")
	}
}

func TestBuildAuthMethods_NothingAvailable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SSH_AUTH_SOCK", "")

	if _, err := BuildAuthMethods(AuthConfig{UseAgent: true}); err == nil {
		t.Error("BuildAuthMethods() should fail with no usable method")
	}
}

func TestBuildAuthMethods_DefaultKey(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	path, _ := writeKey(t, "")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(home, ".ssh"), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(home, ".ssh", "id_ed25519"), data, 0o600); err != nil {
		t.Fatal(err)
	}

	methods, err := BuildAuthMethods(AuthConfig{})
	if err != nil {
		t.Fatalf("BuildAuthMethods() error: %v", err)
	}
	if len(methods) != 1 {
		t.Errorf("got %d methods, want the default key", len(methods))
	}
}

func TestBuildHostKeyCallback(t *testing.T) {
	_, hostKey := writeKey(t, "")
	addr := &net.TCPAddr{IP: net.IPv4(10, 0, 0, 7), Port: 22}

	t.Run("insecure", func(t *testing.T) {
		cb, err := BuildHostKeyCallback("", true)
		if err != nil {
			t.Fatal(err)
		}
		if err := cb("10.0.0.7:22", addr, hostKey); err != nil {
			t.Errorf("callback error: %v", err)
		}
	})

	t.Run("missing file accepts", func(t *testing.T) {
		cb, err := BuildHostKeyCallback(filepath.Join(t.TempDir(), "known_hosts"), false)
		if err != nil {
			t.Fatal(err)
		}
		if err := cb("10.0.0.7:22", addr, hostKey); err != nil {
			t.Errorf("callback error: %v", err)
		}
	})

	t.Run("known host", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "known_hosts")
		line := knownhosts.Line([]string{knownhosts.Normalize("10.0.0.7:22")}, hostKey)
		if err := os.WriteFile(path, []byte(line+"\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		cb, err := BuildHostKeyCallback(path, false)
		if err != nil {
			t.Fatal(err)
		}
		if err := cb("10.0.0.7:22", addr, hostKey); err != nil {
			t.Errorf("known key rejected: %v", err)
		}

		_, otherKey := writeKey(t, "")
		if err := cb("10.0.0.7:22", addr, otherKey); err == nil {
			t.Error("mismatched key accepted")
		}
	})
}

func TestExpandPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	if got := ExpandPath("~/.ssh/id_rsa"); got != filepath.Join(home, ".ssh/id_rsa") {
		t.Errorf("ExpandPath() = %q", got)
	}
	if got := ExpandPath("/etc/key"); got != "/etc/key" {
		t.Errorf("ExpandPath() = %q", got)
	}
}
