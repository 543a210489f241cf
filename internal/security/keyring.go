// Package security keeps remote credentials out of config files and guards
// which commands may be sent to a target.
package security

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zalando/go-keyring"
)

// KeyringService is the service name of every satprobe keyring entry.
const KeyringService = "satprobe"

// ErrKeyringUnavailable is returned when no system keyring can be used.
var ErrKeyringUnavailable = errors.New("keyring not available")

// KeyringStore stores remote passwords and key passphrases in the system
// keyring (Secret Service, Keychain or Credential Manager).
type KeyringStore struct {
	mu      sync.RWMutex
	enabled bool
}

// NewKeyringStore probes the system keyring. Without one the store is
// disabled and every operation returns ErrKeyringUnavailable.
func NewKeyringStore() *KeyringStore {
	ks := &KeyringStore{enabled: true}

	const probe = "__satprobe_probe__"
	if err := keyring.Set(KeyringService, probe, "probe"); err != nil {
		slog.Debug("keyring not available", slog.String("error", err.Error()))
		ks.enabled = false
		return ks
	}
	_ = keyring.Delete(KeyringService, probe)
	return ks
}

// IsEnabled reports whether the keyring is usable.
func (ks *KeyringStore) IsEnabled() bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.enabled
}

// SetEnabled turns keyring use on or off.
func (ks *KeyringStore) SetEnabled(enabled bool) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.enabled = enabled
}

func passwordKey(host, user string) string { return fmt.Sprintf("password:%s@%s", user, host) }

func passphraseKey(keyPath string) string { return "passphrase:" + keyPath }

// StorePassword saves the SSH password of user on host.
func (ks *KeyringStore) StorePassword(host, user, password string) error {
	if err := ks.set(passwordKey(host, user), password); err != nil {
		return fmt.Errorf("store password for %s@%s: %w", user, host, err)
	}
	slog.Debug("stored password in keyring", slog.String("user", user), slog.String("host", host))
	return nil
}

// Password returns the stored password, or "" when none is stored.
func (ks *KeyringStore) Password(host, user string) (string, error) {
	return ks.get(passwordKey(host, user))
}

// DeletePassword removes a stored password. Deleting nothing is not an error.
func (ks *KeyringStore) DeletePassword(host, user string) error {
	return ks.delete(passwordKey(host, user))
}

// StorePassphrase saves the passphrase of a private key file.
func (ks *KeyringStore) StorePassphrase(keyPath, passphrase string) error {
	if err := ks.set(passphraseKey(keyPath), passphrase); err != nil {
		return fmt.Errorf("store passphrase for %s: %w", keyPath, err)
	}
	return nil
}

// Passphrase returns the stored passphrase, or "" when none is stored.
func (ks *KeyringStore) Passphrase(keyPath string) (string, error) {
	return ks.get(passphraseKey(keyPath))
}

func (ks *KeyringStore) set(key, secret string) error {
	if !ks.IsEnabled() {
		return ErrKeyringUnavailable
	}
	return keyring.Set(KeyringService, key, secret)
}

func (ks *KeyringStore) get(key string) (string, error) {
	if !ks.IsEnabled() {
		return "", ErrKeyringUnavailable
	}
	secret, err := keyring.Get(KeyringService, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("keyring get: %w", err)
	}
	return secret, nil
}

func (ks *KeyringStore) delete(key string) error {
	if !ks.IsEnabled() {
		return ErrKeyringUnavailable
	}
	err := keyring.Delete(KeyringService, key)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keyring delete: %w", err)
	}
	return nil
}
