// Package fakesshdialer provides a scripted ports.SSHDialer.
package fakesshdialer

import (
	"errors"
	"sync"

	"golang.org/x/crypto/ssh"

	"github.com/acolita/satprobe/internal/ports"
)

// ErrNotConfigured is returned by a dialer nobody scripted.
var ErrNotConfigured = errors.New("fakesshdialer: not configured")

// DialCall records one Dial.
type DialCall struct {
	Network string
	Addr    string
	Config  *ssh.ClientConfig
}

// Dialer fails with ErrNotConfigured unless SetDialFunc or SetError is used.
type Dialer struct {
	mu    sync.Mutex
	fn    func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)
	calls []DialCall
}

// New creates an unconfigured dialer.
func New() *Dialer {
	return &Dialer{}
}

// Dial records the call and delegates to the configured function.
func (d *Dialer) Dial(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	d.mu.Lock()
	d.calls = append(d.calls, DialCall{Network: network, Addr: addr, Config: config})
	fn := d.fn
	d.mu.Unlock()

	if fn == nil {
		return nil, ErrNotConfigured
	}
	return fn(network, addr, config)
}

// Calls returns the recorded calls.
func (d *Dialer) Calls() []DialCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DialCall(nil), d.calls...)
}

// SetDialFunc installs the function Dial delegates to.
func (d *Dialer) SetDialFunc(fn func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)) {
	d.mu.Lock()
	d.fn = fn
	d.mu.Unlock()
}

// SetError makes every Dial fail with err.
func (d *Dialer) SetError(err error) {
	d.SetDialFunc(func(string, string, *ssh.ClientConfig) (*ssh.Client, error) {
		return nil, err
	})
}

var _ ports.SSHDialer = (*Dialer)(nil)
