// Package fakenet provides a fake network dialer for testing socket targets.
package fakenet

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/acolita/satprobe/internal/ports"
)

// Dialer is a fake network dialer that can be configured to return errors or specific connections.
type Dialer struct {
	mu       sync.Mutex
	DialFunc func(network, address string, timeout time.Duration) (net.Conn, error)
	calls    []DialCall
}

// DialCall records a call to DialTimeout.
type DialCall struct {
	Network string
	Address string
	Timeout time.Duration
}

// NewDialer creates a new fake Dialer that returns an error by default.
func NewDialer() *Dialer {
	return &Dialer{
		DialFunc: func(network, address string, timeout time.Duration) (net.Conn, error) {
			return nil, fmt.Errorf("fakenet: not configured")
		},
	}
}

// DialTimeout records the call and delegates to DialFunc.
func (d *Dialer) DialTimeout(network, address string, timeout time.Duration) (net.Conn, error) {
	d.mu.Lock()
	d.calls = append(d.calls, DialCall{Network: network, Address: address, Timeout: timeout})
	fn := d.DialFunc
	d.mu.Unlock()
	return fn(network, address, timeout)
}

// Calls returns all recorded DialTimeout calls.
func (d *Dialer) Calls() []DialCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DialCall(nil), d.calls...)
}

// SetError configures the dialer to always return the given error.
func (d *Dialer) SetError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DialFunc = func(network, address string, timeout time.Duration) (net.Conn, error) {
		return nil, err
	}
}

// UsePipe makes the next dials return the client end of an in-memory
// net.Pipe. The server end is returned for the test to drive.
func (d *Dialer) UsePipe() net.Conn {
	client, server := net.Pipe()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DialFunc = func(network, address string, timeout time.Duration) (net.Conn, error) {
		return client, nil
	}
	return server
}

var _ ports.NetworkDialer = (*Dialer)(nil)
