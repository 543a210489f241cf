// Package realnet provides the real NetworkDialer used to reach socket targets.
package realnet

import (
	"net"
	"time"

	"github.com/acolita/satprobe/internal/ports"
)

// Dialer implements ports.NetworkDialer using net.DialTimeout.
type Dialer struct{}

// NewDialer creates a new Dialer.
func NewDialer() *Dialer {
	return &Dialer{}
}

// DialTimeout establishes a network connection.
func (d *Dialer) DialTimeout(network, address string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout(network, address, timeout)
}

var _ ports.NetworkDialer = (*Dialer)(nil)
