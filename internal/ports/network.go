// Package ports defines interfaces for external dependencies (Ports and Adapters pattern).
package ports

import (
	"net"
	"time"
)

// NetworkDialer abstracts network dialing for testing.
type NetworkDialer interface {
	// DialTimeout establishes a network connection, giving up after timeout.
	DialTimeout(network, address string, timeout time.Duration) (net.Conn, error)
}
