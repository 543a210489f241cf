// Package ports defines interfaces for external dependencies (Ports and Adapters pattern).
package ports

import "time"

// Clock abstracts time so polling loops can run on simulated time in tests.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time after duration d.
	// Every poll step waits on this channel, never on time.Sleep directly.
	After(d time.Duration) <-chan time.Time
}
