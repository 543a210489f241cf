// Package fakeclock provides a controllable Clock implementation for testing.
package fakeclock

import (
	"sync"
	"time"

	"github.com/acolita/satprobe/internal/ports"
)

// Clock is a fake clock that can be controlled in tests.
//
// In manual mode (New) waiters fire only when Advance moves time past their
// deadline. In auto mode (NewAuto) every After call advances the clock by the
// requested duration and fires immediately, so polling loops run instantly
// while Now still reports the simulated time they consumed.
type Clock struct {
	mu      sync.Mutex
	start   time.Time
	current time.Time
	auto    bool
	waits   int
	waiters []waiter
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time
}

// New creates a new manual fake clock initialized to the given time.
func New(initial time.Time) *Clock {
	return &Clock{start: initial, current: initial}
}

// NewAuto creates a fake clock that advances itself on every After call.
func NewAuto(initial time.Time) *Clock {
	return &Clock{start: initial, current: initial, auto: true}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After returns a channel that receives the time after duration d.
func (c *Clock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.waits++
	ch := make(chan time.Time, 1)
	if c.auto {
		c.advanceLocked(d)
		ch <- c.current
		return ch
	}

	deadline := c.current.Add(d)
	if !c.current.Before(deadline) {
		ch <- c.current
		return ch
	}

	c.waiters = append(c.waiters, waiter{deadline: deadline, ch: ch})
	return ch
}

// Advance moves the clock forward by duration d, firing any waiters.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.advanceLocked(d)
	c.mu.Unlock()
}

func (c *Clock) advanceLocked(d time.Duration) {
	c.current = c.current.Add(d)
	now := c.current

	var remaining []waiter
	for _, w := range c.waiters {
		if !now.Before(w.deadline) {
			select {
			case w.ch <- now:
			default:
			}
		} else {
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining
}

// Elapsed returns how much simulated time has passed since creation.
func (c *Clock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.Sub(c.start)
}

// Waits returns how many times After has been called.
func (c *Clock) Waits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waits
}

// Pending returns the number of waiters that have not fired yet.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// Ensure Clock implements ports.Clock.
var _ ports.Clock = (*Clock)(nil)
