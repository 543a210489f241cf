// Package fakechannel provides a scripted channel.Channel for testing the
// polling reader and everything built on it without real connections.
package fakechannel

import (
	"sync"

	"github.com/acolita/satprobe/internal/channel"
)

type item struct {
	data string
	gap  bool
}

// Channel replays queued chunks, one per TryReceive call. Polls with nothing
// queued report channel.ErrNoData.
type Channel struct {
	mu        sync.Mutex
	kind      channel.Kind
	queue     []item
	sent      []string
	polls     int
	responder func(msg string) []string
	recvErr   error
	sendErr   error
}

// New creates a fake channel of the given kind.
func New(kind channel.Kind) *Channel {
	return &Channel{kind: kind}
}

// AddReply queues chunks returned by subsequent polls, in order.
func (c *Channel) AddReply(chunks ...string) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, chunk := range chunks {
		c.queue = append(c.queue, item{data: chunk})
	}
	return c
}

// AddSilence queues n polls that report no data before later replies.
func (c *Channel) AddSilence(n int) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 0; i < n; i++ {
		c.queue = append(c.queue, item{gap: true})
	}
	return c
}

// OnSend installs a function whose result is queued after every Send.
func (c *Channel) OnSend(fn func(msg string) []string) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responder = fn
	return c
}

// FailReceive makes polls fail with err once the queue is empty.
func (c *Channel) FailReceive(err error) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recvErr = err
	return c
}

// FailSend makes every Send fail with err.
func (c *Channel) FailSend(err error) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
	return c
}

// Send implements channel.Channel.
func (c *Channel) Send(text string) error {
	c.mu.Lock()
	if c.sendErr != nil {
		err := c.sendErr
		c.mu.Unlock()
		return &channel.Error{Kind: c.kind, Op: "send", Err: err}
	}
	c.sent = append(c.sent, text)
	responder := c.responder
	c.mu.Unlock()

	if responder != nil {
		c.AddReply(responder(text)...)
	}
	return nil
}

// TryReceive implements channel.Channel.
func (c *Channel) TryReceive() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.polls++
	if len(c.queue) > 0 {
		next := c.queue[0]
		c.queue = c.queue[1:]
		if next.gap {
			return "", channel.ErrNoData
		}
		return next.data, nil
	}
	if c.recvErr != nil {
		return "", &channel.Error{Kind: c.kind, Op: "receive", Err: c.recvErr}
	}
	return "", channel.ErrNoData
}

// Kind implements channel.Channel.
func (c *Channel) Kind() channel.Kind { return c.kind }

// --- Test inspection methods ---

// Sent returns every message passed to Send, without terminators.
func (c *Channel) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

// Polls returns how many times TryReceive was called.
func (c *Channel) Polls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.polls
}

// Pending returns how many queued items have not been consumed.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

var _ channel.Channel = (*Channel)(nil)
