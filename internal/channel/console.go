package channel

import (
	"io"
	"log/slog"
	"sync"
)

// Console is a Channel over a program's standard input and output.
type Console struct {
	kind   Kind
	stdin  io.Writer
	pump   *pump
	sendMu sync.Mutex

	mu     sync.Mutex
	closed bool
}

// NewConsole wraps a program's input writer and output reader. kind is
// KindConsole for local programs and KindRemote for programs run over SSH.
// Output should already have stderr merged in.
func NewConsole(kind Kind, stdin io.Writer, stdout io.Reader) *Console {
	return &Console{
		kind:  kind,
		stdin: stdin,
		pump:  newPump(stdout),
	}
}

// Kind implements Channel.
func (c *Console) Kind() Kind { return c.kind }

// Send implements Channel.
func (c *Console) Send(text string) error {
	if c.isClosed() {
		return &Error{Kind: c.kind, Op: "send", Err: ErrClosed}
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	slog.Info("sending command", slog.String("channel", c.kind.String()), slog.String("command", text))
	if _, err := io.WriteString(c.stdin, text+Terminator); err != nil {
		return &Error{Kind: c.kind, Op: "send", Err: err}
	}
	return nil
}

// TryReceive implements Channel.
func (c *Console) TryReceive() (string, error) {
	chunk, err := c.pump.next()
	if err == nil || err == ErrNoData {
		return chunk, err
	}
	return "", &Error{Kind: c.kind, Op: "receive", Err: err}
}

// Close closes the input side if it is closable. The output side belongs to
// whoever started the program.
func (c *Console) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if closer, ok := c.stdin.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (c *Console) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

var _ Channel = (*Console)(nil)
