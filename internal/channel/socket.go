package channel

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/acolita/satprobe/internal/ports"
)

// Socket is a Channel over a stream-socket connection.
type Socket struct {
	conn   net.Conn
	pump   *pump
	sendMu sync.Mutex

	mu     sync.Mutex
	closed bool
}

// Dial connects to host:port through dialer and wraps the connection.
func Dial(dialer ports.NetworkDialer, host string, port int, timeout time.Duration) (*Socket, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	slog.Info("opening socket connection", slog.String("addr", addr))

	conn, err := dialer.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	s := NewSocket(conn)
	slog.Info("socket connected", slog.String("addr", addr), slog.String("remote", s.RemoteAddr().String()))
	return s, nil
}

// NewSocket wraps an established connection. The socket starts draining the
// connection immediately.
func NewSocket(conn net.Conn) *Socket {
	return &Socket{
		conn: conn,
		pump: newPump(conn),
	}
}

// Kind implements Channel.
func (s *Socket) Kind() Kind { return KindSocket }

// Send implements Channel.
func (s *Socket) Send(text string) error {
	if s.isClosed() {
		return &Error{Kind: KindSocket, Op: "send", Err: ErrClosed}
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	slog.Info("sending command", slog.String("channel", KindSocket.String()), slog.String("command", text))
	if _, err := io.WriteString(s.conn, text+Terminator); err != nil {
		return &Error{Kind: KindSocket, Op: "send", Err: err}
	}
	return nil
}

// TryReceive implements Channel.
func (s *Socket) TryReceive() (string, error) {
	chunk, err := s.pump.next()
	if err == nil || err == ErrNoData {
		return chunk, err
	}
	if s.isClosed() {
		err = ErrClosed
	}
	return "", &Error{Kind: KindSocket, Op: "receive", Err: err}
}

// RemoteAddr returns the peer address.
func (s *Socket) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Close shuts the connection down. It is safe to call more than once.
func (s *Socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	slog.Info("closing socket connection")
	return s.conn.Close()
}

func (s *Socket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

var _ Channel = (*Socket)(nil)
