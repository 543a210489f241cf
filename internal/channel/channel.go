// Package channel provides the transports used to talk to a system under test:
// a stream socket to a remote service, or the standard streams of a program.
package channel

import (
	"errors"
	"fmt"
)

// Terminator is appended to every command written to a channel.
const Terminator = "\r"

// chunkSize bounds a single receive, mirroring one recv call on the target.
const chunkSize = 1024

// Kind identifies the transport behind a Channel. It is used as the log tag
// on received lines.
type Kind int

const (
	// KindSocket is a persistent stream-socket connection.
	KindSocket Kind = iota
	// KindConsole is the stdin/stdout pair of a local program.
	KindConsole
	// KindRemote is the stdin/stdout pair of a program started over SSH.
	KindRemote
)

// String returns the log tag for the kind.
func (k Kind) String() string {
	switch k {
	case KindSocket:
		return "sock"
	case KindConsole:
		return "term"
	case KindRemote:
		return "remote"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Source names the peer in human-readable diagnostics.
func (k Kind) Source() string {
	if k == KindSocket {
		return "socket"
	}
	return "process"
}

var (
	// ErrNoData is returned by TryReceive when nothing is available right now.
	ErrNoData = errors.New("channel: no data available")

	// ErrClosed is wrapped in an *Error when the channel was closed locally.
	ErrClosed = errors.New("channel: closed")
)

// Channel sends commands to and polls replies from a system under test.
type Channel interface {
	// Send writes text followed by Terminator as a single frame.
	Send(text string) error

	// TryReceive returns available text without blocking. It returns ErrNoData
	// when nothing has arrived yet and an *Error once the connection is gone.
	TryReceive() (string, error)

	// Kind reports which transport this is.
	Kind() Kind
}

// Error reports a broken or closed connection. It is never retried.
type Error struct {
	Kind Kind
	Op   string // "send" or "receive"
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s channel %s: %v", e.Kind.Source(), e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsBroken reports whether err is a permanent channel failure.
func IsBroken(err error) bool {
	var chErr *Error
	return errors.As(err, &chErr)
}
