// Package session provides the command session used by test steps: send a
// command, collect replies with the polling reader, keep the latest stored
// replies and verify their contents.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acolita/satprobe/internal/adapters/realclock"
	"github.com/acolita/satprobe/internal/channel"
	"github.com/acolita/satprobe/internal/ports"
	"github.com/acolita/satprobe/internal/reader"
)

// StoreMode selects whether a read replaces the reply store.
type StoreMode int

const (
	// StoreReplies replaces the reply store with the lines read.
	StoreReplies StoreMode = iota
	// DiscardReplies leaves the reply store untouched.
	DiscardReplies
)

// ClearMode selects whether Clear empties the reply store.
type ClearMode int

const (
	// ClearStored empties the reply store before draining the channel.
	ClearStored ClearMode = iota
	// KeepStored only drains the channel.
	KeepStored
)

// Transcript receives a copy of the session's traffic.
type Transcript interface {
	RecordInput(data string) error
	RecordOutput(data string) error
}

// Session drives one channel. It does not own the channel; whoever set the
// channel up closes it.
//
// All channel access goes through ioMu so a background capture and the
// foreground steps never interleave reads on the same channel.
type Session struct {
	ID string

	ch         channel.Channel
	reader     *reader.Reader
	clock      ports.Clock
	unit       time.Duration
	replies    *ReplyStore
	transcript Transcript

	ioMu sync.Mutex
}

type options struct {
	id         string
	clock      ports.Clock
	unit       time.Duration
	transcript Transcript
}

// Option configures a Session.
type Option func(*options)

// WithID sets the session identifier. A random UUID is used otherwise.
func WithID(id string) Option {
	return func(o *options) {
		o.id = id
	}
}

// WithClock sets the clock used for every wait.
func WithClock(c ports.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithUnit sets the length of one time unit.
func WithUnit(d time.Duration) Option {
	return func(o *options) {
		o.unit = d
	}
}

// WithTranscript records sent commands and received lines.
func WithTranscript(t Transcript) Option {
	return func(o *options) {
		o.transcript = t
	}
}

// New creates a session over ch.
func New(ch channel.Channel, opts ...Option) *Session {
	o := options{
		clock: realclock.New(),
		unit:  reader.DefaultUnit,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}
	if o.unit <= 0 {
		o.unit = reader.DefaultUnit
	}

	return &Session{
		ID:         o.id,
		ch:         ch,
		reader:     reader.New(ch, reader.WithClock(o.clock), reader.WithUnit(o.unit)),
		clock:      o.clock,
		unit:       o.unit,
		replies:    NewReplyStore(),
		transcript: o.transcript,
	}
}

// Kind returns the kind of the underlying channel.
func (s *Session) Kind() channel.Kind { return s.ch.Kind() }

// Replies returns the session's reply store.
func (s *Session) Replies() *ReplyStore { return s.replies }

// Clock returns the clock the session waits on.
func (s *Session) Clock() ports.Clock { return s.clock }

// Unit returns the length of one time unit.
func (s *Session) Unit() time.Duration { return s.unit }

// Pause waits one time unit.
func (s *Session) Pause(ctx context.Context) error {
	return reader.Sleep(ctx, s.clock, s.unit)
}

// Send writes message to the channel.
func (s *Session) Send(message string) error {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()
	return s.sendLocked(message)
}

// Receive runs one bounded read and returns its lines without storing them.
func (s *Session) Receive(ctx context.Context, timeout, quiet int) ([]string, error) {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()
	return s.receiveLocked(ctx, timeout, quiet)
}

// SendAndReceive sends message, reads the replies and stores them when mode
// is StoreReplies. No other reader can use the channel in between.
func (s *Session) SendAndReceive(ctx context.Context, message string, mode StoreMode, timeout, quiet int) ([]string, error) {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	if err := s.sendLocked(message); err != nil {
		return nil, err
	}
	lines, err := s.receiveLocked(ctx, timeout, quiet)
	if err != nil {
		return lines, err
	}

	if mode == StoreReplies {
		s.replies.Store(lines)
		slog.Debug("stored replies",
			slog.String("session_id", s.ID),
			slog.Int("lines", len(lines)),
		)
	}
	return lines, nil
}

func (s *Session) sendLocked(message string) error {
	if err := s.ch.Send(message); err != nil {
		return err
	}
	if s.transcript != nil {
		if err := s.transcript.RecordInput(message + channel.Terminator); err != nil {
			slog.Warn("transcript write failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

func (s *Session) receiveLocked(ctx context.Context, timeout, quiet int) ([]string, error) {
	lines, err := s.reader.Read(ctx, timeout, quiet)
	if s.transcript != nil {
		for _, line := range lines {
			if reader.IsDiagnostic(line) {
				continue
			}
			if terr := s.transcript.RecordOutput(line + "\n"); terr != nil {
				slog.Warn("transcript write failed", slog.String("error", terr.Error()))
				break
			}
		}
	}
	return lines, err
}

// Clear optionally empties the reply store, then discards whatever the
// channel delivers within quiet units. The drain is best effort: a broken
// channel is logged, not returned.
func (s *Session) Clear(ctx context.Context, mode ClearMode, quiet int) error {
	if mode == ClearStored {
		s.replies.Reset()
	}

	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	_, err := s.ch.TryReceive()
	for waited := 0; errors.Is(err, channel.ErrNoData) && waited < quiet; waited++ {
		if serr := s.Pause(ctx); serr != nil {
			return serr
		}
		_, err = s.ch.TryReceive()
	}

	// Once data shows up, take everything already queued.
	discarded := 0
	for err == nil {
		discarded++
		_, err = s.ch.TryReceive()
	}
	if channel.IsBroken(err) {
		slog.Warn("clearing replies hit a broken channel",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()),
		)
	}

	slog.Debug("cleared replies",
		slog.String("session_id", s.ID),
		slog.Int("chunks_discarded", discarded),
	)
	return nil
}

// VerifyContains reads fresh replies and fails unless a line contains message.
func (s *Session) VerifyContains(ctx context.Context, message string, timeout, quiet int) error {
	lines, err := s.Receive(ctx, timeout, quiet)
	if err != nil {
		return err
	}
	return check(lines, message, true, SourceReplies)
}

// VerifyContainsNot reads fresh replies and fails if a line contains message.
func (s *Session) VerifyContainsNot(ctx context.Context, message string, timeout, quiet int) error {
	lines, err := s.Receive(ctx, timeout, quiet)
	if err != nil {
		return err
	}
	return check(lines, message, false, SourceReplies)
}

// VerifyBufferContains fails unless a stored line contains message.
func (s *Session) VerifyBufferContains(message string) error {
	return check(s.replies.Lines(), message, true, SourceStoredReplies)
}

// VerifyBufferContainsNot fails if a stored line contains message.
func (s *Session) VerifyBufferContainsNot(message string) error {
	return check(s.replies.Lines(), message, false, SourceStoredReplies)
}

// WaitUntilContains returns once message has been seen, checking the reply
// store first and then running one-unit reads for up to timeout cycles.
func (s *Session) WaitUntilContains(ctx context.Context, message string, timeout, quiet int) error {
	if s.replies.Contains(message) {
		return nil
	}

	var observed []string
	for cycle := 1; ; cycle++ {
		lines, err := s.Receive(ctx, 1, quiet)
		observed = append(observed, lines...)
		if err != nil {
			return err
		}
		if Contains(lines, message) {
			return nil
		}
		if cycle >= timeout {
			break
		}
		if err := s.Pause(ctx); err != nil {
			return err
		}
	}

	return fail(message, true, SourceReplies, observed)
}

func check(lines []string, message string, expected bool, source string) error {
	if Contains(lines, message) == expected {
		return nil
	}
	return fail(message, expected, source, lines)
}

func fail(message string, expected bool, source string, lines []string) error {
	slog.Info("verification failed",
		slog.String("message", message),
		slog.Bool("expected", expected),
		slog.String("source", source),
		slog.Any("lines", lines),
	)
	return &VerificationError{
		Message:  message,
		Expected: expected,
		Source:   source,
		Lines:    lines,
	}
}
