// Package reader implements the polling read loop used to collect replies
// from a channel within bounded time.
//
// A read runs for at most timeout steps of one time unit. When a poll finds
// nothing, the reader waits up to quiet more units for data; those units count
// against the outer budget as well. If the quiet period expires the read ends
// early. Total waiting never exceeds timeout+quiet units.
package reader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/acolita/satprobe/internal/adapters/realclock"
	"github.com/acolita/satprobe/internal/channel"
	"github.com/acolita/satprobe/internal/ports"
)

// DefaultUnit is the length of one poll step.
const DefaultUnit = time.Second

// Diagnostic lines inserted into read results.
const (
	waitingLineFmt = "Waiting for more data from %s.."
	TimeoutLine    = "Process data read timeout!"
)

// errQuietExpired ends a read whose quiet period ran out.
var errQuietExpired = errors.New("quiet period expired")

// Reader polls a channel with the two-tier timeout policy.
type Reader struct {
	ch    channel.Channel
	clock ports.Clock
	unit  time.Duration
}

// Option configures a Reader.
type Option func(*Reader)

// WithClock sets the clock used for poll waits.
func WithClock(c ports.Clock) Option {
	return func(r *Reader) {
		r.clock = c
	}
}

// WithUnit sets the length of one poll step.
func WithUnit(d time.Duration) Option {
	return func(r *Reader) {
		if d > 0 {
			r.unit = d
		}
	}
}

// New creates a Reader for ch.
func New(ch channel.Channel, opts ...Option) *Reader {
	r := &Reader{
		ch:    ch,
		clock: realclock.New(),
		unit:  DefaultUnit,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WaitingLine returns the diagnostic recorded when a poll first comes back empty.
func WaitingLine(kind channel.Kind) string {
	return fmt.Sprintf(waitingLineFmt, kind.Source())
}

// IsDiagnostic reports whether line was produced by the reader itself.
func IsDiagnostic(line string) bool {
	return line == TimeoutLine || strings.HasPrefix(line, "Waiting for more data from ")
}

// Read collects lines for up to timeout units, allowing quiet units of
// silence before giving up. Lines keep receive order and include the
// reader's diagnostic lines. A channel failure ends the read immediately and
// is returned together with the lines gathered so far.
func (r *Reader) Read(ctx context.Context, timeout, quiet int) ([]string, error) {
	var lines []string

	for step := 0; step < timeout; {
		if err := Sleep(ctx, r.clock, r.unit); err != nil {
			return lines, err
		}
		step++

		chunk, err := r.ch.TryReceive()
		if errors.Is(err, channel.ErrNoData) {
			lines = append(lines, WaitingLine(r.ch.Kind()))
			chunk, err = r.awaitData(ctx, quiet, &step)
			if errors.Is(err, errQuietExpired) {
				lines = append(lines, TimeoutLine)
				slog.Debug("read quiet period expired",
					slog.String("channel", r.ch.Kind().String()),
					slog.Int("steps", step),
				)
				return lines, nil
			}
		}
		if err != nil {
			return lines, err
		}

		lines = r.appendChunk(lines, chunk)
	}

	return lines, nil
}

// awaitData polls through the quiet period. Every unit waited also advances
// the caller's outer step counter.
func (r *Reader) awaitData(ctx context.Context, quiet int, step *int) (string, error) {
	for waited := 0; waited < quiet; {
		chunk, err := r.ch.TryReceive()
		if !errors.Is(err, channel.ErrNoData) {
			return chunk, err
		}
		if err := Sleep(ctx, r.clock, r.unit); err != nil {
			return "", err
		}
		waited++
		*step++
	}
	return "", errQuietExpired
}

// appendChunk splits a received chunk into lines and drops empty ones.
func (r *Reader) appendChunk(lines []string, chunk string) []string {
	for _, line := range SplitLines(chunk) {
		slog.Debug("received", slog.String("channel", r.ch.Kind().String()), slog.String("line", line))
		lines = append(lines, line)
	}
	return lines
}

// SplitLines splits text on newlines, trims carriage returns and drops
// empty lines.
func SplitLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// Sleep waits d on clock, returning early with ctx's error if it is cancelled.
func Sleep(ctx context.Context, clock ports.Clock, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clock.After(d):
		return nil
	}
}
