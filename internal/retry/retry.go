// Package retry implements the persistent command: send a command, keep
// resending it while the replies carry an exception trigger, and stop once an
// end trigger shows up or the iteration budget runs out.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/acolita/satprobe/internal/session"
)

// EndKind selects what terminates a persistent command successfully.
type EndKind int

const (
	// EndOnAnyReply ends the command at the first reply line.
	EndOnAnyReply EndKind = iota
	// EndOnTimeout keeps going until the budget is exhausted, which counts
	// as success.
	EndOnTimeout
	// EndOnText ends the command once a reply line contains Text. Running
	// out of budget first is an error.
	EndOnText
)

func (k EndKind) String() string {
	switch k {
	case EndOnAnyReply:
		return "any-reply"
	case EndOnTimeout:
		return "timeout"
	case EndOnText:
		return "text"
	default:
		return fmt.Sprintf("EndKind(%d)", int(k))
	}
}

// EndTrigger describes the successful end of a persistent command.
type EndTrigger struct {
	Kind EndKind
	Text string // used with EndOnText
}

// AnyReply returns the trigger that ends on the first reply line.
func AnyReply() EndTrigger { return EndTrigger{Kind: EndOnAnyReply} }

// UntilTimeout returns the trigger that ends when the budget runs out.
func UntilTimeout() EndTrigger { return EndTrigger{Kind: EndOnTimeout} }

// OnText returns the trigger that ends once a line contains text.
func OnText(text string) EndTrigger { return EndTrigger{Kind: EndOnText, Text: text} }

func (t EndTrigger) String() string {
	if t.Kind == EndOnText {
		return fmt.Sprintf("%q", t.Text)
	}
	return t.Kind.String()
}

func (t EndTrigger) matches(line string) bool {
	switch t.Kind {
	case EndOnAnyReply:
		return true
	case EndOnText:
		return strings.Contains(line, t.Text)
	default:
		return false
	}
}

// State is the automaton's position.
type State int

const (
	StateSent State = iota
	StateAwaiting
	StateRetrying
	StateDone
)

func (s State) String() string {
	switch s {
	case StateSent:
		return "sent"
	case StateAwaiting:
		return "awaiting"
	case StateRetrying:
		return "retrying"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Request configures one persistent command.
type Request struct {
	Message     string
	Exceptions  []string // any of these in a reply line triggers a resend
	End         EndTrigger
	Timeout     int // iteration budget, also the outer timeout of each read
	ReadTimeout int // quiet period of each read
}

// Result reports how a persistent command finished.
type Result struct {
	State   State
	Success bool
	Resends int
	Lines   []string // every line read, in order
}

// ExhaustedError reports a persistent command that did not finish cleanly:
// either the end trigger never appeared, or an exception trigger was still
// present after the budget ran out.
type ExhaustedError struct {
	End       EndTrigger
	Exception string
	Persisted bool
	Lines     []string
}

func (e *ExhaustedError) Error() string {
	if e.Persisted {
		return fmt.Sprintf("exception %q still found after timeout", e.Exception)
	}
	return fmt.Sprintf("desired reply %s was not found in process replies", e.End)
}

// Run executes req on sess. Replies of every read replace the session's
// reply store. Channel failures end the run immediately and are never
// retried.
func Run(ctx context.Context, sess *session.Session, req Request) (*Result, error) {
	exceptions := nonEmpty(req.Exceptions)
	res := &Result{State: StateSent}

	log := slog.With(
		slog.String("session_id", sess.ID),
		slog.String("command", req.Message),
		slog.String("end", req.End.String()),
	)

	if err := sess.Send(req.Message); err != nil {
		return res, err
	}
	res.State = StateAwaiting

	// Each iteration, the last one included, ends with a one-unit pause.
	for iter := 0; iter < req.Timeout && !res.Success; iter++ {
		lines, err := sess.Receive(ctx, req.Timeout, req.ReadTimeout)
		res.Lines = append(res.Lines, lines...)
		if err != nil {
			return res, err
		}
		sess.Replies().Store(lines)

		for _, line := range lines {
			if exc, ok := firstMatch(line, exceptions); ok {
				log.Info("exception found, resending command", slog.String("exception", exc))
				if err := sess.Send(req.Message); err != nil {
					return res, err
				}
				res.Resends++
				res.State = StateRetrying
			}
			if req.End.matches(line) {
				res.Success = true
				break
			}
		}

		if err := sess.Pause(ctx); err != nil {
			return res, err
		}
	}

	res.State = StateDone

	if req.End.Kind == EndOnText {
		if !res.Success {
			log.Info("persistent command exhausted", slog.Int("resends", res.Resends))
			return res, &ExhaustedError{End: req.End, Lines: res.Lines}
		}
		log.Info("desired reply found", slog.Int("resends", res.Resends))
		return res, nil
	}

	res.Success = true
	return res, recheck(ctx, sess, req, exceptions, res)
}

// recheck takes one short read after an any-reply or timeout ending and fails
// if any configured exception trigger is still being reported.
func recheck(ctx context.Context, sess *session.Session, req Request, exceptions []string, res *Result) error {
	lines, err := sess.Receive(ctx, 1, req.ReadTimeout)
	res.Lines = append(res.Lines, lines...)
	if err != nil {
		return err
	}
	sess.Replies().Store(lines)

	for _, line := range lines {
		if exc, ok := firstMatch(line, exceptions); ok {
			res.Success = false
			return &ExhaustedError{End: req.End, Exception: exc, Persisted: true, Lines: res.Lines}
		}
	}
	return nil
}

func firstMatch(line string, candidates []string) (string, bool) {
	for _, c := range candidates {
		if strings.Contains(line, c) {
			return c, true
		}
	}
	return "", false
}

// nonEmpty drops empty triggers, which would otherwise match every line.
func nonEmpty(triggers []string) []string {
	var out []string
	for _, t := range triggers {
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
