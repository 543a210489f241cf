package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/acolita/satprobe/internal/adapters/realfs"
	"github.com/acolita/satprobe/internal/capture"
	"github.com/acolita/satprobe/internal/ports"
	"github.com/acolita/satprobe/internal/retry"
	"github.com/acolita/satprobe/internal/security"
	"github.com/acolita/satprobe/internal/session"
)

// StepResult records the outcome of one executed step.
type StepResult struct {
	Index    int // 1-based
	Name     string
	Keyword  Keyword
	Err      error
	Started  time.Time
	Duration time.Duration

	Resends    int    // persistent_command
	StoredPath string // verify_saved_reply
}

// Passed reports whether the step succeeded.
func (r StepResult) Passed() bool { return r.Err == nil }

// Report is the outcome of a script run. Steps holds every step that was
// attempted; a failed run ends with the failing step.
type Report struct {
	Script   string
	Steps    []StepResult
	Started  time.Time
	Duration time.Duration
}

// Passed reports whether every attempted step succeeded.
func (r *Report) Passed() bool {
	for _, s := range r.Steps {
		if s.Err != nil {
			return false
		}
	}
	return true
}

// StepError wraps the failure of a single step.
type StepError struct {
	Index   int
	Name    string
	Keyword Keyword
	Err     error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d %q (%s): %v", e.Index, e.Name, e.Keyword, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Runner executes scripts against one session.
type Runner struct {
	sess       *session.Session
	guard      *security.CommandGuard
	fs         ports.FileSystem
	storageDir string

	captures map[string]*capture.Job
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithGuard rejects commands the guard does not allow.
func WithGuard(g *security.CommandGuard) RunnerOption {
	return func(r *Runner) { r.guard = g }
}

// WithFileSystem sets the file system used for capture files.
func WithFileSystem(fsys ports.FileSystem) RunnerOption {
	return func(r *Runner) { r.fs = fsys }
}

// WithStorageDir sets where verified capture files are moved.
func WithStorageDir(dir string) RunnerOption {
	return func(r *Runner) { r.storageDir = dir }
}

// NewRunner creates a runner for sess.
func NewRunner(sess *session.Session, opts ...RunnerOption) *Runner {
	r := &Runner{
		sess:       sess,
		fs:         realfs.New(),
		storageDir: capture.DefaultStorageDir,
		captures:   make(map[string]*capture.Job),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the steps of s in order and stops at the first failure. The
// returned error is a *StepError for step failures. Capture jobs still
// running when the script ends are stopped and their files left in place.
func (r *Runner) Run(ctx context.Context, s *Script) (*Report, error) {
	clock := r.sess.Clock()
	report := &Report{Script: s.Name, Started: clock.Now()}
	log := slog.With(slog.String("script", s.Name), slog.String("session_id", r.sess.ID))

	defer r.stopCaptures(log)

	log.Info("script started", slog.Int("steps", len(s.Steps)))
	for i := range s.Steps {
		st := &s.Steps[i]
		res := StepResult{Index: i + 1, Name: st.label(), Keyword: st.Keyword, Started: clock.Now()}

		res.Err = r.runStep(ctx, st, &res)
		res.Duration = clock.Now().Sub(res.Started)
		report.Steps = append(report.Steps, res)

		if res.Err != nil {
			log.Error("step failed",
				slog.Int("step", res.Index),
				slog.String("name", res.Name),
				slog.String("keyword", string(res.Keyword)),
				slog.String("error", res.Err.Error()),
			)
			report.Duration = clock.Now().Sub(report.Started)
			return report, &StepError{Index: res.Index, Name: res.Name, Keyword: res.Keyword, Err: res.Err}
		}
		log.Info("step passed",
			slog.Int("step", res.Index),
			slog.String("name", res.Name),
			slog.Duration("duration", res.Duration),
		)
	}

	report.Duration = clock.Now().Sub(report.Started)
	log.Info("script passed", slog.Duration("duration", report.Duration))
	return report, nil
}

func (r *Runner) runStep(ctx context.Context, st *Step, res *StepResult) error {
	timeout, quiet := st.timing()

	switch st.Keyword {
	case KeywordSend:
		if err := r.guard.Check(st.Message); err != nil {
			return err
		}
		mode := session.StoreReplies
		if st.Store != nil && !*st.Store {
			mode = session.DiscardReplies
		}
		_, err := r.sess.SendAndReceive(ctx, st.Message, mode, timeout, quiet)
		return err

	case KeywordClearReplies:
		mode := session.ClearStored
		if st.KeepStored {
			mode = session.KeepStored
		}
		return r.sess.Clear(ctx, mode, quiet)

	case KeywordClearStored:
		r.sess.Replies().Reset()
		return nil

	case KeywordVerifyContains:
		return r.sess.VerifyContains(ctx, st.Message, timeout, quiet)
	case KeywordVerifyContainsNot:
		return r.sess.VerifyContainsNot(ctx, st.Message, timeout, quiet)
	case KeywordVerifyContained:
		return r.sess.VerifyBufferContains(st.Message)
	case KeywordVerifyContainedNot:
		return r.sess.VerifyBufferContainsNot(st.Message)
	case KeywordWaitUntil:
		return r.sess.WaitUntilContains(ctx, st.Message, timeout, quiet)

	case KeywordSaveReplies:
		if prev, ok := r.captures[st.Filename]; ok {
			select {
			case <-prev.Done():
				slog.Debug("replacing finished capture", slog.String("file", st.Filename))
			default:
				return fmt.Errorf("a capture into %s is already running", st.Filename)
			}
		}
		r.captures[st.Filename] = capture.Start(ctx, r.sess, capture.Options{
			Filename:    st.Filename,
			Timeout:     timeout,
			ReadTimeout: quiet,
			FS:          r.fs,
			Clock:       r.sess.Clock(),
			Unit:        r.sess.Unit(),
		})
		return nil

	case KeywordVerifySaved:
		job, ok := r.captures[st.Filename]
		if !ok {
			return fmt.Errorf("no capture running for %s", st.Filename)
		}
		delete(r.captures, st.Filename)
		path, err := job.Verify(ctx, st.Message, timeout, r.storageDir)
		res.StoredPath = path
		return err

	case KeywordPersistent:
		if err := r.guard.Check(st.Message); err != nil {
			return err
		}
		end, err := st.endTrigger()
		if err != nil {
			return err
		}
		out, err := retry.Run(ctx, r.sess, retry.Request{
			Message:     st.Message,
			Exceptions:  st.Exceptions,
			End:         end,
			Timeout:     timeout,
			ReadTimeout: quiet,
		})
		if out != nil {
			res.Resends = out.Resends
		}
		return err

	case KeywordSleep:
		for i := 0; i < st.Duration; i++ {
			if err := r.sess.Pause(ctx); err != nil {
				return err
			}
		}
		return nil
	}

	return fmt.Errorf("unknown keyword %q", st.Keyword)
}

func (r *Runner) stopCaptures(log *slog.Logger) {
	for name, job := range r.captures {
		job.Stop()
		if err := job.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("capture ended with error", slog.String("file", name), slog.String("error", err.Error()))
		}
		delete(r.captures, name)
	}
}
