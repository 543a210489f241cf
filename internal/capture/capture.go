// Package capture drains a channel into a file in the background and verifies
// the saved replies from the foreground.
//
// The writer and the verifier hand batches back and forth: the writer appends
// one read to the file and marks the job busy; the verifier scans the file
// while busy and clears the flag to request the next batch. The flag and the
// file are only touched under Job.mu.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/acolita/satprobe/internal/adapters/realclock"
	"github.com/acolita/satprobe/internal/adapters/realfs"
	"github.com/acolita/satprobe/internal/ports"
	"github.com/acolita/satprobe/internal/reader"
	"github.com/acolita/satprobe/internal/session"
)

// DefaultStorageDir receives verified capture files.
const DefaultStorageDir = "stored_messages"

// Receiver performs one bounded read. *session.Session implements it.
type Receiver interface {
	Receive(ctx context.Context, timeout, quiet int) ([]string, error)
}

// Options configures a capture job.
type Options struct {
	Filename    string
	Timeout     int // writer budget in units, also the outer timeout of each read
	ReadTimeout int // quiet period of each read

	FS    ports.FileSystem
	Clock ports.Clock
	Unit  time.Duration
}

// FileAccessError reports a capture file that could not be opened, written
// or moved.
type FileAccessError struct {
	Path string
	Op   string
	Err  error
}

func (e *FileAccessError) Error() string {
	return fmt.Sprintf("couldn't %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileAccessError) Unwrap() error { return e.Err }

// Job is a running capture.
type Job struct {
	opts Options

	mu   sync.Mutex
	busy bool

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	err      error
}

// Start launches the writer goroutine and returns immediately.
func Start(ctx context.Context, src Receiver, opts Options) *Job {
	if opts.FS == nil {
		opts.FS = realfs.New()
	}
	if opts.Clock == nil {
		opts.Clock = realclock.New()
	}
	if opts.Unit <= 0 {
		opts.Unit = reader.DefaultUnit
	}

	j := &Job{
		opts: opts,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	slog.Info("capture started",
		slog.String("file", opts.Filename),
		slog.Int("timeout", opts.Timeout),
		slog.Int("read_timeout", opts.ReadTimeout),
	)

	go func() {
		defer close(j.done)
		j.err = j.write(ctx, src)
		if j.err != nil {
			slog.Warn("capture stopped", slog.String("file", opts.Filename), slog.String("error", j.err.Error()))
		}
	}()
	return j
}

// Busy reports whether a batch is waiting to be verified.
func (j *Job) Busy() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.busy
}

// Stop asks the writer to finish. It does not wait; use Wait for that.
func (j *Job) Stop() {
	j.stopOnce.Do(func() { close(j.stop) })
}

// Done is closed once the writer has exited.
func (j *Job) Done() <-chan struct{} { return j.done }

// Wait blocks until the writer exits and returns its terminal error.
func (j *Job) Wait() error {
	<-j.done
	return j.err
}

// write runs until stopped or out of budget. A batch still pending when the
// budget runs out stays marked busy so the verifier can scan it.
func (j *Job) write(ctx context.Context, src Receiver) error {
	for budget := 0; budget < j.opts.Timeout; {
		select {
		case <-j.stop:
			j.setBusy(false)
			return nil
		default:
		}

		if j.Busy() {
			if stopped, err := j.idle(ctx); stopped || err != nil {
				j.setBusy(false)
				return err
			}
			budget++
			continue
		}

		// The read holds the session's I/O lock, not j.mu.
		lines, err := src.Receive(ctx, j.opts.Timeout, j.opts.ReadTimeout)
		if werr := j.appendBatch(lines); werr != nil {
			return werr
		}
		if err != nil {
			return err
		}
		budget += j.opts.ReadTimeout
	}
	return nil
}

// idle waits one unit. It reports whether the job was stopped meanwhile.
func (j *Job) idle(ctx context.Context) (bool, error) {
	select {
	case <-j.stop:
		return true, nil
	case <-ctx.Done():
		return true, ctx.Err()
	case <-j.opts.Clock.After(j.opts.Unit):
		return false, nil
	}
}

func (j *Job) appendBatch(lines []string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := j.opts.FS.OpenFile(j.opts.Filename, ports.AppendFlags, 0o644)
	if err != nil {
		return &FileAccessError{Path: j.opts.Filename, Op: "open", Err: err}
	}

	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	_, werr := f.Write([]byte(b.String()))
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		return &FileAccessError{Path: j.opts.Filename, Op: "write", Err: err}
	}

	j.busy = true
	return nil
}

func (j *Job) setBusy(v bool) {
	j.mu.Lock()
	j.busy = v
	j.mu.Unlock()
}

// Verify checks the saved replies for message. Once per unit, for up to
// timeout units, it scans the file whenever the writer has delivered a batch.
// Only those scans decide the outcome. Either way it then stops the writer,
// moves the file to <storageDir>/<name>_<unix-seconds> and returns the new
// path. A message not seen within the window yields a *session.VerificationError carrying the final file
// contents; the file is relocated regardless.
func (j *Job) Verify(ctx context.Context, message string, timeout int, storageDir string) (string, error) {
	found := false
	for tick := 0; tick < timeout && !found; tick++ {
		if err := reader.Sleep(ctx, j.opts.Clock, j.opts.Unit); err != nil {
			j.Stop()
			return "", err
		}

		var err error
		found, err = j.scan(message)
		if err != nil {
			j.Stop()
			return "", err
		}
	}

	j.Stop()
	if err := j.Wait(); err != nil {
		var fae *FileAccessError
		if errors.As(err, &fae) {
			return "", err
		}
		// A broken channel only ends the capture; what was saved still counts.
		slog.Warn("capture ended early", slog.String("error", err.Error()))
	}

	data, err := j.opts.FS.ReadFile(j.opts.Filename)
	if err != nil {
		return "", &FileAccessError{Path: j.opts.Filename, Op: "open", Err: err}
	}
	// Lines that landed after the window are stored and reported but do not
	// count as found.
	lines := reader.SplitLines(string(data))

	stored, err := j.relocate(storageDir)
	if err != nil {
		return "", err
	}
	slog.Info("capture file stored", slog.String("file", stored), slog.Bool("found", found))

	if !found {
		return stored, &session.VerificationError{
			Message:  message,
			Expected: true,
			Source:   session.SourceSavedReplies,
			Lines:    lines,
		}
	}
	return stored, nil
}

// scan checks the current file when a batch is pending and hands the turn
// back to the writer.
func (j *Job) scan(message string) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.busy {
		return false, nil
	}
	data, err := j.opts.FS.ReadFile(j.opts.Filename)
	if err != nil {
		return false, &FileAccessError{Path: j.opts.Filename, Op: "open", Err: err}
	}
	j.busy = false
	return session.Contains(reader.SplitLines(string(data)), message), nil
}

func (j *Job) relocate(storageDir string) (string, error) {
	if storageDir == "" {
		storageDir = DefaultStorageDir
	}
	if err := j.opts.FS.MkdirAll(storageDir, 0o755); err != nil {
		return "", &FileAccessError{Path: storageDir, Op: "create", Err: err}
	}

	name := filepath.Base(j.opts.Filename) + "_" + strconv.FormatInt(j.opts.Clock.Now().Unix(), 10)
	target := filepath.Join(storageDir, name)
	if err := j.opts.FS.Rename(j.opts.Filename, target); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &FileAccessError{Path: j.opts.Filename, Op: "move", Err: err}
		}
		return "", &FileAccessError{Path: target, Op: "move", Err: err}
	}
	return target, nil
}
