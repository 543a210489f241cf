// Package recording writes script transcripts in asciicast v2 format, so a
// run can be replayed with any asciinema player.
package recording

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/acolita/satprobe/internal/ports"
)

// Default terminal geometry announced in the header.
const (
	DefaultWidth  = 120
	DefaultHeight = 24
)

// Recorder appends "i" events for sent commands and "o" events for received
// lines. It implements session.Transcript.
type Recorder struct {
	mu        sync.Mutex
	file      ports.FileHandle
	startTime time.Time
	closed    bool
	clock     ports.Clock
}

// Header is the first line of an asciicast v2 file.
type Header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Title     string            `json:"title,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// Event is one [time, type, data] line.
type Event struct {
	Time float64
	Type string
	Data string
}

// MarshalJSON encodes the event as a three-element array.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Time, e.Type, e.Data})
}

// Options configures a Recorder.
type Options struct {
	Dir    string // created if missing
	RunID  string // file name prefix
	Title  string // usually the script name
	Target string // channel kind, stored in the header env
	FS     ports.FileSystem
	Clock  ports.Clock
}

// New creates <Dir>/<RunID>_<timestamp>.cast and writes the header.
func New(opts Options) (*Recorder, error) {
	if err := opts.FS.MkdirAll(opts.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("create recording directory: %w", err)
	}

	now := opts.Clock.Now()
	name := fmt.Sprintf("%s_%s.cast", opts.RunID, now.Format("20060102_150405"))
	file, err := opts.FS.OpenFile(filepath.Join(opts.Dir, name), os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create recording file: %w", err)
	}

	header, err := json.Marshal(Header{
		Version:   2,
		Width:     DefaultWidth,
		Height:    DefaultHeight,
		Timestamp: now.Unix(),
		Title:     opts.Title,
		Env:       map[string]string{"TERM": "dumb", "SATPROBE_TARGET": opts.Target},
	})
	if err == nil {
		_, err = file.Write(append(header, '\n'))
	}
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}

	return &Recorder{file: file, startTime: now, clock: opts.Clock}, nil
}

// RecordInput records data sent to the target.
func (r *Recorder) RecordInput(data string) error {
	return r.record("i", data)
}

// RecordOutput records data received from the target.
func (r *Recorder) RecordOutput(data string) error {
	return r.record("o", data)
}

func (r *Recorder) record(kind, data string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	line, err := json.Marshal(Event{
		Time: r.clock.Now().Sub(r.startTime).Seconds(),
		Type: kind,
		Data: data,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := r.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Close closes the file. Later events are dropped.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.file.Close()
}

// Path returns the recording file path.
func (r *Recorder) Path() string {
	return r.file.Name()
}
