// Package script loads YAML test scripts and runs their steps against a
// command session.
package script

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/acolita/satprobe/internal/ports"
	"github.com/acolita/satprobe/internal/retry"
)

// Keyword names a step action.
type Keyword string

const (
	KeywordSend               = Keyword("send_command")
	KeywordClearReplies       = Keyword("clear_replies")
	KeywordClearStored        = Keyword("clear_stored_messages")
	KeywordVerifyContains     = Keyword("verify_reply_contains")
	KeywordVerifyContainsNot  = Keyword("verify_reply_contains_not")
	KeywordVerifyContained    = Keyword("verify_reply_contained")
	KeywordVerifyContainedNot = Keyword("verify_reply_contained_not")
	KeywordWaitUntil          = Keyword("wait_until_reply_contains")
	KeywordSaveReplies        = Keyword("save_program_replies")
	KeywordVerifySaved        = Keyword("verify_saved_reply")
	KeywordPersistent         = Keyword("persistent_command")
	KeywordSleep              = Keyword("sleep")
)

// Older keyword names accepted for the same actions.
var aliases = map[Keyword]Keyword{
	"write_command":  KeywordSend,
	"clear_messages": KeywordClearReplies,
}

type timing struct {
	timeout, readTimeout int
}

// defaults holds each keyword's timeout and quiet period in time units.
var defaults = map[Keyword]timing{
	KeywordSend:               {2, 2},
	KeywordClearReplies:       {0, 5},
	KeywordVerifyContains:     {5, 10},
	KeywordVerifyContainsNot:  {5, 10},
	KeywordWaitUntil:          {20, 5},
	KeywordSaveReplies:        {5, 20},
	KeywordVerifySaved:        {30, 0},
	KeywordPersistent:         {5, 2},
	KeywordClearStored:        {},
	KeywordVerifyContained:    {},
	KeywordVerifyContainedNot: {},
	KeywordSleep:              {},
}

// Values of Step.EndOn.
const (
	EndOnAny     = "any"
	EndOnTimeout = "timeout"
	EndOnText    = "text"
)

// Step is one action of a script.
type Step struct {
	Name    string  `yaml:"name"`
	Keyword Keyword `yaml:"keyword"`
	Message string  `yaml:"message"`

	// Timeout and ReadTimeout override the keyword defaults, in time units.
	Timeout     *int `yaml:"timeout"`
	ReadTimeout *int `yaml:"read_timeout"`

	Store      *bool `yaml:"store"`       // send_command; default true
	KeepStored bool  `yaml:"keep_stored"` // clear_replies

	Exceptions []string `yaml:"exceptions"` // persistent_command
	EndReply   string   `yaml:"end_reply"`
	EndOn      string   `yaml:"end_on"`

	Filename string `yaml:"filename"` // save_program_replies, verify_saved_reply
	Duration int    `yaml:"duration"` // sleep, in time units
}

// Script is a named list of steps.
type Script struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Steps       []Step `yaml:"steps"`

	// Path is where the script was loaded from.
	Path string `yaml:"-"`
}

// Parse decodes and validates a script. Unknown fields are rejected so typos
// in step options do not silently fall back to defaults.
func Parse(data []byte) (*Script, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s Script
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("script is empty")
		}
		return nil, fmt.Errorf("parse script: %w", err)
	}
	for i := range s.Steps {
		if canonical, ok := aliases[s.Steps[i].Keyword]; ok {
			s.Steps[i].Keyword = canonical
		}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Load reads and parses the script at path.
func Load(fsys ports.FileSystem, path string) (*Script, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.Path = path
	if s.Name == "" {
		s.Name = path
	}
	return s, nil
}

// Validate checks every step for the fields its keyword needs.
func (s *Script) Validate() error {
	if len(s.Steps) == 0 {
		return errors.New("script has no steps")
	}
	for i := range s.Steps {
		if err := s.Steps[i].validate(); err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, s.Steps[i].label(), err)
		}
	}
	return nil
}

func (st *Step) validate() error {
	if _, ok := defaults[st.Keyword]; !ok {
		return fmt.Errorf("unknown keyword %q", st.Keyword)
	}

	switch st.Keyword {
	case KeywordSend, KeywordPersistent, KeywordVerifyContains, KeywordVerifyContainsNot,
		KeywordVerifyContained, KeywordVerifyContainedNot, KeywordWaitUntil:
		if st.Message == "" {
			return errors.New("message is required")
		}
	case KeywordVerifySaved:
		if st.Message == "" {
			return errors.New("message is required")
		}
		if st.Filename == "" {
			return errors.New("filename is required")
		}
	case KeywordSaveReplies:
		if st.Filename == "" {
			return errors.New("filename is required")
		}
	case KeywordSleep:
		if st.Duration <= 0 {
			return errors.New("duration must be positive")
		}
	}

	if st.Timeout != nil && *st.Timeout < 0 {
		return errors.New("timeout must not be negative")
	}
	if st.ReadTimeout != nil && *st.ReadTimeout < 0 {
		return errors.New("read_timeout must not be negative")
	}

	if st.Keyword == KeywordPersistent {
		if _, err := st.endTrigger(); err != nil {
			return err
		}
	}
	return nil
}

func (st *Step) label() string {
	if st.Name != "" {
		return st.Name
	}
	return string(st.Keyword)
}

// timing returns the effective timeout and quiet period.
func (st *Step) timing() (int, int) {
	t := defaults[st.Keyword]
	if st.Timeout != nil {
		t.timeout = *st.Timeout
	}
	if st.ReadTimeout != nil {
		t.readTimeout = *st.ReadTimeout
	}
	return t.timeout, t.readTimeout
}

// endTrigger maps end_on/end_reply to a retry trigger. An end_reply alone
// means end on that text; nothing at all means any reply ends the command.
func (st *Step) endTrigger() (retry.EndTrigger, error) {
	switch strings.ToLower(st.EndOn) {
	case "":
		if st.EndReply != "" {
			return retry.OnText(st.EndReply), nil
		}
		return retry.AnyReply(), nil
	case EndOnAny:
		return retry.AnyReply(), nil
	case EndOnTimeout:
		return retry.UntilTimeout(), nil
	case EndOnText:
		if st.EndReply == "" {
			return retry.EndTrigger{}, errors.New("end_on text requires end_reply")
		}
		return retry.OnText(st.EndReply), nil
	default:
		return retry.EndTrigger{}, fmt.Errorf("unknown end_on %q (want any, timeout or text)", st.EndOn)
	}
}
