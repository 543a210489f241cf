package session

import "fmt"

// Where a verification looked for its message.
const (
	SourceReplies       = "process replies"
	SourceStoredReplies = "recent process replies"
	SourceSavedReplies  = "stored process replies"
)

// VerificationError reports expected text that was absent, or forbidden text
// that was present. Lines holds everything observed in the failing window.
type VerificationError struct {
	Message  string
	Expected bool // true when Message had to be present
	Source   string
	Lines    []string
}

func (e *VerificationError) Error() string {
	if e.Expected {
		return fmt.Sprintf("message %q was not found in the %s (%d lines observed)", e.Message, e.Source, len(e.Lines))
	}
	return fmt.Sprintf("message %q was not supposed to be found in the %s (%d lines observed)", e.Message, e.Source, len(e.Lines))
}
