package session

import (
	"strings"
	"sync"
)

// ReplyStore holds the lines of the most recent stored read. It is replaced
// wholesale on every store and is safe for concurrent use.
type ReplyStore struct {
	mu    sync.RWMutex
	lines []string
}

// NewReplyStore creates an empty store.
func NewReplyStore() *ReplyStore {
	return &ReplyStore{}
}

// Store replaces the buffer with lines.
func (r *ReplyStore) Store(lines []string) {
	stored := append([]string(nil), lines...)

	r.mu.Lock()
	r.lines = stored
	r.mu.Unlock()
}

// Lines returns a copy of the buffer.
func (r *ReplyStore) Lines() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.lines...)
}

// Reset empties the buffer.
func (r *ReplyStore) Reset() {
	r.mu.Lock()
	r.lines = nil
	r.mu.Unlock()
}

// Len returns the number of stored lines.
func (r *ReplyStore) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.lines)
}

// Contains reports whether any stored line contains message.
func (r *ReplyStore) Contains(message string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Contains(r.lines, message)
}

// Contains reports whether any line contains message as a substring.
func Contains(lines []string, message string) bool {
	for _, line := range lines {
		if strings.Contains(line, message) {
			return true
		}
	}
	return false
}
