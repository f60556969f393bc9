package session

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Entry is one committed turn.
type Entry struct {
	Timestamp  time.Time
	Speaker    Speaker
	SourceLang string
	TargetLang string
	Original   string
	Translated string // empty when translation failed
	Emotion    string
}

// String renders the entry as a single transcript line.
func (e Entry) String() string {
	line := fmt.Sprintf("%s [%s] %s", e.Speaker, e.SourceLang, e.Original)
	if e.Translated != "" {
		line += fmt.Sprintf(" -> [%s] %s", e.TargetLang, e.Translated)
	}
	if e.Emotion != "" {
		line += fmt.Sprintf(" (%s)", e.Emotion)
	}
	return line
}

// History keeps the most recent committed turns of a session.
type History struct {
	mu      sync.RWMutex
	entries []Entry
	maxSize int
}

// NewHistory creates a history bounded to maxEntries.
func NewHistory(maxEntries int) *History {
	if maxEntries <= 0 {
		maxEntries = DefaultHistorySize
	}
	return &History{
		entries: make([]Entry, 0, maxEntries),
		maxSize: maxEntries,
	}
}

// Add stores an entry, dropping the oldest when full.
func (h *History) Add(e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	h.mu.Lock()
	h.entries = append(h.entries, e)
	if len(h.entries) > h.maxSize {
		h.entries = h.entries[len(h.entries)-h.maxSize:]
	}
	h.mu.Unlock()
}

// Entries returns a copy of the stored entries, oldest first.
func (h *History) Entries() []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	result := make([]Entry, len(h.entries))
	copy(result, h.entries)
	return result
}

// Transcript renders entries newer than since, one per line.
func (h *History) Transcript(since time.Time) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var lines []string
	for _, e := range h.entries {
		if !e.Timestamp.Before(since) {
			lines = append(lines, e.String())
		}
	}
	return strings.Join(lines, "\n")
}
