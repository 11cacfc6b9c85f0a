package profile

import (
	"fmt"
	"time"
)

// HistoryEntry is a previously active profile.
type HistoryEntry struct {
	Profile    GamingProfile `json:"profile"`
	Generation uint64        `json:"generation"`
	Replaced   time.Time     `json:"replaced"`
}

// History is a bounded list of replaced profiles, oldest first.
type History struct {
	entries []HistoryEntry
	maxSize int
}

// NewHistory creates a History holding at most maxSize entries.
func NewHistory(maxSize int) *History {
	return &History{maxSize: maxSize}
}

// Push records an entry, evicting the oldest when full.
func (h *History) Push(e HistoryEntry) {
	if h.maxSize <= 0 {
		return
	}
	h.entries = append(h.entries, e)
	if len(h.entries) > h.maxSize {
		h.entries = h.entries[1:]
	}
}

// Get returns the nth most recent entry (0 = most recent).
func (h *History) Get(n int) (HistoryEntry, error) {
	if n < 0 || n >= len(h.entries) {
		return HistoryEntry{}, fmt.Errorf("rollback %d: no such profile (have %d entries)", n, len(h.entries))
	}
	return h.entries[len(h.entries)-1-n], nil
}

// Len returns the number of entries.
func (h *History) Len() int {
	return len(h.entries)
}

// List returns all entries, most recent first.
func (h *History) List() []HistoryEntry {
	result := make([]HistoryEntry, len(h.entries))
	for i, e := range h.entries {
		result[len(h.entries)-1-i] = e
	}
	return result
}
