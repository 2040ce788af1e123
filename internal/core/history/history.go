// Package history keeps the lines sent from the chat composer so they can
// be recalled, newest first, the way a shell recalls commands.
package history

import "strings"

// DefaultSize is the number of entries kept when New is given no size.
const DefaultSize = 100

// History is a bounded list of sent entries with a recall cursor. It is
// not safe for concurrent use.
type History struct {
	entries []string
	max     int
	// cursor indexes entries while recalling; len(entries) means "not
	// recalling".
	cursor int
	// draft holds what was in the composer when recall started.
	draft string
}

// New creates a history holding at most size entries.
func New(size int) *History {
	if size <= 0 {
		size = DefaultSize
	}
	return &History{max: size}
}

// Add records an entry and resets the cursor. Blank entries and immediate
// repeats are not recorded.
func (h *History) Add(entry string) {
	defer h.Reset()
	if strings.TrimSpace(entry) == "" {
		return
	}
	if n := len(h.entries); n > 0 && h.entries[n-1] == entry {
		return
	}
	h.entries = append(h.entries, entry)
	if len(h.entries) > h.max {
		h.entries = h.entries[len(h.entries)-h.max:]
	}
}

// Prev moves one entry back. current is the composer content, restored by
// Next once recall walks past the newest entry. ok is false when there is
// nothing older.
func (h *History) Prev(current string) (entry string, ok bool) {
	if h.cursor == 0 {
		return "", false
	}
	if h.cursor == len(h.entries) {
		h.draft = current
	}
	h.cursor--
	return h.entries[h.cursor], true
}

// Next moves one entry forward, returning the saved draft after the newest
// entry. ok is false when not recalling.
func (h *History) Next() (entry string, ok bool) {
	if h.cursor >= len(h.entries) {
		return "", false
	}
	h.cursor++
	if h.cursor == len(h.entries) {
		return h.draft, true
	}
	return h.entries[h.cursor], true
}

// Reset ends recall.
func (h *History) Reset() {
	h.cursor = len(h.entries)
	h.draft = ""
}

// Len returns the number of recorded entries.
func (h *History) Len() int {
	return len(h.entries)
}
