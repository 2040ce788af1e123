// Package chat defines the chat domain types, wire records and sentinel errors.
package chat

import (
	"strings"
	"time"
)

// Message is a single chat message as held by the local view.
type Message struct {
	ID         string    `json:"id"`
	Scope      Scope     `json:"scope"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"created_at"`
	EditedAt   time.Time `json:"edited_at,omitzero"`
	ParentID   string    `json:"parent_id,omitempty"`
}

// IsEdited returns true if the message carries an edit timestamp.
func (m Message) IsEdited() bool {
	return !m.EditedAt.IsZero()
}

// IsReply returns true if the message quotes a parent message.
func (m Message) IsReply() bool {
	return m.ParentID != ""
}

// Less orders messages by creation time, ties broken by id.
func (m Message) Less(o Message) bool {
	return Compare(m, o) < 0
}

// Compare orders messages by creation time ascending with the id as tie-break.
func Compare(a, b Message) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// Quote is the short excerpt of a parent message shown with a reply.
type Quote struct {
	ParentID   string `json:"parent_id"`
	AuthorName string `json:"author_name"`
	Snippet    string `json:"snippet"`
}

// snippetLines is the number of leading lines kept in a quote.
const snippetLines = 2

// NewQuote builds the quote for a parent message.
func NewQuote(parent Message) Quote {
	return Quote{
		ParentID:   parent.ID,
		AuthorName: parent.AuthorName,
		Snippet:    Snippet(parent.Text),
	}
}

// Snippet keeps the first two lines of text joined by a space and marks the
// truncation with an ellipsis.
func Snippet(text string) string {
	lines := strings.Split(text, "\n")
	if len(lines) > snippetLines {
		lines = lines[:snippetLines]
	}
	s := strings.Join(lines, " ")
	if len(text) > len(s) {
		s += " …"
	}
	return s
}
