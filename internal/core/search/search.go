// Package search filters the loaded message window.
package search

import (
	"slices"
	"strings"

	"golang.org/x/text/cases"

	"github.com/hay-kot/parley/internal/core/chat"
)

// Messages provides the loaded window, oldest first.
type Messages interface {
	All() []chat.Message
}

// Reactions provides the emojis present on a message.
type Reactions interface {
	Emojis(msgID string) []string
}

// Index searches a message view. It holds no state of its own and never
// mutates its sources.
type Index struct {
	messages  Messages
	reactions Reactions
}

// New creates an index over messages. reactions may be nil.
func New(messages Messages, reactions Reactions) *Index {
	return &Index{messages: messages, reactions: reactions}
}

// Search returns messages whose text, author name or reaction emojis
// contain query, compared with Unicode case folding. Results are newest
// first. A blank query matches nothing.
func (i *Index) Search(query string) []chat.Message {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}

	// a Caser keeps state and cannot be shared between goroutines
	fold := cases.Fold()
	needle := fold.String(query)

	msgs := i.messages.All()
	var out []chat.Message
	for _, msg := range slices.Backward(msgs) {
		if i.matches(fold, needle, msg) {
			out = append(out, msg)
		}
	}
	return out
}

func (i *Index) matches(fold cases.Caser, needle string, msg chat.Message) bool {
	if strings.Contains(fold.String(msg.Text), needle) ||
		strings.Contains(fold.String(msg.AuthorName), needle) {
		return true
	}
	if i.reactions == nil {
		return false
	}
	for _, emoji := range i.reactions.Emojis(msg.ID) {
		if strings.Contains(fold.String(emoji), needle) {
			return true
		}
	}
	return false
}
