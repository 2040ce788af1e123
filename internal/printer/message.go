package printer

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hay-kot/parley/internal/core/chat"
	"github.com/hay-kot/parley/internal/core/reactions"
)

// MessageView is everything rendered for one message.
type MessageView struct {
	Message   chat.Message
	Quote     *chat.Quote
	Reactions []reactions.Reaction
}

// Message prints a message as a header line (author, relative time, id)
// followed by the optional quote, the indented text and reaction counts.
func (p *Printer) Message(v MessageView, now time.Time) {
	m := v.Message

	header := p.colorize(ColorBlue+ColorBold, m.AuthorName) + " " +
		p.colorize(ColorGray, humanize.RelTime(m.CreatedAt, now, "ago", "from now"))
	if m.IsEdited() {
		header += " " + p.colorize(ColorGray, "(edited)")
	}
	header += " " + p.colorize(ColorGray, m.ID)

	var b strings.Builder
	b.WriteString(header + "\n")

	if v.Quote != nil {
		b.WriteString("  " + p.colorize(ColorGray, fmt.Sprintf("%s %s: %s", Reply, v.Quote.AuthorName, v.Quote.Snippet)) + "\n")
	} else if m.IsReply() {
		b.WriteString("  " + p.colorize(ColorGray, Reply+" original message unavailable") + "\n")
	}

	for _, l := range strings.Split(m.Text, "\n") {
		b.WriteString("  " + l + "\n")
	}

	if len(v.Reactions) > 0 {
		b.WriteString("  " + p.colorize(ColorYellow, FormatReactions(v.Reactions)) + "\n")
	}

	_, _ = fmt.Fprint(p.writer, b.String())
}

// FormatReactions renders reactions as "👍 2  🎉 1".
func FormatReactions(rs []reactions.Reaction) string {
	parts := make([]string, 0, len(rs))
	for _, r := range rs {
		parts = append(parts, fmt.Sprintf("%s %s", r.Emoji, humanize.Comma(int64(r.Count))))
	}
	return strings.Join(parts, "  ")
}
