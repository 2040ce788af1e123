package tui

import (
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	"github.com/hay-kot/parley/internal/core/chat"
	"github.com/hay-kot/parley/internal/printer"
	"github.com/hay-kot/parley/internal/styles"
)

// refLength is how many trailing id characters identify a message on screen.
const refLength = 6

// shortRef returns the on-screen reference of a message id.
func shortRef(id string) string {
	if len(id) <= refLength {
		return id
	}
	return id[len(id)-refLength:]
}

// bodyRenderer renders message text as markdown, caching by text so a
// redraw only renders new or edited messages.
type bodyRenderer struct {
	style string
	width int
	tr    *glamour.TermRenderer
	cache map[string]string
}

func newBodyRenderer(style string) *bodyRenderer {
	return &bodyRenderer{style: style, cache: make(map[string]string)}
}

// setWidth resets the renderer when the wrap width changes.
func (r *bodyRenderer) setWidth(width int) {
	if width == r.width && r.tr != nil {
		return
	}
	r.width = width
	r.cache = make(map[string]string)

	tr, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(r.style),
		glamour.WithWordWrap(max(width, 20)),
		glamour.WithEmoji(),
	)
	if err != nil {
		log.Warn().Err(err).Str("style", r.style).Msg("markdown renderer unavailable")
		r.tr = nil
		return
	}
	r.tr = tr
}

func (r *bodyRenderer) render(text string) string {
	if out, ok := r.cache[text]; ok {
		return out
	}
	out := text
	if r.tr != nil {
		if rendered, err := r.tr.Render(text); err == nil {
			out = strings.Trim(rendered, "\n")
		}
	}
	r.cache[text] = out
	return out
}

// entry is one message with everything drawn next to it.
type entry struct {
	msg       chat.Message
	quote     *chat.Quote
	reactions string
}

// renderTimeline draws entries oldest first.
func renderTimeline(r *bodyRenderer, entries []entry, now time.Time) string {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteString("\n")
		}
		m := e.msg

		header := styles.Author(m.AuthorID).Render(m.AuthorName) + " " +
			mutedStyle.Render(humanize.RelTime(m.CreatedAt, now, "ago", "from now"))
		if m.IsEdited() {
			header += mutedStyle.Render(" (edited)")
		}
		header += mutedStyle.Render(" " + iconDot + " " + shortRef(m.ID))
		b.WriteString(header + "\n")

		switch {
		case e.quote != nil:
			b.WriteString(quoteStyle.Render(iconReply+" "+e.quote.AuthorName+": "+e.quote.Snippet) + "\n")
		case m.IsReply():
			b.WriteString(quoteStyle.Render(iconReply+" original message unavailable") + "\n")
		}

		b.WriteString(r.render(m.Text) + "\n")

		if e.reactions != "" {
			b.WriteString(reactionStyle.Render(e.reactions) + "\n")
		}
	}
	return b.String()
}

// reactionLine renders a summary the same way the CLI does.
var reactionLine = printer.FormatReactions
