package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// View renders the model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "connecting…"
	}

	sections := []string{
		m.headerView(),
		m.timeline.View(),
		m.statusView(),
		m.composer.View(),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) headerView() string {
	scope := m.service.Scope()
	title := "#" + scope.Channel
	if scope.IsZero() {
		title = "no channel, /join a room"
	} else {
		title = scope.Room + " " + title
	}

	user := "signed out"
	if sess := m.service.Session(); sess != nil {
		user = sess.Username
	}

	conn := onlineStyle.Render(iconDot + " online")
	if !m.bridge.Connected() {
		conn = offlineStyle.Render(iconDot + " reconnecting")
	}

	return headerStyle.Render(title) + mutedStyle.Render("  "+user+"  ") + conn
}

// statusView shows, in priority order: the last error, the reply draft,
// the search filter, the last status text.
func (m Model) statusView() string {
	var lines []string
	if m.err != nil {
		lines = append(lines, errorStyle.Render(m.err.Error()))
	}
	if preview := m.service.ReplyPreview(); preview != "" {
		lines = append(lines, draftStyle.Render(preview+"  (esc to cancel)"))
	}
	if m.search != "" {
		lines = append(lines, draftStyle.Render("search: "+m.search+"  (esc to clear)"))
	}
	if m.status != "" {
		lines = append(lines, statusStyle.Render(m.status))
	}
	if len(lines) == 0 {
		return mutedStyle.Render("enter send " + iconDot + " alt+enter newline " + iconDot + " /help commands " + iconDot + " ctrl+c quit")
	}
	return strings.Join(lines, "\n")
}
