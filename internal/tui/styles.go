package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/hay-kot/parley/internal/styles"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(styles.ColorBlue).
			PaddingLeft(1)

	mutedStyle = lipgloss.NewStyle().Foreground(styles.ColorGray)

	quoteStyle = lipgloss.NewStyle().
			Foreground(styles.ColorGray).
			Italic(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderLeft(true).
			BorderForeground(styles.ColorGray).
			PaddingLeft(1)

	reactionStyle = lipgloss.NewStyle().Foreground(styles.ColorYellow)

	errorStyle = lipgloss.NewStyle().Foreground(styles.ColorRed)

	statusStyle = lipgloss.NewStyle().Foreground(styles.ColorGreen)

	draftStyle = lipgloss.NewStyle().
			Foreground(styles.ColorMagenta).
			PaddingLeft(1)

	onlineStyle  = lipgloss.NewStyle().Foreground(styles.ColorGreen)
	offlineStyle = lipgloss.NewStyle().Foreground(styles.ColorRed)
)

// Icons and symbols.
const (
	iconDot   = "•"
	iconReply = "↳"
)
