// Package styles provides shared lipgloss styles for CLI and TUI components.
package styles

import (
	"hash/fnv"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
)

// Tokyo Night color palette.
var (
	ColorGreen   = lipgloss.Color("#9ece6a")
	ColorYellow  = lipgloss.Color("#e0af68")
	ColorBlue    = lipgloss.Color("#7aa2f7")
	ColorMagenta = lipgloss.Color("#bb9af7")
	ColorCyan    = lipgloss.Color("#7dcfff")
	ColorRed     = lipgloss.Color("#f7768e")
	ColorGray    = lipgloss.Color("#565f89")
	ColorWhite   = lipgloss.Color("#c0caf5")
)

// Banner ASCII art for the header.
const Banner = `
 ┏━┓┏━┓┏━┓╻  ┏━╸╻ ╻
 ┣━┛┣━┫┣┳┛┃  ┣╸ ┗┳┛
 ╹  ╹ ╹╹┗╸┗━╸┗━╸ ╹ `

// BannerStyle styles the ASCII art banner.
var BannerStyle = lipgloss.NewStyle().
	Foreground(ColorBlue).
	Bold(true)

// authorColors are assigned to authors by a stable hash of their id.
var authorColors = []lipgloss.Color{ColorBlue, ColorGreen, ColorYellow, ColorMagenta, ColorCyan, ColorRed}

// Author returns the style of an author's name. The same id always gets
// the same color.
func Author(id string) lipgloss.Style {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return lipgloss.NewStyle().Bold(true).Foreground(authorColors[h.Sum32()%uint32(len(authorColors))])
}

// FormTheme is the huh theme used by interactive prompts.
func FormTheme() *huh.Theme {
	t := huh.ThemeBase()
	t.Focused.Title = t.Focused.Title.Foreground(ColorBlue).Bold(true)
	t.Focused.Description = t.Focused.Description.Foreground(ColorGray)
	t.Focused.ErrorMessage = t.Focused.ErrorMessage.Foreground(ColorRed)
	t.Focused.ErrorIndicator = t.Focused.ErrorIndicator.Foreground(ColorRed)
	t.Focused.TextInput.Prompt = t.Focused.TextInput.Prompt.Foreground(ColorBlue)
	t.Focused.TextInput.Cursor = t.Focused.TextInput.Cursor.Foreground(ColorBlue)
	return t
}
