// Package tui implements the Bubble Tea chat client for parley.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/hay-kot/parley/internal/core/chat"
	"github.com/hay-kot/parley/internal/core/history"
	"github.com/hay-kot/parley/internal/parley"
)

// opTimeout bounds every feed operation started from the UI.
const opTimeout = 10 * time.Second

// Options configures the TUI.
type Options struct {
	// MarkdownStyle is a glamour standard style name. Defaults to "dark".
	MarkdownStyle string
	// Now is used for relative timestamps. Defaults to time.Now.
	Now func() time.Time
	// HistorySize bounds composer recall. Defaults to history.DefaultSize.
	HistorySize int
}

// keyMap defines the model's own bindings; everything else goes to the
// composer.
type keyMap struct {
	Send   key.Binding
	Cancel key.Binding
	Quit   key.Binding
	PageUp key.Binding
	PageDn key.Binding
	Prev   key.Binding
	Next   key.Binding
}

var keys = keyMap{
	Send:   key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
	Cancel: key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel reply/search")),
	Quit:   key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
	PageUp: key.NewBinding(key.WithKeys("pgup"), key.WithHelp("pgup", "scroll up")),
	PageDn: key.NewBinding(key.WithKeys("pgdown"), key.WithHelp("pgdn", "scroll down")),
	Prev:   key.NewBinding(key.WithKeys("ctrl+p"), key.WithHelp("ctrl+p", "previous input")),
	Next:   key.NewBinding(key.WithKeys("ctrl+n"), key.WithHelp("ctrl+n", "next input")),
}

// Model is the main Bubble Tea model for the chat client.
type Model struct {
	service *parley.Service
	bridge  *Bridge
	now     func() time.Time

	timeline viewport.Model
	composer textarea.Model
	history  *history.History
	body     *bodyRenderer
	width    int
	height   int
	ready    bool

	search   string
	status   string
	err      error
	quitting bool
}

// resultMsg reports the outcome of an async operation.
type resultMsg struct {
	status string
	err    error
}

// New creates the chat model. The bridge must be the one whose hooks the
// service was created with.
func New(service *parley.Service, bridge *Bridge, opts Options) Model {
	if opts.MarkdownStyle == "" {
		opts.MarkdownStyle = "dark"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ta := textarea.New()
	ta.Placeholder = "Message, or /help"
	ta.ShowLineNumbers = false
	ta.Prompt = "┃ "
	ta.CharLimit = 4000
	ta.SetHeight(2)
	ta.KeyMap.InsertNewline.SetKeys("alt+enter", "ctrl+j")
	ta.Focus()

	return Model{
		service:  service,
		bridge:   bridge,
		now:      opts.Now,
		timeline: viewport.New(0, 0),
		composer: ta,
		history:  history.New(opts.HistorySize),
		body:     newBodyRenderer(opts.MarkdownStyle),
	}
}

// Init starts listening for service notifications.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.bridge.wait())
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		m.refresh()
		return m, nil

	case refreshMsg:
		m.refresh()
		return m, m.bridge.wait()

	case resultMsg:
		m.status, m.err = msg.status, msg.err
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Cancel):
			m.cancel()
			return m, nil
		case key.Matches(msg, keys.Send):
			return m.submit()
		case key.Matches(msg, keys.PageUp), key.Matches(msg, keys.PageDn):
			var cmd tea.Cmd
			m.timeline, cmd = m.timeline.Update(msg)
			return m, cmd
		case key.Matches(msg, keys.Prev):
			if entry, ok := m.history.Prev(m.composer.Value()); ok {
				m.composer.SetValue(entry)
			}
			return m, nil
		case key.Matches(msg, keys.Next):
			if entry, ok := m.history.Next(); ok {
				m.composer.SetValue(entry)
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.composer, cmd = m.composer.Update(msg)
	return m, cmd
}

func (m *Model) cancel() {
	_ = m.service.SetReplyDraft(nil)
	m.search = ""
	m.status, m.err = "", nil
	m.refresh()
}

// submit sends the composer text or runs a slash command.
func (m Model) submit() (tea.Model, tea.Cmd) {
	input := m.composer.Value()
	if strings.TrimSpace(input) == "" {
		return m, nil
	}
	m.composer.Reset()
	m.history.Add(input)
	m.status, m.err = "", nil

	cmd, text, isCommand := parseInput(input)
	if !isCommand {
		return m, m.send(text)
	}
	return m.run(cmd)
}

func (m Model) send(text string) tea.Cmd {
	svc := m.service
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		_, err := svc.Send(ctx, text)
		return resultMsg{err: err}
	}
}

// run executes a slash command. Commands that touch the feed run async.
func (m Model) run(c command) (tea.Model, tea.Cmd) {
	svc := m.service

	switch c.name {
	case "help", "?":
		m.status = helpText()
		m.refresh()
		return m, nil

	case "quit", "q":
		m.quitting = true
		return m, tea.Quit

	case "cancel":
		m.cancel()
		return m, nil

	case "search", "s":
		m.search = strings.TrimSpace(strings.Join(c.args, " "))
		if m.search != "" {
			m.status = fmt.Sprintf("%d result(s) for %q", len(svc.Search(m.search)), m.search)
		}
		m.refresh()
		return m, nil

	case "reply", "r":
		target, err := m.resolve(c.arg(0))
		if err == nil {
			err = svc.SetReplyDraft(&target)
		}
		m.err = err
		m.refresh()
		return m, nil

	case "edit", "e":
		target, err := m.resolve(c.arg(0))
		if err != nil {
			m.err = err
			return m, nil
		}
		return m, async(func(ctx context.Context) (string, error) {
			return "", svc.Edit(ctx, target.ID, c.rest)
		})

	case "react":
		target, err := m.resolve(c.arg(0))
		if err != nil {
			m.err = err
			return m, nil
		}
		emoji := c.arg(1)
		if emoji == "" {
			m.err = errors.New("usage: /react REF EMOJI")
			return m, nil
		}
		return m, async(func(ctx context.Context) (string, error) {
			on, err := svc.React(ctx, target.ID, emoji)
			if err != nil {
				return "", err
			}
			if on {
				return "reacted " + emoji, nil
			}
			return "removed " + emoji, nil
		})

	case "join", "j":
		arg := c.arg(0)
		if arg == "" {
			m.err = errors.New("usage: /join ROOM[/CHANNEL]")
			return m, nil
		}
		return m, async(func(ctx context.Context) (string, error) {
			if strings.Contains(arg, "/") {
				scope, err := chat.ParseScope(arg)
				if err != nil {
					return "", err
				}
				return "joined " + scope.String(), svc.SwitchScope(ctx, scope)
			}
			scope, err := svc.JoinRoom(ctx, arg)
			return "joined " + scope.String(), err
		})

	case "channel", "c":
		name := c.arg(0)
		room := svc.Scope().Room
		if name == "" || room == "" {
			m.err = errors.New("usage: /channel NAME (after joining a room)")
			return m, nil
		}
		return m, async(func(ctx context.Context) (string, error) {
			scope := chat.NewScope(room, name)
			return "joined " + scope.String(), svc.SwitchScope(ctx, scope)
		})

	case "rooms":
		return m, async(func(ctx context.Context) (string, error) {
			rooms, err := svc.Rooms(ctx)
			if err != nil {
				return "", err
			}
			names := make([]string, len(rooms))
			for i, r := range rooms {
				names[i] = r.ID
			}
			return "rooms: " + strings.Join(names, ", "), nil
		})

	case "channels":
		room := svc.Scope().Room
		return m, async(func(ctx context.Context) (string, error) {
			channels, err := svc.Channels(ctx, room)
			if err != nil {
				return "", err
			}
			names := make([]string, len(channels))
			for i, ch := range channels {
				names[i] = ch.ID
			}
			return room + " channels: " + strings.Join(names, ", "), nil
		})

	case "newroom":
		name := strings.TrimSpace(strings.Join(c.args, " "))
		return m, async(func(ctx context.Context) (string, error) {
			room, err := svc.CreateRoom(ctx, name)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("created room %s, /join %s to enter", room.Name, room.ID), nil
		})

	case "newchannel":
		name := strings.TrimSpace(strings.Join(c.args, " "))
		room := svc.Scope().Room
		return m, async(func(ctx context.Context) (string, error) {
			ch, err := svc.CreateChannel(ctx, room, name)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("created channel %s, /channel %s to enter", ch.Name, ch.ID), nil
		})
	}

	m.err = fmt.Errorf("unknown command /%s, try /help", c.name)
	return m, nil
}

// async runs fn with a timeout and reports its result.
func async(fn func(ctx context.Context) (string, error)) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		status, err := fn(ctx)
		if err != nil {
			status = ""
		}
		return resultMsg{status: status, err: err}
	}
}

// resolve finds a message of the active view by the end of its id. An
// empty ref or "^" selects the newest message.
func (m Model) resolve(ref string) (chat.Message, error) {
	msgs := m.service.Messages()
	if len(msgs) == 0 {
		return chat.Message{}, chat.ErrMessageNotFound
	}
	if ref == "" || ref == "^" {
		return msgs[len(msgs)-1], nil
	}

	var found []chat.Message
	for _, msg := range msgs {
		if strings.HasSuffix(msg.ID, ref) {
			found = append(found, msg)
		}
	}
	switch len(found) {
	case 0:
		return chat.Message{}, fmt.Errorf("%w: %s", chat.ErrMessageNotFound, ref)
	case 1:
		return found[0], nil
	default:
		return chat.Message{}, fmt.Errorf("%q matches %d messages, use more characters", ref, len(found))
	}
}

// layout sizes the timeline and composer to the window.
func (m *Model) layout() {
	m.composer.SetWidth(m.width)
	chrome := lipgloss.Height(m.headerView()) + m.composer.Height() + 3
	m.timeline.Width = m.width
	m.timeline.Height = max(m.height-chrome, 1)
	m.body.setWidth(m.width - 2)
	m.ready = true
}

// refresh re-reads the service and redraws the timeline, following the
// bottom unless the user scrolled up.
func (m *Model) refresh() {
	if !m.ready {
		return
	}
	follow := m.timeline.AtBottom()

	msgs := m.service.Messages()
	if m.search != "" {
		msgs = m.service.Search(m.search)
		// Search returns newest first.
		for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
			msgs[i], msgs[j] = msgs[j], msgs[i]
		}
	}

	entries := make([]entry, len(msgs))
	for i, msg := range msgs {
		e := entry{msg: msg, reactions: reactionLine(m.service.Reactions(msg.ID).Reactions)}
		if q, ok := m.service.Quote(msg.ID); ok {
			e.quote = &q
		}
		entries[i] = e
	}

	m.timeline.SetContent(renderTimeline(m.body, entries, m.now()))
	if follow {
		m.timeline.GotoBottom()
	}
}
