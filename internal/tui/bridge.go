package tui

import (
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hay-kot/parley/internal/core/chat"
	"github.com/hay-kot/parley/internal/core/reactions"
	"github.com/hay-kot/parley/internal/parley"
)

// Bridge carries service hooks and connection changes into the Bubble Tea
// loop. Notifications coalesce: the model re-reads the service snapshot on
// each signal, so a single pending signal is enough.
type Bridge struct {
	signal    chan struct{}
	connected atomic.Bool
}

// NewBridge creates a bridge in the connected state.
func NewBridge() *Bridge {
	b := &Bridge{signal: make(chan struct{}, 1)}
	b.connected.Store(true)
	return b
}

// Hooks returns service hooks that notify the model. They never block.
func (b *Bridge) Hooks() parley.Hooks {
	msg := func(chat.Message) { b.Notify() }
	return parley.Hooks{
		OnMessageAdded:     msg,
		OnMessageChanged:   msg,
		OnMessageEvicted:   msg,
		OnReactionsChanged: func(reactions.Summary) { b.Notify() },
		OnQuoteResolved:    func(string, chat.Quote) { b.Notify() },
		OnScopeChanged:     func(chat.Scope) { b.Notify() },
	}
}

// SetConnected records the feed connection state. It matches the
// signature of the websocket client's state callback.
func (b *Bridge) SetConnected(connected bool) {
	b.connected.Store(connected)
	b.Notify()
}

// Connected reports the last recorded connection state.
func (b *Bridge) Connected() bool {
	return b.connected.Load()
}

// Notify schedules a redraw.
func (b *Bridge) Notify() {
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// refreshMsg asks the model to re-read the service.
type refreshMsg struct{}

// wait returns a command that blocks until the next notification.
func (b *Bridge) wait() tea.Cmd {
	return func() tea.Msg {
		<-b.signal
		return refreshMsg{}
	}
}
