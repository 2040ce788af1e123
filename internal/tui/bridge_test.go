package tui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/parley/internal/core/chat"
)

func TestBridge_Coalesces(t *testing.T) {
	b := NewBridge()
	hooks := b.Hooks()

	hooks.OnMessageAdded(chat.Message{})
	hooks.OnMessageChanged(chat.Message{})
	hooks.OnScopeChanged(chat.Scope{})

	done := make(chan any, 1)
	go func() { done <- b.wait()() }()

	select {
	case msg := <-done:
		assert.IsType(t, refreshMsg{}, msg)
	case <-time.After(time.Second):
		t.Fatal("no refresh delivered")
	}

	// Three notifications produced a single pending signal.
	select {
	case <-b.signal:
		t.Fatal("notifications were not coalesced")
	default:
	}
}

func TestBridge_Connected(t *testing.T) {
	b := NewBridge()
	require.True(t, b.Connected())

	b.SetConnected(false)
	assert.False(t, b.Connected())
	assert.Len(t, b.signal, 1)
}
