package tui

import (
	"context"
	"fmt"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/parley/internal/core/chat"
	"github.com/hay-kot/parley/internal/feed/memfeed"
	"github.com/hay-kot/parley/internal/parley"
)

var general = chat.NewScope(chat.DefaultRoom, "general")

func newTestModel(t *testing.T) (Model, *parley.Service) {
	t.Helper()
	ctx := context.Background()

	f, err := memfeed.New(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	var n int
	bridge := NewBridge()
	svc := parley.New(f, zerolog.Nop(), parley.Options{
		Hooks: bridge.Hooks(),
		NewID: func() string { n++; return fmt.Sprintf("msg-%04d", n) },
	})
	t.Cleanup(func() { _ = svc.Close() })

	svc.SetSession(&chat.Session{UserID: "u-ann", Username: "ann"})
	require.NoError(t, svc.SwitchScope(ctx, general))

	m := New(svc, bridge, Options{MarkdownStyle: "notty"})
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	return updated.(Model), svc
}

// submit types input and presses enter, running any resulting command.
func submit(t *testing.T, m Model, input string) Model {
	t.Helper()
	m.composer.SetValue(input)
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(Model)
	if cmd != nil {
		if msg, ok := cmd().(resultMsg); ok {
			updated, _ = m.Update(msg)
			m = updated.(Model)
		}
	}
	return m
}

func waitMessages(t *testing.T, svc *parley.Service, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(svc.Messages()) == n }, time.Second, 5*time.Millisecond)
}

func TestModel_SendShowsMessage(t *testing.T) {
	m, svc := newTestModel(t)

	m = submit(t, m, "hello world")
	require.NoError(t, m.err)
	assert.Empty(t, m.composer.Value())

	waitMessages(t, svc, 1)
	updated, _ := m.Update(refreshMsg{})
	m = updated.(Model)

	view := m.View()
	assert.Contains(t, view, "hello world")
	assert.Contains(t, view, "ann")
	assert.Contains(t, view, "lobby #general")
}

func TestModel_EmptyInputIgnored(t *testing.T) {
	m, svc := newTestModel(t)

	m.composer.SetValue("   ")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Empty(t, svc.Messages())
}

func TestModel_ReplyDraft(t *testing.T) {
	m, svc := newTestModel(t)

	m = submit(t, m, "first")
	waitMessages(t, svc, 1)

	m = submit(t, m, "/reply")
	require.NoError(t, m.err)
	require.NotNil(t, svc.ReplyDraft())
	assert.Contains(t, m.View(), "Replying to ann: first")

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = updated.(Model)
	assert.Nil(t, svc.ReplyDraft())
}

func TestModel_React(t *testing.T) {
	m, svc := newTestModel(t)

	m = submit(t, m, "react to me")
	waitMessages(t, svc, 1)

	m = submit(t, m, "/react 0001 👍")
	require.NoError(t, m.err)
	assert.Equal(t, "reacted 👍", m.status)
	assert.Equal(t, map[string]int{"👍": 1}, svc.Reactions("msg-0001").Counts())
}

func TestModel_EditOwnMessage(t *testing.T) {
	m, svc := newTestModel(t)

	m = submit(t, m, "tpyo")
	waitMessages(t, svc, 1)

	m = submit(t, m, "/edit ^ typo")
	require.NoError(t, m.err)
	require.Eventually(t, func() bool {
		msg, ok := svc.Message("msg-0001")
		return ok && msg.Text == "typo" && msg.IsEdited()
	}, time.Second, 5*time.Millisecond)
}

func TestModel_ResolveErrors(t *testing.T) {
	m, svc := newTestModel(t)

	_, err := m.resolve("")
	assert.ErrorIs(t, err, chat.ErrMessageNotFound)

	m = submit(t, m, "one")
	m = submit(t, m, "two")
	waitMessages(t, svc, 2)

	_, err = m.resolve("zzz")
	assert.ErrorIs(t, err, chat.ErrMessageNotFound)

	_, err = m.resolve("msg-")
	assert.ErrorContains(t, err, "matches 2 messages")

	got, err := m.resolve("2")
	require.NoError(t, err)
	assert.Equal(t, "two", got.Text)
}

func TestModel_Search(t *testing.T) {
	m, svc := newTestModel(t)

	m = submit(t, m, "apples")
	m = submit(t, m, "bananas")
	waitMessages(t, svc, 2)

	m = submit(t, m, "/search APPLE")
	assert.Equal(t, `1 result(s) for "APPLE"`, m.status)
	view := m.View()
	assert.Contains(t, view, "apples")
	assert.NotContains(t, view, "bananas")
}

func TestModel_UnknownCommand(t *testing.T) {
	m, _ := newTestModel(t)

	m = submit(t, m, "/frobnicate")
	assert.ErrorContains(t, m.err, "unknown command /frobnicate")
}

func TestModel_Quit(t *testing.T) {
	m, _ := newTestModel(t)

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
	assert.Empty(t, updated.(Model).View())
}

func TestModel_RecallsHistory(t *testing.T) {
	m, svc := newTestModel(t)

	m = submit(t, m, "first")
	m = submit(t, m, "second")
	waitMessages(t, svc, 2)

	m.composer.SetValue("half typed")
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyCtrlP})
	m = updated.(Model)
	assert.Equal(t, "second", m.composer.Value())

	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyCtrlP})
	m = updated.(Model)
	assert.Equal(t, "first", m.composer.Value())

	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyCtrlN})
	m = updated.(Model)
	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyCtrlN})
	m = updated.(Model)
	assert.Equal(t, "half typed", m.composer.Value())
}
