package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHistory_Recall(t *testing.T) {
	h := New(10)
	h.Add("one")
	h.Add("two")
	h.Add("three")

	got, ok := h.Prev("draft")
	assert.True(t, ok)
	assert.Equal(t, "three", got)

	got, _ = h.Prev("ignored")
	assert.Equal(t, "two", got)
	got, _ = h.Prev("ignored")
	assert.Equal(t, "one", got)

	_, ok = h.Prev("ignored")
	assert.False(t, ok, "nothing older than the first entry")

	got, _ = h.Next()
	assert.Equal(t, "two", got)
	got, _ = h.Next()
	assert.Equal(t, "three", got)

	got, ok = h.Next()
	assert.True(t, ok)
	assert.Equal(t, "draft", got, "walking past the newest entry restores the draft")

	_, ok = h.Next()
	assert.False(t, ok)
}

func TestHistory_Add(t *testing.T) {
	h := New(2)
	h.Add("  ")
	assert.Equal(t, 0, h.Len(), "blank entries are skipped")

	h.Add("a")
	h.Add("a")
	assert.Equal(t, 1, h.Len(), "immediate repeats are skipped")

	h.Add("b")
	h.Add("c")
	assert.Equal(t, 2, h.Len())

	got, _ := h.Prev("")
	assert.Equal(t, "c", got)
	got, _ = h.Prev("")
	assert.Equal(t, "b", got)
	_, ok := h.Prev("")
	assert.False(t, ok, "oldest entry was dropped")
}

func TestHistory_AddResetsCursor(t *testing.T) {
	h := New(0)
	h.Add("first")
	_, _ = h.Prev("")

	h.Add("second")
	got, ok := h.Prev("")
	assert.True(t, ok)
	assert.Equal(t, "second", got)
}
