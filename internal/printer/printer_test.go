package printer

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hay-kot/criterio"
	"github.com/stretchr/testify/assert"

	"github.com/hay-kot/parley/internal/core/chat"
	"github.com/hay-kot/parley/internal/core/reactions"
)

func TestFatalError_Plain(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).FatalError(errors.New("boom"))

	assert.Equal(t, "╭ Error\n│ boom\n╵\n", buf.String())
}

func TestFatalError_FieldErrors(t *testing.T) {
	var errs criterio.FieldErrorsBuilder
	errs = errs.Append("feed.window", errors.New("must be at least 1"))

	var buf bytes.Buffer
	New(&buf).FatalError(fmt.Errorf("load config: %w", errs.ToError()))

	out := buf.String()
	assert.Contains(t, out, "╭ Validation Error")
	assert.Contains(t, out, "│ load config\n")
	assert.Contains(t, out, Cross+" feed.window: must be at least 1")
}

func TestNew_NoColorForBuffers(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).Successf("done %d", 3)

	assert.Equal(t, Check+" done 3\n", buf.String())
}

func TestMessage(t *testing.T) {
	now := time.UnixMilli(10 * 60 * 1000)
	var buf bytes.Buffer

	New(&buf).Message(MessageView{
		Message: chat.Message{
			ID:         "m2",
			AuthorName: "bob",
			Text:       "line one\nline two",
			CreatedAt:  now.Add(-3 * time.Minute),
			EditedAt:   now,
			ParentID:   "m1",
		},
		Quote: &chat.Quote{ParentID: "m1", AuthorName: "ann", Snippet: "hello"},
		Reactions: []reactions.Reaction{
			{Emoji: "👍", Count: 2},
			{Emoji: "🎉", Count: 1},
		},
	}, now)

	assert.Equal(t, "bob 3 minutes ago (edited) m2\n"+
		"  "+Reply+" ann: hello\n"+
		"  line one\n"+
		"  line two\n"+
		"  👍 2  🎉 1\n", buf.String())
}

func TestMessage_MissingQuote(t *testing.T) {
	now := time.Now()
	var buf bytes.Buffer

	New(&buf).Message(MessageView{
		Message: chat.Message{ID: "m2", AuthorName: "bob", Text: "hi", CreatedAt: now, ParentID: "gone"},
	}, now)

	assert.Contains(t, buf.String(), "original message unavailable")
}
