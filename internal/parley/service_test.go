package parley

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/parley/internal/core/chat"
	"github.com/hay-kot/parley/internal/core/feed"
	"github.com/hay-kot/parley/internal/feed/memfeed"
)

var (
	general = chat.NewScope(chat.DefaultRoom, "general")
	random  = chat.NewScope(chat.DefaultRoom, "random")
	ann     = &chat.Session{UserID: "u-ann", Username: "ann"}
	bob     = &chat.Session{UserID: "u-bob", Username: "bob"}
)

// hookLog records hook calls from the dispatch path.
type hookLog struct {
	mu     sync.Mutex
	quotes map[string]chat.Quote
	scopes []chat.Scope
	added  []string
}

func (h *hookLog) hooks() Hooks {
	return Hooks{
		OnMessageAdded: func(m chat.Message) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.added = append(h.added, m.ID)
		},
		OnQuoteResolved: func(id string, q chat.Quote) {
			h.mu.Lock()
			defer h.mu.Unlock()
			if h.quotes == nil {
				h.quotes = make(map[string]chat.Quote)
			}
			h.quotes[id] = q
		},
		OnScopeChanged: func(sc chat.Scope) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.scopes = append(h.scopes, sc)
		},
	}
}

func (h *hookLog) quote(id string) (chat.Quote, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	q, ok := h.quotes[id]
	return q, ok
}

type fixture struct {
	feed  *memfeed.Feed
	svc   *Service
	hooks *hookLog
	ids   atomic.Int32
}

func newFixture(t *testing.T, f feed.Feed) *fixture {
	t.Helper()
	mem, err := memfeed.New(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })
	if f == nil {
		f = mem
	}

	fx := &fixture{feed: mem, hooks: &hookLog{}}
	fx.svc = New(f, zerolog.Nop(), Options{
		Hooks: fx.hooks.hooks(),
		Now:   func() time.Time { return time.UnixMilli(5000) },
		NewID: func() string { return fmt.Sprintf("id%02d", fx.ids.Add(1)) },
	})
	t.Cleanup(func() { _ = fx.svc.Close() })
	return fx
}

func (fx *fixture) put(t *testing.T, scope chat.Scope, id, uid, text string, ts int64) {
	t.Helper()
	require.NoError(t, fx.feed.Set(context.Background(), feed.MessagePath(scope, id), map[string]any{
		"uid": uid, "username": uid, "text": text, "ts": ts,
	}))
}

func (fx *fixture) waitLen(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(fx.svc.Messages()) == n }, time.Second, 5*time.Millisecond)
}

func ids(msgs []chat.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestSend_RequiresSessionAndScope(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	_, err := fx.svc.Send(ctx, "hi")
	require.ErrorIs(t, err, chat.ErrNotAuthenticated)

	fx.svc.SetSession(ann)
	_, err = fx.svc.Send(ctx, "hi")
	require.ErrorIs(t, err, chat.ErrInvalidScope)

	require.NoError(t, fx.svc.SwitchScope(ctx, general))
	_, err = fx.svc.Send(ctx, "   ")
	require.ErrorIs(t, err, chat.ErrEmptyText)
}

func TestSend_AppearsInView(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	fx.svc.SetSession(ann)
	require.NoError(t, fx.svc.SwitchScope(ctx, general))

	id, err := fx.svc.Send(ctx, "hello world")
	require.NoError(t, err)

	fx.waitLen(t, 1)
	msg, ok := fx.svc.Message(id)
	require.True(t, ok)
	assert.Equal(t, "hello world", msg.Text)
	assert.Equal(t, "u-ann", msg.AuthorID)
	assert.Equal(t, "ann", msg.AuthorName)
	assert.Equal(t, time.UnixMilli(5000), msg.CreatedAt)
}

func TestView_OrdersOutOfOrderArrival(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, fx.svc.SwitchScope(ctx, general))

	fx.put(t, general, "B", "u-bob", "second", 2000)
	fx.put(t, general, "A", "u-ann", "first", 1000)

	fx.waitLen(t, 2)
	assert.Equal(t, []string{"A", "B"}, ids(fx.svc.Messages()))
}

func TestView_InitialWindowAndMalformed(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	fx.put(t, general, "A", "u-ann", "first", 1000)
	require.NoError(t, fx.feed.Set(ctx, feed.MessagePath(general, "bad"), map[string]any{"uid": "x"}))
	fx.put(t, general, "B", "u-bob", "second", 2000)

	require.NoError(t, fx.svc.SwitchScope(ctx, general))
	fx.waitLen(t, 2)
	assert.Equal(t, []string{"A", "B"}, ids(fx.svc.Messages()))
}

func TestEdit(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, fx.svc.SwitchScope(ctx, general))
	fx.put(t, general, "A", "u-ann", "original", 9000)
	fx.waitLen(t, 1)

	t.Run("non-author is denied and nothing is written", func(t *testing.T) {
		fx.svc.SetSession(bob)
		err := fx.svc.Edit(ctx, "A", "hijacked")
		require.ErrorIs(t, err, chat.ErrPermissionDenied)

		raw, _, err := fx.feed.Get(ctx, feed.MessagePath(general, "A")+"/text")
		require.NoError(t, err)
		assert.JSONEq(t, `"original"`, string(raw))
	})

	t.Run("unknown message", func(t *testing.T) {
		fx.svc.SetSession(ann)
		require.ErrorIs(t, fx.svc.Edit(ctx, "nope", "x"), chat.ErrMessageNotFound)
	})

	t.Run("author edit never predates creation", func(t *testing.T) {
		fx.svc.SetSession(ann)
		require.NoError(t, fx.svc.Edit(ctx, "A", "fixed"))

		require.Eventually(t, func() bool {
			msg, _ := fx.svc.Message("A")
			return msg.Text == "fixed"
		}, time.Second, 5*time.Millisecond)

		msg, _ := fx.svc.Message("A")
		assert.True(t, msg.IsEdited())
		// the clock reads 5000, before the 9000 creation time
		assert.Equal(t, msg.CreatedAt, msg.EditedAt)
	})
}

func TestReact_TwiceRemoves(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	fx.svc.SetSession(ann)
	require.NoError(t, fx.svc.SwitchScope(ctx, general))
	fx.put(t, general, "A", "u-bob", "hello", 1000)
	fx.waitLen(t, 1)

	member, err := fx.svc.React(ctx, "A", "👍")
	require.NoError(t, err)
	assert.True(t, member)
	assert.Equal(t, map[string]int{"👍": 1}, fx.svc.Reactions("A").Counts())

	member, err = fx.svc.React(ctx, "A", "👍")
	require.NoError(t, err)
	assert.False(t, member)
	assert.Empty(t, fx.svc.Reactions("A").Reactions)

	_, err = fx.svc.React(ctx, "missing", "👍")
	require.ErrorIs(t, err, chat.ErrMessageNotFound)
}

func TestReplyDraft(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	fx.svc.SetSession(ann)
	require.NoError(t, fx.svc.SwitchScope(ctx, general))
	fx.put(t, general, "P", "u-bob", "parent\nsecond\nthird", 1000)
	fx.waitLen(t, 1)

	parent, _ := fx.svc.Message("P")
	require.NoError(t, fx.svc.SetReplyDraft(&parent))
	assert.Equal(t, "Replying to u-bob: parent second …", fx.svc.ReplyPreview())

	id, err := fx.svc.Send(ctx, "child")
	require.NoError(t, err)
	assert.Nil(t, fx.svc.ReplyDraft())

	fx.waitLen(t, 2)
	child, _ := fx.svc.Message(id)
	assert.Equal(t, "P", child.ParentID)

	require.Eventually(t, func() bool {
		_, ok := fx.hooks.quote(id)
		return ok
	}, time.Second, 5*time.Millisecond)

	q, ok := fx.svc.Quote(id)
	require.True(t, ok)
	assert.Equal(t, "parent second …", q.Snippet)
}

func TestReplyDraft_ScopeRules(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	fx.svc.SetSession(ann)
	require.NoError(t, fx.svc.SwitchScope(ctx, general))

	foreign := chat.Message{ID: "X", Scope: random}
	require.ErrorIs(t, fx.svc.SetReplyDraft(&foreign), chat.ErrInvalidScope)

	local := chat.Message{ID: "Y", Scope: general}
	require.NoError(t, fx.svc.SetReplyDraft(&local))

	require.NoError(t, fx.svc.SwitchScope(ctx, random))
	assert.Nil(t, fx.svc.ReplyDraft())
}

func TestSwitchScope(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	fx.put(t, general, "A", "u-ann", "in general", 1000)
	fx.put(t, random, "B", "u-ann", "in random", 1000)

	require.ErrorIs(t, fx.svc.SwitchScope(ctx, chat.Scope{}), chat.ErrInvalidScope)

	require.NoError(t, fx.svc.SwitchScope(ctx, general))
	fx.waitLen(t, 1)

	require.NoError(t, fx.svc.SwitchScope(ctx, random))
	fx.waitLen(t, 1)
	assert.Equal(t, []string{"B"}, ids(fx.svc.Messages()))
	assert.Equal(t, random, fx.svc.Scope())

	// writes to the old scope no longer reach the view
	fx.put(t, general, "C", "u-ann", "late", 2000)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"B"}, ids(fx.svc.Messages()))

	fx.hooks.mu.Lock()
	assert.Equal(t, []chat.Scope{general, random}, fx.hooks.scopes)
	fx.hooks.mu.Unlock()
}

// gatedFeed blocks point reads until released.
type gatedFeed struct {
	*memfeed.Feed
	gate  chan struct{}
	calls atomic.Int32
}

func (g *gatedFeed) Get(ctx context.Context, path string) (json.RawMessage, bool, error) {
	g.calls.Add(1)
	<-g.gate
	return g.Feed.Get(context.WithoutCancel(ctx), path)
}

func TestSwitchScope_DiscardsStaleQuotes(t *testing.T) {
	mem, err := memfeed.New(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })
	gated := &gatedFeed{Feed: mem, gate: make(chan struct{})}

	fx := newFixture(t, gated)
	fx.feed = mem
	ctx := context.Background()

	fx.put(t, general, "P", "u-bob", "parent", 1000)
	require.NoError(t, mem.Set(ctx, feed.MessagePath(general, "R"), map[string]any{
		"uid": "u-ann", "username": "ann", "text": "reply", "ts": 2000, "parentId": "P",
	}))

	require.NoError(t, fx.svc.SwitchScope(ctx, general))
	require.Eventually(t, func() bool { return gated.calls.Load() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, fx.svc.SwitchScope(ctx, random))
	close(gated.gate)

	time.Sleep(50 * time.Millisecond)
	_, ok := fx.hooks.quote("R")
	assert.False(t, ok)
}

// slowAddedFeed holds every added event back before handing it on.
type slowAddedFeed struct {
	*memfeed.Feed
	delay time.Duration
}

func (f *slowAddedFeed) hold(fn feed.Handler) feed.Handler {
	return func(ev feed.Event) {
		if ev.Type == feed.EventAdded {
			time.Sleep(f.delay)
		}
		fn(ev)
	}
}

func (f *slowAddedFeed) Subscribe(ctx context.Context, path string, q feed.Query, fn feed.Handler) (*feed.Subscription, error) {
	return f.Feed.Subscribe(ctx, path, q, f.hold(fn))
}

func (f *slowAddedFeed) SubscribeAdded(ctx context.Context, path string, q feed.Query, fn feed.Handler) (*feed.Subscription, error) {
	return f.Feed.SubscribeAdded(ctx, path, q, f.hold(fn))
}

func TestView_SlowAddNeverOverwritesLaterEdits(t *testing.T) {
	mem, err := memfeed.New(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })
	slow := &slowAddedFeed{Feed: mem, delay: 50 * time.Millisecond}

	fx := newFixture(t, slow)
	fx.feed = mem
	ctx := context.Background()
	require.NoError(t, fx.svc.SwitchScope(ctx, general))

	path := feed.MessagePath(general, "M")
	fx.put(t, general, "M", "u-bob", "v1", 1000)
	edit := func(text, emoji, uid string) {
		fields := map[string]any{"text": text}
		fields[feed.ReactionField(emoji, uid)] = true
		require.NoError(t, mem.Update(ctx, path, fields))
	}
	edit("v2", "👍", "u-ann")
	edit("v3", "🎉", "u-bob")

	require.Eventually(t, func() bool {
		msg, ok := fx.svc.Message("M")
		return ok && msg.Text == "v3"
	}, time.Second, 5*time.Millisecond)

	// a stale add still queued elsewhere would land within this window
	time.Sleep(3 * slow.delay)

	msg, ok := fx.svc.Message("M")
	require.True(t, ok)
	assert.Equal(t, "v3", msg.Text)
	assert.Equal(t, map[string]int{"👍": 1, "🎉": 1}, fx.svc.Reactions("M").Counts())
}

func TestSearch(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, fx.svc.SwitchScope(ctx, general))
	fx.put(t, general, "A", "u-ann", "Hello there", 1000)
	fx.put(t, general, "B", "u-bob", "bye", 2000)
	fx.put(t, general, "C", "u-bob", "say hello", 3000)
	fx.waitLen(t, 3)

	assert.Equal(t, []string{"C", "A"}, ids(fx.svc.Search("hello")))
	assert.Empty(t, fx.svc.Search(""))
}

func TestDirectory(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	_, err := fx.svc.CreateRoom(ctx, "Book Club")
	require.ErrorIs(t, err, chat.ErrNotAuthenticated)

	fx.svc.SetSession(ann)
	room, err := fx.svc.CreateRoom(ctx, "Book Club")
	require.NoError(t, err)
	assert.Equal(t, "book-club", room.ID)

	_, err = fx.svc.CreateRoom(ctx, "book club")
	require.Error(t, err)

	_, err = fx.svc.CreateChannel(ctx, "nope", "x")
	require.ErrorIs(t, err, chat.ErrInvalidScope)

	ch, err := fx.svc.CreateChannel(ctx, room.ID, "Spoilers")
	require.NoError(t, err)
	assert.Equal(t, chat.NewScope("book-club", "spoilers"), ch.Scope())

	rooms, err := fx.svc.Rooms(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "Book Club", rooms[0].Name)

	channels, err := fx.svc.Channels(ctx, room.ID)
	require.NoError(t, err)
	// both were created at the same fixed clock reading; ids break the tie
	assert.Equal(t, []string{"general", "spoilers"}, []string{channels[0].ID, channels[1].ID})

	scope, err := fx.svc.JoinRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, chat.NewScope("book-club", "general"), scope)
	assert.Equal(t, scope, fx.svc.Scope())
}
