package pebblestore

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/parley/internal/core/feed"
	"github.com/hay-kot/parley/internal/feed/memfeed"
	"github.com/hay-kot/parley/internal/feed/tree"
)

func openStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(dir)
	require.NoError(t, err)
	return s
}

func TestStore_SaveAndLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	ctx := context.Background()

	s := openStore(t, dir)
	require.NoError(t, s.Save(ctx, "messages/lobby/general/m1", map[string]any{"text": "hi", "ts": 1000}))
	require.NoError(t, s.Save(ctx, "messages/lobby/general/m1/reactions/%F0%9F%91%8D/u1", true))
	require.NoError(t, s.Close())

	s = openStore(t, dir)
	defer func() { _ = s.Close() }()

	root, err := s.Load(ctx)
	require.NoError(t, err)

	text, ok := tree.Get(root, feed.Split("messages/lobby/general/m1/text"))
	require.True(t, ok)
	assert.Equal(t, "hi", text)

	ts, ok := tree.Get(root, feed.Split("messages/lobby/general/m1/ts"))
	require.True(t, ok)
	assert.Equal(t, json.Number("1000"), ts)

	member, ok := tree.Get(root, feed.Split("messages/lobby/general/m1/reactions/%F0%9F%91%8D/u1"))
	require.True(t, ok)
	assert.Equal(t, true, member)
}

func TestStore_ReplaceSubtree(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, t.TempDir())
	defer func() { _ = s.Close() }()

	require.NoError(t, s.Save(ctx, "rooms/lobby", map[string]any{"name": "Lobby", "createdAt": 1}))
	require.NoError(t, s.Save(ctx, "rooms/lobby2", map[string]any{"name": "Lobby 2"}))
	require.NoError(t, s.Save(ctx, "rooms/lobby", map[string]any{"name": "Renamed"}))

	root, err := s.Load(ctx)
	require.NoError(t, err)

	_, ok := tree.Get(root, feed.Split("rooms/lobby/createdAt"))
	assert.False(t, ok, "stale leaf survived a replace")

	name, _ := tree.Get(root, feed.Split("rooms/lobby/name"))
	assert.Equal(t, "Renamed", name)

	// The sibling sharing a key prefix is outside the replaced range.
	name, _ = tree.Get(root, feed.Split("rooms/lobby2/name"))
	assert.Equal(t, "Lobby 2", name)
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, t.TempDir())
	defer func() { _ = s.Close() }()

	require.NoError(t, s.Save(ctx, "rooms/lobby", map[string]any{"name": "Lobby"}))
	require.NoError(t, s.Save(ctx, "rooms/lobby", nil))

	root, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, root)
}

func TestStore_LeafAncestorReplaced(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, t.TempDir())
	defer func() { _ = s.Close() }()

	require.NoError(t, s.Save(ctx, "a", 1))
	require.NoError(t, s.Save(ctx, "a/b", 2))

	root, err := s.Load(ctx)
	require.NoError(t, err)

	v, ok := tree.Get(root, feed.Split("a/b"))
	require.True(t, ok)
	assert.Equal(t, json.Number("2"), v)
}

func TestStore_EmptyPath(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer func() { _ = s.Close() }()

	assert.Error(t, s.Save(context.Background(), "/", 1))
}

func TestStore_BacksMemfeed(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := openStore(t, dir)
	f, err := memfeed.New(ctx, memfeed.WithPersister(s))
	require.NoError(t, err)
	require.NoError(t, f.Set(ctx, "messages/lobby/general/m1", map[string]any{"uid": "u1", "text": "persisted", "ts": 1}))
	require.NoError(t, f.Update(ctx, "messages/lobby/general/m1", map[string]any{"text": "edited", "editedAt": 2}))
	require.NoError(t, f.Close())
	require.NoError(t, s.Close())

	s = openStore(t, dir)
	defer func() { _ = s.Close() }()
	reopened, err := memfeed.New(ctx, memfeed.WithPersister(s))
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	raw, found, err := reopened.Get(ctx, "messages/lobby/general/m1")
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `{"uid":"u1","text":"edited","ts":1,"editedAt":2}`, string(raw))
}
