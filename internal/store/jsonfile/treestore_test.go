package jsonfile

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/parley/internal/core/feed"
	"github.com/hay-kot/parley/internal/feed/memfeed"
	"github.com/hay-kot/parley/internal/feed/tree"
)

func TestTreeStore_SaveAndLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tree")
	store := NewTreeStore(dir)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "messages/lobby/general/m1", map[string]any{"text": "hi", "ts": 1000}))
	require.NoError(t, store.Save(ctx, "messages/lobby/general/m1/reactions/%F0%9F%91%8D/u1", true))
	require.NoError(t, store.Save(ctx, "messages/lobby/random/m2", map[string]any{"text": "yo", "ts": 2000}))
	require.NoError(t, store.Save(ctx, "rooms/lobby", map[string]any{"name": "Lobby"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var files []string
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".json" {
			files = append(files, e.Name())
		}
	}
	assert.ElementsMatch(t, []string{
		feed.EscapeKey("messages/lobby/general") + ".json",
		feed.EscapeKey("messages/lobby/random") + ".json",
		"rooms.json",
	}, files)

	root, err := NewTreeStore(dir).Load(ctx)
	require.NoError(t, err)

	text, ok := tree.Get(root, feed.Split("messages/lobby/general/m1/text"))
	require.True(t, ok)
	assert.Equal(t, "hi", text)

	member, ok := tree.Get(root, feed.Split("messages/lobby/general/m1/reactions/%F0%9F%91%8D/u1"))
	require.True(t, ok)
	assert.Equal(t, true, member)

	_, ok = tree.Get(root, feed.Split("rooms/lobby/name"))
	assert.True(t, ok)
}

func TestTreeStore_DeleteRemovesEmptyBucket(t *testing.T) {
	dir := t.TempDir()
	store := NewTreeStore(dir)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "rooms/lobby", map[string]any{"name": "Lobby"}))
	require.NoError(t, store.Save(ctx, "rooms/lobby", nil))

	_, err := os.Stat(filepath.Join(dir, "rooms.json"))
	assert.True(t, os.IsNotExist(err))

	root, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, root)
}

func TestTreeStore_DeleteKeepsLockFile(t *testing.T) {
	dir := t.TempDir()
	a, b := NewTreeStore(dir), NewTreeStore(dir)
	ctx := context.Background()

	require.NoError(t, a.Save(ctx, "rooms/lobby", map[string]any{"name": "Lobby"}))
	require.NoError(t, a.Save(ctx, "rooms/lobby", nil))

	_, err := os.Stat(filepath.Join(dir, "rooms.json.lock"))
	require.NoError(t, err, "lock file must outlive the bucket it guards")

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store := a
			if i%2 == 1 {
				store = b
			}
			_ = store.Save(ctx, "rooms/lobby", map[string]any{"name": "Lobby"})
			_ = store.Save(ctx, "rooms/lobby", nil)
		}()
	}
	wg.Wait()

	require.NoError(t, b.Save(ctx, "rooms/help", map[string]any{"name": "Help"}))
	root, err := a.Load(ctx)
	require.NoError(t, err)
	name, ok := tree.Get(root, feed.Split("rooms/help/name"))
	require.True(t, ok)
	assert.Equal(t, "Help", name)
	_, ok = tree.Get(root, feed.Split("rooms/lobby"))
	assert.False(t, ok)
}

func TestTreeStore_ShallowWriteReplacesBuckets(t *testing.T) {
	store := NewTreeStore(t.TempDir())
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "messages/lobby/general/m1", map[string]any{"text": "a", "ts": 1}))
	require.NoError(t, store.Save(ctx, "messages/lobby/random/m2", map[string]any{"text": "b", "ts": 2}))

	require.NoError(t, store.Save(ctx, "messages/lobby", map[string]any{
		"help": map[string]any{"m3": map[string]any{"text": "c", "ts": 3}},
	}))

	root, err := store.Load(ctx)
	require.NoError(t, err)

	_, ok := tree.Get(root, feed.Split("messages/lobby/general"))
	assert.False(t, ok)
	_, ok = tree.Get(root, feed.Split("messages/lobby/help/m3/text"))
	assert.True(t, ok)
}

func TestTreeStore_BacksMemfeed(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	f, err := memfeed.New(ctx, memfeed.WithPersister(NewTreeStore(dir)))
	require.NoError(t, err)
	require.NoError(t, f.Set(ctx, "messages/lobby/general/m1", map[string]any{"uid": "u1", "text": "persisted", "ts": 1}))
	require.NoError(t, f.Update(ctx, "messages/lobby/general/m1", map[string]any{"text": "edited", "editedAt": 2}))
	require.NoError(t, f.Close())

	reopened, err := memfeed.New(ctx, memfeed.WithPersister(NewTreeStore(dir)))
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	raw, found, err := reopened.Get(ctx, "messages/lobby/general/m1")
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `{"uid":"u1","text":"edited","ts":1,"editedAt":2}`, string(raw))
}
