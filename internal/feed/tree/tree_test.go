package tree

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/parley/internal/core/feed"
)

func TestSetAndGet(t *testing.T) {
	root := Node{}

	v, err := Normalize(map[string]any{"text": "hi", "ts": 1000})
	require.NoError(t, err)
	require.NoError(t, Set(root, feed.Split("messages/lobby/general/m1"), v))

	got, ok := Get(root, feed.Split("messages/lobby/general/m1/text"))
	require.True(t, ok)
	assert.Equal(t, "hi", got)

	ts, ok := Get(root, feed.Split("messages/lobby/general/m1/ts"))
	require.True(t, ok)
	assert.Equal(t, json.Number("1000"), ts)
}

func TestSet_NilPrunesEmptyParents(t *testing.T) {
	root := Node{}
	require.NoError(t, Set(root, feed.Split("a/b/c"), true))
	require.NoError(t, Set(root, feed.Split("a/b/c"), nil))

	_, ok := Get(root, feed.Split("a"))
	assert.False(t, ok)
	assert.Empty(t, root)
}

func TestSet_KeepsSiblings(t *testing.T) {
	root := Node{}
	require.NoError(t, Set(root, feed.Split("a/b"), true))
	require.NoError(t, Set(root, feed.Split("a/c"), true))
	require.NoError(t, Set(root, feed.Split("a/b"), nil))

	_, ok := Get(root, feed.Split("a/c"))
	assert.True(t, ok)
}

func TestNormalize_EmptyObjectIsNil(t *testing.T) {
	v, err := Normalize(map[string]any{"x": map[string]any{}})
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestFlatten(t *testing.T) {
	v, err := Normalize(map[string]any{"text": "hi", "reactions": map[string]any{"👍": map[string]any{"u1": true}}})
	require.NoError(t, err)

	leaves := Flatten("m1", v)
	assert.Equal(t, map[string]any{
		"m1/text":          "hi",
		"m1/reactions/👍/u1": true,
	}, leaves)
}

func TestMarshal_IsDeterministic(t *testing.T) {
	a, err := Normalize(map[string]any{"b": 1, "a": 2})
	require.NoError(t, err)
	b, err := Normalize(map[string]any{"a": 2, "b": 1})
	require.NoError(t, err)

	ra, err := Marshal(a)
	require.NoError(t, err)
	rb, err := Marshal(b)
	require.NoError(t, err)
	assert.Equal(t, string(ra), string(rb))
}
