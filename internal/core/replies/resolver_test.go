package replies

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/parley/internal/core/chat"
	"github.com/hay-kot/parley/internal/core/feed"
)

var general = chat.NewScope(chat.DefaultRoom, "general")

// fakeReader serves records from a map. When gate is set, every Get blocks
// until it is closed or the context ends.
type fakeReader struct {
	records map[string]map[string]any
	err     error
	gate    chan struct{}
	calls   atomic.Int32
}

func (f *fakeReader) Get(ctx context.Context, path string) (json.RawMessage, bool, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, false, f.err
	}
	rec, ok := f.records[path]
	if !ok {
		return nil, false, nil
	}
	raw, err := json.Marshal(rec)
	return raw, true, err
}

func parentRecord(text string) map[string]any {
	return map[string]any{"uid": "u1", "username": "ann", "text": text, "ts": 1000}
}

func TestResolve_Found(t *testing.T) {
	reader := &fakeReader{records: map[string]map[string]any{
		feed.MessagePath(general, "p1"): parentRecord("line one\nline two\nline three"),
	}}
	r := New(reader, zerolog.Nop())

	q, ok := r.Resolve(context.Background(), general, "p1")
	require.True(t, ok)
	assert.Equal(t, "ann", q.AuthorName)
	assert.Equal(t, "line one line two …", q.Snippet)
	assert.Equal(t, "p1", q.ParentID)

	_, ok = r.Resolve(context.Background(), general, "p1")
	require.True(t, ok)
	assert.Equal(t, int32(1), reader.calls.Load())
}

func TestResolve_ConcurrentRequestsShareOneFetch(t *testing.T) {
	reader := &fakeReader{
		records: map[string]map[string]any{feed.MessagePath(general, "p1"): parentRecord("hi")},
		gate:    make(chan struct{}),
	}
	r := New(reader, zerolog.Nop())

	const callers = 10
	var wg sync.WaitGroup
	results := make([]bool, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, results[i] = r.Resolve(context.Background(), general, "p1")
		}()
	}

	require.Eventually(t, func() bool { return reader.calls.Load() == 1 }, time.Second, time.Millisecond)
	// let stragglers join the in-flight call before releasing it
	time.Sleep(20 * time.Millisecond)
	close(reader.gate)
	wg.Wait()

	assert.Equal(t, int32(1), reader.calls.Load())
	for _, ok := range results {
		assert.True(t, ok)
	}
}

func TestResolve_NegativeResultsCached(t *testing.T) {
	tests := []struct {
		name   string
		reader *fakeReader
	}{
		{"not found", &fakeReader{}},
		{"transport error", &fakeReader{err: errors.New("boom")}},
		{"malformed", &fakeReader{records: map[string]map[string]any{
			feed.MessagePath(general, "p1"): {"uid": "u1"},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(tt.reader, zerolog.Nop())

			_, ok := r.Resolve(context.Background(), general, "p1")
			assert.False(t, ok)
			_, ok = r.Resolve(context.Background(), general, "p1")
			assert.False(t, ok)

			assert.Equal(t, int32(1), tt.reader.calls.Load())

			_, found, cached := r.Lookup("p1")
			assert.False(t, found)
			assert.True(t, cached)
		})
	}
}

func TestResolve_CancelledCallerLeavesFlightRunning(t *testing.T) {
	reader := &fakeReader{
		records: map[string]map[string]any{feed.MessagePath(general, "p1"): parentRecord("hi")},
		gate:    make(chan struct{}),
	}
	r := New(reader, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan bool)
	go func() {
		_, ok := r.Resolve(ctx, general, "p1")
		first <- ok
	}()
	require.Eventually(t, func() bool { return reader.calls.Load() == 1 }, time.Second, time.Millisecond)

	type result struct {
		quote chat.Quote
		ok    bool
	}
	second := make(chan result)
	go func() {
		q, ok := r.Resolve(context.Background(), general, "p1")
		second <- result{q, ok}
	}()

	cancel()
	assert.False(t, <-first)

	_, _, cached := r.Lookup("p1")
	assert.False(t, cached)

	close(reader.gate)
	res := <-second
	require.True(t, res.ok)
	assert.Equal(t, "hi", res.quote.Snippet)
	assert.Equal(t, int32(1), reader.calls.Load())
}

func TestResolve_CloseAbortsFlightWithoutCaching(t *testing.T) {
	reader := &fakeReader{
		records: map[string]map[string]any{feed.MessagePath(general, "p1"): parentRecord("hi")},
		gate:    make(chan struct{}),
	}
	r := New(reader, zerolog.Nop())

	done := make(chan bool)
	go func() {
		_, ok := r.Resolve(context.Background(), general, "p1")
		done <- ok
	}()
	require.Eventually(t, func() bool { return reader.calls.Load() == 1 }, time.Second, time.Millisecond)

	r.Close()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("resolve did not return after close")
	}

	_, _, cached := r.Lookup("p1")
	assert.False(t, cached)
}

func TestResolve_TimeoutNotCached(t *testing.T) {
	reader := &fakeReader{
		records: map[string]map[string]any{feed.MessagePath(general, "p1"): parentRecord("hi")},
		gate:    make(chan struct{}),
	}
	r := New(reader, zerolog.Nop())
	r.timeout = 20 * time.Millisecond

	_, ok := r.Resolve(context.Background(), general, "p1")
	assert.False(t, ok)
	_, _, cached := r.Lookup("p1")
	assert.False(t, cached)

	close(reader.gate)
	q, ok := r.Resolve(context.Background(), general, "p1")
	require.True(t, ok)
	assert.Equal(t, "hi", q.Snippet)
	assert.Equal(t, int32(2), reader.calls.Load())
}

func TestRefresh(t *testing.T) {
	reader := &fakeReader{records: map[string]map[string]any{
		feed.MessagePath(general, "p1"): parentRecord("before"),
	}}
	r := New(reader, zerolog.Nop())

	_, ok := r.Resolve(context.Background(), general, "p1")
	require.True(t, ok)

	r.Refresh(chat.Message{ID: "p1", AuthorName: "ann", Text: "after"})
	q, found, _ := r.Lookup("p1")
	require.True(t, found)
	assert.Equal(t, "after", q.Snippet)

	// uncached parents are not inserted
	r.Refresh(chat.Message{ID: "p2", AuthorName: "bob", Text: "x"})
	_, _, cached := r.Lookup("p2")
	assert.False(t, cached)
	assert.Equal(t, int32(1), reader.calls.Load())
}

func TestResolve_EmptyParent(t *testing.T) {
	reader := &fakeReader{}
	r := New(reader, zerolog.Nop())

	_, ok := r.Resolve(context.Background(), general, "")
	assert.False(t, ok)
	assert.Equal(t, int32(0), reader.calls.Load())
}
