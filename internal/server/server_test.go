package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/parley/internal/feed/memfeed"
)

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *memfeed.Feed) {
	t.Helper()
	f, err := memfeed.New(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	ts := httptest.NewServer(New(f, opts, zerolog.Nop()).Handler())
	t.Cleanup(ts.Close)
	return ts, f
}

func do(t *testing.T, method, url, body string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func TestTreeEndpoints(t *testing.T) {
	ts, f := newTestServer(t, Options{})
	base := ts.URL + "/v1/tree/"

	code, _ := do(t, http.MethodGet, base+"rooms/lobby", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, http.MethodPut, base+"rooms/lobby", `{"name":"Lobby","createdAt":1}`)
	require.Equal(t, http.StatusNoContent, code)

	code, body := do(t, http.MethodGet, base+"rooms/lobby", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"name":"Lobby","createdAt":1}`, body)

	code, _ = do(t, http.MethodPatch, base+"rooms/lobby", `{"name":"Main","createdAt":null}`)
	require.Equal(t, http.StatusNoContent, code)

	raw, found, err := f.Get(context.Background(), "rooms/lobby")
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `{"name":"Main"}`, string(raw))

	code, _ = do(t, http.MethodDelete, base+"rooms/lobby", "")
	require.Equal(t, http.StatusNoContent, code)
	code, _ = do(t, http.MethodGet, base+"rooms/lobby", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, http.MethodPut, base+"rooms/lobby", `{not json`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHealthAndMetrics(t *testing.T) {
	ts, _ := newTestServer(t, Options{})

	code, body := do(t, http.MethodGet, ts.URL+"/healthz", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"status":"ok"`)

	do(t, http.MethodGet, ts.URL+"/v1/tree/rooms", "")

	code, body = do(t, http.MethodGet, ts.URL+"/metrics", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `parley_feed_requests_total{op="get",transport="rest"} 1`)
	assert.Contains(t, body, "parley_feed_subscriptions 0")
	assert.Contains(t, body, "parley_feed_connections 0")
}

func TestRateLimit(t *testing.T) {
	ts, _ := newTestServer(t, Options{RPS: 0.001, Burst: 1})

	code, _ := do(t, http.MethodGet, ts.URL+"/v1/tree/rooms", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, http.MethodGet, ts.URL+"/v1/tree/rooms", "")
	assert.Equal(t, http.StatusTooManyRequests, code)
}

func TestStatic(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>parley</h1>"), 0o644))

	ts, _ := newTestServer(t, Options{StaticDir: dir})

	code, body := do(t, http.MethodGet, ts.URL+"/", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "parley")

	code, _ = do(t, http.MethodGet, ts.URL+"/missing.js", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, http.MethodGet, ts.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestCheckOrigin(t *testing.T) {
	s := &Server{opts: Options{AllowedOrigins: []string{"https://chat.example.com"}}}

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://chat.example.com", true},
		{"https://evil.example.com", false},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/feed", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.want, s.checkOrigin(r), tt.origin)
	}
}
