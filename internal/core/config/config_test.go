package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hay-kot/criterio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	dataDir := t.TempDir()

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), dataDir)
	require.NoError(t, err)

	want := DefaultConfig()
	want.DataDir = dataDir
	assert.Equal(t, &want, cfg)
	assert.Equal(t, filepath.Join(dataDir, "session.json"), cfg.SessionFile())
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
feed:
  url: wss://chat.example.com/feed
chat:
  room: team
server:
  storage: pebble
  allowed_origins:
    - https://chat.example.com
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "wss://chat.example.com/feed", cfg.Feed.URL)
	assert.Equal(t, 500, cfg.Feed.Window, "unset window takes the default")
	assert.Equal(t, "team", cfg.Chat.Room)
	assert.Equal(t, "general", cfg.Chat.Channel)
	assert.Equal(t, StoragePebble, cfg.Server.Storage)
	assert.Equal(t, []string{"https://chat.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, ":7480", cfg.Server.Listen)
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("feed:\n  window: -1\nserver:\n  storage: redis\n"), 0o644))

	_, err := Load(path, t.TempDir())

	var fieldErrs criterio.FieldErrors
	require.ErrorAs(t, err, &fieldErrs)
	assert.ElementsMatch(t, []string{"feed.window", "server.storage"}, fieldNames(fieldErrs))
}

func TestLoad_ParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("feed: ["), 0o644))

	_, err := Load(path, t.TempDir())
	assert.ErrorContains(t, err, "parse config file")
}

func TestLoad_EmptyDataDir(t *testing.T) {
	_, err := Load("", "")

	var fieldErrs criterio.FieldErrors
	require.ErrorAs(t, err, &fieldErrs)
	assert.Equal(t, []string{"data_dir"}, fieldNames(fieldErrs))
}
