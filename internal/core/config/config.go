// Package config handles configuration loading and validation for parley.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hay-kot/criterio"
	"gopkg.in/yaml.v3"
)

// Storage backends for the feed server.
const (
	StorageMemory   = "memory"
	StorageJSONFile = "jsonfile"
	StoragePebble   = "pebble"
)

// Config holds the application configuration.
type Config struct {
	Feed    FeedConfig   `yaml:"feed"`
	Chat    ChatConfig   `yaml:"chat"`
	Server  ServerConfig `yaml:"server"`
	DataDir string       `yaml:"-"` // set by caller, not from config file
}

// FeedConfig configures the client connection to a feed server.
type FeedConfig struct {
	// URL is the websocket endpoint, e.g. ws://localhost:7480/feed.
	URL string `yaml:"url"`
	// Window is the number of trailing messages held per channel.
	Window int `yaml:"window"`
}

// ChatConfig holds the room and channel opened when none is given.
type ChatConfig struct {
	Room    string `yaml:"room"`
	Channel string `yaml:"channel"`
}

// ServerConfig configures `parley serve`.
type ServerConfig struct {
	Listen         string   `yaml:"listen"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	Storage        string   `yaml:"storage"` // memory, jsonfile or pebble
	Static         string   `yaml:"static"`
	RPS            float64  `yaml:"rps"`
	Burst          int      `yaml:"burst"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Feed: FeedConfig{
			URL:    "ws://localhost:7480/feed",
			Window: 500,
		},
		Chat: ChatConfig{
			Room:    "lobby",
			Channel: "general",
		},
		Server: ServerConfig{
			Listen:  ":7480",
			Storage: StorageJSONFile,
			RPS:     50,
			Burst:   100,
		},
	}
}

// Load reads configuration from the given path and sets the data directory.
// If configPath is empty or doesn't exist, returns defaults with the provided dataDir.
func Load(configPath, dataDir string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.DataDir = dataDir

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}

			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}

			// Re-set dataDir since Unmarshal may have cleared it
			cfg.DataDir = dataDir
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for any unset configuration options.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.Feed.URL == "" {
		c.Feed.URL = defaults.Feed.URL
	}
	if c.Feed.Window == 0 {
		c.Feed.Window = defaults.Feed.Window
	}
	if c.Chat.Channel == "" {
		c.Chat.Channel = defaults.Chat.Channel
	}
	if c.Server.Listen == "" {
		c.Server.Listen = defaults.Server.Listen
	}
	if c.Server.Storage == "" {
		c.Server.Storage = defaults.Server.Storage
	}
	if c.Server.RPS == 0 {
		c.Server.RPS = defaults.Server.RPS
	}
	if c.Server.Burst == 0 {
		c.Server.Burst = defaults.Server.Burst
	}
}

// Validate checks the fields Load cannot work without.
func (c *Config) Validate() error {
	var errs criterio.FieldErrorsBuilder

	if c.DataDir == "" {
		errs = errs.Append("data_dir", fmt.Errorf("data directory cannot be empty"))
	}
	if c.Feed.Window < 1 {
		errs = errs.Append("feed.window", fmt.Errorf("must be at least 1, got %d", c.Feed.Window))
	}
	if !isValidStorage(c.Server.Storage) {
		errs = errs.Append("server.storage", fmt.Errorf("unknown storage %q (memory, jsonfile, pebble)", c.Server.Storage))
	}
	if c.Server.RPS < 0 {
		errs = errs.Append("server.rps", fmt.Errorf("cannot be negative"))
	}
	if c.Server.Burst < 0 {
		errs = errs.Append("server.burst", fmt.Errorf("cannot be negative"))
	}

	return errs.ToError()
}

// SessionFile returns the path of the signed-in session file.
func (c *Config) SessionFile() string {
	return filepath.Join(c.DataDir, "session.json")
}

// TreeDir returns the directory of the jsonfile storage backend.
func (c *Config) TreeDir() string {
	return filepath.Join(c.DataDir, "tree")
}

// PebbleDir returns the directory of the pebble storage backend.
func (c *Config) PebbleDir() string {
	return filepath.Join(c.DataDir, "pebble")
}

func isValidStorage(s string) bool {
	switch s {
	case StorageMemory, StorageJSONFile, StoragePebble:
		return true
	default:
		return false
	}
}
