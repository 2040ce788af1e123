package commands

import (
	"os"
	"path/filepath"

	"github.com/hay-kot/parley/internal/commands/doctor"
	"github.com/hay-kot/parley/internal/core/config"
	"github.com/hay-kot/parley/internal/store/jsonfile"
)

type Flags struct {
	LogLevel   string
	LogFile    string
	ConfigPath string
	DataDir    string
	// Server overrides feed.url from the config file.
	Server string

	// Config is loaded in the Before hook and available to all commands
	Config *config.Config

	// Sessions stores the signed-in user between runs
	Sessions *jsonfile.Store
}

// FeedURL returns the feed server URL, preferring the --server flag.
func (f *Flags) FeedURL() string {
	if f.Server != "" {
		return f.Server
	}
	return f.Config.Feed.URL
}

// configSource names the config file and --server override behind Config.
func (f *Flags) configSource() doctor.ConfigSource {
	return doctor.ConfigSource{Path: f.ConfigPath, Server: f.Server}
}

// DefaultConfigPath returns the default config file path using XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, _ := os.UserHomeDir()
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "parley", "config.yaml")
}

// DefaultDataDir returns the default data directory using XDG_DATA_HOME.
func DefaultDataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, _ := os.UserHomeDir()
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "parley")
}
