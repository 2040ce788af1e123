package doctor

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/hay-kot/criterio"

	"github.com/hay-kot/parley/internal/core/chat"
	"github.com/hay-kot/parley/internal/core/config"
)

// ConfigSource describes where the settings came from.
type ConfigSource struct {
	// Path is the config file consulted. It may not exist.
	Path string
	// Server is the --server override, empty when unset.
	Server string
}

// ConfigCheck reports the settings parley resolved: the feed it will dial,
// the scope chat opens, the server's storage backend and the local files it
// writes. Validation problems are attached to the setting they belong to.
type ConfigCheck struct {
	cfg *config.Config
	src ConfigSource
}

// NewConfigCheck creates a configuration check.
func NewConfigCheck(cfg *config.Config, src ConfigSource) *ConfigCheck {
	return &ConfigCheck{cfg: cfg, src: src}
}

func (c *ConfigCheck) Name() string {
	return "Configuration"
}

// setting is one reported line and the config fields whose problems fail it.
type setting struct {
	label  string
	detail string
	status Status
	fields []string
}

func (c *ConfigCheck) Run(ctx context.Context) Result {
	result := Result{Name: c.Name()}

	if c.cfg == nil {
		result.add(StatusFail, "Loaded", "configuration not loaded")
		return result
	}
	cfg := c.cfg

	problems := fieldProblems(cfg.ValidateDeep(c.src.Path))
	feedURL, feedFrom := cfg.Feed.URL, "config"
	if c.src.Server != "" {
		feedURL, feedFrom = c.src.Server, "--server"
		// the override replaces whatever the file says
		delete(problems, "feed.url")
		if err := config.ValidateFeedURL(feedURL); err != nil {
			problems["feed.url"] = []string{err.Error()}
		}
	}

	settings := []setting{
		{label: "File", detail: c.fileDetail(), fields: []string{"config"}},
		{label: "Feed", detail: fmt.Sprintf("%s (from %s)", feedURL, feedFrom), fields: []string{"feed.url"}},
		{label: "Window", detail: fmt.Sprintf("%d messages per channel", cfg.Feed.Window), fields: []string{"feed.window"}},
		{label: "Default scope", detail: chat.NewScope(cfg.Chat.Room, cfg.Chat.Channel).String(), fields: []string{"chat.room", "chat.channel"}},
		storageSetting(cfg),
		{label: "Server", detail: serverDetail(cfg), fields: []string{"server.listen", "server.allowed_origins", "server.static", "server.rps", "server.burst"}},
		{label: "Session file", detail: cfg.SessionFile()},
	}

	for _, s := range settings {
		var msgs []string
		for _, field := range s.fields {
			for _, key := range slices.Sorted(maps.Keys(problems)) {
				if key == field || strings.HasPrefix(key, field+"[") {
					for _, e := range problems[key] {
						msgs = append(msgs, key+": "+e)
					}
					delete(problems, key)
				}
			}
		}
		if len(msgs) > 0 {
			result.add(StatusFail, s.label, strings.Join(msgs, "; "))
			continue
		}
		result.add(s.status, s.label, s.detail)
	}

	for _, key := range slices.Sorted(maps.Keys(problems)) {
		result.add(StatusFail, key, strings.Join(problems[key], "; "))
	}

	for _, w := range c.warnings() {
		label := w.Category
		if w.Item != "" {
			label += " (" + w.Item + ")"
		}
		result.add(StatusWarn, label, w.Message)
	}

	return result
}

func (c *ConfigCheck) fileDetail() string {
	if c.src.Path == "" {
		return "none, using defaults"
	}
	if _, err := os.Stat(c.src.Path); errors.Is(err, os.ErrNotExist) {
		return c.src.Path + " (missing, using defaults)"
	}
	return c.src.Path
}

// warnings returns the config warnings with the feed URL one recomputed for
// a --server override.
func (c *ConfigCheck) warnings() []config.ValidationWarning {
	all := c.cfg.Warnings()
	if c.src.Server == "" {
		return all
	}

	out := all[:0]
	for _, w := range all {
		if w.Category != "Feed" || w.Item != "url" {
			out = append(out, w)
		}
	}
	if msg := config.FeedURLWarning(c.src.Server); msg != "" {
		out = append(out, config.ValidationWarning{Category: "Feed", Item: "url", Message: msg})
	}
	return out
}

// storageSetting describes the backend `parley serve` would open. An
// existing path that is not a directory fails.
func storageSetting(cfg *config.Config) setting {
	st := setting{label: "Storage", fields: []string{"server.storage", "data_dir"}}
	backend := cfg.Server.Storage

	var dir string
	switch backend {
	case config.StorageJSONFile:
		dir = cfg.TreeDir()
	case config.StoragePebble:
		dir = cfg.PebbleDir()
	default:
		st.detail = backend + ", nothing written to disk"
		return st
	}

	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		st.detail = fmt.Sprintf("%s at %s (created on first serve)", backend, dir)
	case err != nil:
		st.status, st.detail = StatusFail, fmt.Sprintf("%s at %s: %v", backend, dir, err)
	case !info.IsDir():
		st.status, st.detail = StatusFail, fmt.Sprintf("%s at %s is not a directory", backend, dir)
	default:
		st.detail = fmt.Sprintf("%s at %s", backend, dir)
	}
	return st
}

func serverDetail(cfg *config.Config) string {
	detail := fmt.Sprintf("listen %s, %.0f req/s burst %d", cfg.Server.Listen, cfg.Server.RPS, cfg.Server.Burst)
	if cfg.Server.Static != "" {
		detail += ", static " + cfg.Server.Static
	}
	return detail
}

// fieldProblems groups validation messages by field. Errors without a field
// are reported under "validation".
func fieldProblems(err error) map[string][]string {
	problems := make(map[string][]string)
	if err == nil {
		return problems
	}

	var fieldErrs criterio.FieldErrors
	if !errors.As(err, &fieldErrs) {
		problems["validation"] = []string{err.Error()}
		return problems
	}
	for _, fe := range fieldErrs {
		field := fe.Field
		if field == "" {
			field = "validation"
		}
		problems[field] = append(problems[field], fe.Err.Error())
	}
	return problems
}
