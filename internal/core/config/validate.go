package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"slices"

	"github.com/hay-kot/criterio"

	"github.com/hay-kot/parley/internal/core/chat"
)

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Category string `json:"category"`
	Item     string `json:"item,omitempty"`
	Message  string `json:"message"`
}

// ValidateDeep performs comprehensive validation of the configuration.
// Unlike Validate(), this checks URLs, listen addresses and file access.
func (c *Config) ValidateDeep(configPath string) error {
	var errs criterio.FieldErrorsBuilder

	if err := c.Validate(); err != nil {
		var fieldErrs criterio.FieldErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			errs = errs.Append(fe.Field, fe.Err)
		}
	}

	if configPath != "" {
		if info, err := os.Stat(configPath); err == nil && info.IsDir() {
			errs = errs.Append("config", fmt.Errorf("%s is a directory, not a file", configPath))
		} else if err != nil && !os.IsNotExist(err) {
			errs = errs.Append("config", fmt.Errorf("cannot access %s: %w", configPath, err))
		}
	}

	if err := ValidateFeedURL(c.Feed.URL); err != nil {
		errs = errs.Append("feed.url", err)
	}

	if c.Chat.Room != "" && chat.Slug(c.Chat.Room) != c.Chat.Room {
		errs = errs.Append("chat.room", fmt.Errorf("%q is not a room id, did you mean %q?", c.Chat.Room, chat.Slug(c.Chat.Room)))
	}
	if chat.Slug(c.Chat.Channel) != c.Chat.Channel {
		errs = errs.Append("chat.channel", fmt.Errorf("%q is not a channel id, did you mean %q?", c.Chat.Channel, chat.Slug(c.Chat.Channel)))
	}

	if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
		errs = errs.Append("server.listen", err)
	}

	for i, origin := range c.Server.AllowedOrigins {
		if origin == "*" {
			continue
		}
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = errs.Append(fmt.Sprintf("server.allowed_origins[%d]", i), fmt.Errorf("%q is not an origin like https://example.com", origin))
		}
	}

	if c.Server.Static != "" {
		if info, err := os.Stat(c.Server.Static); err != nil {
			errs = errs.Append("server.static", err)
		} else if !info.IsDir() {
			errs = errs.Append("server.static", fmt.Errorf("%s is not a directory", c.Server.Static))
		}
	}

	return errs.ToError()
}

// Warnings returns non-fatal issues worth surfacing to the user.
func (c *Config) Warnings() []ValidationWarning {
	var warnings []ValidationWarning

	if slices.Contains(c.Server.AllowedOrigins, "*") {
		warnings = append(warnings, ValidationWarning{
			Category: "Server",
			Item:     "allowed_origins",
			Message:  "any browser origin may connect to the feed",
		})
	}

	if msg := FeedURLWarning(c.Feed.URL); msg != "" {
		warnings = append(warnings, ValidationWarning{Category: "Feed", Item: "url", Message: msg})
	}

	if c.Server.Storage == StorageMemory {
		warnings = append(warnings, ValidationWarning{
			Category: "Server",
			Item:     "storage",
			Message:  "memory storage loses every message when the server stops",
		})
	}

	return warnings
}

// FeedURLWarning describes why raw is risky to connect to, or returns "".
func FeedURLWarning(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "ws" || isLoopback(u.Hostname()) {
		return ""
	}
	return fmt.Sprintf("%s is not encrypted, use wss:// for remote servers", raw)
}

// ValidateFeedURL checks raw is a ws:// or wss:// URL with a host.
func ValidateFeedURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("scheme must be ws or wss, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
