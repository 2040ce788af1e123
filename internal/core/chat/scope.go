package chat

import (
	"fmt"
	"strings"
)

// DefaultRoom is the room used by the single-room variant.
const DefaultRoom = "lobby"

// Scope addresses the room and channel a message lives in.
type Scope struct {
	Room    string `json:"room"`
	Channel string `json:"channel"`
}

// NewScope returns a scope in the given room. An empty room selects DefaultRoom.
func NewScope(room, channel string) Scope {
	if room == "" {
		room = DefaultRoom
	}
	return Scope{Room: room, Channel: channel}
}

// ParseScope parses "room/channel" or a bare "channel" (which uses DefaultRoom).
func ParseScope(s string) (Scope, error) {
	room, channel, found := strings.Cut(strings.TrimSpace(s), "/")
	if !found {
		channel, room = room, ""
	}
	sc := NewScope(room, channel)
	if err := sc.Validate(); err != nil {
		return Scope{}, err
	}
	return sc, nil
}

// IsZero returns true if no scope has been selected.
func (s Scope) IsZero() bool {
	return s.Room == "" && s.Channel == ""
}

// Validate checks that both segments are present and usable as path segments.
func (s Scope) Validate() error {
	if s.Room == "" || s.Channel == "" {
		return fmt.Errorf("%w: room and channel are required", ErrInvalidScope)
	}
	if strings.Contains(s.Room, "/") || strings.Contains(s.Channel, "/") {
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidScope, s.String())
	}
	return nil
}

func (s Scope) String() string {
	return s.Room + "/" + s.Channel
}
