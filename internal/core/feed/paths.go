package feed

import (
	"fmt"
	"strings"

	"github.com/hay-kot/parley/internal/core/chat"
)

// Top-level collections of the chat tree.
const (
	RoomsPath    = "rooms"
	UsersPath    = "users"
	channelsRoot = "channels"
	messagesRoot = "messages"
)

// ReactionsField is the child of a message record holding reaction sets.
const ReactionsField = "reactions"

// ChannelsPath returns the path holding the channels of a room.
func ChannelsPath(room string) string {
	return Join(channelsRoot, room)
}

// MessagesPath returns the path holding the messages of a scope.
func MessagesPath(scope chat.Scope) string {
	return Join(messagesRoot, scope.Room, scope.Channel)
}

// MessagePath returns the path of a single message.
func MessagePath(scope chat.Scope, id string) string {
	return Join(messagesRoot, scope.Room, scope.Channel, id)
}

// ReactionField returns the field key, relative to a message, that records
// one user's membership in an emoji's reaction set.
func ReactionField(emoji, userID string) string {
	return Join(ReactionsField, EscapeKey(emoji), userID)
}

// Join joins path segments with "/".
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// Split splits a path into its non-empty segments.
func Split(path string) []string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ValidatePath rejects empty paths and segments the tree cannot store.
func ValidatePath(path string) error {
	segs := Split(path)
	if len(segs) == 0 {
		return fmt.Errorf("empty path")
	}
	for _, s := range segs {
		if strings.ContainsAny(s, forbidden) {
			return fmt.Errorf("path segment %q contains a reserved character", s)
		}
	}
	return nil
}
