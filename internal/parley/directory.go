package parley

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/hay-kot/parley/internal/core/chat"
	"github.com/hay-kot/parley/internal/core/feed"
)

// DefaultChannel is created with every new room.
const DefaultChannel = "general"

// CreateRoom registers a room named name along with its default channel.
// The room id is derived from the name.
func (s *Service) CreateRoom(ctx context.Context, name string) (chat.Room, error) {
	if s.Session() == nil {
		return chat.Room{}, chat.ErrNotAuthenticated
	}

	id, err := s.slugFor(name)
	if err != nil {
		return chat.Room{}, err
	}
	path := feed.Join(feed.RoomsPath, id)
	if err := s.ensureAbsent(ctx, path); err != nil {
		return chat.Room{}, fmt.Errorf("room %q: %w", id, err)
	}

	now := s.now()
	rec := chat.DirectoryRecord{Name: strings.TrimSpace(name), CreatedAt: now.UnixMilli()}
	if err := s.feed.Set(ctx, path, rec); err != nil {
		return chat.Room{}, fmt.Errorf("%w: create room: %w", chat.ErrTransientFeed, err)
	}
	if _, err := s.CreateChannel(ctx, id, DefaultChannel); err != nil {
		return chat.Room{}, err
	}

	s.log.Info().Str("room", id).Msg("room created")
	return chat.Room{ID: id, Name: rec.Name, CreatedAt: now}, nil
}

// CreateChannel registers a channel named name in an existing room.
func (s *Service) CreateChannel(ctx context.Context, room, name string) (chat.Channel, error) {
	if s.Session() == nil {
		return chat.Channel{}, chat.ErrNotAuthenticated
	}

	id, err := s.slugFor(name)
	if err != nil {
		return chat.Channel{}, err
	}
	if err := chat.NewScope(room, id).Validate(); err != nil {
		return chat.Channel{}, err
	}

	_, found, err := s.feed.Get(ctx, feed.Join(feed.RoomsPath, room))
	if err != nil {
		return chat.Channel{}, fmt.Errorf("%w: lookup room: %w", chat.ErrTransientFeed, err)
	}
	if !found {
		return chat.Channel{}, fmt.Errorf("%w: room %q does not exist", chat.ErrInvalidScope, room)
	}

	path := feed.Join(feed.ChannelsPath(room), id)
	if err := s.ensureAbsent(ctx, path); err != nil {
		return chat.Channel{}, fmt.Errorf("channel %q: %w", id, err)
	}

	now := s.now()
	rec := chat.DirectoryRecord{Name: strings.TrimSpace(name), CreatedAt: now.UnixMilli()}
	if err := s.feed.Set(ctx, path, rec); err != nil {
		return chat.Channel{}, fmt.Errorf("%w: create channel: %w", chat.ErrTransientFeed, err)
	}

	return chat.Channel{ID: id, Room: room, Name: rec.Name, CreatedAt: now}, nil
}

// Rooms lists every room, oldest first.
func (s *Service) Rooms(ctx context.Context) ([]chat.Room, error) {
	entries, err := s.directory(ctx, feed.RoomsPath)
	if err != nil {
		return nil, err
	}
	rooms := make([]chat.Room, len(entries))
	for i, e := range entries {
		rooms[i] = chat.Room{ID: e.id, Name: e.Name, CreatedAt: e.created()}
	}
	return rooms, nil
}

// Channels lists the channels of room, oldest first.
func (s *Service) Channels(ctx context.Context, room string) ([]chat.Channel, error) {
	entries, err := s.directory(ctx, feed.ChannelsPath(room))
	if err != nil {
		return nil, err
	}
	channels := make([]chat.Channel, len(entries))
	for i, e := range entries {
		channels[i] = chat.Channel{ID: e.id, Room: room, Name: e.Name, CreatedAt: e.created()}
	}
	return channels, nil
}

// JoinRoom switches to the first channel of room.
func (s *Service) JoinRoom(ctx context.Context, room string) (chat.Scope, error) {
	channels, err := s.Channels(ctx, room)
	if err != nil {
		return chat.Scope{}, err
	}
	if len(channels) == 0 {
		return chat.Scope{}, fmt.Errorf("%w: room %q has no channels", chat.ErrInvalidScope, room)
	}
	scope := channels[0].Scope()
	return scope, s.SwitchScope(ctx, scope)
}

func (s *Service) slugFor(name string) (string, error) {
	id := chat.Slug(name)
	if id == "" {
		return "", fmt.Errorf("%w: name %q has no usable characters", chat.ErrInvalidScope, name)
	}
	return id, nil
}

func (s *Service) ensureAbsent(ctx context.Context, path string) error {
	_, found, err := s.feed.Get(ctx, path)
	if err != nil {
		return fmt.Errorf("%w: %w", chat.ErrTransientFeed, err)
	}
	if found {
		return fmt.Errorf("already exists")
	}
	return nil
}

type directoryEntry struct {
	chat.DirectoryRecord
	id string
}

func (e directoryEntry) created() time.Time {
	return time.UnixMilli(e.CreatedAt)
}

func (s *Service) directory(ctx context.Context, path string) ([]directoryEntry, error) {
	raw, found, err := s.feed.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %w", chat.ErrTransientFeed, path, err)
	}
	if !found {
		return nil, nil
	}

	var records map[string]chat.DirectoryRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", chat.ErrMalformedRecord, path, err)
	}

	entries := make([]directoryEntry, 0, len(records))
	for id, rec := range records {
		entries = append(entries, directoryEntry{DirectoryRecord: rec, id: id})
	}
	slices.SortFunc(entries, func(a, b directoryEntry) int {
		if c := cmp.Compare(a.CreatedAt, b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.id, b.id)
	})
	return entries, nil
}
