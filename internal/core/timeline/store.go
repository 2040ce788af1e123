// Package timeline holds the materialized view of one scope's messages: an
// id-unique list kept in (CreatedAt, ID) order regardless of arrival order.
package timeline

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hay-kot/parley/internal/core/chat"
	"github.com/hay-kot/parley/internal/core/feed"
)

// Hooks observe view changes. They run on the goroutine that applied the
// change, after the store lock is released.
type Hooks struct {
	OnAdded   func(chat.Message)
	OnChanged func(chat.Message)
	OnEvicted func(chat.Message)
}

// Options configures a Store.
type Options struct {
	// Window caps the number of held messages; the oldest are evicted first.
	Window int
	Hooks  Hooks
	Logger zerolog.Logger
}

// Store is the message view for a single scope. It is safe for concurrent
// use.
type Store struct {
	scope  chat.Scope
	window int
	hooks  Hooks
	log    zerolog.Logger

	mu        sync.RWMutex
	msgs      []chat.Message
	byID      map[string]chat.Message
	malformed int
}

// New creates an empty store for scope.
func New(scope chat.Scope, opts Options) *Store {
	if opts.Window <= 0 {
		opts.Window = feed.DefaultWindow
	}
	return &Store{
		scope:  scope,
		window: opts.Window,
		hooks:  opts.Hooks,
		log:    opts.Logger,
		byID:   make(map[string]chat.Message),
	}
}

// Scope returns the scope the store holds.
func (s *Store) Scope() chat.Scope {
	return s.scope
}

// Upsert inserts msg or replaces the message with the same id. added is true
// when the id was not held before. A message older than everything in a full
// window is ignored.
func (s *Store) Upsert(msg chat.Message) (added bool, err error) {
	if msg.ID == "" {
		return false, fmt.Errorf("%w: message without id", chat.ErrMalformedRecord)
	}
	if msg.Scope != s.scope {
		return false, fmt.Errorf("%w: message %s belongs to %s, store holds %s", chat.ErrInvalidScope, msg.ID, msg.Scope, s.scope)
	}
	if msg.ParentID == msg.ID {
		s.log.Warn().Str("id", msg.ID).Msg("message references itself as parent, clearing reply")
		msg.ParentID = ""
	}

	s.mu.Lock()
	old, exists := s.byID[msg.ID]
	var evicted *chat.Message

	switch {
	case exists:
		s.removeLocked(old)
		s.insertLocked(msg)
	case len(s.msgs) >= s.window && chat.Compare(msg, s.msgs[0]) < 0:
		s.mu.Unlock()
		s.log.Debug().Str("id", msg.ID).Msg("message older than window, ignoring")
		return false, nil
	default:
		s.insertLocked(msg)
		if len(s.msgs) > s.window {
			oldest := s.msgs[0]
			s.removeLocked(oldest)
			evicted = &oldest
		}
	}
	s.mu.Unlock()

	if evicted != nil {
		s.fire(s.hooks.OnEvicted, *evicted)
	}
	if exists {
		s.fire(s.hooks.OnChanged, msg)
		return false, nil
	}
	s.fire(s.hooks.OnAdded, msg)
	return true, nil
}

// Remove drops a message from the view. It reports whether it was held.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	msg, ok := s.byID[id]
	if ok {
		s.removeLocked(msg)
	}
	s.mu.Unlock()

	if ok {
		s.fire(s.hooks.OnEvicted, msg)
	}
	return ok
}

// Apply folds a feed event for this scope's message path into the view.
// Malformed records are dropped, logged and counted; the returned error
// wraps chat.ErrMalformedRecord.
func (s *Store) Apply(ev feed.Event) error {
	switch ev.Type {
	case feed.EventRemoved:
		s.Remove(ev.Key)
		return nil
	case feed.EventAdded, feed.EventChanged:
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}

	rec, err := chat.DecodeRecord(ev.Value)
	if err != nil {
		s.mu.Lock()
		s.malformed++
		s.mu.Unlock()
		s.log.Warn().Err(err).Str("id", ev.Key).Str("event", string(ev.Type)).Msg("dropping malformed record")
		return err
	}

	_, err = s.Upsert(rec.Message(ev.Key, s.scope))
	if errors.Is(err, chat.ErrMalformedRecord) {
		s.mu.Lock()
		s.malformed++
		s.mu.Unlock()
	}
	return err
}

// Get returns the message with id.
func (s *Store) Get(id string) (chat.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.byID[id]
	return msg, ok
}

// List yields the messages of scope oldest first. The sequence is empty for
// any other scope. Each iteration works on a snapshot taken when it starts.
func (s *Store) List(scope chat.Scope) iter.Seq[chat.Message] {
	return func(yield func(chat.Message) bool) {
		if scope != s.scope {
			return
		}
		for _, msg := range s.All() {
			if !yield(msg) {
				return
			}
		}
	}
}

// All returns a copy of the held messages, oldest first.
func (s *Store) All() []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.msgs)
}

// Len returns the number of held messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}

// Malformed returns the number of records dropped as malformed.
func (s *Store) Malformed() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.malformed
}

func (s *Store) insertLocked(msg chat.Message) {
	i, _ := slices.BinarySearchFunc(s.msgs, msg, chat.Compare)
	s.msgs = slices.Insert(s.msgs, i, msg)
	s.byID[msg.ID] = msg
}

func (s *Store) removeLocked(msg chat.Message) {
	if i, ok := slices.BinarySearchFunc(s.msgs, msg, chat.Compare); ok {
		s.msgs = slices.Delete(s.msgs, i, i+1)
	}
	delete(s.byID, msg.ID)
}

func (s *Store) fire(fn func(chat.Message), msg chat.Message) {
	if fn != nil {
		fn(msg)
	}
}
