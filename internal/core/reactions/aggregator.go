// Package reactions aggregates per-message emoji reaction sets. The feed is
// the source of truth: toggles are written through and only become visible
// once the record's echo is applied.
package reactions

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hay-kot/parley/internal/core/chat"
	"github.com/hay-kot/parley/internal/core/feed"
)

// ErrClosed is returned by a toggle still waiting for its echo when the
// aggregator is closed.
var ErrClosed = errors.New("reaction aggregator closed")

// Reaction is one emoji's aggregate on a message.
type Reaction struct {
	Emoji string   `json:"emoji"`
	Count int      `json:"count"`
	Users []string `json:"users"`
}

// Summary lists a message's reactions by count descending, ties in the
// order the emojis were first seen.
type Summary struct {
	MessageID string     `json:"message_id"`
	Reactions []Reaction `json:"reactions"`
}

// Counts returns emoji to count.
func (s Summary) Counts() map[string]int {
	out := make(map[string]int, len(s.Reactions))
	for _, r := range s.Reactions {
		out[r.Emoji] = r.Count
	}
	return out
}

type emojiSet struct {
	users     map[string]struct{}
	firstSeen uint64
}

type waitKey struct {
	msgID, emoji, userID string
	member               bool
}

// Aggregator holds the reaction sets of one scope's messages.
type Aggregator struct {
	writer feed.Writer
	scope  chat.Scope
	log    zerolog.Logger

	mu        sync.RWMutex
	sets      map[string]map[string]*emojiSet
	seen      uint64
	waiters   map[waitKey][]chan error
	listeners map[string]map[uint64]func(Summary)
	watchers  map[uint64]func(Summary)
	nextID    uint64
	closed    bool
}

// New creates an aggregator writing toggles for scope through w.
func New(w feed.Writer, scope chat.Scope, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		writer:    w,
		scope:     scope,
		log:       logger,
		sets:      make(map[string]map[string]*emojiSet),
		waiters:   make(map[waitKey][]chan error),
		listeners: make(map[string]map[uint64]func(Summary)),
		watchers:  make(map[uint64]func(Summary)),
	}
}

// Toggle removes userID from the emoji's set on msgID if present, otherwise
// adds it. It returns the resulting membership once the change has been
// written and its echo applied, or ctx's error if that happens first.
func (a *Aggregator) Toggle(ctx context.Context, msgID, emoji, userID string) (bool, error) {
	if emoji == "" {
		return false, fmt.Errorf("empty emoji")
	}

	want := !a.Has(msgID, emoji, userID)
	key := waitKey{msgID: msgID, emoji: emoji, userID: userID, member: want}
	ch := make(chan error, 1)

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return !want, ErrClosed
	}
	a.waiters[key] = append(a.waiters[key], ch)
	a.mu.Unlock()

	var value any
	if want {
		value = true
	}
	field := feed.ReactionField(emoji, userID)
	if err := a.writer.Update(ctx, feed.MessagePath(a.scope, msgID), map[string]any{field: value}); err != nil {
		a.dropWaiter(key, ch)
		return !want, fmt.Errorf("%w: toggle %s on %s: %w", chat.ErrTransientFeed, emoji, msgID, err)
	}

	a.mu.Lock()
	if a.memberLocked(msgID, emoji, userID) == want {
		a.mu.Unlock()
		a.dropWaiter(key, ch)
		return want, nil
	}
	a.mu.Unlock()

	select {
	case err := <-ch:
		return want, err
	case <-ctx.Done():
		a.dropWaiter(key, ch)
		return want, ctx.Err()
	}
}

// Apply adopts the reaction map carried by a message event. Removed events
// drop the message's reactions.
func (a *Aggregator) Apply(ev feed.Event) {
	if ev.Type == feed.EventRemoved {
		a.Remove(ev.Key)
		return
	}

	rec, err := chat.DecodeRecord(ev.Value)
	if err != nil {
		return
	}
	a.Set(ev.Key, rec.Reactions)
}

// Set replaces the reaction sets of msgID with the wire map (escaped emoji
// to user to membership).
func (a *Aggregator) Set(msgID string, wire map[string]map[string]bool) {
	next := make(map[string]map[string]struct{}, len(wire))
	for _, esc := range slices.Sorted(maps.Keys(wire)) {
		emoji, err := feed.UnescapeKey(esc)
		if err != nil {
			a.log.Warn().Err(err).Str("id", msgID).Str("key", esc).Msg("keeping undecodable reaction key")
			emoji = esc
		}
		for uid, member := range wire[esc] {
			if !member {
				continue
			}
			if next[emoji] == nil {
				next[emoji] = make(map[string]struct{})
			}
			next[emoji][uid] = struct{}{}
		}
	}

	a.mu.Lock()
	prev := a.sets[msgID]
	if equalSets(prev, next) {
		a.resolveLocked(msgID)
		a.mu.Unlock()
		return
	}

	merged := make(map[string]*emojiSet, len(next))
	for _, emoji := range slices.Sorted(maps.Keys(next)) {
		set := &emojiSet{users: next[emoji]}
		if old, ok := prev[emoji]; ok {
			set.firstSeen = old.firstSeen
		} else {
			a.seen++
			set.firstSeen = a.seen
		}
		merged[emoji] = set
	}
	if len(merged) == 0 {
		delete(a.sets, msgID)
	} else {
		a.sets[msgID] = merged
	}

	a.resolveLocked(msgID)
	summary := a.summaryLocked(msgID)
	listeners := a.listenersLocked(msgID)
	a.mu.Unlock()

	for _, fn := range listeners {
		fn(summary)
	}
}

// Remove forgets msgID's reactions.
func (a *Aggregator) Remove(msgID string) {
	a.mu.Lock()
	_, ok := a.sets[msgID]
	delete(a.sets, msgID)
	a.resolveLocked(msgID)
	listeners := a.listenersLocked(msgID)
	a.mu.Unlock()

	if !ok {
		return
	}
	for _, fn := range listeners {
		fn(Summary{MessageID: msgID})
	}
}

// Snapshot returns the ordered reactions of msgID.
func (a *Aggregator) Snapshot(msgID string) Summary {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.summaryLocked(msgID)
}

// Counts returns emoji to count for msgID.
func (a *Aggregator) Counts(msgID string) map[string]int {
	return a.Snapshot(msgID).Counts()
}

// Emojis returns the emojis present on msgID in display order.
func (a *Aggregator) Emojis(msgID string) []string {
	s := a.Snapshot(msgID)
	out := make([]string, len(s.Reactions))
	for i, r := range s.Reactions {
		out[i] = r.Emoji
	}
	return out
}

// Users returns the sorted ids of users who reacted with emoji on msgID.
func (a *Aggregator) Users(msgID, emoji string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	set, ok := a.sets[msgID][emoji]
	if !ok {
		return nil
	}
	return slices.Sorted(maps.Keys(set.users))
}

// Has reports whether userID reacted with emoji on msgID.
func (a *Aggregator) Has(msgID, emoji, userID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.memberLocked(msgID, emoji, userID)
}

func (a *Aggregator) memberLocked(msgID, emoji, userID string) bool {
	set, ok := a.sets[msgID][emoji]
	if !ok {
		return false
	}
	_, ok = set.users[userID]
	return ok
}

// Subscribe calls fn with the full summary of msgID after every change.
func (a *Aggregator) Subscribe(msgID string, fn func(Summary)) *feed.Subscription {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	if a.listeners[msgID] == nil {
		a.listeners[msgID] = make(map[uint64]func(Summary))
	}
	a.listeners[msgID][id] = fn
	a.mu.Unlock()

	return feed.NewSubscription(func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.listeners[msgID], id)
		if len(a.listeners[msgID]) == 0 {
			delete(a.listeners, msgID)
		}
	})
}

// Watch calls fn with the summary of any message whose reactions change.
func (a *Aggregator) Watch(fn func(Summary)) *feed.Subscription {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.watchers[id] = fn
	a.mu.Unlock()

	return feed.NewSubscription(func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.watchers, id)
	})
}

func (a *Aggregator) listenersLocked(msgID string) []func(Summary) {
	out := slices.Collect(maps.Values(a.listeners[msgID]))
	return append(out, slices.Collect(maps.Values(a.watchers))...)
}

// Close drops every listener and fails pending toggles with ErrClosed.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	for key, chans := range a.waiters {
		for _, ch := range chans {
			ch <- ErrClosed
		}
		delete(a.waiters, key)
	}
	clear(a.listeners)
	clear(a.watchers)
}

func (a *Aggregator) resolveLocked(msgID string) {
	for key, chans := range a.waiters {
		if key.msgID != msgID {
			continue
		}
		if a.memberLocked(msgID, key.emoji, key.userID) != key.member {
			continue
		}
		for _, ch := range chans {
			ch <- nil
		}
		delete(a.waiters, key)
	}
}

func (a *Aggregator) dropWaiter(key waitKey, ch chan error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	chans := slices.DeleteFunc(a.waiters[key], func(c chan error) bool { return c == ch })
	if len(chans) == 0 {
		delete(a.waiters, key)
	} else {
		a.waiters[key] = chans
	}
}

func (a *Aggregator) summaryLocked(msgID string) Summary {
	sets := a.sets[msgID]
	type ranked struct {
		Reaction
		firstSeen uint64
	}
	list := make([]ranked, 0, len(sets))
	for emoji, set := range sets {
		list = append(list, ranked{
			Reaction:  Reaction{Emoji: emoji, Count: len(set.users), Users: slices.Sorted(maps.Keys(set.users))},
			firstSeen: set.firstSeen,
		})
	}
	slices.SortFunc(list, func(x, y ranked) int {
		if c := cmp.Compare(y.Count, x.Count); c != 0 {
			return c
		}
		return cmp.Compare(x.firstSeen, y.firstSeen)
	})

	out := Summary{MessageID: msgID, Reactions: make([]Reaction, len(list))}
	for i, r := range list {
		out.Reactions[i] = r.Reaction
	}
	return out
}

func equalSets(prev map[string]*emojiSet, next map[string]map[string]struct{}) bool {
	if len(prev) != len(next) {
		return false
	}
	for emoji, users := range next {
		old, ok := prev[emoji]
		if !ok || !maps.Equal(old.users, users) {
			return false
		}
	}
	return true
}
