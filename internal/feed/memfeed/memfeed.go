// Package memfeed is an in-process change feed over a JSON tree. It keeps a
// trailing window per subscription, diffs the window after every write and
// delivers the resulting added/changed/removed events through per-subscription
// mailboxes. It backs the feed server and the tests of every consumer.
package memfeed

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hay-kot/parley/internal/core/feed"
	"github.com/hay-kot/parley/internal/feed/tree"
)

// Persister makes the tree durable. Save is called before a write is
// applied in memory; a nil value deletes the path.
type Persister interface {
	Load(ctx context.Context) (tree.Node, error)
	Save(ctx context.Context, path string, value any) error
}

// Option configures a Feed.
type Option func(*Feed)

// WithPersister loads the tree from p and saves every write through it.
func WithPersister(p Persister) Option {
	return func(f *Feed) { f.persister = p }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(f *Feed) { f.log = l }
}

// Feed implements feed.Feed in memory.
type Feed struct {
	mu        sync.Mutex
	root      tree.Node
	subs      map[uint64]*subscription
	nextID    uint64
	persister Persister
	log       zerolog.Logger
	closed    bool
}

var _ feed.Feed = (*Feed)(nil)

type subscription struct {
	segs   []string
	kind   feed.EventType
	query  feed.Query
	window map[string]json.RawMessage
	box    *feed.Mailbox
}

// New creates a feed, loading the initial tree from the persister if one is
// configured.
func New(ctx context.Context, opts ...Option) (*Feed, error) {
	f := &Feed{
		root: tree.Node{},
		subs: make(map[uint64]*subscription),
		log:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}

	if f.persister != nil {
		root, err := f.persister.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load tree: %w", err)
		}
		if root != nil {
			f.root = root
		}
	}

	return f, nil
}

// Subscribe implements feed.Subscriber.
func (f *Feed) Subscribe(ctx context.Context, path string, q feed.Query, fn feed.Handler) (*feed.Subscription, error) {
	return f.subscribe(ctx, path, q, "", fn)
}

// SubscribeAdded implements feed.Subscriber.
func (f *Feed) SubscribeAdded(ctx context.Context, path string, q feed.Query, fn feed.Handler) (*feed.Subscription, error) {
	return f.subscribe(ctx, path, q, feed.EventAdded, fn)
}

// SubscribeChanged implements feed.Subscriber.
func (f *Feed) SubscribeChanged(ctx context.Context, path string, q feed.Query, fn feed.Handler) (*feed.Subscription, error) {
	return f.subscribe(ctx, path, q, feed.EventChanged, fn)
}

func (f *Feed) subscribe(ctx context.Context, path string, q feed.Query, kind feed.EventType, fn feed.Handler) (*feed.Subscription, error) {
	if err := feed.ValidatePath(path); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &subscription{
		segs:  feed.Split(path),
		kind:  kind,
		query: q,
		box:   feed.NewMailbox(fn),
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		sub.box.Close()
		return nil, fmt.Errorf("%w: feed closed", feed.ErrUnavailable)
	}

	entries := f.window(sub.segs, q)
	sub.window = make(map[string]json.RawMessage, len(entries))
	var initial []feed.Event
	for _, e := range entries {
		sub.window[e.key] = e.raw
		if kind.Accepts(feed.EventAdded) {
			initial = append(initial, feed.Event{Type: feed.EventAdded, Key: e.key, Value: e.raw})
		}
	}

	id := f.nextID
	f.nextID++
	f.subs[id] = sub
	sub.box.Push(initial...)
	f.mu.Unlock()

	f.log.Debug().Str("path", path).Str("kind", kindName(kind)).Int("window", len(entries)).Msg("subscribed")

	return feed.NewSubscription(func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
		sub.box.Close()
	}), nil
}

// Get implements feed.Reader.
func (f *Feed) Get(ctx context.Context, path string) (json.RawMessage, bool, error) {
	if err := feed.ValidatePath(path); err != nil {
		return nil, false, err
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	v, ok := tree.Get(f.root, feed.Split(path))
	if !ok {
		return nil, false, nil
	}
	raw, err := tree.Marshal(v)
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

// Set implements feed.Writer.
func (f *Feed) Set(ctx context.Context, path string, value any) error {
	return f.Update(ctx, path, map[string]any{"": value})
}

// Update implements feed.Writer. Fields are applied in key order as one
// write: subscribers observe the combined result.
func (f *Feed) Update(ctx context.Context, path string, fields map[string]any) error {
	if err := feed.ValidatePath(path); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	base := feed.Split(path)
	type write struct {
		segs  []string
		value any
	}
	writes := make([]write, 0, len(fields))
	for _, key := range slices.Sorted(maps.Keys(fields)) {
		segs := slices.Concat(base, feed.Split(key))
		if err := feed.ValidatePath(strings.Join(segs, "/")); err != nil {
			return err
		}
		v, err := tree.Normalize(fields[key])
		if err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		if err := validateKeys(v); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		writes = append(writes, write{segs: segs, value: v})
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return fmt.Errorf("%w: feed closed", feed.ErrUnavailable)
	}

	touched := make([][]string, 0, len(writes))
	for _, w := range writes {
		if f.persister != nil {
			if err := f.persister.Save(ctx, strings.Join(w.segs, "/"), tree.Clone(w.value)); err != nil {
				f.notify(touched)
				return fmt.Errorf("%w: persist %s: %v", feed.ErrUnavailable, strings.Join(w.segs, "/"), err)
			}
		}
		if err := tree.Set(f.root, w.segs, w.value); err != nil {
			f.notify(touched)
			return err
		}
		touched = append(touched, w.segs)
	}

	f.notify(touched)
	return nil
}

// Snapshot returns a copy of the whole tree.
func (f *Feed) Snapshot() tree.Node {
	f.mu.Lock()
	defer f.mu.Unlock()
	return tree.Clone(f.root).(tree.Node)
}

// Subscribers returns the number of open subscriptions.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Close cancels delivery on every subscription and rejects further calls.
func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	for id, sub := range f.subs {
		sub.box.Close()
		delete(f.subs, id)
	}
	return nil
}

// notify recomputes the window of every subscription related to a touched
// path and pushes the difference. Must be called with f.mu held.
func (f *Feed) notify(touched [][]string) {
	if len(touched) == 0 {
		return
	}
	for _, sub := range f.subs {
		if !slices.ContainsFunc(touched, func(p []string) bool { return related(sub.segs, p) }) {
			continue
		}
		sub.box.Push(f.diff(sub)...)
	}
}

func (f *Feed) diff(sub *subscription) []feed.Event {
	entries := f.window(sub.segs, sub.query)
	next := make(map[string]json.RawMessage, len(entries))

	var events []feed.Event
	for _, e := range entries {
		next[e.key] = e.raw
		prev, seen := sub.window[e.key]
		switch {
		case !seen && sub.kind.Accepts(feed.EventAdded):
			events = append(events, feed.Event{Type: feed.EventAdded, Key: e.key, Value: e.raw})
		case seen && sub.kind.Accepts(feed.EventChanged) && !bytes.Equal(prev, e.raw):
			events = append(events, feed.Event{Type: feed.EventChanged, Key: e.key, Value: e.raw})
		}
	}

	if sub.kind.Accepts(feed.EventRemoved) {
		for _, key := range slices.Sorted(maps.Keys(sub.window)) {
			if _, ok := next[key]; !ok {
				events = append(events, feed.Event{Type: feed.EventRemoved, Key: key, Value: sub.window[key]})
			}
		}
	}

	sub.window = next
	return events
}

func kindName(kind feed.EventType) string {
	if kind == "" {
		return "all"
	}
	return string(kind)
}

type entry struct {
	key    string
	raw    json.RawMessage
	ord    float64
	hasOrd bool
}

func compareEntries(a, b entry) int {
	if a.hasOrd != b.hasOrd {
		if !a.hasOrd {
			return -1
		}
		return 1
	}
	if c := cmp.Compare(a.ord, b.ord); c != 0 {
		return c
	}
	return strings.Compare(a.key, b.key)
}

// window returns the children of segs selected by q in delivery order.
// Children without the order field sort first.
func (f *Feed) window(segs []string, q feed.Query) []entry {
	v, ok := tree.Get(f.root, segs)
	if !ok {
		return nil
	}
	node, ok := v.(tree.Node)
	if !ok {
		return nil
	}

	entries := make([]entry, 0, len(node))
	for key, child := range node {
		raw, err := tree.Marshal(child)
		if err != nil {
			f.log.Warn().Err(err).Str("key", key).Msg("skipping unencodable child")
			continue
		}
		e := entry{key: key, raw: raw}
		if q.OrderBy != "" {
			e.ord, e.hasOrd = orderValue(child, q.OrderBy)
		}
		entries = append(entries, e)
	}

	slices.SortFunc(entries, compareEntries)
	if q.Limit > 0 && len(entries) > q.Limit {
		entries = entries[len(entries)-q.Limit:]
	}
	return entries
}

func orderValue(child any, field string) (float64, bool) {
	m, ok := child.(tree.Node)
	if !ok {
		return 0, false
	}
	switch v := m[field].(type) {
	case json.Number:
		n, err := v.Float64()
		return n, err == nil
	case string:
		n, err := strconv.ParseFloat(v, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// validateKeys rejects object keys the tree cannot address.
func validateKeys(v any) error {
	m, ok := v.(tree.Node)
	if !ok {
		return nil
	}
	for k, child := range m {
		if err := feed.ValidatePath(k); err != nil || strings.Contains(k, "/") {
			return fmt.Errorf("invalid key %q", k)
		}
		if err := validateKeys(child); err != nil {
			return err
		}
	}
	return nil
}

// related reports whether a write at p can change the children of sub.
func related(sub, p []string) bool {
	n := min(len(sub), len(p))
	return slices.Equal(sub[:n], p[:n])
}
