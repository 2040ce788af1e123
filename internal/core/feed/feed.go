// Package feed defines the change-feed contract the chat core is built on:
// ordered added/changed/removed child events for a path, point reads and
// partial writes against a remote JSON tree.
package feed

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrUnavailable reports a transport failure on read, write or subscribe.
var ErrUnavailable = errors.New("feed unavailable")

// EventType is the kind of child mutation observed on a path.
type EventType string

const (
	EventAdded   EventType = "added"
	EventChanged EventType = "changed"
	// EventRemoved is emitted when a child leaves the subscription window.
	EventRemoved EventType = "removed"
)

// Accepts reports whether a stream opened for kind carries events of type t.
// The empty kind carries every type; EventChanged also carries removals.
func (kind EventType) Accepts(t EventType) bool {
	switch kind {
	case "":
		return true
	case EventChanged:
		return t == EventChanged || t == EventRemoved
	default:
		return t == kind
	}
}

// Event is a single child mutation under a subscribed path.
type Event struct {
	Type  EventType       `json:"type"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value,omitempty"`
}

// DefaultWindow is the number of trailing children delivered by a subscription.
const DefaultWindow = 500

// OrderByTS orders children by their "ts" field.
const OrderByTS = "ts"

// Query bounds a subscription to the most recent Limit children ordered by
// the OrderBy field. A zero Limit means unbounded.
type Query struct {
	OrderBy string `json:"orderBy,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// Window returns the standard trailing-window query.
func Window(n int) Query {
	if n <= 0 {
		n = DefaultWindow
	}
	return Query{OrderBy: OrderByTS, Limit: n}
}

// Handler receives events for a subscription. Handlers for one subscription
// are invoked sequentially, never from inside the subscribe call, and no new
// call starts once the subscription is cancelled.
type Handler func(Event)

// Subscriber opens event streams on a path.
type Subscriber interface {
	// Subscribe delivers the current window as added events in
	// non-decreasing order, then every added, changed and removed event in
	// the order the writes were applied. One handler sees all kinds, so a
	// change never overtakes the add it follows.
	Subscribe(ctx context.Context, path string, q Query, fn Handler) (*Subscription, error)
	// SubscribeAdded is Subscribe filtered to added events: the current
	// window, then new children as they arrive.
	SubscribeAdded(ctx context.Context, path string, q Query, fn Handler) (*Subscription, error)
	// SubscribeChanged is Subscribe filtered to changed events for children
	// inside the window and removed events for children leaving it. Pairing
	// it with SubscribeAdded gives no ordering between the two streams.
	SubscribeChanged(ctx context.Context, path string, q Query, fn Handler) (*Subscription, error)
}

// Reader performs point reads.
type Reader interface {
	// Get returns the value at path. found is false when nothing is stored.
	Get(ctx context.Context, path string) (value json.RawMessage, found bool, err error)
}

// Writer performs writes.
type Writer interface {
	// Set replaces the value at path. A nil value deletes it.
	Set(ctx context.Context, path string, value any) error
	// Update writes each field relative to path. Field keys may contain "/"
	// separated segments; a nil field value deletes that child.
	Update(ctx context.Context, path string, fields map[string]any) error
}

// Feed is the full change-feed capability set.
type Feed interface {
	Subscriber
	Reader
	Writer
}
