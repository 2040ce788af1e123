// Package wire defines the JSON frames exchanged over the feed websocket.
package wire

import (
	"encoding/json"

	"github.com/hay-kot/parley/internal/core/feed"
)

// Op names a frame.
type Op string

// Client to server operations.
const (
	OpSubscribe   Op = "subscribe"
	OpUnsubscribe Op = "unsubscribe"
	OpGet         Op = "get"
	OpSet         Op = "set"
	OpUpdate      Op = "update"
)

// Server to client operations.
const (
	OpEvent  Op = "event"
	OpResult Op = "result"
)

// Request is a client frame. ID correlates the result; for subscribe it
// also identifies the subscription in later event frames and in unsubscribe.
// A subscribe with no Kind streams every event type for the path in order.
type Request struct {
	Op      Op                         `json:"op"`
	ID      uint64                     `json:"id"`
	Path    string                     `json:"path,omitempty"`
	Kind    feed.EventType             `json:"kind,omitempty"`
	Limit   int                        `json:"limit,omitempty"`
	OrderBy string                     `json:"orderBy,omitempty"`
	Value   json.RawMessage            `json:"value,omitempty"`
	Fields  map[string]json.RawMessage `json:"fields,omitempty"`
}

// Query returns the subscription query carried by a subscribe request.
func (r Request) Query() feed.Query {
	return feed.Query{OrderBy: r.OrderBy, Limit: r.Limit}
}

// Response is a server frame: either the result of a request or an event
// for the subscription whose request id is ID.
type Response struct {
	Op    Op              `json:"op"`
	ID    uint64          `json:"id"`
	Type  feed.EventType  `json:"type,omitempty"`
	Key   string          `json:"key,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
	Found bool            `json:"found,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Result builds a result frame for a request.
func Result(id uint64, err error) Response {
	resp := Response{Op: OpResult, ID: id}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}

// EventFrame builds an event frame for a subscription.
func EventFrame(subID uint64, ev feed.Event) Response {
	return Response{Op: OpEvent, ID: subID, Type: ev.Type, Key: ev.Key, Value: ev.Value}
}

// Event extracts the feed event carried by an event frame.
func (r Response) Event() feed.Event {
	return feed.Event{Type: r.Type, Key: r.Key, Value: r.Value}
}
