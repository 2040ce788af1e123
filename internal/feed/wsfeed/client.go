// Package wsfeed implements feed.Feed over the websocket frame protocol
// served by the parley server. The client reconnects with backoff and
// re-subscribes every open subscription, which re-delivers each window.
package wsfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/hay-kot/parley/internal/core/feed"
	"github.com/hay-kot/parley/internal/feed/wire"
)

// ErrRemote wraps an error reported by the server for a request.
var ErrRemote = errors.New("remote error")

// Options configures a Client.
type Options struct {
	Backoff Backoff
	Logger  zerolog.Logger
	// OnState is called with true after every (re)connect and false after
	// every disconnect. It must not block.
	OnState func(connected bool)
}

// Client is a websocket feed client.
type Client struct {
	url     string
	dialer  *websocket.Dialer
	backoff Backoff
	log     zerolog.Logger
	onState func(bool)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	writeMu sync.Mutex

	mu      sync.Mutex
	conn    *websocket.Conn
	nextID  uint64
	pending map[uint64]chan wire.Response
	subs    map[uint64]*clientSub
}

var _ feed.Feed = (*Client)(nil)

type clientSub struct {
	req wire.Request
	box *feed.Mailbox
}

// Dial connects to url (ws:// or wss://) and starts the read loop. The
// initial connection must succeed; later disconnects are retried until
// Close.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	if opts.Backoff.Min <= 0 || opts.Backoff.Max <= 0 {
		opts.Backoff = DefaultBackoff
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", feed.ErrUnavailable, url, err)
	}

	lifetime, cancel := context.WithCancel(context.Background())
	c := &Client{
		url:     url,
		dialer:  &dialer,
		backoff: opts.Backoff,
		log:     opts.Logger,
		onState: opts.OnState,
		ctx:     lifetime,
		cancel:  cancel,
		done:    make(chan struct{}),
		conn:    conn,
		nextID:  1,
		pending: make(map[uint64]chan wire.Response),
		subs:    make(map[uint64]*clientSub),
	}
	c.state(true)

	go c.run(conn)
	return c, nil
}

// Connected reports whether the client currently holds a connection.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Subscribe implements feed.Subscriber. Every event type travels on one
// subscription id, so the server's write order is preserved.
func (c *Client) Subscribe(ctx context.Context, path string, q feed.Query, fn feed.Handler) (*feed.Subscription, error) {
	return c.subscribe(ctx, path, q, "", fn)
}

// SubscribeAdded implements feed.Subscriber.
func (c *Client) SubscribeAdded(ctx context.Context, path string, q feed.Query, fn feed.Handler) (*feed.Subscription, error) {
	return c.subscribe(ctx, path, q, feed.EventAdded, fn)
}

// SubscribeChanged implements feed.Subscriber.
func (c *Client) SubscribeChanged(ctx context.Context, path string, q feed.Query, fn feed.Handler) (*feed.Subscription, error) {
	return c.subscribe(ctx, path, q, feed.EventChanged, fn)
}

func (c *Client) subscribe(ctx context.Context, path string, q feed.Query, kind feed.EventType, fn feed.Handler) (*feed.Subscription, error) {
	if err := feed.ValidatePath(path); err != nil {
		return nil, err
	}

	sub := &clientSub{
		req: wire.Request{Op: wire.OpSubscribe, Path: path, Kind: kind, Limit: q.Limit, OrderBy: q.OrderBy},
		box: feed.NewMailbox(fn),
	}

	// Register before sending so events that race the result are routed.
	_, err := c.roundtrip(ctx, sub.req, func(id uint64) { c.subs[id] = sub })
	if err != nil {
		c.mu.Lock()
		for id, s := range c.subs {
			if s == sub {
				delete(c.subs, id)
			}
		}
		c.mu.Unlock()
		sub.box.Close()
		return nil, err
	}

	return feed.NewSubscription(func() { c.unsubscribe(sub) }), nil
}

func (c *Client) unsubscribe(sub *clientSub) {
	sub.box.Close()

	c.mu.Lock()
	conn := c.conn
	var id uint64
	for k, s := range c.subs {
		if s == sub {
			id = k
			delete(c.subs, k)
		}
	}
	c.mu.Unlock()

	if conn == nil || id == 0 {
		return
	}
	go func() {
		if err := c.write(conn, wire.Request{Op: wire.OpUnsubscribe, ID: id}); err != nil {
			c.log.Debug().Err(err).Uint64("id", id).Msg("unsubscribe not delivered")
		}
	}()
}

// Get implements feed.Reader.
func (c *Client) Get(ctx context.Context, path string) (json.RawMessage, bool, error) {
	if err := feed.ValidatePath(path); err != nil {
		return nil, false, err
	}
	resp, err := c.roundtrip(ctx, wire.Request{Op: wire.OpGet, Path: path}, nil)
	if err != nil {
		return nil, false, err
	}
	return resp.Value, resp.Found, nil
}

// Set implements feed.Writer.
func (c *Client) Set(ctx context.Context, path string, value any) error {
	if err := feed.ValidatePath(path); err != nil {
		return err
	}
	req := wire.Request{Op: wire.OpSet, Path: path}
	if value != nil {
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshal value: %w", err)
		}
		req.Value = raw
	}
	_, err := c.roundtrip(ctx, req, nil)
	return err
}

// Update implements feed.Writer.
func (c *Client) Update(ctx context.Context, path string, fields map[string]any) error {
	if err := feed.ValidatePath(path); err != nil {
		return err
	}
	req := wire.Request{Op: wire.OpUpdate, Path: path, Fields: make(map[string]json.RawMessage, len(fields))}
	for k, v := range fields {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal field %q: %w", k, err)
		}
		req.Fields[k] = raw
	}
	_, err := c.roundtrip(ctx, req, nil)
	return err
}

// Close stops reconnecting, closes the connection and every subscription.
func (c *Client) Close() error {
	c.cancel()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	<-c.done

	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[uint64]*clientSub)
	c.mu.Unlock()
	for _, s := range subs {
		s.box.Close()
	}
	return nil
}

// roundtrip sends req with a fresh id and waits for its result. register
// runs under the client lock once the id is assigned.
func (c *Client) roundtrip(ctx context.Context, req wire.Request, register func(id uint64)) (wire.Response, error) {
	ch := make(chan wire.Response, 1)

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return wire.Response{}, fmt.Errorf("%w: not connected", feed.ErrUnavailable)
	}
	req.ID = c.nextID
	c.nextID++
	c.pending[req.ID] = ch
	if register != nil {
		register(req.ID)
	}
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}

	if err := c.write(conn, req); err != nil {
		forget()
		return wire.Response{}, fmt.Errorf("%w: %s %s: %v", feed.ErrUnavailable, req.Op, req.Path, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return wire.Response{}, fmt.Errorf("%w: connection lost during %s %s", feed.ErrUnavailable, req.Op, req.Path)
		}
		if resp.Error != "" {
			return resp, fmt.Errorf("%w: %s %s: %s", ErrRemote, req.Op, req.Path, resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		forget()
		return wire.Response{}, ctx.Err()
	}
}

func (c *Client) write(conn *websocket.Conn, req wire.Request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(req)
}

func (c *Client) run(conn *websocket.Conn) {
	defer close(c.done)

	for {
		err := c.read(conn)
		c.disconnect(err)
		if c.ctx.Err() != nil {
			return
		}

		conn = c.reconnect()
		if conn == nil {
			return
		}
	}
}

func (c *Client) read(conn *websocket.Conn) error {
	for {
		var resp wire.Response
		if err := conn.ReadJSON(&resp); err != nil {
			return err
		}

		switch resp.Op {
		case wire.OpResult:
			c.mu.Lock()
			ch, ok := c.pending[resp.ID]
			delete(c.pending, resp.ID)
			c.mu.Unlock()
			if ok {
				ch <- resp
			}
		case wire.OpEvent:
			c.mu.Lock()
			sub := c.subs[resp.ID]
			c.mu.Unlock()
			if sub != nil {
				sub.box.Push(resp.Event())
			}
		default:
			c.log.Warn().Str("op", string(resp.Op)).Msg("unknown frame")
		}
	}
}

func (c *Client) disconnect(err error) {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = nil
	pending := c.pending
	c.pending = make(map[uint64]chan wire.Response)
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}

	if c.ctx.Err() == nil {
		c.log.Warn().Err(err).Str("url", c.url).Msg("feed connection lost")
	}
	c.state(false)
}

// reconnect dials until it succeeds or the client is closed, then
// re-subscribes every open subscription on the new connection.
func (c *Client) reconnect() *websocket.Conn {
	for attempt := 0; ; attempt++ {
		delay := c.backoff.Delay(attempt)
		timer := time.NewTimer(delay)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		conn, _, err := c.dialer.DialContext(c.ctx, c.url, nil)
		if err != nil {
			c.log.Debug().Err(err).Int("attempt", attempt+1).Dur("delay", delay).Msg("reconnect failed")
			continue
		}

		c.mu.Lock()
		if c.ctx.Err() != nil {
			c.mu.Unlock()
			_ = conn.Close()
			return nil
		}
		c.conn = conn
		subs := c.subs
		c.subs = make(map[uint64]*clientSub, len(subs))
		reqs := make([]wire.Request, 0, len(subs))
		for _, s := range subs {
			req := s.req
			req.ID = c.nextID
			c.nextID++
			c.subs[req.ID] = s
			reqs = append(reqs, req)
		}
		c.mu.Unlock()

		for _, req := range reqs {
			if err := c.write(conn, req); err != nil {
				c.log.Warn().Err(err).Str("path", req.Path).Msg("resubscribe failed")
			}
		}

		c.log.Info().Str("url", c.url).Int("subscriptions", len(reqs)).Msg("feed reconnected")
		c.state(true)
		return conn
	}
}

func (c *Client) state(connected bool) {
	if c.onState != nil {
		c.onState(connected)
	}
}
