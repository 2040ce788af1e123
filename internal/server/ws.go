package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/hay-kot/parley/internal/core/feed"
	"github.com/hay-kot/parley/internal/feed/wire"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 256
)

// conn is one websocket client.
type conn struct {
	srv  *Server
	ws   *websocket.Conn
	key  string
	log  zerolog.Logger
	send chan wire.Response
	done chan struct{}

	mu   sync.Mutex
	subs map[uint64]*feed.Subscription
}

// handleFeed handles GET /feed, upgrading to the frame protocol.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &conn{
		srv:  s,
		ws:   ws,
		key:  ws.RemoteAddr().String(),
		log:  s.log.With().Str("remote", ws.RemoteAddr().String()).Logger(),
		send: make(chan wire.Response, sendBuffer),
		done: make(chan struct{}),
		subs: make(map[uint64]*feed.Subscription),
	}

	s.metrics.connections.Inc()
	c.log.Debug().Msg("client connected")

	go c.writeLoop()
	go func() {
		// hijacked connections survive server shutdown unless closed here
		select {
		case <-r.Context().Done():
			_ = ws.Close()
		case <-c.done:
		}
	}()
	c.readLoop(r.Context())

	close(c.done)
	c.closeSubs()
	_ = ws.Close()
	s.limiter.forget(c.key)
	s.metrics.connections.Dec()
	c.log.Debug().Msg("client disconnected")
}

func (c *conn) readLoop(ctx context.Context) {
	c.ws.SetReadLimit(maxBody)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var req wire.Request
		if err := c.ws.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("read failed")
			}
			return
		}

		c.srv.metrics.requests.WithLabelValues(string(req.Op), "ws").Inc()
		if !c.srv.limiter.Allow(c.key) {
			c.srv.metrics.limited.Inc()
			c.reply(wire.Result(req.ID, errors.New("rate limit exceeded")))
			continue
		}

		c.handle(ctx, req)
	}
}

func (c *conn) handle(ctx context.Context, req wire.Request) {
	switch req.Op {
	case wire.OpSubscribe:
		c.reply(wire.Result(req.ID, c.subscribe(ctx, req)))
	case wire.OpUnsubscribe:
		c.mu.Lock()
		sub := c.subs[req.ID]
		delete(c.subs, req.ID)
		c.mu.Unlock()
		sub.Cancel()
	case wire.OpGet:
		raw, found, err := c.srv.feed.Get(ctx, req.Path)
		resp := wire.Result(req.ID, err)
		resp.Value, resp.Found = raw, found
		c.reply(resp)
	case wire.OpSet:
		var value any
		if len(req.Value) > 0 {
			value = req.Value
		}
		c.reply(wire.Result(req.ID, c.srv.feed.Set(ctx, req.Path, value)))
	case wire.OpUpdate:
		c.reply(wire.Result(req.ID, c.srv.feed.Update(ctx, req.Path, rawFields(req.Fields))))
	default:
		c.reply(wire.Result(req.ID, fmt.Errorf("unknown op %q", req.Op)))
	}
}

func (c *conn) subscribe(ctx context.Context, req wire.Request) error {
	handler := func(ev feed.Event) {
		select {
		case c.send <- wire.EventFrame(req.ID, ev):
			c.srv.metrics.events.Inc()
		case <-c.done:
		}
	}

	var (
		sub *feed.Subscription
		err error
	)
	switch req.Kind {
	case "":
		sub, err = c.srv.feed.Subscribe(ctx, req.Path, req.Query(), handler)
	case feed.EventAdded:
		sub, err = c.srv.feed.SubscribeAdded(ctx, req.Path, req.Query(), handler)
	case feed.EventChanged:
		sub, err = c.srv.feed.SubscribeChanged(ctx, req.Path, req.Query(), handler)
	default:
		return fmt.Errorf("unknown subscription kind %q", req.Kind)
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	if old, ok := c.subs[req.ID]; ok {
		old.Cancel()
	}
	c.subs[req.ID] = sub
	c.mu.Unlock()
	return nil
}

func (c *conn) reply(resp wire.Response) {
	select {
	case c.send <- resp:
	case <-c.done:
	}
}

func (c *conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case resp := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(resp); err != nil {
				c.log.Debug().Err(err).Msg("write failed")
				_ = c.ws.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.ws.Close()
				return
			}
		}
	}
}

func (c *conn) closeSubs() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[uint64]*feed.Subscription)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
}
