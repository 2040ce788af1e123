package commands

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hay-kot/parley/internal/core/chat"
	"github.com/hay-kot/parley/internal/feed/wsfeed"
	"github.com/hay-kot/parley/internal/parley"
)

// conn is a connected chat session for one command run.
type conn struct {
	client  *wsfeed.Client
	service *parley.Service
}

func (c *conn) Close() {
	_ = c.service.Close()
	_ = c.client.Close()
}

// dial connects to the feed server.
func (f *Flags) dial(ctx context.Context, onState func(bool)) (*wsfeed.Client, error) {
	url := f.FeedURL()
	client, err := wsfeed.Dial(ctx, url, wsfeed.Options{
		Logger:  log.With().Str("component", "wsfeed").Logger(),
		OnState: onState,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", url, err)
	}
	return client, nil
}

// connect dials the feed and creates a chat service signed in with the
// stored session, if any.
func (f *Flags) connect(ctx context.Context, hooks parley.Hooks, onState func(bool)) (*conn, error) {
	client, err := f.dial(ctx, onState)
	if err != nil {
		return nil, err
	}

	svc := parley.New(client, log.With().Str("component", "parley").Logger(), parley.Options{
		Window: f.Config.Feed.Window,
		Hooks:  hooks,
	})

	sess, err := f.Sessions.Load(ctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("load session: %w", err)
	}
	svc.SetSession(sess)

	return &conn{client: client, service: svc}, nil
}

// requireSession fails with a hint when nobody is signed in.
func (f *Flags) requireSession(ctx context.Context) (*chat.Session, error) {
	sess, err := f.Sessions.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return nil, fmt.Errorf("%w: run 'parley account login' first", chat.ErrNotAuthenticated)
	}
	return sess, nil
}

// scope resolves a --channel flag value ("room/channel" or "channel"),
// falling back to the configured default.
func (f *Flags) scope(flag string) (chat.Scope, error) {
	if strings.TrimSpace(flag) == "" {
		return validScope(chat.NewScope(f.Config.Chat.Room, f.Config.Chat.Channel))
	}
	if !strings.Contains(flag, "/") {
		return validScope(chat.NewScope(f.Config.Chat.Room, flag))
	}
	return chat.ParseScope(flag)
}

func validScope(s chat.Scope) (chat.Scope, error) {
	if err := s.Validate(); err != nil {
		return chat.Scope{}, err
	}
	return s, nil
}

// activity tracks when the service last delivered a message so a command
// can wait for the initial window to arrive.
type activity struct {
	last atomic.Int64
}

func newActivity() *activity {
	a := &activity{}
	a.touch()
	return a
}

func (a *activity) touch() {
	a.last.Store(time.Now().UnixNano())
}

func (a *activity) hooks() parley.Hooks {
	return parley.Hooks{
		OnMessageAdded:   func(chat.Message) { a.touch() },
		OnMessageChanged: func(chat.Message) { a.touch() },
	}
}

// settle blocks until no message arrived for quiet, or until ctx ends.
func (a *activity) settle(ctx context.Context, quiet time.Duration) error {
	ticker := time.NewTicker(quiet / 4)
	defer ticker.Stop()
	for {
		if time.Since(time.Unix(0, a.last.Load())) >= quiet {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// waitForMessage polls the active view until id is present.
func waitForMessage(ctx context.Context, svc *parley.Service, id string, timeout time.Duration) (chat.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if msg, ok := svc.Message(id); ok {
			return msg, nil
		}
		select {
		case <-ctx.Done():
			return chat.Message{}, fmt.Errorf("%w: %s is not among the recent messages of %s", chat.ErrMessageNotFound, id, svc.Scope())
		case <-ticker.C:
		}
	}
}
