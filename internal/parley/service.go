// Package parley composes the chat core into the session facade used by the
// CLI and TUI: one active scope at a time, a message view, reaction
// aggregates, reply quotes and search over that view.
package parley

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hay-kot/parley/internal/core/chat"
	"github.com/hay-kot/parley/internal/core/feed"
	"github.com/hay-kot/parley/internal/core/reactions"
	"github.com/hay-kot/parley/internal/core/replies"
	"github.com/hay-kot/parley/internal/core/search"
	"github.com/hay-kot/parley/internal/core/timeline"
	"github.com/hay-kot/parley/pkg/pushid"
)

// Hooks notify the presentation layer. They run on the dispatch path with
// the service lock held: they must not block or call back into Service.
type Hooks struct {
	OnMessageAdded     func(chat.Message)
	OnMessageChanged   func(chat.Message)
	OnMessageEvicted   func(chat.Message)
	OnReactionsChanged func(reactions.Summary)
	OnQuoteResolved    func(msgID string, quote chat.Quote)
	OnScopeChanged     func(chat.Scope)
}

// Options configures a Service.
type Options struct {
	// Window is the number of trailing messages held per scope.
	Window int
	Hooks  Hooks
	// Now stamps sent and edited messages. Defaults to time.Now.
	Now func() time.Time
	// NewID generates message ids. Defaults to pushid.Generate.
	NewID func() string
}

// Service is the chat session facade.
type Service struct {
	feed     feed.Feed
	resolver *replies.Resolver
	log      zerolog.Logger
	hooks    Hooks
	window   int
	now      func() time.Time
	newID    func() string

	mu      sync.Mutex
	session *chat.Session
	view    *view
	gen     uint64
	draft   *chat.Message
	closed  bool
}

// view is everything bound to one selected scope.
type view struct {
	gen       uint64
	scope     chat.Scope
	ctx       context.Context
	cancel    context.CancelFunc
	store     *timeline.Store
	reactions *reactions.Aggregator
	index     *search.Index
	subs      []*feed.Subscription
}

func (v *view) close() {
	v.cancel()
	for _, sub := range v.subs {
		sub.Cancel()
	}
	v.reactions.Close()
}

// New creates a Service reading and writing through f.
func New(f feed.Feed, log zerolog.Logger, opts Options) *Service {
	if opts.Window <= 0 {
		opts.Window = feed.DefaultWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = pushid.Generate
	}

	return &Service{
		feed:     f,
		resolver: replies.New(f, log.With().Str("component", "replies").Logger()),
		log:      log,
		hooks:    opts.Hooks,
		window:   opts.Window,
		now:      opts.Now,
		newID:    opts.NewID,
	}
}

// Session returns the signed-in user, or nil.
func (s *Service) Session() *chat.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	sess := *s.session
	return &sess
}

// SetSession signs a user in, or out when sess is nil. Signing out drops
// the reply draft.
func (s *Service) SetSession(sess *chat.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess == nil {
		s.session = nil
		s.draft = nil
		return
	}
	cp := *sess
	s.session = &cp
}

// Scope returns the active scope; it is zero until SwitchScope succeeds.
func (s *Service) Scope() chat.Scope {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.view == nil {
		return chat.Scope{}
	}
	return s.view.scope
}

// SwitchScope makes scope the active view. The previous view's
// subscriptions, reaction listeners and pending quote fetches are torn down
// and anything they deliver late is discarded. A reply draft from another
// scope is dropped.
func (s *Service) SwitchScope(ctx context.Context, scope chat.Scope) error {
	if err := scope.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("%w: service closed", chat.ErrTransientFeed)
	}
	old := s.view
	s.gen++
	v := s.newView(s.gen, scope)
	s.view = v
	if s.draft != nil && s.draft.Scope != scope {
		s.draft = nil
	}
	if s.hooks.OnScopeChanged != nil {
		s.hooks.OnScopeChanged(scope)
	}
	s.mu.Unlock()

	if old != nil {
		old.close()
	}

	s.log.Info().Str("scope", scope.String()).Uint64("generation", v.gen).Msg("switching scope")

	path := feed.MessagesPath(scope)
	q := feed.Window(s.window)

	// one stream keeps an edit from overtaking the add it follows
	sub, err := s.feed.Subscribe(ctx, path, q, s.dispatch(v))
	if err != nil {
		return fmt.Errorf("%w: subscribe %s: %w", chat.ErrTransientFeed, scope, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.view != v {
		// superseded by a later switch while subscribing
		sub.Cancel()
		return nil
	}
	v.subs = append(v.subs, sub)
	return nil
}

func (s *Service) newView(gen uint64, scope chat.Scope) *view {
	ctx, cancel := context.WithCancel(context.Background())
	log := s.log.With().Str("scope", scope.String()).Logger()

	v := &view{gen: gen, scope: scope, ctx: ctx, cancel: cancel}
	v.store = timeline.New(scope, timeline.Options{
		Window: s.window,
		Logger: log.With().Str("component", "timeline").Logger(),
		Hooks: timeline.Hooks{
			OnAdded:   s.hooks.OnMessageAdded,
			OnChanged: s.hooks.OnMessageChanged,
			OnEvicted: s.hooks.OnMessageEvicted,
		},
	})
	v.reactions = reactions.New(s.feed, scope, log.With().Str("component", "reactions").Logger())
	if s.hooks.OnReactionsChanged != nil {
		v.reactions.Watch(s.hooks.OnReactionsChanged)
	}
	v.index = search.New(v.store, v.reactions)
	return v
}

// dispatch returns the feed handler for v. Every delivery is serialized on
// the service lock and dropped once v is no longer the active view.
func (s *Service) dispatch(v *view) feed.Handler {
	return func(ev feed.Event) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.view != v {
			return
		}
		s.applyLocked(v, ev)
	}
}

func (s *Service) applyLocked(v *view, ev feed.Event) {
	if err := v.store.Apply(ev); err != nil {
		return
	}
	v.reactions.Apply(ev)

	if ev.Type == feed.EventRemoved {
		return
	}
	msg, ok := v.store.Get(ev.Key)
	if !ok {
		return
	}

	if ev.Type == feed.EventChanged {
		s.refreshQuotesLocked(v, msg)
	}
	if msg.IsReply() {
		s.resolveQuoteLocked(v, msg)
	}
}

// refreshQuotesLocked updates cached quotes of an edited parent and
// re-announces them for its loaded replies.
func (s *Service) refreshQuotesLocked(v *view, parent chat.Message) {
	s.resolver.Refresh(parent)
	quote, found, _ := s.resolver.Lookup(parent.ID)
	if !found || s.hooks.OnQuoteResolved == nil {
		return
	}
	for msg := range v.store.List(v.scope) {
		if msg.ParentID == parent.ID {
			s.hooks.OnQuoteResolved(msg.ID, quote)
		}
	}
}

func (s *Service) resolveQuoteLocked(v *view, msg chat.Message) {
	if quote, found, cached := s.resolver.Lookup(msg.ParentID); cached {
		if found && s.hooks.OnQuoteResolved != nil {
			s.hooks.OnQuoteResolved(msg.ID, quote)
		}
		return
	}

	go func() {
		quote, found := s.resolver.Resolve(v.ctx, v.scope, msg.ParentID)

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.view != v {
			s.log.Debug().Str("id", msg.ID).Msg("discarding quote for stale scope")
			return
		}
		if found && s.hooks.OnQuoteResolved != nil {
			s.hooks.OnQuoteResolved(msg.ID, quote)
		}
	}()
}

// current returns the session and active view or the error explaining why
// a mutation cannot proceed.
func (s *Service) current() (chat.Session, *view, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return chat.Session{}, nil, chat.ErrNotAuthenticated
	}
	if s.view == nil {
		return chat.Session{}, nil, fmt.Errorf("%w: no scope selected", chat.ErrInvalidScope)
	}
	return *s.session, s.view, nil
}

// Send posts text to the active scope as the session user and returns the
// new message id. The reply draft, if any, becomes the parent and is
// cleared once the write succeeds.
func (s *Service) Send(ctx context.Context, text string) (string, error) {
	sess, v, err := s.current()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", chat.ErrEmptyText
	}

	s.mu.Lock()
	draft := s.draft
	s.mu.Unlock()

	var parentID string
	if draft != nil && draft.Scope == v.scope {
		parentID = draft.ID
	}

	id := s.newID()
	rec := chat.NewRecord(sess, text, s.now(), parentID)
	if err := s.feed.Set(ctx, feed.MessagePath(v.scope, id), rec); err != nil {
		return "", fmt.Errorf("%w: send: %w", chat.ErrTransientFeed, err)
	}

	s.mu.Lock()
	if s.draft == draft {
		s.draft = nil
	}
	s.mu.Unlock()

	s.log.Debug().Str("id", id).Str("parent", parentID).Msg("message sent")
	return id, nil
}

// Edit replaces the text of one of the session user's messages.
func (s *Service) Edit(ctx context.Context, id, text string) error {
	sess, v, err := s.current()
	if err != nil {
		return err
	}

	msg, ok := v.store.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", chat.ErrMessageNotFound, id)
	}
	if msg.AuthorID != sess.UserID {
		return fmt.Errorf("%w: message %s belongs to %s", chat.ErrPermissionDenied, id, msg.AuthorName)
	}
	if strings.TrimSpace(text) == "" {
		return chat.ErrEmptyText
	}

	if err := s.feed.Update(ctx, feed.MessagePath(v.scope, id), chat.EditFields(msg, text, s.now())); err != nil {
		return fmt.Errorf("%w: edit: %w", chat.ErrTransientFeed, err)
	}
	return nil
}

// React toggles the session user's emoji reaction on a message and returns
// whether the user is now in the set.
func (s *Service) React(ctx context.Context, id, emoji string) (bool, error) {
	sess, v, err := s.current()
	if err != nil {
		return false, err
	}
	if _, ok := v.store.Get(id); !ok {
		return false, fmt.Errorf("%w: %s", chat.ErrMessageNotFound, id)
	}
	return v.reactions.Toggle(ctx, id, emoji, sess.UserID)
}

// SetReplyDraft marks msg as the parent of the next Send. A nil msg clears
// the draft. The message must belong to the active scope.
func (s *Service) SetReplyDraft(msg *chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg == nil {
		s.draft = nil
		return nil
	}
	if s.view == nil || msg.Scope != s.view.scope {
		return fmt.Errorf("%w: reply target %s is not in the active scope", chat.ErrInvalidScope, msg.ID)
	}
	cp := *msg
	s.draft = &cp
	return nil
}

// ReplyDraft returns the pending reply target, or nil.
func (s *Service) ReplyDraft() *chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draft == nil {
		return nil
	}
	cp := *s.draft
	return &cp
}

// ReplyPreview describes the pending reply target for the composer.
func (s *Service) ReplyPreview() string {
	draft := s.ReplyDraft()
	if draft == nil {
		return ""
	}
	return fmt.Sprintf("Replying to %s: %s", draft.AuthorName, chat.Snippet(draft.Text))
}

// Messages returns the active view oldest first.
func (s *Service) Messages() []chat.Message {
	v := s.activeView()
	if v == nil {
		return nil
	}
	return v.store.All()
}

// Message returns one message of the active view.
func (s *Service) Message(id string) (chat.Message, bool) {
	v := s.activeView()
	if v == nil {
		return chat.Message{}, false
	}
	return v.store.Get(id)
}

// Reactions returns the ordered reaction summary of a message.
func (s *Service) Reactions(id string) reactions.Summary {
	v := s.activeView()
	if v == nil {
		return reactions.Summary{MessageID: id}
	}
	return v.reactions.Snapshot(id)
}

// Quote returns the resolved quote of a reply, if it is known yet.
func (s *Service) Quote(id string) (chat.Quote, bool) {
	msg, ok := s.Message(id)
	if !ok || !msg.IsReply() {
		return chat.Quote{}, false
	}
	quote, found, _ := s.resolver.Lookup(msg.ParentID)
	return quote, found
}

// Search returns messages of the active view matching query, newest first.
func (s *Service) Search(query string) []chat.Message {
	v := s.activeView()
	if v == nil {
		return nil
	}
	return v.index.Search(query)
}

// Close tears down the active view and aborts pending quote reads. The
// service rejects scope switches afterwards.
func (s *Service) Close() error {
	s.mu.Lock()
	v := s.view
	s.view = nil
	s.closed = true
	s.mu.Unlock()

	s.resolver.Close()
	if v != nil {
		v.close()
	}
	return nil
}

func (s *Service) activeView() *view {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}
