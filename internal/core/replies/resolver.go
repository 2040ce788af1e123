// Package replies resolves reply quotes: the author and snippet of a parent
// message, fetched once per parent and memoized for the session.
package replies

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/hay-kot/parley/internal/core/chat"
	"github.com/hay-kot/parley/internal/core/feed"
)

// FetchTimeout bounds a single parent read regardless of who is waiting on it.
const FetchTimeout = 10 * time.Second

type entry struct {
	quote chat.Quote
	found bool
}

// Resolver memoizes parent lookups. Concurrent requests for one parent share
// a single point read that outlives any one caller: a caller whose context
// ends stops waiting, the read carries on for the others. Not-found parents
// and failed reads are cached as negative results; a read cut short by
// Close or FetchTimeout is not.
type Resolver struct {
	reader  feed.Reader
	log     zerolog.Logger
	group   singleflight.Group
	timeout time.Duration

	life     context.Context
	shutdown context.CancelFunc

	mu    sync.RWMutex
	cache map[string]entry
}

// New creates a resolver reading through r.
func New(r feed.Reader, logger zerolog.Logger) *Resolver {
	life, shutdown := context.WithCancel(context.Background())
	return &Resolver{
		reader:   r,
		log:      logger,
		timeout:  FetchTimeout,
		life:     life,
		shutdown: shutdown,
		cache:    make(map[string]entry),
	}
}

// Close aborts in-flight reads. Resolve keeps serving cached quotes.
func (r *Resolver) Close() {
	r.shutdown()
}

// Resolve returns the quote for parentID in scope. found is false when the
// parent does not exist, could not be read or ctx ended first. Ending ctx
// abandons only this caller's wait.
func (r *Resolver) Resolve(ctx context.Context, scope chat.Scope, parentID string) (chat.Quote, bool) {
	if parentID == "" {
		return chat.Quote{}, false
	}
	if e, ok := r.get(parentID); ok {
		return e.quote, e.found
	}

	ch := r.group.DoChan(parentID, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		stop := context.AfterFunc(r.life, cancel)
		defer stop()
		return r.fetch(fctx, scope, parentID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return chat.Quote{}, false
		}
		e := res.Val.(entry)
		return e.quote, e.found
	case <-ctx.Done():
		return chat.Quote{}, false
	}
}

// Lookup reads the cache without fetching. cached is false when parentID
// has never been resolved.
func (r *Resolver) Lookup(parentID string) (quote chat.Quote, found, cached bool) {
	e, ok := r.get(parentID)
	return e.quote, e.found, ok
}

// Refresh replaces the cached quote of an edited parent. Parents that are
// not cached as found are left alone.
func (r *Resolver) Refresh(parent chat.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.cache[parent.ID]; ok && e.found {
		r.cache[parent.ID] = entry{quote: chat.NewQuote(parent), found: true}
	}
}

// Len returns the number of cached parents.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

func (r *Resolver) get(parentID string) (entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.cache[parentID]
	return e, ok
}

func (r *Resolver) put(parentID string, e entry) entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[parentID] = e
	return e
}

func (r *Resolver) fetch(ctx context.Context, scope chat.Scope, parentID string) (any, error) {
	if e, ok := r.get(parentID); ok {
		return e, nil
	}

	raw, found, err := r.reader.Get(ctx, feed.MessagePath(scope, parentID))
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	log := r.log.With().Str("parent", parentID).Str("scope", scope.String()).Logger()
	switch {
	case err != nil:
		log.Warn().Err(err).Msg("parent fetch failed, caching as missing")
		return r.put(parentID, entry{}), nil
	case !found:
		log.Debug().Msg("parent not found")
		return r.put(parentID, entry{}), nil
	}

	rec, err := chat.DecodeRecord(raw)
	if err != nil {
		log.Warn().Err(err).Msg("parent record malformed, caching as missing")
		return r.put(parentID, entry{}), nil
	}

	quote := chat.NewQuote(rec.Message(parentID, scope))
	return r.put(parentID, entry{quote: quote, found: true}), nil
}
