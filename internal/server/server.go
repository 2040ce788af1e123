// Package server exposes a memfeed tree over HTTP: a websocket endpoint
// speaking the feed frame protocol, a small REST surface for point reads and
// writes, health and metrics endpoints and optional static files.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/hay-kot/parley/internal/feed/memfeed"
)

// Options configures a Server.
type Options struct {
	// AllowedOrigins lists browser origins allowed by CORS and the websocket
	// origin check. Empty or "*" allows any origin.
	AllowedOrigins []string
	// StaticDir, when set, is served at "/".
	StaticDir string
	// RPS and Burst bound requests per client.
	RPS   float64
	Burst int
}

// Server serves a feed.
type Server struct {
	feed     *memfeed.Feed
	opts     Options
	log      zerolog.Logger
	metrics  *Metrics
	limiter  *limiterPool
	upgrader websocket.Upgrader
}

// New creates a server for f.
func New(f *memfeed.Feed, opts Options, log zerolog.Logger) *Server {
	s := &Server{
		feed:    f,
		opts:    opts,
		log:     log,
		metrics: newMetrics(f.Subscribers),
		limiter: newLimiterPool(opts.RPS, opts.Burst),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

// Router returns the route table without CORS handling.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/feed", s.handleFeed).Methods(http.MethodGet)

	tree := r.PathPrefix("/v1/tree").Subrouter()
	tree.HandleFunc("/{path:.+}", s.handleGet).Methods(http.MethodGet)
	tree.HandleFunc("/{path:.+}", s.handleSet).Methods(http.MethodPut)
	tree.HandleFunc("/{path:.+}", s.handleUpdate).Methods(http.MethodPatch)
	tree.HandleFunc("/{path:.+}", s.handleDelete).Methods(http.MethodDelete)

	if s.opts.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.opts.StaticDir))).Methods(http.MethodGet, http.MethodHead)
	}

	return r
}

// Handler returns the full handler with CORS applied.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.allowedOrigins(),
		AllowedMethods: []string{
			http.MethodGet, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		ExposedHeaders: []string{"Content-Length"},
		MaxAge:         300,
	})
	return c.Handler(s.Router())
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", ln.Addr().String()).Msg("feed server listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	s.log.Info().Msg("shutting down feed server")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"subscriptions": s.feed.Subscribers(),
	})
}

func (s *Server) allowedOrigins() []string {
	if len(s.opts.AllowedOrigins) == 0 {
		return []string{"*"}
	}
	return s.opts.AllowedOrigins
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// non-browser clients send no origin
		return true
	}
	allowed := s.allowedOrigins()
	return slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
}

// clientKey identifies the caller for rate limiting.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
