package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/hay-kot/parley/internal/core/feed"
)

const maxBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// allow applies the rate limiter and records the request.
func (s *Server) allow(w http.ResponseWriter, r *http.Request, op string) bool {
	s.metrics.requests.WithLabelValues(op, "rest").Inc()
	if !s.limiter.Allow(clientKey(r)) {
		s.metrics.limited.Inc()
		writeError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
		return false
	}
	return true
}

// handleGet handles GET /v1/tree/{path}.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, "get") {
		return
	}

	raw, found, err := s.feed.Get(r.Context(), mux.Vars(r)["path"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, errors.New("not found"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(raw)
}

// handleSet handles PUT /v1/tree/{path} with any JSON value as body.
func (s *Server) handleSet(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, "set") {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, errors.New("body is not valid JSON"))
		return
	}

	if err := s.feed.Set(r.Context(), mux.Vars(r)["path"], json.RawMessage(body)); err != nil {
		s.writeFeedError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUpdate handles PATCH /v1/tree/{path} with an object of fields.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, "update") {
		return
	}

	var fields map[string]json.RawMessage
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&fields); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.feed.Update(r.Context(), mux.Vars(r)["path"], rawFields(fields)); err != nil {
		s.writeFeedError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDelete handles DELETE /v1/tree/{path}.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, "delete") {
		return
	}

	if err := s.feed.Set(r.Context(), mux.Vars(r)["path"], nil); err != nil {
		s.writeFeedError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeFeedError(w http.ResponseWriter, err error) {
	if errors.Is(err, feed.ErrUnavailable) {
		s.log.Error().Err(err).Msg("feed write failed")
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeError(w, http.StatusBadRequest, err)
}

// rawFields converts decoded fields into write values. JSON null deletes.
func rawFields(fields map[string]json.RawMessage) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if len(v) == 0 || string(v) == "null" {
			out[k] = nil
			continue
		}
		out[k] = v
	}
	return out
}
