// Package jsonfile provides JSON file persistence: the signed-in session of
// the CLI and a bucketed tree store backing the feed server.
package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hay-kot/parley/internal/core/chat"
)

// SessionFile is the root JSON structure stored on disk.
type SessionFile struct {
	Session *chat.Session `json:"session"`
	Server  string        `json:"server,omitempty"`
	SavedAt time.Time     `json:"saved_at"`
}

// Store keeps the signed-in session in a JSON file.
type Store struct {
	path string
	mu   sync.RWMutex
}

// New creates a new JSON file store at the given path.
func New(path string) *Store {
	return &Store{path: path}
}

// Load returns the stored session, or nil when signed out.
func (s *Store) Load(ctx context.Context) (*chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	file, err := s.load()
	if err != nil {
		return nil, err
	}
	return file.Session, nil
}

// Server returns the feed URL the session was created against.
func (s *Store) Server(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	file, err := s.load()
	if err != nil {
		return "", err
	}
	return file.Server, nil
}

// Save stores sess as the signed-in session for server.
func (s *Store) Save(ctx context.Context, sess chat.Session, server string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.save(SessionFile{Session: &sess, Server: server, SavedAt: time.Now()})
}

// Clear signs out by removing the session file.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

// load reads the session file from disk.
// Returns empty SessionFile if file doesn't exist.
func (s *Store) load() (SessionFile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return SessionFile{}, nil
		}
		return SessionFile{}, fmt.Errorf("read session file: %w", err)
	}

	if len(data) == 0 {
		return SessionFile{}, nil
	}

	var file SessionFile
	if err := json.Unmarshal(data, &file); err != nil {
		return SessionFile{}, fmt.Errorf("parse session file: %w", err)
	}

	return file, nil
}

// save writes the session file to disk atomically.
// The file holds the user's identity, so it is private to the owner.
func (s *Store) save(file SessionFile) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
