// Package pebblestore persists a feed tree in a pebble database, one key per
// leaf. Keys are full tree paths, so a subtree is a contiguous key range.
package pebblestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble"

	"github.com/hay-kot/parley/internal/core/feed"
	"github.com/hay-kot/parley/internal/feed/tree"
)

// Store implements memfeed.Persister.
type Store struct {
	db *pebble.DB
}

// Open opens or creates the database at dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dir), 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load reads every leaf into one tree.
func (s *Store) Load(ctx context.Context) (tree.Node, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, fmt.Errorf("open iterator: %w", err)
	}
	defer iter.Close() //nolint:errcheck

	root := tree.Node{}
	for ok := iter.First(); ok; ok = iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := string(iter.Key())
		v, err := tree.Decode(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		if err := tree.Set(root, feed.Split(key), v); err != nil {
			return nil, fmt.Errorf("load %s: %w", key, err)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate: %w", err)
	}
	return root, nil
}

// Save replaces the subtree at path with value in one synced batch. A nil
// value deletes it.
func (s *Store) Save(ctx context.Context, path string, value any) error {
	segs := feed.Split(path)
	if len(segs) == 0 {
		return fmt.Errorf("empty path")
	}
	path = feed.Join(segs...)

	v, err := tree.Normalize(value)
	if err != nil {
		return fmt.Errorf("normalize %s: %w", path, err)
	}

	b := s.db.NewBatch()
	defer b.Close() //nolint:errcheck

	// A leaf ancestor would shadow the new subtree on load.
	for i := 1; i < len(segs); i++ {
		if err := b.Delete([]byte(feed.Join(segs[:i]...)), nil); err != nil {
			return fmt.Errorf("delete ancestor: %w", err)
		}
	}
	if err := b.Delete([]byte(path), nil); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	// '0' follows '/', so this range is exactly the keys below path.
	if err := b.DeleteRange([]byte(path+"/"), []byte(path+"0"), nil); err != nil {
		return fmt.Errorf("delete range %s: %w", path, err)
	}

	for key, leaf := range tree.Flatten(path, v) {
		data, err := json.Marshal(leaf)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", key, err)
		}
		if err := b.Set([]byte(key), data, nil); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}

	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit %s: %w", path, err)
	}
	return nil
}
