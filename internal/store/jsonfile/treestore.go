package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hay-kot/parley/internal/core/feed"
	"github.com/hay-kot/parley/internal/feed/tree"
)

// bucketDepths is how many leading path segments name a bucket file, per
// top-level collection. Collections not listed use one segment.
var bucketDepths = map[string]int{
	"messages": 3, // messages/{room}/{channel}
	"channels": 2, // channels/{room}
}

func bucketDepth(root string) int {
	if d, ok := bucketDepths[root]; ok {
		return d
	}
	return 1
}

// bucket is the on-disk form of one subtree.
type bucket struct {
	Path      string          `json:"path"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// TreeStore persists a feed tree as one JSON file per bucket: a channel's
// messages, a room's channels, or a whole small collection. It implements
// memfeed.Persister.
type TreeStore struct {
	dir string
	mu  sync.Mutex
}

// NewTreeStore creates a store writing bucket files into dir.
func NewTreeStore(dir string) *TreeStore {
	return &TreeStore{dir: dir}
}

// bucketPath returns the file path for a bucket.
func (s *TreeStore) bucketPath(name string) string {
	return filepath.Join(s.dir, feed.EscapeKey(name)+".json")
}

// withFileLock acquires an exclusive file lock on a bucket, executes fn,
// then releases the lock.
func (s *TreeStore) withFileLock(name string, fn func() error) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create tree directory: %w", err)
	}

	f, err := os.OpenFile(s.bucketPath(name)+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer f.Close() //nolint:errcheck

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN) //nolint:errcheck

	return fn()
}

// Load reads every bucket into one tree.
func (s *TreeStore) Load(ctx context.Context) (tree.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.buckets()
	if err != nil {
		return nil, err
	}

	root := tree.Node{}
	for _, name := range names {
		v, err := s.load(name)
		if err != nil {
			return nil, err
		}
		if v == nil {
			continue
		}
		if err := tree.Set(root, feed.Split(name), v); err != nil {
			return nil, fmt.Errorf("bucket %s: %w", name, err)
		}
	}
	return root, nil
}

// Save writes value at path. A nil value deletes it.
func (s *TreeStore) Save(ctx context.Context, path string, value any) error {
	segs := feed.Split(path)
	if len(segs) == 0 {
		return fmt.Errorf("empty path")
	}
	value, err := tree.Normalize(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	depth := bucketDepth(segs[0])
	if len(segs) >= depth {
		name := strings.Join(segs[:depth], "/")
		return s.update(name, segs[depth:], value)
	}

	// The write replaces several buckets at once.
	prefix := strings.Join(segs, "/")
	names, err := s.buckets()
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == prefix || strings.HasPrefix(name, prefix+"/") {
			if err := s.update(name, nil, nil); err != nil {
				return err
			}
		}
	}
	return s.split(segs, value, depth-len(segs))
}

// split writes value as the buckets found remaining levels below segs.
func (s *TreeStore) split(segs []string, value any, remaining int) error {
	m, ok := value.(tree.Node)
	if remaining == 0 || !ok {
		if value == nil {
			return nil
		}
		return s.update(strings.Join(segs, "/"), nil, value)
	}
	for _, k := range tree.SortedKeys(m) {
		if err := s.split(slices.Concat(segs, []string{k}), m[k], remaining-1); err != nil {
			return err
		}
	}
	return nil
}

// update applies value at rel inside the named bucket.
func (s *TreeStore) update(name string, rel []string, value any) error {
	return s.withFileLock(name, func() error {
		var cur any
		if len(rel) == 0 {
			cur = value
		} else {
			loaded, err := s.load(name)
			if err != nil {
				return err
			}
			node, ok := loaded.(tree.Node)
			if !ok {
				node = tree.Node{}
			}
			if err := tree.Set(node, rel, value); err != nil {
				return err
			}
			if len(node) > 0 {
				cur = node
			}
		}

		if cur == nil {
			if err := os.Remove(s.bucketPath(name)); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove bucket file: %w", err)
			}
			return nil
		}
		return s.save(name, cur)
	})
}

// buckets lists bucket names from the file names in the directory.
func (s *TreeStore) buckets() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read tree directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		name, err := feed.UnescapeKey(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// load reads a bucket file. Returns nil if the file doesn't exist.
func (s *TreeStore) load(name string) (any, error) {
	data, err := os.ReadFile(s.bucketPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read bucket file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var b bucket
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse bucket file %s: %w", name, err)
	}
	return tree.Decode(b.Value)
}

// save writes a bucket file to disk atomically.
func (s *TreeStore) save(name string, value any) error {
	raw, err := tree.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal bucket: %w", err)
	}

	data, err := json.MarshalIndent(bucket{Path: name, Value: raw, UpdatedAt: time.Now()}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal bucket: %w", err)
	}

	path := s.bucketPath(name)
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}
