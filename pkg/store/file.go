package store

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileStore persists each namespace as a directory and each key as a file
// under a root directory. Keys are path-escaped, so arbitrary plugin names
// are safe on disk.
type FileStore struct {
	root string
	mu   sync.Mutex
}

// NewFileStore creates (if needed) and opens a store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store root %q: %w", dir, err)
	}
	return &FileStore{root: dir}, nil
}

func (s *FileStore) path(ns, key string) string {
	return filepath.Join(s.root, url.PathEscape(ns), url.PathEscape(key))
}

func (s *FileStore) Get(_ context.Context, ns, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path(ns, key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", ns, key, err)
	}
	return data, nil
}

func (s *FileStore) Set(_ context.Context, ns, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dir := filepath.Join(s.root, url.PathEscape(ns))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create namespace %q: %w", ns, err)
	}
	// Write through a temp file so a crash never leaves a torn value.
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("write %s/%s: %w", ns, key, err)
	}
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s/%s: %w", ns, key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s/%s: %w", ns, key, err)
	}
	if err := os.Rename(tmp.Name(), s.path(ns, key)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s/%s: %w", ns, key, err)
	}
	return nil
}

func (s *FileStore) Remove(_ context.Context, ns, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(ns, key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s/%s: %w", ns, key, err)
	}
	return nil
}

func (s *FileStore) Keys(_ context.Context, ns string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(filepath.Join(s.root, url.PathEscape(ns)))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", ns, err)
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".tmp-") {
			continue
		}
		name, err := url.PathUnescape(e.Name())
		if err != nil {
			continue
		}
		keys = append(keys, name)
	}
	sort.Strings(keys)
	return keys, nil
}
