package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileKV stores each key as a file under a base directory. The slash-separated
// key maps onto the directory layout, so "connections/abc" lands at
// <base>/connections/abc.json. Writes go through a temp file and rename to
// survive abrupt termination mid-write.
type FileKV struct {
	basePath string
	mu       sync.RWMutex
}

// NewFileKV creates a file-backed store rooted at basePath.
func NewFileKV(basePath string) (*FileKV, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &FileKV{basePath: basePath}, nil
}

func (f *FileKV) keyPath(key string) string {
	return filepath.Join(f.basePath, filepath.FromSlash(key)+".json")
}

func (f *FileKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	data, err := os.ReadFile(f.keyPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading %s: %w", key, err)
	}
	return data, true, nil
}

func (f *FileKV) Set(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := f.keyPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", key, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, value, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("committing %s: %w", key, err)
	}
	return nil
}

func (f *FileKV) Delete(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, key := range keys {
		if err := os.Remove(f.keyPath(key)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("deleting %s: %w", key, err)
		}
	}
	return nil
}

func (f *FileKV) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make(map[string][]byte)
	err := filepath.WalkDir(f.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}

		rel, err := filepath.Rel(f.basePath, path)
		if err != nil {
			return err
		}
		key := strings.TrimSuffix(filepath.ToSlash(rel), ".json")
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			// Skip entries that vanish or turn unreadable mid-walk.
			return nil
		}
		out[key] = data
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", prefix, err)
	}
	return out, nil
}

func (f *FileKV) Close() error {
	return nil
}
