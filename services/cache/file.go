package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"smartswipe/syncclient/logger"
)

type fileItem struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
}

// FileService implements CacheService on a single JSON document on disk.
// Values are kept as strings, like browser local storage, and every write
// rewrites the document through a temp file and rename.
type FileService struct {
	mu    sync.RWMutex
	path  string
	items map[string]fileItem
	log   *logger.Logger
}

// NewFileService opens (or creates) the cache document at path.
// An unreadable document is discarded and the cache starts empty.
func NewFileService(path string) (*FileService, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	f := &FileService{
		path:  path,
		items: make(map[string]fileItem),
		log:   logger.ForStore().WithField("backend", "file"),
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return f, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &f.items); err != nil {
			f.log.Warn().Err(err).Str("path", path).Msg("Discarding unreadable cache file")
			f.items = make(map[string]fileItem)
		}
	}
	return f, nil
}

// Get retrieves a value from the document
func (f *FileService) Get(key string) ([]byte, error) {
	f.mu.RLock()
	item, ok := f.items[key]
	f.mu.RUnlock()
	if !ok || item.expired(time.Now()) {
		return nil, ErrCacheMiss
	}
	return []byte(item.Value), nil
}

// Set stores a value and persists the document
func (f *FileService) Set(key string, value []byte, expiration time.Duration) error {
	item := fileItem{Value: string(value)}
	if expiration > 0 {
		item.ExpiresAt = time.Now().Add(expiration).UnixMilli()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[key] = item
	return f.flushLocked()
}

// Delete removes a value and persists the document
func (f *FileService) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[key]; !ok {
		return nil
	}
	delete(f.items, key)
	return f.flushLocked()
}

// Keys lists live keys with the given prefix
func (f *FileService) Keys(prefix string) ([]string, error) {
	now := time.Now()
	f.mu.RLock()
	defer f.mu.RUnlock()
	keys := make([]string, 0)
	for k, item := range f.items {
		if strings.HasPrefix(k, prefix) && !item.expired(now) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Path returns the document location
func (f *FileService) Path() string {
	return f.path
}

func (f *FileService) flushLocked() error {
	data, err := json.Marshal(f.items)
	if err != nil {
		return fmt.Errorf("failed to encode cache file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".cache-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp cache file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close cache file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace cache file: %w", err)
	}
	return nil
}

func (i fileItem) expired(now time.Time) bool {
	return i.ExpiresAt != 0 && now.UnixMilli() >= i.ExpiresAt
}
