package cache

import (
	"strings"
	"sync"
	"time"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// MemoryService implements CacheService in process memory
type MemoryService struct {
	mu    sync.RWMutex
	items map[string]memoryItem
}

// NewMemoryService creates an empty in-memory cache
func NewMemoryService() *MemoryService {
	return &MemoryService{items: make(map[string]memoryItem)}
}

// Get retrieves a value from memory
func (m *MemoryService) Get(key string) ([]byte, error) {
	m.mu.RLock()
	item, ok := m.items[key]
	m.mu.RUnlock()
	if !ok || item.expired(time.Now()) {
		return nil, ErrCacheMiss
	}
	out := make([]byte, len(item.value))
	copy(out, item.value)
	return out, nil
}

// Set stores a copy of value
func (m *MemoryService) Set(key string, value []byte, expiration time.Duration) error {
	item := memoryItem{value: append([]byte(nil), value...)}
	if expiration > 0 {
		item.expiresAt = time.Now().Add(expiration)
	}
	m.mu.Lock()
	m.items[key] = item
	m.mu.Unlock()
	return nil
}

// Delete removes a value from memory
func (m *MemoryService) Delete(key string) error {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

// Keys lists live keys with the given prefix
func (m *MemoryService) Keys(prefix string) ([]string, error) {
	now := time.Now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0)
	for k, item := range m.items {
		if strings.HasPrefix(k, prefix) && !item.expired(now) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (i memoryItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && !now.Before(i.expiresAt)
}
