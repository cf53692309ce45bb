package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const indexSuffix = "__index"

// maxIndexAttempts bounds the CAS retries on the key index
const maxIndexAttempts = 5

// MemcacheService implements CacheService using memcache.
// Memcache cannot list keys, so the service keeps a key index item that is
// updated with compare-and-swap alongside every Set and Delete.
type MemcacheService struct {
	client    *memcache.Client
	namespace string
}

// NewMemcacheService creates a new memcache service
func NewMemcacheService(serverAddr, namespace string) *MemcacheService {
	return &MemcacheService{
		client:    memcache.New(serverAddr),
		namespace: namespace,
	}
}

// Ping checks that the server answers
func (m *MemcacheService) Ping() error {
	return m.client.Ping()
}

// Get retrieves a value from memcache
func (m *MemcacheService) Get(key string) ([]byte, error) {
	item, err := m.client.Get(m.wireKey(key))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	return item.Value, nil
}

// Set stores a value in memcache with an expiration time
func (m *MemcacheService) Set(key string, value []byte, expiration time.Duration) error {
	err := m.client.Set(&memcache.Item{
		Key:        m.wireKey(key),
		Value:      value,
		Expiration: int32(expiration.Seconds()),
	})
	if err != nil {
		return err
	}
	return m.updateIndex(func(keys map[string]struct{}) bool {
		if _, ok := keys[key]; ok {
			return false
		}
		keys[key] = struct{}{}
		return true
	})
}

// Delete removes a value from memcache
func (m *MemcacheService) Delete(key string) error {
	err := m.client.Delete(m.wireKey(key))
	if err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		return err
	}
	return m.updateIndex(func(keys map[string]struct{}) bool {
		if _, ok := keys[key]; !ok {
			return false
		}
		delete(keys, key)
		return true
	})
}

// Keys lists indexed keys with the given prefix
func (m *MemcacheService) Keys(prefix string) ([]string, error) {
	keys, _, err := m.readIndex()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for k := range keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

// wireKey namespaces and escapes a key; memcache rejects spaces and control characters
func (m *MemcacheService) wireKey(key string) string {
	return m.namespace + ":" + url.QueryEscape(key)
}

func (m *MemcacheService) indexKey() string {
	return m.namespace + ":" + indexSuffix
}

func (m *MemcacheService) readIndex() (map[string]struct{}, *memcache.Item, error) {
	keys := make(map[string]struct{})
	item, err := m.client.Get(m.indexKey())
	if errors.Is(err, memcache.ErrCacheMiss) {
		return keys, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	var list []string
	if err := json.Unmarshal(item.Value, &list); err != nil {
		// A broken index is rebuilt from the next writes
		return keys, item, nil
	}
	for _, k := range list {
		keys[k] = struct{}{}
	}
	return keys, item, nil
}

// updateIndex applies mutate to the index and stores it when mutate reports a change
func (m *MemcacheService) updateIndex(mutate func(map[string]struct{}) bool) error {
	for attempt := 0; attempt < maxIndexAttempts; attempt++ {
		keys, item, err := m.readIndex()
		if err != nil {
			return err
		}
		if !mutate(keys) {
			return nil
		}

		list := make([]string, 0, len(keys))
		for k := range keys {
			list = append(list, k)
		}
		sort.Strings(list)
		data, err := json.Marshal(list)
		if err != nil {
			return err
		}

		if item == nil {
			err = m.client.Add(&memcache.Item{Key: m.indexKey(), Value: data})
		} else {
			item.Value = data
			err = m.client.CompareAndSwap(item)
		}
		switch {
		case err == nil:
			return nil
		case errors.Is(err, memcache.ErrNotStored), errors.Is(err, memcache.ErrCASConflict):
			continue
		default:
			return err
		}
	}
	return fmt.Errorf("memcache: key index contention after %d attempts", maxIndexAttempts)
}
