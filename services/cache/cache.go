package cache

import (
	"errors"
	"time"
)

// ErrCacheMiss is returned by Get when the key is absent or expired
var ErrCacheMiss = errors.New("cache: miss")

// CacheService represents a durable key/value backend
type CacheService interface {
	// Get retrieves a value from the cache
	Get(key string) ([]byte, error)

	// Set stores a value in the cache; a zero expiration keeps it until deleted
	Set(key string, value []byte, expiration time.Duration) error

	// Delete removes a value from the cache; deleting a missing key is not an error
	Delete(key string) error

	// Keys lists the stored keys starting with prefix
	Keys(prefix string) ([]string, error)
}

// Closer is implemented by backends holding a connection
type Closer interface {
	Close() error
}
