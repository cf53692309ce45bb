package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// scanBatch is the COUNT hint passed to SCAN
const scanBatch = 100

// RedisService implements CacheService using Redis
type RedisService struct {
	client    *redis.Client
	ctx       context.Context
	namespace string
}

// NewRedisService creates a new Redis cache service
func NewRedisService(ctx context.Context, addr string, db int, namespace string) *RedisService {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	return &RedisService{
		client:    client,
		ctx:       ctx,
		namespace: namespace,
	}
}

// Ping checks the connection
func (r *RedisService) Ping() error {
	return r.client.Ping(r.ctx).Err()
}

// Get retrieves a value from Redis
func (r *RedisService) Get(key string) ([]byte, error) {
	data, err := r.client.Get(r.ctx, r.wireKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Set stores a value in Redis with an expiration time
func (r *RedisService) Set(key string, value []byte, expiration time.Duration) error {
	return r.client.Set(r.ctx, r.wireKey(key), value, expiration).Err()
}

// Delete removes a value from Redis
func (r *RedisService) Delete(key string) error {
	return r.client.Del(r.ctx, r.wireKey(key)).Err()
}

// Keys lists keys with the given prefix using SCAN
func (r *RedisService) Keys(prefix string) ([]string, error) {
	pattern := r.wireKey(escapeGlob(prefix)) + "*"
	nsPrefix := r.namespace + ":"

	keys := make([]string, 0)
	iter := r.client.Scan(r.ctx, 0, pattern, scanBatch).Iterator()
	for iter.Next(r.ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), nsPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// Close closes the Redis connection
func (r *RedisService) Close() error {
	return r.client.Close()
}

func (r *RedisService) wireKey(key string) string {
	return r.namespace + ":" + key
}

// escapeGlob escapes the characters SCAN MATCH treats specially
func escapeGlob(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
