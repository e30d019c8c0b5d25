package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Ensure RedisStore implements Store
var _ Store = (*RedisStore)(nil)

// scanBatchSize bounds SCAN page size and DEL batch size.
const scanBatchSize = 100

// RedisStore is a Store shared between proxy instances through Redis.
// Entries are JSON encoded and expire through native Redis key TTLs.
type RedisStore struct {
	redis     *redis.Client
	namespace string
}

// NewRedisStore creates a RedisStore. namespace is prepended to every Redis
// key so several deployments can share one database.
func NewRedisStore(redisClient *redis.Client, namespace string) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{
		redis:     redisClient,
		namespace: namespace,
	}
}

func (s *RedisStore) redisKey(key string) string {
	return s.namespace + key
}

// Get retrieves a cache entry by key.
func (s *RedisStore) Get(ctx context.Context, key string) (*CacheEntry, error) {
	data, err := s.redis.Get(ctx, s.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	return &entry, nil
}

// Set stores entry with a Redis TTL of ttl.
func (s *RedisStore) Set(ctx context.Context, entry *CacheEntry, ttl time.Duration) error {
	if entry == nil {
		return fmt.Errorf("%w: nil entry", ErrInvalidEntry)
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := s.redis.Set(ctx, s.redisKey(entry.Key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes a cache entry.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Flush deletes every key of this store. Keys outside the store's namespace
// and prefix are left alone, so the database is never flushed as a whole.
// The keyspace is fully scanned before anything is deleted, since deleting
// while SCAN is iterating can make the cursor skip keys.
func (s *RedisStore) Flush(ctx context.Context) error {
	var keys []string
	err := s.scan(ctx, func(key string) error {
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return err
	}

	for start := 0; start < len(keys); start += scanBatchSize {
		end := min(start+scanBatchSize, len(keys))
		if err := s.redis.Del(ctx, keys[start:end]...).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
	}

	return nil
}

// Len counts the keys of this store.
func (s *RedisStore) Len(ctx context.Context) (int, error) {
	count := 0
	err := s.scan(ctx, func(string) error {
		count++
		return nil
	})
	return count, err
}

// Name implements Store.
func (s *RedisStore) Name() string {
	return "redis"
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.redis.Close()
}

// scan calls fn for every Redis key owned by the store.
func (s *RedisStore) scan(ctx context.Context, fn func(key string) error) error {
	pattern := escapeGlob(s.namespace) + KeyPrefix + ":*"

	iter := s.redis.Scan(ctx, 0, pattern, scanBatchSize).Iterator()
	for iter.Next(ctx) {
		if err := fn(iter.Val()); err != nil {
			return err
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}

	return nil
}

// escapeGlob escapes the MATCH pattern metacharacters in s.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
