package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process Store backed by ttlcache. Reads never extend
// an entry's lifetime, and a background loop evicts expired entries.
type MemoryStore struct {
	items     *ttlcache.Cache[string, *CacheEntry]
	closeOnce sync.Once
}

// NewMemoryStore creates a MemoryStore and starts its expiry loop.
func NewMemoryStore() *MemoryStore {
	items := ttlcache.New[string, *CacheEntry](
		ttlcache.WithDisableTouchOnHit[string, *CacheEntry](),
	)
	go items.Start()

	return &MemoryStore{items: items}
}

// Get returns the entry stored under key or ErrCacheMiss.
func (s *MemoryStore) Get(_ context.Context, key string) (*CacheEntry, error) {
	item := s.items.Get(key)
	if item == nil || item.IsExpired() {
		return nil, ErrCacheMiss
	}
	return item.Value(), nil
}

// Set stores entry for ttl.
func (s *MemoryStore) Set(_ context.Context, entry *CacheEntry, ttl time.Duration) error {
	if entry == nil {
		return ErrInvalidEntry
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	s.items.Set(entry.Key, entry, ttl)
	return nil
}

// Delete removes key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.items.Delete(key)
	return nil
}

// Flush removes every entry.
func (s *MemoryStore) Flush(_ context.Context) error {
	s.items.DeleteAll()
	return nil
}

// Len returns the number of entries, including expired ones not yet evicted.
func (s *MemoryStore) Len(_ context.Context) (int, error) {
	return s.items.Len(), nil
}

// Name implements Store.
func (s *MemoryStore) Name() string {
	return "memory"
}

// Close stops the expiry loop. It is safe to call more than once.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(s.items.Stop)
	return nil
}
