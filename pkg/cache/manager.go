package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Stats is a snapshot of cache activity for the health endpoint.
type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Keys   int    `json:"keys"`
	Store  string `json:"store"`
}

// Manager is the response cache: a TTL-bounded key-value cache over a Store.
// It enforces expiration with its own clock, so an entry is never returned
// past its Expires even if the store has not evicted it yet.
type Manager struct {
	store  Store
	now    func() time.Time
	logger zerolog.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithClock sets the clock used for expiration checks.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the manager logger.
func WithLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a new cache manager on top of store.
func NewManager(store Store, opts ...ManagerOption) *Manager {
	if store == nil {
		panic("cache store cannot be nil")
	}

	m := &Manager{
		store:  store,
		now:    time.Now,
		logger: log.With().Str("component", "cache").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Get retrieves a cache entry by key.
// Returns ErrCacheMiss if the key doesn't exist, is expired or was flushed.
// Other errors come from the store; callers may treat them as a miss.
func (m *Manager) Get(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	cacheKey := key.String()

	entry, err := m.store.Get(ctx, cacheKey)
	if err != nil {
		m.recordMiss()
		if errors.Is(err, ErrCacheMiss) {
			m.logger.Debug().Str("key", cacheKey).Msg("Cache miss")
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("cache get %s: %w", cacheKey, err)
	}

	// Expired entries are left for the store's own eviction; deleting here
	// could remove a fresh value written concurrently under the same key.
	if entry.IsExpiredAt(m.now()) {
		m.recordMiss()
		m.logger.Debug().Str("key", cacheKey).Msg("Cache entry expired")
		return nil, ErrCacheMiss
	}

	m.hits.Add(1)
	CacheHits.WithLabelValues(m.store.Name()).Inc()
	m.logger.Debug().
		Str("key", cacheKey).
		Dur("ttl", entry.TTLAt(m.now())).
		Msg("Cache hit")

	return entry, nil
}

// Set stores data under key for ttl, replacing any existing entry.
func (m *Manager) Set(ctx context.Context, key CacheKey, data []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}

	entry := NewEntry(key.String(), data, m.now(), ttl)
	if err := m.store.Set(ctx, entry, ttl); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("cache set %s: %w", entry.Key, err)
	}

	m.logger.Debug().
		Str("key", entry.Key).
		Dur("ttl", ttl).
		Msg("Cached response")

	return nil
}

// Delete removes a single entry.
func (m *Manager) Delete(ctx context.Context, key CacheKey) error {
	if err := m.store.Delete(ctx, key.String()); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// FlushAll removes every entry regardless of its expiration.
func (m *Manager) FlushAll(ctx context.Context) error {
	if err := m.store.Flush(ctx); err != nil {
		CacheErrors.WithLabelValues("flush").Inc()
		return fmt.Errorf("cache flush: %w", err)
	}

	CacheFlushes.Inc()
	m.logger.Info().Str("store", m.store.Name()).Msg("Cache flushed")
	return nil
}

// Stats returns hit/miss counters and the current number of keys.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{
		Hits:   m.hits.Load(),
		Misses: m.misses.Load(),
		Store:  m.store.Name(),
	}

	keys, err := m.store.Len(ctx)
	if err != nil {
		CacheErrors.WithLabelValues("stats").Inc()
		return stats, fmt.Errorf("cache stats: %w", err)
	}
	stats.Keys = keys
	CacheEntries.WithLabelValues(m.store.Name()).Set(float64(keys))

	return stats, nil
}

// Close closes the underlying store.
func (m *Manager) Close() error {
	return m.store.Close()
}

func (m *Manager) recordMiss() {
	m.misses.Add(1)
	CacheMisses.WithLabelValues(m.store.Name()).Inc()
}
