package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")

	// ErrInvalidTTL indicates a non-positive TTL was given to Set
	ErrInvalidTTL = errors.New("cache ttl must be positive")
)

// Store is the backing key-value store of a Manager. Implementations must
// make single-key Get and Set atomic; Manager adds no locking of its own.
type Store interface {
	// Get returns the entry stored under key or ErrCacheMiss.
	Get(ctx context.Context, key string) (*CacheEntry, error)

	// Set stores entry under entry.Key for ttl, replacing any previous entry.
	Set(ctx context.Context, entry *CacheEntry, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Flush removes every entry owned by the store.
	Flush(ctx context.Context) error

	// Len returns the number of stored entries.
	Len(ctx context.Context) (int, error)

	// Name identifies the store in logs and metrics labels.
	Name() string

	// Close releases the store's resources.
	Close() error
}
