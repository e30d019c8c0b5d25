// Package cache provides the time-bounded response cache of the proxy.
package cache

import (
	"time"
)

// CacheEntry represents a cached upstream response.
type CacheEntry struct {
	// Key is the rendered CacheKey the entry is stored under
	Key string `json:"key"`

	// Data is the raw JSON body returned by the upstream
	Data []byte `json:"data"`

	// Expires is when the entry stops being served
	Expires time.Time `json:"expires"`

	// CachedAt is when we cached this response
	CachedAt time.Time `json:"cached_at"`
}

// NewEntry builds an entry for key that expires ttl after now.
func NewEntry(key string, data []byte, now time.Time, ttl time.Duration) *CacheEntry {
	return &CacheEntry{
		Key:      key,
		Data:     data,
		Expires:  now.Add(ttl),
		CachedAt: now,
	}
}

// IsExpired returns true if the cache entry has expired.
func (e *CacheEntry) IsExpired() bool {
	return e.IsExpiredAt(time.Now())
}

// IsExpiredAt reports whether the entry is expired at now. An entry is
// expired from its Expires instant onwards.
func (e *CacheEntry) IsExpiredAt(now time.Time) bool {
	return !now.Before(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *CacheEntry) TTL() time.Duration {
	return e.TTLAt(time.Now())
}

// TTLAt returns the time left at now, never negative.
func (e *CacheEntry) TTLAt(now time.Time) time.Duration {
	ttl := e.Expires.Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}
