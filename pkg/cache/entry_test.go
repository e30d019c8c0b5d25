package cache

import (
	"testing"
	"time"
)

func TestCacheEntry_IsExpired(t *testing.T) {
	tests := []struct {
		name    string
		expires time.Time
		want    bool
	}{
		{
			name:    "expired entry",
			expires: time.Now().Add(-1 * time.Hour),
			want:    true,
		},
		{
			name:    "valid entry",
			expires: time.Now().Add(1 * time.Hour),
			want:    false,
		},
		{
			name:    "just expired",
			expires: time.Now().Add(-1 * time.Second),
			want:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := &CacheEntry{
				Expires: tt.expires,
			}
			if got := entry.IsExpired(); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCacheEntry_IsExpiredAt_Boundary(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	entry := NewEntry("vigia:datasets", []byte(`[]`), now, 900*time.Second)

	if entry.IsExpiredAt(now.Add(900*time.Second - time.Nanosecond)) {
		t.Error("entry should still be valid just before Expires")
	}
	if !entry.IsExpiredAt(now.Add(900 * time.Second)) {
		t.Error("entry should be expired at Expires")
	}
}

func TestNewEntry(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	entry := NewEntry("vigia:dataset:id=abc", []byte(`{"id":"abc"}`), now, 30*time.Minute)

	if entry.Key != "vigia:dataset:id=abc" {
		t.Errorf("Key = %q", entry.Key)
	}
	if !entry.CachedAt.Equal(now) {
		t.Errorf("CachedAt = %v, want %v", entry.CachedAt, now)
	}
	if !entry.Expires.Equal(now.Add(30 * time.Minute)) {
		t.Errorf("Expires = %v, want %v", entry.Expires, now.Add(30*time.Minute))
	}
}

func TestCacheEntry_TTL(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		expires time.Time
		want    time.Duration
	}{
		{
			name:    "future expiration",
			expires: now.Add(5 * time.Minute),
			want:    5 * time.Minute,
		},
		{
			name:    "past expiration",
			expires: now.Add(-5 * time.Minute),
			want:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := &CacheEntry{Expires: tt.expires}
			if got := entry.TTLAt(now); got != tt.want {
				t.Errorf("TTLAt() = %v, want %v", got, tt.want)
			}
		})
	}

	if ttl := (&CacheEntry{Expires: time.Now().Add(time.Hour)}).TTL(); ttl <= 59*time.Minute {
		t.Errorf("TTL() = %v, want close to 1h", ttl)
	}
}
