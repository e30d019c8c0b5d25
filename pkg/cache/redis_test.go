package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// setupTestRedis starts an in-memory Redis server and returns a store bound
// to it together with the server for fast-forwarding TTLs.
func setupTestRedis(t *testing.T, namespace string) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	store := NewRedisStore(client, namespace)
	t.Cleanup(func() {
		store.Close()
	})

	return store, mr
}

func TestNewRedisStore_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewRedisStore should panic with nil redis client")
		}
	}()
	NewRedisStore(nil, "")
}

func TestRedisStore_SetAndGet(t *testing.T) {
	store, mr := setupTestRedis(t, "test:")
	ctx := context.Background()

	now := time.Now().Truncate(time.Second)
	entry := NewEntry("vigia:dataset:id=abc", []byte(`{"success":true}`), now, 30*time.Minute)

	if err := store.Set(ctx, entry, 30*time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if !mr.Exists("test:vigia:dataset:id=abc") {
		t.Fatal("expected namespaced key in redis")
	}
	if ttl := mr.TTL("test:vigia:dataset:id=abc"); ttl != 30*time.Minute {
		t.Errorf("redis TTL = %s, want 30m", ttl)
	}

	got, err := store.Get(ctx, entry.Key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got.Data) != `{"success":true}` {
		t.Errorf("Data = %s", got.Data)
	}
	if !got.Expires.Equal(entry.Expires) {
		t.Errorf("Expires = %v, want %v", got.Expires, entry.Expires)
	}
}

func TestRedisStore_Expiry(t *testing.T) {
	store, mr := setupTestRedis(t, "")
	ctx := context.Background()

	entry := NewEntry("vigia:search:q=x", []byte(`{}`), time.Now(), time.Minute)
	if err := store.Set(ctx, entry, time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	mr.FastForward(time.Minute)

	if _, err := store.Get(ctx, entry.Key); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get after ttl error = %v, want ErrCacheMiss", err)
	}
}

func TestRedisStore_InvalidEntry(t *testing.T) {
	store, mr := setupTestRedis(t, "")

	if err := mr.Set("vigia:broken", "not json"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	_, err := store.Get(context.Background(), "vigia:broken")
	if !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("Get error = %v, want ErrInvalidEntry", err)
	}
}

func TestRedisStore_FlushOnlyOwnKeys(t *testing.T) {
	store, mr := setupTestRedis(t, "test:")
	ctx := context.Background()

	for i := 0; i < 250; i++ {
		key := fmt.Sprintf("vigia:datastore:resource_id=r%d", i)
		if err := store.Set(ctx, NewEntry(key, []byte(`{}`), time.Now(), time.Hour), time.Hour); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}
	if err := mr.Set("unrelated", "keep"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if err := mr.Set("other:vigia:x", "keep"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	n, err := store.Len(ctx)
	if err != nil || n != 250 {
		t.Fatalf("Len = %d, %v; want 250, nil", n, err)
	}

	if err := store.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	n, _ = store.Len(ctx)
	if n != 0 {
		t.Errorf("Len after flush = %d, want 0", n)
	}
	if !mr.Exists("unrelated") || !mr.Exists("other:vigia:x") {
		t.Error("Flush removed keys outside the store namespace")
	}
}

func TestRedisStore_WithManager(t *testing.T) {
	store, _ := setupTestRedis(t, "")
	clock := newFakeClock()
	manager := NewManager(store, WithClock(clock.Now))
	ctx := context.Background()

	if err := manager.Set(ctx, datasetKey("abc"), []byte(`{}`), time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := manager.Get(ctx, datasetKey("abc")); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	// Manager clock wins even though Redis still holds the key
	clock.Advance(time.Hour)
	if _, err := manager.Get(ctx, datasetKey("abc")); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get after expiry error = %v, want ErrCacheMiss", err)
	}

	stats, err := manager.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Store != "redis" || stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("Stats = %+v", stats)
	}
}

func TestRedisStore_FlushAllMakesEveryKeyMiss(t *testing.T) {
	store, _ := setupTestRedis(t, "")
	manager := NewManager(store)
	ctx := context.Background()

	const n = 150
	for i := 0; i < n; i++ {
		if err := manager.Set(ctx, datasetKey(fmt.Sprintf("ds-%d", i)), []byte(`{}`), time.Hour); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	if err := manager.FlushAll(ctx); err != nil {
		t.Fatalf("FlushAll failed: %v", err)
	}

	hits := 0
	for i := 0; i < n; i++ {
		if _, err := manager.Get(ctx, datasetKey(fmt.Sprintf("ds-%d", i))); err == nil {
			hits++
		}
	}
	if hits != 0 {
		t.Errorf("hits after FlushAll = %d of %d, want 0", hits, n)
	}
}

func TestRedisStore_NamespaceGlobCharacters(t *testing.T) {
	store, mr := setupTestRedis(t, "dep*[1]?:")
	ctx := context.Background()

	entry := NewEntry("vigia:datasets", []byte(`{}`), time.Now(), time.Hour)
	if err := store.Set(ctx, entry, time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Keys of other deployments that an unescaped pattern would match
	for _, key := range []string{"dep-a1Z:vigia:datasets", "dep*1x:vigia:datasets", "depXX1Y:vigia:datasets"} {
		if err := mr.Set(key, "keep"); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	n, err := store.Len(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Len = %d, %v; want 1, nil", n, err)
	}

	if err := store.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	if mr.Exists("dep*[1]?:vigia:datasets") {
		t.Error("Flush left the store's own key")
	}
	for _, key := range []string{"dep-a1Z:vigia:datasets", "dep*1x:vigia:datasets", "depXX1Y:vigia:datasets"} {
		if !mr.Exists(key) {
			t.Errorf("Flush removed %q from another namespace", key)
		}
	}
}

func TestEscapeGlob(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"prod:", "prod:"},
		{"a*b", `a\*b`},
		{"q?[x]", `q\?\[x\]`},
		{`back\slash`, `back\\slash`},
	}

	for _, tt := range tests {
		if got := escapeGlob(tt.in); got != tt.want {
			t.Errorf("escapeGlob(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
