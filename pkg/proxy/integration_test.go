//go:build integration

package proxy_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/vigia-recife/vigia-proxy/internal/testutil"
	"github.com/vigia-recife/vigia-proxy/pkg/cache"
	"github.com/vigia-recife/vigia-proxy/pkg/client"
	"github.com/vigia-recife/vigia-proxy/pkg/config"
	"github.com/vigia-recife/vigia-proxy/pkg/proxy"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	t.Cleanup(func() {
		redisClient.Close()
		_ = container.Terminate(ctx)
	})

	return redisClient
}

// newRedisBackedHandler builds the full stack over a shared Redis store.
func newRedisBackedHandler(t *testing.T, redisClient *redis.Client, upstream *testutil.MockUpstream) (http.Handler, *cache.Manager) {
	t.Helper()

	cfg := config.Default()
	cfg.Upstream.CKANBaseURL = upstream.URL()
	cfg.Upstream.RevenueBaseURL = upstream.URL() + "/receitas"
	cfg.Upstream.ExpenseBaseURL = upstream.URL() + "/despesas"

	sleeper := &testutil.SleepRecorder{}
	fetcher, err := client.New(client.DefaultConfig(), client.WithSleep(sleeper.Sleep))
	if err != nil {
		t.Fatalf("client.New failed: %v", err)
	}

	manager := cache.NewManager(cache.NewRedisStore(redisClient, "it:"))
	server := proxy.NewServer(proxy.NewService(cfg, fetcher, manager), cfg.Server)

	return server.Handler(), manager
}

func get(handler http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

// TestSharedCacheAcrossInstances verifies that two proxy instances share
// entries through Redis.
func TestSharedCacheAcrossInstances(t *testing.T) {
	redisClient := setupRedis(t)

	upstream := testutil.NewMockUpstream()
	defer upstream.Close()
	upstream.SetJSON("/action/package_list", `["dataset-a","dataset-b"]`)

	first, _ := newRedisBackedHandler(t, redisClient, upstream)
	second, _ := newRedisBackedHandler(t, redisClient, upstream)

	rec := get(first, "/api/datasets")
	if rec.Code != http.StatusOK || rec.Header().Get("X-Cache") != "MISS" {
		t.Fatalf("first instance: status %d, X-Cache %q", rec.Code, rec.Header().Get("X-Cache"))
	}

	rec = get(second, "/api/datasets")
	if rec.Code != http.StatusOK || rec.Header().Get("X-Cache") != "HIT" {
		t.Fatalf("second instance: status %d, X-Cache %q", rec.Code, rec.Header().Get("X-Cache"))
	}
	if rec.Body.String() != `["dataset-a","dataset-b"]` {
		t.Errorf("body = %s", rec.Body.String())
	}

	if got := upstream.RequestCount("/action/package_list"); got != 1 {
		t.Errorf("upstream requests = %d, want 1", got)
	}
}

// TestRedisFlushAll verifies a flush removes only proxy entries.
func TestRedisFlushAll(t *testing.T) {
	redisClient := setupRedis(t)
	ctx := context.Background()

	upstream := testutil.NewMockUpstream()
	defer upstream.Close()
	upstream.SetJSON("/receitas/2025", `{"receitas":[]}`)
	upstream.SetJSON("/despesas/2025", `{"despesas":[]}`)

	handler, manager := newRedisBackedHandler(t, redisClient, upstream)

	get(handler, "/api/financeiro/receitas")
	get(handler, "/api/financeiro/despesas")

	if err := redisClient.Set(ctx, "unrelated", "keep", 0).Err(); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	stats, err := manager.Stats(ctx)
	if err != nil || stats.Keys != 2 {
		t.Fatalf("Stats = %+v, %v; want 2 keys", stats, err)
	}

	if err := manager.FlushAll(ctx); err != nil {
		t.Fatalf("FlushAll failed: %v", err)
	}

	stats, _ = manager.Stats(ctx)
	if stats.Keys != 0 {
		t.Errorf("Keys after flush = %d, want 0", stats.Keys)
	}
	if n, _ := redisClient.Exists(ctx, "unrelated").Result(); n != 1 {
		t.Error("flush removed an unrelated key")
	}

	rec := get(handler, "/api/financeiro/receitas")
	if rec.Header().Get("X-Cache") != "MISS" {
		t.Errorf("X-Cache after flush = %q, want MISS", rec.Header().Get("X-Cache"))
	}
}

// TestRedisNativeExpiry verifies the Redis TTL mirrors the entry TTL.
func TestRedisNativeExpiry(t *testing.T) {
	redisClient := setupRedis(t)
	ctx := context.Background()

	manager := cache.NewManager(cache.NewRedisStore(redisClient, "it:"))
	key := cache.CacheKey{Endpoint: "search", QueryParams: map[string][]string{"q": {"x"}}}

	if err := manager.Set(ctx, key, []byte(`{}`), time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	ttl, err := redisClient.TTL(ctx, "it:"+key.String()).Result()
	if err != nil || ttl <= 0 || ttl > time.Second {
		t.Fatalf("redis TTL = %s, %v", ttl, err)
	}

	time.Sleep(1500 * time.Millisecond)

	if _, err := manager.Get(ctx, key); err != cache.ErrCacheMiss {
		t.Errorf("Get after expiry error = %v, want ErrCacheMiss", err)
	}
}
