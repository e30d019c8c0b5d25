// Package cache provides the time-bounded response cache of the proxy.
//
// A Manager stores raw upstream JSON bodies under deterministic keys built
// from the endpoint name and its effective parameters. Entries carry their
// own expiry and are never served once the Manager's clock reaches it,
// whatever the backing Store does with them afterwards.
//
// Two stores are provided:
//
//   - MemoryStore keeps entries in process (ttlcache)
//   - RedisStore shares entries between instances through Redis
//
// # Basic Usage
//
//	manager := cache.NewManager(cache.NewMemoryStore())
//	defer manager.Close()
//
//	key := cache.CacheKey{
//		Endpoint:    "datastore",
//		PathParams:  map[string]string{"resource_id": "abc"},
//		QueryParams: url.Values{"limit": []string{"100"}, "offset": []string{"0"}},
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from upstream, then
//		_ = manager.Set(ctx, key, body, 30*time.Minute)
//	}
//
// # Metrics
//
//   - vigia_cache_hits_total{store}
//   - vigia_cache_misses_total{store}
//   - vigia_cache_entries{store}
//   - vigia_cache_flushes_total
//   - vigia_cache_errors_total{operation}
package cache
