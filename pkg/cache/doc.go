// Package cache stores fetched pages in Redis so a fetch stream can be
// replayed without spending server budget.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(redisClient,
//		cache.WithNamespace("http://127.0.0.1:8080"),
//		cache.WithTTL(10*time.Minute),
//	)
//
//	stream, _ := pagination.NewStream[Record](c, cfg, pagination.WithCache(manager))
//
// A cached page is served by the stream without a request and without
// touching its bucket estimate. Only non-empty 200 bodies are stored.
//
// # Keys
//
// Keys are derived from the normalized query, so field order and duplicates
// do not matter:
//
//	pager:page:127.0.0.1:8080:fields=name,piani:page=3:size=10
//
// # Metrics
//
//   - pager_cache_hits_total - Cache hits
//   - pager_cache_misses_total - Cache misses
//   - pager_cache_stored_bytes_total - Bytes written to Redis
//   - pager_cache_errors_total{operation} - Cache operation errors
package cache
