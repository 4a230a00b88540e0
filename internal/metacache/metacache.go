// Package metacache implements the get-or-refresh metadata cache: a
// single operation layered over the KV store and the upstream
// fetcher, with TTL expiry and stale-on-failure fallback.
package metacache

import (
	"context"
	"time"

	"github.com/groxpi/groxpi-redis/internal/kvstore"
	"github.com/groxpi/groxpi-redis/internal/logger"
	"github.com/groxpi/groxpi-redis/internal/upstream"
)

// Fetcher is the subset of upstream.Fetcher the cache needs, narrowed
// to ease testing with a fake.
type Fetcher interface {
	Fetch(url string) (*kvstore.CacheEntry, error)
}

// KV is the subset of kvstore.Client the cache needs.
type KV interface {
	SetCache(ctx context.Context, url string, entry kvstore.CacheEntry, data []byte) error
	GetCache(ctx context.Context, url string) (ts time.Time, data []byte, ok bool, err error)
}

// Cache layers TTL and stale-on-failure semantics over a KV store and
// an upstream fetcher. There is deliberately no lock around refresh:
// concurrent misses may each issue their own upstream fetch and the
// last writer wins, per the non-negotiable concurrency note in the
// source design.
type Cache struct {
	kv      KV
	fetcher Fetcher
	encode  func(kvstore.CacheEntry) ([]byte, error)
	decode  func([]byte) (kvstore.CacheEntry, error)
}

// New builds a Cache. encode/decode marshal a CacheEntry to/from the
// bytes stored under the KV "data:" key.
func New(kv KV, fetcher Fetcher, encode func(kvstore.CacheEntry) ([]byte, error), decode func([]byte) (kvstore.CacheEntry, error)) *Cache {
	return &Cache{kv: kv, fetcher: fetcher, encode: encode, decode: decode}
}

// Get returns the CacheEntry for url, refreshing from upstream if the
// stored entry is missing or older than ttl. A ttl of zero always
// refreshes; callers wanting "never refresh if present" should pass a
// very large ttl.
func (c *Cache) Get(ctx context.Context, url string, ttl time.Duration) (kvstore.CacheEntry, error) {
	ts, raw, ok, err := c.kv.GetCache(ctx, url)
	if err != nil {
		return kvstore.CacheEntry{}, err
	}

	var stale *kvstore.CacheEntry
	if ok {
		entry, decodeErr := c.decode(raw)
		if decodeErr == nil {
			if time.Since(ts) < ttl {
				return entry, nil
			}
			stale = &entry
		}
	}

	entry, fetchErr := c.fetcher.Fetch(url)
	if fetchErr == nil {
		data, encErr := c.encode(*entry)
		if encErr != nil {
			logger.GetLogger().Error().Err(encErr).Str("url", url).Msg("encode cache entry")
			if stale != nil {
				return *stale, nil
			}
			return kvstore.CacheEntry{}, encErr
		}
		if setErr := c.kv.SetCache(ctx, url, *entry, data); setErr != nil {
			logger.GetLogger().Error().Err(setErr).Str("url", url).Msg("write-through cache entry")
		}
		return *entry, nil
	}

	logger.GetLogger().Warn().Err(fetchErr).Str("url", url).Msg("upstream fetch failed")

	if stale != nil {
		return *stale, nil
	}

	return kvstore.CacheEntry{StatusCode: 503, Content: nil, Headers: nil}, nil
}
