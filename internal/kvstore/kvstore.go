// Package kvstore wraps Redis as the shared substrate for the metadata
// cache, the filekey directory and the download job queue. It is the
// only place in the module that knows about Redis key layout.
package kvstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

const (
	kindData          = "data"
	kindTime          = "time"
	kindFileURL       = "file_url"
	kindFileTime      = "file_url_time"
	kindDownloadQueue = "file_download_queue"
)

// CacheEntry is the tuple stored for a cached upstream response.
type CacheEntry struct {
	StatusCode int        `json:"status_code"`
	Content    []byte     `json:"content"`
	Headers    [][2]string `json:"headers"`
}

// Client is a typed wrapper over a single Redis connection. There is no
// polymorphism here by design: Redis is the only KV backend this module
// supports.
type Client struct {
	rdb    *redis.Client
	prefix string // "<REDIS_PREFIX>:<mode>"
}

// New builds a Client from a redis:// URL and namespaces every key under
// "<prefix>:<mode>".
func New(redisURL, prefix, mode string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	return &Client{rdb: rdb, prefix: prefix + ":" + mode}, nil
}

// NewFromClient wraps an already-constructed *redis.Client, used by tests
// that run against miniredis.
func NewFromClient(rdb *redis.Client, prefix, mode string) *Client {
	return &Client{rdb: rdb, prefix: prefix + ":" + mode}
}

// Ping verifies the Redis connection is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// safeKey substitutes the KV key separator so a user-supplied key (a URL
// or filekey) can never collide with the namespace structure.
func safeKey(key string) string {
	return strings.ReplaceAll(key, ":", "_")
}

func (c *Client) key(kind, key string) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, kind, safeKey(key))
}

// SetCache writes a CacheEntry and its timestamp as two separate keys.
// The two writes are not atomic; GetCache treats a missing timestamp as
// "no entry" so a reader never observes a half-written pair as valid.
func (c *Client) SetCache(ctx context.Context, url string, entry CacheEntry, data []byte) error {
	if err := c.rdb.Set(ctx, c.key(kindData, url), data, 0).Err(); err != nil {
		return fmt.Errorf("set cache data: %w", err)
	}
	if err := c.rdb.Set(ctx, c.key(kindTime, url), time.Now().UTC().Format(time.RFC3339Nano), 0).Err(); err != nil {
		return fmt.Errorf("set cache time: %w", err)
	}
	return nil
}

// GetCache returns the stored timestamp and raw JSON bytes for url, or
// ok=false if either sub-key is missing.
func (c *Client) GetCache(ctx context.Context, url string) (ts time.Time, data []byte, ok bool, err error) {
	data, err = c.rdb.Get(ctx, c.key(kindData, url)).Bytes()
	if err == redis.Nil {
		return time.Time{}, nil, false, nil
	}
	if err != nil {
		return time.Time{}, nil, false, fmt.Errorf("get cache data: %w", err)
	}

	rawTime, err := c.rdb.Get(ctx, c.key(kindTime, url)).Result()
	if err == redis.Nil {
		return time.Time{}, nil, false, nil
	}
	if err != nil {
		return time.Time{}, nil, false, fmt.Errorf("get cache time: %w", err)
	}

	ts, err = time.Parse(time.RFC3339Nano, rawTime)
	if err != nil {
		return time.Time{}, nil, false, fmt.Errorf("parse cache time: %w", err)
	}

	return ts, data, true, nil
}

// EnqueueJob appends url to the FIFO download queue. Duplicates are
// allowed; the worker's Save is idempotent so duplicate entries just
// cause redundant work, not incorrect results.
func (c *Client) EnqueueJob(ctx context.Context, url string) error {
	return c.rdb.RPush(ctx, c.key(kindDownloadQueue, ""), url).Err()
}

// DequeueJob pops the oldest queued URL, or ok=false if the queue is empty.
func (c *Client) DequeueJob(ctx context.Context) (url string, ok bool, err error) {
	url, err = c.rdb.LPop(ctx, c.key(kindDownloadQueue, "")).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("dequeue job: %w", err)
	}
	return url, true, nil
}

// DeleteJob removes every occurrence of url from the queue.
func (c *Client) DeleteJob(ctx context.Context, url string) error {
	return c.rdb.LRem(ctx, c.key(kindDownloadQueue, ""), 0, url).Err()
}

// HasJob reports whether url is queued. It mirrors the source's
// lrem(count=0)-as-probe semantics: calling this REMOVES every matching
// entry as a side effect. Callers that need a steady-state probe must
// re-enqueue if they still want the job present (File Service does: it
// ignores the result and always calls EnqueueJob right after, so the URL
// ends up queued exactly once).
func (c *Client) HasJob(ctx context.Context, url string) (bool, error) {
	removed, err := c.rdb.LRem(ctx, c.key(kindDownloadQueue, ""), 0, url).Result()
	if err != nil {
		return false, fmt.Errorf("has job: %w", err)
	}
	return removed > 0, nil
}

// PutFilekey records a single filekey -> URL binding.
func (c *Client) PutFilekey(ctx context.Context, filekey, url string) error {
	return c.rdb.Set(ctx, c.key(kindFileURL, filekey), url, 0).Err()
}

// FilekeyBinding is one (filekey, url) pair for bulk registration.
type FilekeyBinding struct {
	Filekey string
	URL     string
}

// BulkPutFilekey registers many bindings in a single pipelined round
// trip. This is a performance invariant: index pages routinely carry
// thousands of links and one round trip per link would be untenable.
func (c *Client) BulkPutFilekey(ctx context.Context, bindings []FilekeyBinding) error {
	if len(bindings) == 0 {
		return nil
	}
	pipe := c.rdb.Pipeline()
	for _, b := range bindings {
		pipe.Set(ctx, c.key(kindFileURL, b.Filekey), b.URL, 0)
	}
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("bulk put filekey: %w", err)
	}
	return nil
}

// wireEntry is the on-the-wire shape of a CacheEntry: content travels
// as a plain UTF-8 string rather than the base64 that encoding/json
// would give a []byte field, matching the persisted layout.
type wireEntry struct {
	StatusCode int         `json:"status_code"`
	Content    string      `json:"content"`
	Headers    [][2]string `json:"headers"`
}

// EncodeEntry marshals a CacheEntry to the bytes stored under a
// "data:" key.
func EncodeEntry(entry CacheEntry) ([]byte, error) {
	return sonic.Marshal(wireEntry{
		StatusCode: entry.StatusCode,
		Content:    string(entry.Content),
		Headers:    entry.Headers,
	})
}

// DecodeEntry reverses EncodeEntry.
func DecodeEntry(data []byte) (CacheEntry, error) {
	var w wireEntry
	if err := sonic.Unmarshal(data, &w); err != nil {
		return CacheEntry{}, fmt.Errorf("decode cache entry: %w", err)
	}
	return CacheEntry{StatusCode: w.StatusCode, Content: []byte(w.Content), Headers: w.Headers}, nil
}

// TouchFileURL records the current time as url's last-downloaded
// timestamp, used by the prune collaborator to decide what's stale.
func (c *Client) TouchFileURL(ctx context.Context, url string) error {
	return c.rdb.Set(ctx, c.key(kindFileTime, url), time.Now().UTC().Format(time.RFC3339Nano), 0).Err()
}

// StaleFileURLs scans every registered filekey -> URL binding and
// returns the URLs last touched before cutoff, or never touched at
// all. It is a full keyspace scan and is only meant to be called by
// the prune collaborator, not from request-serving code paths.
func (c *Client) StaleFileURLs(ctx context.Context, cutoff time.Time) ([]string, error) {
	var stale []string
	pattern := c.key(kindFileURL, "") + "*"
	iter := c.rdb.Scan(ctx, 0, pattern, 200).Iterator()
	for iter.Next(ctx) {
		url, err := c.rdb.Get(ctx, iter.Val()).Result()
		if err != nil {
			continue
		}

		rawTime, err := c.rdb.Get(ctx, c.key(kindFileTime, url)).Result()
		if err == redis.Nil {
			stale = append(stale, url)
			continue
		}
		if err != nil {
			continue
		}

		ts, err := time.Parse(time.RFC3339Nano, rawTime)
		if err != nil || ts.Before(cutoff) {
			stale = append(stale, url)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan file urls: %w", err)
	}
	return stale, nil
}

// GetURLForFilekey resolves a filekey back to its upstream URL.
func (c *Client) GetURLForFilekey(ctx context.Context, filekey string) (url string, ok bool, err error) {
	url, err = c.rdb.Get(ctx, c.key(kindFileURL, filekey)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get url for filekey: %w", err)
	}
	return url, true, nil
}
