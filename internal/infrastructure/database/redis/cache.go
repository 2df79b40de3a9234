package redis

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/MedPlan-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MedPlan-Intelligence/pkg/errors"
)

// DefaultKeyPrefix namespaces ask-path entries.
const DefaultKeyPrefix = "medplan:ask:"

// ResponseCache stores ask-path answers with a time-based expiry. There is no
// LRU eviction; Redis drops keys when their TTL lapses.
type ResponseCache struct {
	client     *Client
	logger     logging.Logger
	prefix     string
	defaultTTL time.Duration
}

// CacheOption customises a ResponseCache.
type CacheOption func(*ResponseCache)

func WithPrefix(prefix string) CacheOption {
	return func(c *ResponseCache) { c.prefix = prefix }
}

func WithDefaultTTL(ttl time.Duration) CacheOption {
	return func(c *ResponseCache) { c.defaultTTL = ttl }
}

// NewResponseCache builds a cache over client.
func NewResponseCache(client *Client, log logging.Logger, opts ...CacheOption) *ResponseCache {
	if log == nil {
		log = logging.NewNopLogger()
	}
	c := &ResponseCache{
		client:     client,
		logger:     log.Named("redis_cache"),
		prefix:     DefaultKeyPrefix,
		defaultTTL: 10 * time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ResponseCache) fullKey(key string) string {
	return c.prefix + key
}

// Get returns the cached value. A miss is (", false, nil).
func (c *ResponseCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, c.fullKey(key)).Result()
	if stderrors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, errors.ErrCodeCacheError, "failed to get from cache")
	}
	return val, true, nil
}

// Set overwrites any existing value; last write wins. A zero ttl uses the
// cache default.
func (c *ResponseCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if err := c.client.Set(ctx, c.fullKey(key), value, ttl).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "failed to write to cache")
	}
	return nil
}

// Delete removes the given keys.
func (c *ResponseCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.fullKey(k)
	}
	if err := c.client.Del(ctx, full...).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "failed to delete from cache")
	}
	return nil
}
