// Package memory provides the in-process TTL response cache for the
// ask-about-a-medicine path.
package memory

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/turtacn/MedPlan-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MedPlan-Intelligence/pkg/errors"
)

// ErrCacheFull is returned by Set when MaxEntries live entries are held.
var ErrCacheFull = errors.New(errors.ErrCodeCacheError, "response cache is full")

// Config bounds the cache.
type Config struct {
	TTL             time.Duration
	MaxEntries      int
	CleanupInterval time.Duration
}

// DefaultConfig returns a ten-minute TTL with 1024 entries.
func DefaultConfig() Config {
	return Config{
		TTL:             10 * time.Minute,
		MaxEntries:      1024,
		CleanupInterval: time.Minute,
	}
}

// ResponseCache is a bounded key-value store with time-based expiry only.
// When full, expired entries are purged; if none were expired the write is
// refused rather than evicting a live entry.
type ResponseCache struct {
	store  *gocache.Cache
	cfg    Config
	logger logging.Logger
	mu     sync.Mutex
}

// NewResponseCache builds an empty cache. Non-positive fields fall back to
// DefaultConfig values.
func NewResponseCache(cfg Config, logger logging.Logger) *ResponseCache {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	return &ResponseCache{
		store:  gocache.New(cfg.TTL, cfg.CleanupInterval),
		cfg:    cfg,
		logger: logger.Named("memory_cache"),
	}
}

// Get returns the cached value. A miss is ("", false, nil).
func (c *ResponseCache) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := c.store.Get(key)
	if !ok {
		return "", false, nil
	}
	s, ok := v.(string)
	return s, ok, nil
}

// Set stores value; last write wins. A zero ttl uses the configured TTL.
func (c *ResponseCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.cfg.TTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.store.Get(key); !exists && c.store.ItemCount() >= c.cfg.MaxEntries {
		c.store.DeleteExpired()
		if c.store.ItemCount() >= c.cfg.MaxEntries {
			c.logger.Debug("response cache full", logging.Int("max_entries", c.cfg.MaxEntries))
			return ErrCacheFull
		}
	}
	c.store.Set(key, value, ttl)
	return nil
}

// Delete removes the given keys.
func (c *ResponseCache) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		c.store.Delete(k)
	}
	return nil
}

// Len reports the number of entries, including expired ones not yet purged.
func (c *ResponseCache) Len() int {
	return c.store.ItemCount()
}

// Flush drops every entry.
func (c *ResponseCache) Flush() {
	c.store.Flush()
}
