package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// Cache is a short-TTL cache for fetcher results. Market data goes stale in
// seconds, so the TTL is small; the point is to absorb bursts of identical
// tool calls within a single agent turn, not to serve historical data.
type Cache struct {
	store *bigcache.BigCache
	log   zerolog.Logger
}

// NewCache creates a cache whose entries expire after ttl
func NewCache(ttl time.Duration, log zerolog.Logger) (*Cache, error) {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}

	config := bigcache.DefaultConfig(ttl)
	config.CleanWindow = ttl
	config.Verbose = false

	store, err := bigcache.New(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("failed to create market data cache: %w", err)
	}

	return &Cache{
		store: store,
		log:   log.With().Str("component", "marketdata_cache").Logger(),
	}, nil
}

// get decodes the cached entry for key into v, reporting whether it was found
func (c *Cache) get(key string, v interface{}) bool {
	data, err := c.store.Get(key)
	if err != nil {
		if !errors.Is(err, bigcache.ErrEntryNotFound) {
			c.log.Warn().Err(err).Str("key", key).Msg("Cache read failed")
		}
		return false
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Cache entry undecodable, treating as miss")
		return false
	}
	return true
}

// set stores v under key. Failures are logged and swallowed; the cache is
// best effort.
func (c *Cache) set(key string, v interface{}) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Cache encode failed")
		return
	}
	if err := c.store.Set(key, data); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
}

// Close releases the cache's resources
func (c *Cache) Close() error {
	return c.store.Close()
}
