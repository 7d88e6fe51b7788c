package cache

import (
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache is a typed view over go-cache with expiring entries.
type Cache[K comparable, V any] struct {
	cache       *gocache.Cache
	keyToString func(K) string
	log         *slog.Logger
}

type CacheConfig struct {
	TTL    time.Duration
	Name   string
	Logger *slog.Logger
	// OnEvict runs when an entry expires or is removed.
	OnEvict func(key string)
}

func NewCache[K comparable, V any](config CacheConfig, keyToString func(K) string) *Cache[K, V] {
	if config.TTL == 0 {
		config.TTL = 1 * time.Hour
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Name == "" {
		config.Name = "cache"
	}

	c := &Cache[K, V]{
		cache:       gocache.New(config.TTL, config.TTL/2),
		keyToString: keyToString,
		log:         config.Logger.With("component", "cache", "cache", config.Name),
	}
	if config.OnEvict != nil {
		onEvict := config.OnEvict
		c.cache.OnEvicted(func(key string, _ interface{}) {
			onEvict(key)
		})
	}

	c.log.Debug("Cache initialized", "ttl", config.TTL)
	return c
}

func (c *Cache[K, V]) Get(key K) (V, bool) {
	value, found := c.cache.Get(c.keyToString(key))
	if !found {
		var zero V
		return zero, false
	}

	if typedValue, ok := value.(V); ok {
		return typedValue, true
	}

	var zero V
	return zero, false
}

func (c *Cache[K, V]) Set(key K, value V) {
	stringKey := c.keyToString(key)
	c.cache.Set(stringKey, value, gocache.DefaultExpiration)
	c.log.Debug("Stored entry", "key", stringKey)
}

func (c *Cache[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	stringKey := c.keyToString(key)
	c.cache.Set(stringKey, value, ttl)
	c.log.Debug("Stored entry", "key", stringKey, "ttl", ttl)
}

func (c *Cache[K, V]) InvalidateKey(key K) {
	stringKey := c.keyToString(key)
	c.cache.Delete(stringKey)
	c.log.Debug("Invalidated entry", "key", stringKey)
}

func (c *Cache[K, V]) Len() int {
	return c.cache.ItemCount()
}

func (c *Cache[K, V]) Close() error {
	c.cache.Flush()
	return nil
}

// StringKey is the key function for caches keyed by string.
func StringKey(s string) string {
	return s
}
