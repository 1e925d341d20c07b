package cache

import (
	"log/slog"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache is a typed view over go-cache. Keys are flattened to strings so that
// related entries can be invalidated by prefix.
type Cache[K comparable, V any] struct {
	cache       *gocache.Cache
	keyToString func(K) string
	logger      *slog.Logger
}

type Config struct {
	TTL time.Duration
}

func New[K comparable, V any](config Config, keyToString func(K) string, logger *slog.Logger) *Cache[K, V] {
	if config.TTL <= 0 {
		config.TTL = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Cache[K, V]{
		cache:       gocache.New(config.TTL, 2*config.TTL),
		keyToString: keyToString,
		logger:      logger,
	}
}

func (c *Cache[K, V]) Get(key K) (V, bool) {
	value, found := c.cache.Get(c.keyToString(key))
	if !found {
		var zero V
		return zero, false
	}

	typed, ok := value.(V)
	return typed, ok
}

func (c *Cache[K, V]) Set(key K, value V) {
	stringKey := c.keyToString(key)
	c.cache.SetDefault(stringKey, value)
	c.logger.Debug("Cache stored", "key", stringKey)
}

// InvalidatePrefix drops every entry whose key starts with prefix.
func (c *Cache[K, V]) InvalidatePrefix(prefix string) {
	for key := range c.cache.Items() {
		if strings.HasPrefix(key, prefix) {
			c.cache.Delete(key)
		}
	}
	c.logger.Debug("Cache invalidated", "prefix", prefix)
}

func (c *Cache[K, V]) Len() int {
	return c.cache.ItemCount()
}

func (c *Cache[K, V]) Clear() {
	c.cache.Flush()
}
