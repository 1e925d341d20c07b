package feed

import (
	"log/slog"
	"time"

	"freebooter/internal/cache"
)

const (
	TypeRSS  = "rss"
	TypeAtom = "atom"
	TypeJSON = "json"
)

type CacheKey struct {
	Feed string
	Type string
}

func (k CacheKey) String() string {
	return k.Feed + ":" + k.Type
}

func newCache(ttl time.Duration, logger *slog.Logger) *cache.Cache[CacheKey, string] {
	return cache.New[CacheKey, string](cache.Config{TTL: ttl}, CacheKey.String, logger)
}
