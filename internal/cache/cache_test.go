package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type key struct {
	feed   string
	format string
}

func (k key) String() string {
	return k.feed + ":" + k.format
}

func TestCacheGetSet(t *testing.T) {
	c := New[key, string](Config{TTL: time.Minute}, key.String, nil)

	_, ok := c.Get(key{"main", "rss"})
	assert.False(t, ok)

	c.Set(key{"main", "rss"}, "<rss/>")
	got, ok := c.Get(key{"main", "rss"})
	assert.True(t, ok)
	assert.Equal(t, "<rss/>", got)
}

func TestCacheInvalidatePrefix(t *testing.T) {
	c := New[key, string](Config{}, key.String, nil)
	c.Set(key{"main", "rss"}, "a")
	c.Set(key{"main", "atom"}, "b")
	c.Set(key{"other", "rss"}, "c")

	c.InvalidatePrefix("main:")
	assert.Equal(t, 1, c.Len())
	_, ok := c.Get(key{"other", "rss"})
	assert.True(t, ok)

	c.Clear()
	assert.Zero(t, c.Len())
}

func TestCacheExpires(t *testing.T) {
	c := New[key, string](Config{TTL: 10 * time.Millisecond}, key.String, nil)
	c.Set(key{"main", "rss"}, "a")

	assert.Eventually(t, func() bool {
		_, ok := c.Get(key{"main", "rss"})
		return !ok
	}, time.Second, 5*time.Millisecond)
}
