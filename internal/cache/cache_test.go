package cache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCache(t *testing.T) {
	assert := assert.New(t)

	t.Run("stores and returns values", func(t *testing.T) {
		c := New[string, int](3)
		c.Put("a", 1)
		v, ok := c.Get("a")
		assert.True(ok)
		assert.Equal(1, v)

		_, ok = c.Get("b")
		assert.False(ok)
	})

	t.Run("evicts the least recently used at capacity", func(t *testing.T) {
		c := New[string, int](3)
		c.Put("a", 1)
		c.Put("b", 2)
		c.Put("c", 3)
		c.Put("d", 4)

		assert.Equal(3, c.Len())
		_, ok := c.Get("a")
		assert.False(ok)
		for _, key := range []string{"b", "c", "d"} {
			_, ok := c.Get(key)
			assert.True(ok)
		}
	})

	t.Run("a hit counts as a use", func(t *testing.T) {
		c := New[string, int](3)
		c.Put("a", 1)
		c.Put("b", 2)
		c.Put("c", 3)

		_, _ = c.Get("a")
		c.Put("d", 4)

		_, ok := c.Get("a")
		assert.True(ok)
		_, ok = c.Get("b")
		assert.False(ok)
	})

	t.Run("replacing a key does not grow the cache", func(t *testing.T) {
		c := New[string, int](2)
		c.Put("a", 1)
		c.Put("a", 2)
		c.Put("b", 3)

		assert.Equal(2, c.Len())
		v, ok := c.Get("a")
		assert.True(ok)
		assert.Equal(2, v)
	})

	t.Run("keeps the N most recently used of many inserts", func(t *testing.T) {
		c := New[string, int](5)
		for i := 0; i < 50; i++ {
			c.Put(fmt.Sprintf("key-%d", i), i)
		}

		assert.Equal(5, c.Len())
		for i := 45; i < 50; i++ {
			_, ok := c.Get(fmt.Sprintf("key-%d", i))
			assert.True(ok)
		}
	})

	t.Run("remove drops the key", func(t *testing.T) {
		c := New[string, int](2)
		c.Put("a", 1)
		c.Remove("a")
		_, ok := c.Get("a")
		assert.False(ok)
		assert.Equal(0, c.Len())
	})
}
