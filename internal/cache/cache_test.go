package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_GetSetDelete(t *testing.T) {
	c := New(10, time.Minute)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("a", 1)
	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, got)

	c.Delete("a")
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestCache_TTLExpiry(t *testing.T) {
	c := New(10, time.Minute)
	current := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return current }

	c.SetWithTTL("a", "value", 30*time.Second)

	_, ok := c.Get("a")
	assert.True(t, ok)

	current = current.Add(31 * time.Second)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entry is dropped on read")
}

func TestCache_LRUEviction(t *testing.T) {
	c := New(2, time.Minute)

	c.Set("a", 1)
	c.Set("b", 2)

	// Touch a so b becomes the least recently used.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("c", 3)

	_, ok = c.Get("b")
	assert.False(t, ok, "least recently used entry evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestCache_DeletePattern(t *testing.T) {
	c := New(10, time.Minute)

	c.Set("transfer:ref:abc", 1)
	c.Set("transfer:ref:def", 2)
	c.Set("account:xyz", 3)

	removed := c.DeletePattern("transfer:ref:*")
	assert.Equal(t, 2, removed)

	_, ok := c.Get("transfer:ref:abc")
	assert.False(t, ok)
	_, ok = c.Get("account:xyz")
	assert.True(t, ok)
}
