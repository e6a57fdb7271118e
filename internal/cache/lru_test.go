package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetGetPromotes(t *testing.T) {
	c := New[string, int](2, nil)
	c.Set("a", 1)
	c.Set("b", 2)

	_, _ = c.Get("a") // touch a, making b the LRU victim
	c.Set("c", 3)     // evicts b

	_, ok := c.Get("b")
	require.False(t, ok)
	_, ok = c.Get("a")
	require.True(t, ok)
	_, ok = c.Get("c")
	require.True(t, ok)
}

func TestCapacityNeverExceeded(t *testing.T) {
	c := New[int, int](5, nil)
	for i := 0; i < 100; i++ {
		c.Set(i, i)
		require.LessOrEqual(t, c.Size(), c.Capacity())
	}
}

func TestDelete(t *testing.T) {
	c := New[string, int](4, nil)
	c.Set("k", 1)
	c.Delete("k")
	_, ok := c.Get("k")
	require.False(t, ok)
	require.Equal(t, 0, c.Size())
}

func TestMemoryEstimateTracksSizer(t *testing.T) {
	c := New[string, string](10, func(v string) int64 { return int64(len(v)) })
	c.Set("a", "hello")
	require.Greater(t, c.MemoryEstimate(), int64(0))
	c.Delete("a")
	require.Equal(t, int64(0), c.MemoryEstimate())
}
