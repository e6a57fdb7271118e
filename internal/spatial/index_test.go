package spatial

import (
	"testing"

	"github.com/stretchr/testify/require"

	"whiteboardcore/internal/model"
)

func TestAddAndNearby(t *testing.T) {
	idx := New(0)
	idx.Add("e1", model.Bounds{X: 0, Y: 0, W: 10, H: 10})
	idx.Add("e2", model.Bounds{X: 100, Y: 100, W: 10, H: 10})

	ids := idx.Nearby(model.Bounds{X: 0, Y: 0, W: 5, H: 5})
	require.Contains(t, ids, "e1")
	require.NotContains(t, ids, "e2")
}

func TestRemoveDropsStaleBounds(t *testing.T) {
	idx := New(0)
	idx.Add("e1", model.Bounds{X: 0, Y: 0, W: 10, H: 10})
	idx.Remove("e1")

	_, ok := idx.Get("e1")
	require.False(t, ok)
	require.NotContains(t, idx.Nearby(model.Bounds{X: 0, Y: 0, W: 10, H: 10}), "e1")
}

func TestCapacityEviction(t *testing.T) {
	idx := New(2)
	idx.Add("e1", model.Bounds{X: 0, Y: 0, W: 1, H: 1})
	idx.Add("e2", model.Bounds{X: 10, Y: 10, W: 1, H: 1})
	require.Equal(t, 2, idx.Len())

	idx.Add("e3", model.Bounds{X: 20, Y: 20, W: 1, H: 1})
	require.LessOrEqual(t, idx.Len(), 2)

	_, ok := idx.Get("e1")
	require.False(t, ok, "least recently touched entry should have been evicted")
}

func TestUpdateReplacesBounds(t *testing.T) {
	idx := New(0)
	idx.Add("e1", model.Bounds{X: 0, Y: 0, W: 1, H: 1})
	idx.Add("e1", model.Bounds{X: 50, Y: 50, W: 1, H: 1})

	b, ok := idx.Get("e1")
	require.True(t, ok)
	require.Equal(t, 50.0, b.X)
	require.Equal(t, 1, idx.Len())
}
