package clock

import "testing"

import "github.com/stretchr/testify/require"

func TestHappensBefore(t *testing.T) {
	a := VectorClock{"u1": 1, "u2": 0}
	b := VectorClock{"u1": 2, "u2": 0}
	require.True(t, HappensBefore(a, b))
	require.False(t, HappensBefore(b, a))
}

func TestConcurrent(t *testing.T) {
	a := VectorClock{"u1": 2, "u2": 0}
	b := VectorClock{"u1": 0, "u2": 2}
	require.True(t, Concurrent(a, b))
	require.False(t, HappensBefore(a, b))
	require.False(t, HappensBefore(b, a))
}

func TestMergeIsDominant(t *testing.T) {
	a := VectorClock{"u1": 3, "u2": 1}
	b := VectorClock{"u1": 1, "u2": 4}
	m := Merge(a, b)
	require.True(t, HappensBefore(a, m) || Equal(a, m))
	require.True(t, HappensBefore(b, m) || Equal(b, m))
	require.Equal(t, int64(3), m["u1"])
	require.Equal(t, int64(4), m["u2"])
}

func TestValid(t *testing.T) {
	require.True(t, Valid(VectorClock{"u1": 0, "u2": 5}))
	require.False(t, Valid(VectorClock{"u1": -1}))
}

func TestLamportMerge(t *testing.T) {
	var l Lamport = 5
	require.EqualValues(t, 8, l.Merge(7))
	require.EqualValues(t, 6, l.Merge(2))
}

func TestTieOrdering(t *testing.T) {
	a := Tie{Lamport: 1, Timestamp: 100, UserID: "alice"}
	b := Tie{Lamport: 1, Timestamp: 100, UserID: "bob"}
	require.True(t, a.Less(b))
	require.False(t, b.Less(a))
}

func TestHappensBeforeEmptyClocks(t *testing.T) {
	require.False(t, HappensBefore(VectorClock{}, VectorClock{}))
	require.True(t, Concurrent(VectorClock{}, VectorClock{}))
}
