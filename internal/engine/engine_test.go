package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"whiteboardcore/internal/config"
	"whiteboardcore/internal/model"
	"whiteboardcore/internal/selection"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.SelectionThrottle = 0
	return cfg
}

func TestSubmitOperationUnchangedAgainstEmptyPending(t *testing.T) {
	e := New(testConfig(), nil)

	op := &model.Operation{
		Kind: model.OpMove, ElementID: "el-1", UserID: "u1",
		Bounds: &model.Bounds{X: 10, Y: 10, W: 5, H: 5},
		VectorClock: map[string]int64{"u1": 1}, Lamport: 1,
	}
	res, err := e.SubmitOperation("board-1", "client-1", op, nil)
	require.Nil(t, err)
	require.NotNil(t, res)
	require.Empty(t, res.Conflicts)
	require.Equal(t, "el-1", res.Operation.ElementID)
}

func TestSubmitOperationDetectsSpatialConflict(t *testing.T) {
	e := New(testConfig(), nil)

	first := &model.Operation{
		Kind: model.OpCreate, ElementID: "rect-1", UserID: "alice",
		Bounds: &model.Bounds{X: 100, Y: 100, W: 50, H: 50},
		VectorClock: map[string]int64{"alice": 1}, Lamport: 1,
	}
	_, err := e.SubmitOperation("board-1", "client-a", first, nil)
	require.Nil(t, err)

	second := &model.Operation{
		Kind: model.OpCreate, ElementID: "rect-2", UserID: "bob",
		Bounds: &model.Bounds{X: 120, Y: 120, W: 50, H: 50},
		VectorClock: map[string]int64{"bob": 1}, Lamport: 2,
	}
	res, err := e.SubmitOperation("board-1", "client-b", second, nil)
	require.Nil(t, err)
	require.NotEmpty(t, res.Conflicts)
}

func TestSubmitSelectionAndGetState(t *testing.T) {
	e := New(testConfig(), nil)

	upd := selection.Update{
		UserID: "u1", UserName: "Alice", ElementIDs: []string{"el-1"}, Timestamp: time.Now(),
	}
	res, err := e.SubmitSelection("board-1", "client-1", upd)
	require.Nil(t, err)
	require.NotNil(t, res.State)

	snap := e.GetState("board-1")
	require.Len(t, snap.Selections, 1)
	require.Len(t, snap.Highlights, 1)
}

func TestSubmitSelectionConflictGrantsOwnership(t *testing.T) {
	e := New(testConfig(), nil)

	_, err := e.SubmitSelection("board-1", "client-a", selection.Update{
		UserID: "alice", Priority: 5, ElementIDs: []string{"el-1"}, Timestamp: time.Now(),
	})
	require.Nil(t, err)

	res, err := e.SubmitSelection("board-1", "client-b", selection.Update{
		UserID: "bob", Priority: 1, ElementIDs: []string{"el-1"}, Timestamp: time.Now(),
	})
	require.Nil(t, err)
	require.Len(t, res.Conflicts, 1)
	require.Len(t, res.Ownerships, 1)
	require.Equal(t, "alice", res.Ownerships[0].OwnerID)
}

func TestTransactionLifecycle(t *testing.T) {
	e := New(testConfig(), nil)

	txID := e.BeginTx("u1")
	op := &model.Operation{ID: "op-1", Kind: model.OpMove, ElementID: "el-1", UserID: "u1", CreatedAt: time.Now()}
	require.Nil(t, e.AppendTx(txID, op, nil))

	committed, err := e.CommitTx("board-1", txID, nil)
	require.Nil(t, err)
	require.Len(t, committed, 1)
}

func TestBackpressureRejectsWhenBacklogSaturated(t *testing.T) {
	b := newBoard("board-1", 100, nil)
	b.opQueue = newBoundedQueue(0, 0)

	err := b.opQueue.Run(0, func() {})
	require.NotNil(t, err)
	require.Equal(t, model.ErrQueueBackpressure, err.Kind)
}
