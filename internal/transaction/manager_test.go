package transaction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"whiteboardcore/internal/conflict"
	"whiteboardcore/internal/config"
	"whiteboardcore/internal/model"
	"whiteboardcore/internal/ot"
	"whiteboardcore/internal/resolve"
	"whiteboardcore/internal/spatial"
	"whiteboardcore/internal/validate"
)

func newTestDeps() (*validate.Validator, *ot.Engine) {
	v := validate.New(config.Default())
	e := ot.New(conflict.New(spatial.New(100)), resolve.New(), spatial.New(100))
	return v, e
}

func TestBeginAppendCommit(t *testing.T) {
	m := New()
	v, e := newTestDeps()

	txID := m.Begin("u1")
	op := &model.Operation{ID: "op-1", Kind: model.OpMove, ElementID: "el-1", UserID: "u1", CreatedAt: time.Now()}
	require.Nil(t, m.Append(txID, op, nil))

	ctx := &model.TransformContext{ProcessingBudget: 500 * time.Millisecond}
	committed, err := m.Commit(txID, v, e, nil, ctx, nil)
	require.Nil(t, err)
	require.Len(t, committed, 1)

	tx, ok := m.Get(txID)
	require.True(t, ok)
	require.Equal(t, model.TxCommitted, tx.State)
}

func TestAppendFailsAfterCommit(t *testing.T) {
	m := New()
	v, e := newTestDeps()

	txID := m.Begin("u1")
	op := &model.Operation{ID: "op-1", Kind: model.OpMove, ElementID: "el-1", UserID: "u1", CreatedAt: time.Now()}
	require.Nil(t, m.Append(txID, op, nil))

	ctx := &model.TransformContext{ProcessingBudget: 500 * time.Millisecond}
	_, err := m.Commit(txID, v, e, nil, ctx, nil)
	require.Nil(t, err)

	err = m.Append(txID, op, nil)
	require.NotNil(t, err)
	require.Equal(t, model.ErrTransactionInvalid, err.Kind)
}

func TestCommitRollsBackOnValidationFailure(t *testing.T) {
	m := New()
	v, e := newTestDeps()

	txID := m.Begin("u1")
	bad := &model.Operation{ID: "op-1", Kind: model.OpMove, ElementID: "", UserID: "u1", CreatedAt: time.Now()}
	require.Nil(t, m.Append(txID, bad, nil))

	ctx := &model.TransformContext{ProcessingBudget: 500 * time.Millisecond}
	_, err := m.Commit(txID, v, e, nil, ctx, nil)
	require.NotNil(t, err)

	tx, ok := m.Get(txID)
	require.True(t, ok)
	require.Equal(t, model.TxRolledBack, tx.State)
}

func TestRollbackOfCommittedIsNoop(t *testing.T) {
	m := New()
	v, e := newTestDeps()

	txID := m.Begin("u1")
	op := &model.Operation{ID: "op-1", Kind: model.OpMove, ElementID: "el-1", UserID: "u1", CreatedAt: time.Now()}
	require.Nil(t, m.Append(txID, op, nil))
	ctx := &model.TransformContext{ProcessingBudget: 500 * time.Millisecond}
	_, err := m.Commit(txID, v, e, nil, ctx, nil)
	require.Nil(t, err)

	require.Nil(t, m.Rollback(txID))
	tx, _ := m.Get(txID)
	require.Equal(t, model.TxCommitted, tx.State)
}

func TestRollbackOfNeverCommitted(t *testing.T) {
	m := New()
	txID := m.Begin("u1")
	require.Nil(t, m.Rollback(txID))
	tx, _ := m.Get(txID)
	require.Equal(t, model.TxRolledBack, tx.State)
}

func TestExpireAgedForceRollsBack(t *testing.T) {
	m := New()
	m.now = func() time.Time { return time.Now() }
	txID := m.Begin("u1")

	tx, _ := m.Get(txID)
	tx.CreatedAt = time.Now().Add(-10 * time.Minute)

	expired := m.ExpireAged(5 * time.Minute)
	require.Contains(t, expired, txID)
	require.Equal(t, model.TxRolledBack, tx.State)
}

func TestSweepRemovesOldTerminalTransactions(t *testing.T) {
	m := New()
	txID := m.Begin("u1")
	require.Nil(t, m.Rollback(txID))
	tx, _ := m.Get(txID)
	tx.CreatedAt = time.Now().Add(-time.Hour)

	removed := m.Sweep(time.Minute)
	require.Equal(t, 1, removed)
	_, ok := m.Get(txID)
	require.False(t, ok)
}
