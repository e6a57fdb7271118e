package housekeeper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"whiteboardcore/internal/config"
	"whiteboardcore/internal/selection"
	"whiteboardcore/internal/selresolve"
	"whiteboardcore/internal/transaction"
	"whiteboardcore/internal/validate"
)

func TestSweepEvictsStaleSelectionsAndAgedTransactions(t *testing.T) {
	cfg := config.Default()
	cfg.SelectionTimeout = time.Millisecond
	cfg.MaxStaleData = time.Millisecond
	cfg.TransactionMaxAge = time.Millisecond

	store := selection.New(cfg)
	resolver := selresolve.New(cfg, store)
	txMgr := transaction.New()
	v := validate.New(cfg)

	_, err := store.Submit("board-1", selection.Update{
		UserID: "u1", ElementIDs: []string{"el-1"}, Timestamp: time.Now(),
	})
	require.Nil(t, err)

	txMgr.Begin("u1")

	time.Sleep(5 * time.Millisecond)

	h := New(cfg, Sources{
		Selections:  store,
		SelConflict: resolver,
		Tx:          txMgr,
		Validator:   v,
	}, store.BoardIDs)

	snap := h.Sweep()
	require.Equal(t, 0, store.CountActiveUsers("board-1"))
	require.NotZero(t, snap.UpdatedAt)
}

func TestRecordOperationFeedsMetrics(t *testing.T) {
	cfg := config.Default()
	h := New(cfg, Sources{}, func() []string { return nil })

	h.RecordOperation(10*time.Millisecond, false, false)
	h.RecordOperation(20*time.Millisecond, true, true)
	h.RecordOperation(30*time.Millisecond, true, false)

	snap := h.Sweep()
	require.Equal(t, int64(3), snap.OperationCount)
	require.InDelta(t, 2.0/3.0, snap.ConflictRate, 0.001)
	require.InDelta(t, 0.5, snap.ResolutionSuccessRate, 0.001)
}
