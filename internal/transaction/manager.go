// Package transaction implements the Transaction Manager of §4.8: atomic
// groups of operations with rollback data, monotonic pending -> committed |
// rolled_back states, and replay-through-OT semantics on commit (a
// transaction groups atomicity intent, not serialization order). Grounded in
// the teacher's RoomState version bookkeeping in ot.go, generalized from a
// single running version counter to an explicit transaction record.
package transaction

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"whiteboardcore/internal/model"
	"whiteboardcore/internal/ot"
	"whiteboardcore/internal/validate"
)

// Manager owns every transaction of every whiteboard; the engine keeps a
// single Manager. It holds no knowledge of which user owns which
// whiteboard; that's the engine's job.
type Manager struct {
	mu  sync.Mutex
	txs map[string]*model.Transaction
	now func() time.Time
}

func New() *Manager {
	return &Manager{txs: make(map[string]*model.Transaction), now: time.Now}
}

// Begin opens a new pending transaction for userID and returns its id.
func (m *Manager) Begin(userID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.NewString()
	m.txs[id] = &model.Transaction{
		ID:           id,
		State:        model.TxPending,
		CreatedAt:    m.now(),
		OwnerUserID:  userID,
		RollbackData: make(map[string]interface{}),
	}
	return id
}

// Append adds op (and optional rollback data) to a pending transaction.
// Fails with TRANSACTION_INVALID if the transaction is not pending or
// doesn't exist.
func (m *Manager) Append(txID string, op *model.Operation, rollbackData interface{}) *model.CoreError {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.txs[txID]
	if !ok {
		return model.NewTransactionInvalid("transaction not found")
	}
	if tx.State != model.TxPending {
		return model.NewTransactionInvalid("transaction is not pending")
	}

	tx.Operations = append(tx.Operations, op)
	if rollbackData != nil {
		tx.RollbackData[op.ID] = rollbackData
	}
	return nil
}

// Commit re-validates every queued operation (schema + capability), then
// replays the sequence through the OT engine against the current pending
// view — not the view at append time, per §4.8. On any validation failure
// the transaction is rolled back and the commit fails.
func (m *Manager) Commit(txID string, v *validate.Validator, otEngine *ot.Engine, currentPending []*model.Operation, ctx *model.TransformContext, caps map[string]bool) ([]*model.Operation, *model.CoreError) {
	tx, err := m.get(txID)
	if err != nil {
		return nil, err
	}
	if tx.State != model.TxPending {
		return nil, model.NewTransactionInvalid("transaction is not pending")
	}

	for _, op := range tx.Operations {
		res := v.ValidateOperation(op, caps)
		if len(res.Errors) > 0 {
			m.mu.Lock()
			m.rollbackLocked(tx)
			m.mu.Unlock()
			return nil, model.NewTransactionInvalid("re-validation failed on commit: " + res.Errors[0].Message)
		}
	}

	committed := make([]*model.Operation, 0, len(tx.Operations))
	pendingView := append([]*model.Operation(nil), currentPending...)
	for _, op := range tx.Operations {
		result, _, coreErr := otEngine.Transform(op, pendingView, ctx)
		if coreErr != nil && coreErr.Kind == model.ErrProcessingTimeout {
			m.mu.Lock()
			m.rollbackLocked(tx)
			m.mu.Unlock()
			return nil, coreErr
		}
		committed = append(committed, result)
		pendingView = append(pendingView, result)
	}

	m.mu.Lock()
	tx.State = model.TxCommitted
	m.mu.Unlock()

	return committed, nil
}

// Rollback marks the transaction rolled_back. The stored RollbackData stays
// on the record; Rollback does not apply it. Rollback of an already-committed transaction is a no-op by
// definition (§8); rollback of a pending transaction returns it to
// rolled_back.
func (m *Manager) Rollback(txID string) *model.CoreError {
	tx, err := m.get(txID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx.State == model.TxCommitted {
		return nil
	}
	m.rollbackLocked(tx)
	return nil
}

func (m *Manager) rollbackLocked(tx *model.Transaction) {
	tx.State = model.TxRolledBack
}

func (m *Manager) get(txID string) (*model.Transaction, *model.CoreError) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[txID]
	if !ok {
		return nil, model.NewTransactionInvalid("transaction not found")
	}
	return tx, nil
}

// Get returns a snapshot of a transaction's current state for read-only use
// (e.g., reporting to the caller of commit_tx).
func (m *Manager) Get(txID string) (*model.Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[txID]
	return tx, ok
}

// ExpireAged force-rolls-back every pending transaction older than maxAge,
// as required of the Housekeeper in §4.8, and returns their ids.
func (m *Manager) ExpireAged(maxAge time.Duration) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-maxAge)
	var expired []string
	for id, tx := range m.txs {
		if tx.State == model.TxPending && tx.CreatedAt.Before(cutoff) {
			m.rollbackLocked(tx)
			expired = append(expired, id)
		}
	}
	return expired
}

// Sweep drops terminal transactions older than retention, bounding memory.
func (m *Manager) Sweep(retention time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-retention)
	removed := 0
	for id, tx := range m.txs {
		if tx.State != model.TxPending && tx.CreatedAt.Before(cutoff) {
			delete(m.txs, id)
			removed++
		}
	}
	return removed
}
