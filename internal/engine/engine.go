// Package engine is the top-level wiring the rest of internal/ only
// supplies pieces for: it owns one board per whiteboard, dispatches the seven
// inbound verbs of spec §6 through each board's bounded queue, and
// publishes the outbound events transports fan out. Grounded in the
// teacher's Server type (main.go), which is the same shape of "one struct
// holding every subsystem, dispatching on inbound message type" — this
// generalizes its single global room map into per-board partitions, per
// §5's "partitions do not share state" rule.
package engine

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"whiteboardcore/internal/clock"
	"whiteboardcore/internal/config"
	"whiteboardcore/internal/highlight"
	"whiteboardcore/internal/housekeeper"
	"whiteboardcore/internal/metrics"
	"whiteboardcore/internal/model"
	"whiteboardcore/internal/resolve"
	"whiteboardcore/internal/selection"
	"whiteboardcore/internal/selresolve"
	"whiteboardcore/internal/transaction"
	"whiteboardcore/internal/validate"
)

// Engine is the process-wide coordination core: one Engine serves every
// whiteboard the process is responsible for. Per §9's "global mutable
// state" note, the only mutable state outside a board is the boards map
// itself (guarded by mu) and the cross-board validator/selection tables,
// which are intentionally shared (rate limiting and abuse scoring are
// per-client, not per-board).
type Engine struct {
	cfg config.Config

	mu     sync.Mutex
	boards map[string]*board

	validator *validate.Validator
	resolver  *resolve.Engine
	selStore  *selection.Store
	selResolv *selresolve.Resolver
	txMgr     *transaction.Manager
	hk        *housekeeper.Housekeeper
	metrics   *metrics.Registry

	events chan Event
	now    func() time.Time
}

// New builds an Engine from cfg. If reg is non-nil, Prometheus gauges are
// registered and kept in sync with every Housekeeper sweep.
func New(cfg config.Config, reg *metrics.Registry) *Engine {
	selStore := selection.New(cfg)
	e := &Engine{
		cfg:       cfg,
		boards:    make(map[string]*board),
		validator: validate.New(cfg),
		resolver:  resolve.New(),
		selStore:  selStore,
		selResolv: selresolve.New(cfg, selStore),
		txMgr:     transaction.New(),
		metrics:   reg,
		events:    make(chan Event, 1024),
		now:       time.Now,
	}
	e.hk = housekeeper.New(cfg, housekeeper.Sources{
		Selections:  selStore,
		SelConflict: e.selResolv,
		Tx:          e.txMgr,
		Validator:   e.validator,
		Metrics:     reg,
		QueueSize:   e.totalQueueDepth,
		MemoryBytes: e.totalMemoryEstimate,
	}, e.boardIDs)
	return e
}

// Events exposes the outbound event stream for a transport to subscribe to.
func (e *Engine) Events() <-chan Event { return e.events }

// Housekeeper exposes the sweep loop for main to run on its own goroutine.
func (e *Engine) Housekeeper() *housekeeper.Housekeeper { return e.hk }

func (e *Engine) board(id string) *board {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.boards[id]
	if !ok {
		b = newBoard(id, e.cfg.CacheCapacity, e.resolver)
		e.boards[id] = b
	}
	return b
}

func (e *Engine) boardIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.boards))
	for id := range e.boards {
		ids = append(ids, id)
	}
	return ids
}

func (e *Engine) totalQueueDepth() int {
	e.mu.Lock()
	boards := make([]*board, 0, len(e.boards))
	for _, b := range e.boards {
		boards = append(boards, b)
	}
	e.mu.Unlock()

	total := 0
	for _, b := range boards {
		total += b.queueDepth()
	}
	return total
}

func (e *Engine) totalMemoryEstimate() int64 {
	e.mu.Lock()
	boards := make([]*board, 0, len(e.boards))
	for _, b := range e.boards {
		boards = append(boards, b)
	}
	e.mu.Unlock()

	var total int64
	for _, b := range boards {
		total += b.memoryEstimate()
	}
	return total
}

// SubmitResult is the success payload of submit_operation (§6).
type SubmitResult struct {
	Operation      *model.Operation
	Conflicts      []*model.ConflictRecord
	ProcessingMs   int64
	MemoryBytes    int64
	QueueSize      int
}

// SubmitOperation implements §6's submit_operation verb: validate, detect,
// resolve, transform, commit to the pending view, publish.
func (e *Engine) SubmitOperation(whiteboardID, clientID string, op *model.Operation, caps map[string]bool) (*SubmitResult, *model.CoreError) {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = e.now()
	}

	if cerr := e.validator.CheckRateAndAbuse(clientID); cerr != nil {
		publish(e.events, Event{Kind: EventRateLimited, WhiteboardID: whiteboardID, RetryAfterMs: cerr.RetryAfterMs})
		return nil, cerr
	}
	if res := e.validator.ValidateOperation(op, caps); len(res.Errors) > 0 {
		return nil, res.Errors[0]
	}

	b := e.board(whiteboardID)

	if last, ok := b.lastAcceptedByUser(op.UserID); ok && clock.HappensBefore(op.VectorClock, last.VectorClock) {
		return nil, model.NewValidationError("vector_clock", "replay", "operation is older than the last accepted operation from this user")
	}

	var result *SubmitResult
	var runErr *model.CoreError

	qErr := b.opQueue.Run(priorityOf(op), func() {
		start := e.now()
		ctx := b.transformContext(op.UserID, "", caps, e.cfg.ProcessingTimeBudget)
		pending := b.pendingSnapshot()

		transformed, conflicts, cerr := b.ot.Transform(op, pending, ctx)
		if cerr != nil && cerr.Kind != model.ErrProcessingTimeout {
			runErr = cerr
			return
		}

		if transformed.Metadata.DroppedSubOps > 0 {
			log.Printf("board %s: batch operation %s dropped %d malformed sub-operations", whiteboardID, transformed.ID, transformed.Metadata.DroppedSubOps)
		}

		b.appendPending(transformed)
		b.recordAccepted(transformed)

		elapsed := e.now().Sub(start)
		conflicted := len(conflicts) > 0
		resolvedOK := conflicted && !transformed.Metadata.ManualRequired
		e.hk.RecordOperation(elapsed, conflicted, resolvedOK)
		if e.metrics != nil {
			e.metrics.OperationCount.Inc()
			if conflicted {
				e.metrics.ConflictsDetected.Add(float64(len(conflicts)))
			}
		}

		result = &SubmitResult{
			Operation:    transformed,
			Conflicts:    conflicts,
			ProcessingMs: elapsed.Milliseconds(),
			MemoryBytes:  b.memoryEstimate(),
			QueueSize:    b.queueDepth(),
		}
		runErr = cerr // nil, or PROCESSING_TIMEOUT alongside the best-effort op

		publish(e.events, Event{Kind: EventOperationCommitted, WhiteboardID: whiteboardID, Operation: transformed, Conflicts: conflicts})
	})
	if qErr != nil {
		if e.metrics != nil {
			e.metrics.BackpressureTrips.Inc()
		}
		publish(e.events, Event{Kind: EventBackpressure, WhiteboardID: whiteboardID, Health: b.opQueue.Health()})
		return nil, qErr
	}
	return result, runErr
}

func priorityOf(op *model.Operation) int {
	if op.PriorityHint != nil {
		return *op.PriorityHint
	}
	return 0
}

// SelectionResult is the success payload of submit_selection (§6).
type SelectionResult struct {
	State      *model.SelectionState
	Conflicts  []*model.SelectionConflict
	Ownerships []*model.SelectionOwnership
	LatencyMs  int64
}

// SubmitSelection implements §6's submit_selection verb.
func (e *Engine) SubmitSelection(whiteboardID, clientID string, upd selection.Update) (*SelectionResult, *model.CoreError) {
	if cerr := e.validator.CheckRateAndAbuse(clientID); cerr != nil {
		publish(e.events, Event{Kind: EventRateLimited, WhiteboardID: whiteboardID, RetryAfterMs: cerr.RetryAfterMs})
		return nil, cerr
	}
	if cerr := validate.ValidateElementIDs(upd.ElementIDs); cerr != nil {
		return nil, cerr
	}

	b := e.board(whiteboardID)

	var result *SelectionResult
	var runErr *model.CoreError

	qErr := b.selQueue.Run(upd.Priority, func() {
		start := e.now()
		state, cerr := e.selStore.Submit(whiteboardID, upd)
		if cerr != nil {
			runErr = cerr
			return
		}
		if state == nil {
			// Throttled: buffered, nothing to report yet.
			result = &SelectionResult{LatencyMs: e.now().Sub(start).Milliseconds()}
			return
		}

		conflicts := e.selResolv.OnSelectionAccepted(whiteboardID, state, "")
		var ownerships []*model.SelectionOwnership
		for _, c := range conflicts {
			if o, ok := e.selStore.Ownership(whiteboardID, c.ElementID); ok {
				ownerships = append(ownerships, o)
			}
		}

		result = &SelectionResult{
			State:      state,
			Conflicts:  conflicts,
			Ownerships: ownerships,
			LatencyMs:  e.now().Sub(start).Milliseconds(),
		}

		publish(e.events, Event{Kind: EventSelectionUpdated, WhiteboardID: whiteboardID, Selection: state})
		if len(conflicts) > 0 {
			publish(e.events, Event{Kind: EventSelectionConflicts, WhiteboardID: whiteboardID, SelConflicts: conflicts})
			for _, o := range ownerships {
				publish(e.events, Event{Kind: EventElementOwnershipChanged, WhiteboardID: whiteboardID, Ownership: o})
			}
		}
	})
	if qErr != nil {
		publish(e.events, Event{Kind: EventBackpressure, WhiteboardID: whiteboardID, Health: b.selQueue.Health()})
		return nil, qErr
	}
	return result, runErr
}

// ClearSelection implements §6's clear_selection verb.
func (e *Engine) ClearSelection(whiteboardID, userID, sessionID string) int {
	cleared := 0
	if e.selStore.Clear(whiteboardID, userID) {
		cleared = 1
	}
	publish(e.events, Event{Kind: EventSelectionCleared, WhiteboardID: whiteboardID})
	return cleared
}

// ResolveConflict implements §6's resolve_conflict verb.
func (e *Engine) ResolveConflict(whiteboardID, conflictID, resolverID, resolution string) (*model.SelectionOwnership, *model.CoreError) {
	conflict, cerr := e.selResolv.ResolveByID(whiteboardID, conflictID, resolverID, resolution)
	if cerr != nil {
		return nil, cerr
	}
	publish(e.events, Event{Kind: EventSelectionConflictResolve, WhiteboardID: whiteboardID, SelConflicts: []*model.SelectionConflict{conflict}})
	if conflict.Resolution == model.ResOwnership {
		if o, ok := e.selStore.Ownership(whiteboardID, conflict.ElementID); ok {
			publish(e.events, Event{Kind: EventElementOwnershipChanged, WhiteboardID: whiteboardID, Ownership: o})
			return o, nil
		}
	}
	return nil, nil
}

// BeginTx / AppendTx / CommitTx / RollbackTx implement §6's transaction verbs.
func (e *Engine) BeginTx(userID string) string {
	return e.txMgr.Begin(userID)
}

func (e *Engine) AppendTx(txID string, op *model.Operation, rollbackData interface{}) *model.CoreError {
	return e.txMgr.Append(txID, op, rollbackData)
}

func (e *Engine) CommitTx(whiteboardID, txID string, caps map[string]bool) ([]*model.Operation, *model.CoreError) {
	b := e.board(whiteboardID)
	ctx := b.transformContext("", "", caps, e.cfg.ProcessingTimeBudget)
	committed, cerr := e.txMgr.Commit(txID, e.validator, b.ot, b.pendingSnapshot(), ctx, caps)
	if cerr != nil {
		return nil, cerr
	}
	for _, op := range committed {
		b.appendPending(op)
		publish(e.events, Event{Kind: EventOperationCommitted, WhiteboardID: whiteboardID, Operation: op})
	}
	return committed, nil
}

func (e *Engine) RollbackTx(txID string) *model.CoreError {
	return e.txMgr.Rollback(txID)
}

// StateSnapshot is the response to §6's get_state verb.
type StateSnapshot struct {
	Selections []*model.SelectionState
	Ownerships []*model.SelectionOwnership
	Conflicts  []*model.SelectionConflict
	Highlights []model.SelectionHighlight
}

// GetState implements §6's get_state verb.
func (e *Engine) GetState(whiteboardID string) StateSnapshot {
	selections := e.selStore.Active(whiteboardID, "")
	conflicts := e.selResolv.Active(whiteboardID)
	conflicted := highlight.ConflictedElementSet(conflicts)
	highlights := highlight.ProjectAll(selections, conflicted, highlight.DefaultConfig())

	var ownerships []*model.SelectionOwnership
	seen := make(map[string]bool)
	for _, st := range selections {
		for _, elID := range st.ElementIDs {
			if seen[elID] {
				continue
			}
			seen[elID] = true
			if o, ok := e.selStore.Ownership(whiteboardID, elID); ok {
				ownerships = append(ownerships, o)
			}
		}
	}

	return StateSnapshot{
		Selections: selections,
		Ownerships: ownerships,
		Conflicts:  conflicts,
		Highlights: highlights,
	}
}

// GetMetrics implements §6's get_metrics verb: an on-demand sweep so the
// caller always gets a fresh snapshot rather than waiting for the next
// timer tick.
func (e *Engine) GetMetrics() model.PerformanceMetrics {
	return e.hk.Sweep()
}

// BoardHealth reports the worse of a board's two queue health signals,
// useful for a transport-level /health endpoint.
func (e *Engine) BoardHealth(whiteboardID string) Health {
	b := e.board(whiteboardID)
	opH, selH := b.opQueue.Health(), b.selQueue.Health()
	if opH == HealthCritical || selH == HealthCritical {
		return HealthCritical
	}
	if opH == HealthStressed || selH == HealthStressed {
		return HealthStressed
	}
	return HealthOK
}

// Shutdown logs a final sweep; callers typically pair this with cancelling
// the context passed to Housekeeper.Run.
func (e *Engine) Shutdown() {
	log.Printf("engine shutting down, final sweep: %+v", e.hk.Sweep())
}
