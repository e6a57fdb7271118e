package engine

import (
	"strconv"
	"sync"
	"time"

	"whiteboardcore/internal/cache"
	"whiteboardcore/internal/conflict"
	"whiteboardcore/internal/model"
	"whiteboardcore/internal/ot"
	"whiteboardcore/internal/resolve"
	"whiteboardcore/internal/spatial"
)

// §5 defaults: max in-flight work and backlog capacity per queue kind.
// These sit alongside config.Config rather than inside it because §6's
// enumerated configuration list never names them — they're a concurrency
// tuning knob of §5, not part of the persisted startup struct.
const (
	opMaxInFlight  = 5
	opMaxBacklog   = 500
	selMaxInFlight = 1
	selMaxBacklog  = 100
)

// board is the OTE/SCE state owned exclusively by one whiteboard partition
// (§3's ownership rules, §5's "partitions do not share state"). The spatial
// index and transform cache belong here, not to the Engine, matching §3.1's
// "The OTE exclusively owns its spatial index and LRU cache."
type board struct {
	mu sync.Mutex

	id           string
	index        *spatial.Index
	transforms   *cache.Cache[string, *model.Operation]
	recentByUser *cache.Cache[string, *model.Operation]
	conflicts    *conflict.Registry
	ot           *ot.Engine
	vectorClock  map[string]int64
	lamport      int64
	version      int64
	pending      []*model.Operation
	elementState map[string]*model.Operation

	opQueue  *boundedQueue
	selQueue *boundedQueue
	health   atomicHealth
}

func newBoard(id string, cacheCapacity int, resolver *resolve.Engine) *board {
	idx := spatial.New(cacheCapacity)
	b := &board{
		id:           id,
		index:        idx,
		transforms:   cache.New[string, *model.Operation](cacheCapacity, operationSizer),
		recentByUser: cache.New[string, *model.Operation](cacheCapacity, operationSizer),
		conflicts:    conflict.New(idx),
		vectorClock:  make(map[string]int64),
		elementState: make(map[string]*model.Operation),
		opQueue:      newBoundedQueue(opMaxInFlight, opMaxBacklog),
		selQueue:     newBoundedQueue(selMaxInFlight, selMaxBacklog),
	}
	b.ot = ot.New(b.conflicts, resolver, idx)
	return b
}

// operationSizer gives the cache.Cache a rough memory estimate per §4.3;
// exact accounting isn't required ("approximate memory estimator").
func operationSizer(op *model.Operation) int64 {
	if op == nil {
		return 0
	}
	size := int64(200)
	size += int64(len(op.Data)) * 64
	size += int64(len(op.Style)) * 32
	return size
}

// pendingSnapshot returns a copy of the pending view safe for passing to
// the OT engine / transaction manager without racing concurrent appends.
func (b *board) pendingSnapshot() []*model.Operation {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*model.Operation(nil), b.pending...)
}

// appendPending records a freshly transformed operation into the pending
// view and advances the board's clocks, per §4.7's "After emission, the op
// is inserted into the pending view" rule.
func (b *board) appendPending(op *model.Operation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, op)
	b.elementState[op.ElementID] = op
	b.version++
	for u, c := range op.VectorClock {
		if c > b.vectorClock[u] {
			b.vectorClock[u] = c
		}
	}
	if op.Lamport > b.lamport {
		b.lamport = op.Lamport
	}
}

func (b *board) transformContext(userID, role string, caps map[string]bool, budget time.Duration) *model.TransformContext {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &model.TransformContext{
		CanvasVersion:    b.version,
		ElementState:     b.elementState,
		VectorClock:      copyClock(b.vectorClock),
		LamportClock:     b.lamport,
		UserID:           userID,
		UserRole:         role,
		Capabilities:     caps,
		StartTime:        time.Now(),
		ProcessingBudget: budget,
	}
}

func copyClock(vc map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(vc))
	for k, v := range vc {
		out[k] = v
	}
	return out
}

func (b *board) queueDepth() int {
	return b.opQueue.depth() + b.selQueue.depth()
}

func (b *board) memoryEstimate() int64 {
	return b.transforms.MemoryEstimate() + b.recentByUser.MemoryEstimate()
}

// lastAcceptedByUser returns the most recent operation accepted from userID
// on this board, used by validation's replay check (§4.4.2: "rejects
// replays older than the last accepted per-user operation").
func (b *board) lastAcceptedByUser(userID string) (*model.Operation, bool) {
	return b.recentByUser.Get(userID)
}

func (b *board) recordAccepted(op *model.Operation) {
	b.recentByUser.Set(op.UserID, op)
}

// memoizedTransform returns a cached transform result for op.ID if the
// board's pending view hasn't advanced since it was memoized, per §4.3's
// "memoized transforms" use of the general transform cache. The cache key
// embeds the canvas version so a stale hit (pending view has since changed)
// is a guaranteed miss rather than returning a wrong answer.
func (b *board) memoizedTransform(opID string, version int64) (*model.Operation, bool) {
	return b.transforms.Get(memoKey(opID, version))
}

func (b *board) memoizeTransform(opID string, version int64, result *model.Operation) {
	b.transforms.Set(memoKey(opID, version), result)
}

func memoKey(opID string, version int64) string {
	return opID + "@" + strconv.FormatInt(version, 10)
}
