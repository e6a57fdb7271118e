// Package housekeeper implements the periodic cleanup sweep of §4.12:
// expiring selections/ownerships/conflicts/transactions and rate-limit
// entries, and emitting a PerformanceMetrics snapshot. The per-board caches
// are not trimmed by the sweep; they are bounded only by their own LRU
// capacity. Grounded in the teacher's
// recovery.go SessionRecovery.StartCleanupRoutine (a ticker-driven goroutine
// that periodically calls CleanupExpiredSessions), generalized from one
// session table to the full set of bounded stores this core owns.
package housekeeper

import (
	"context"
	"log"
	"sync"
	"time"

	"whiteboardcore/internal/config"
	"whiteboardcore/internal/metrics"
	"whiteboardcore/internal/model"
	"whiteboardcore/internal/selection"
	"whiteboardcore/internal/selresolve"
	"whiteboardcore/internal/transaction"
	"whiteboardcore/internal/validate"
)

// retentionFactor scales the stale-data window into a retention window for
// terminal records (conflicts, transactions, rate-limit entries) that have
// already resolved — §4.12 calls for "terminal conflicts older than a
// retention window" without pinning an exact multiple of max_stale_data_ms,
// so this keeps one knob instead of inventing a second config field.
const retentionFactor = 2

// latencySampleCap and memorySampleCap are the Housekeeper's bounded
// recent-sample buffers, per §4.12's "last 500 / 50 samples" default.
const (
	latencySampleCap = 500
	memorySampleCap  = 50
)

// Sources bundles every component the Housekeeper sweeps. Each is optional;
// a nil source is simply skipped, so callers can run a Housekeeper against a
// partial wiring in tests.
type Sources struct {
	Selections  *selection.Store
	SelConflict *selresolve.Resolver
	Tx          *transaction.Manager
	Validator   *validate.Validator
	Metrics     *metrics.Registry

	// QueueSize reports the current backlog depth for the metrics snapshot
	// (§4.12's PerformanceMetrics.queue_size); supplied by the engine's
	// queue dispatcher since the Housekeeper does not own it.
	QueueSize func() int
	// MemoryBytes reports approximate cache/spatial-index memory; supplied
	// by the engine since caches are owned per-OTE-instance.
	MemoryBytes func() int64
}

// Housekeeper runs the §4.12 sweep on a timer. Run sweeps on its own
// goroutine; Sweep and RecordOperation may also be called from other
// goroutines, since the counters and sample buffers are guarded by mu.
type Housekeeper struct {
	cfg     config.Config
	src     Sources
	boards  func() []string
	mu      sync.Mutex
	samples latencyAndMemorySamples

	opCount       int64
	conflictCount int64
	resolvedCount int64
	windowStart   time.Time
}

type latencyAndMemorySamples struct {
	latenciesMs []float64
	memBytes    []int64
}

// New builds a Housekeeper. boards lists every whiteboard id currently
// tracked, typically selection.Store.BoardIDs composed with whatever OTE
// board registry the engine maintains.
func New(cfg config.Config, src Sources, boards func() []string) *Housekeeper {
	return &Housekeeper{cfg: cfg, src: src, boards: boards, windowStart: time.Now()}
}

// RecordOperation feeds the engine's per-operation telemetry into the next
// metrics snapshot: processing latency and whether a conflict was detected
// and whether it resolved without manual intervention.
func (h *Housekeeper) RecordOperation(latency time.Duration, conflicted, resolvedAutomatically bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.opCount++
	if conflicted {
		h.conflictCount++
		if resolvedAutomatically {
			h.resolvedCount++
		}
	}
	h.samples.latenciesMs = append(h.samples.latenciesMs, float64(latency.Milliseconds()))
	if len(h.samples.latenciesMs) > latencySampleCap {
		h.samples.latenciesMs = h.samples.latenciesMs[len(h.samples.latenciesMs)-latencySampleCap:]
	}
}

// Run blocks, sweeping every config.CleanupInterval until ctx is cancelled.
// Intended to be launched with `go housekeeper.Run(ctx)` from main.
func (h *Housekeeper) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.CleanupInterval)
	defer ticker.Stop()
	log.Printf("🧹 housekeeper started, interval=%s", h.cfg.CleanupInterval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("🧹 housekeeper stopped")
			return
		case <-ticker.C:
			h.Sweep()
		}
	}
}

// Sweep runs one cleanup pass and returns the refreshed PerformanceMetrics
// snapshot. Exported separately from Run so tests and callers needing an
// on-demand sweep (e.g. before get_metrics) don't have to wait on a ticker.
// Sweep runs on the Housekeeper's own ticker goroutine, outside any board's
// opQueue/selQueue, so the sources it touches (selection.Store,
// selresolve.Resolver) guard their own state against concurrent
// SubmitSelection/SubmitOperation calls rather than relying on queue
// serialization here.
func (h *Housekeeper) Sweep() model.PerformanceMetrics {
	retention := h.cfg.MaxStaleData * retentionFactor

	var inactive, evicted, expiredOwn, expiredTx, swept, rateSwept int
	activeUsers := 0

	boards := h.boardIDs()
	for _, id := range boards {
		if h.src.Selections != nil {
			inactive += h.src.Selections.MarkInactive(id, h.cfg.SelectionTimeout)
			evicted += h.src.Selections.EvictStale(id, h.cfg.MaxStaleData)
			expiredOwn += h.src.Selections.EvictExpiredOwnerships(id)
			activeUsers += h.src.Selections.CountActiveUsers(id)
		}
	}

	if h.src.SelConflict != nil {
		h.src.SelConflict.CheckAutoResolve()
		swept += h.src.SelConflict.Sweep(retention)
	}
	if h.src.Tx != nil {
		rolledBack := h.src.Tx.ExpireAged(h.cfg.TransactionMaxAge)
		expiredTx = len(rolledBack)
		h.src.Tx.Sweep(retention)
	}
	if h.src.Validator != nil {
		rateSwept = h.src.Validator.Sweep(retention)
	}

	if inactive+evicted+expiredOwn+expiredTx+swept+rateSwept > 0 {
		log.Printf("🧹 sweep: %d boards, inactive=%d evicted=%d ownerships_expired=%d "+
			"tx_force_rolled_back=%d conflicts_swept=%d rate_entries_swept=%d",
			len(boards), inactive, evicted, expiredOwn, expiredTx, swept, rateSwept)
	}

	return h.snapshot(activeUsers)
}

func (h *Housekeeper) boardIDs() []string {
	if h.boards == nil {
		return nil
	}
	return h.boards()
}

// snapshot computes §4.12's PerformanceMetrics from accumulated counters and
// the bounded sample buffers, then pushes it into Prometheus if wired.
func (h *Housekeeper) snapshot(activeUsers int) model.PerformanceMetrics {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(h.windowStart).Seconds()
	if elapsed <= 0 {
		elapsed = 1
	}

	var avg, mx float64
	for _, v := range h.samples.latenciesMs {
		if v > mx {
			mx = v
		}
		avg += v
	}
	if len(h.samples.latenciesMs) > 0 {
		avg /= float64(len(h.samples.latenciesMs))
	}

	var conflictRate, successRate float64
	if h.opCount > 0 {
		conflictRate = float64(h.conflictCount) / float64(h.opCount)
	}
	if h.conflictCount > 0 {
		successRate = float64(h.resolvedCount) / float64(h.conflictCount)
	}

	var memBytes int64
	if h.src.MemoryBytes != nil {
		memBytes = h.src.MemoryBytes()
		h.samples.memBytes = append(h.samples.memBytes, memBytes)
		if len(h.samples.memBytes) > memorySampleCap {
			h.samples.memBytes = h.samples.memBytes[len(h.samples.memBytes)-memorySampleCap:]
		}
	}

	var queueSize int
	if h.src.QueueSize != nil {
		queueSize = h.src.QueueSize()
	}

	m := model.PerformanceMetrics{
		OperationCount:        h.opCount,
		AvgLatencyMs:          avg,
		MaxLatencyMs:          mx,
		ConflictRate:          conflictRate,
		ResolutionSuccessRate: successRate,
		ThroughputPerSecond:   float64(h.opCount) / elapsed,
		MemoryBytes:           memBytes,
		ActiveUsers:           activeUsers,
		QueueSize:             queueSize,
		UpdatedAt:             now,
	}

	if h.src.Metrics != nil {
		h.src.Metrics.Observe(m)
	}
	return m
}
