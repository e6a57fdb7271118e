// Package resolve implements the Resolution Engine of §4.6: a strategy
// table keyed by conflict type/severity, with last-write-wins, priority-user,
// merge, automatic, and manual strategies. Grounded in the teacher's
// ot.go transformAgainst, which already picks a winner by comparing
// Lamport/timestamp pairs; this generalizes that into a named strategy set.
package resolve

import (
	"sort"
	"time"

	"whiteboardcore/internal/clock"
	"whiteboardcore/internal/model"
)

const (
	StrategyLastWriteWins = "last-write-wins"
	StrategyPriorityUser  = "priority-user"
	StrategyMerge         = "merge"
	StrategyAutomatic     = "automatic"
	StrategyManual        = "manual"
)

// remainingBudgetFloor is how close to the processing budget the engine will
// get before it starts skipping remaining conflicts (§4.6).
const remainingBudgetFloor = 100 * time.Millisecond

// Engine applies the resolution strategy table. It holds no mutable state of
// its own; priorities are supplied per call since they come from the SCE's
// selection priorities, not a resolve-owned table.
type Engine struct {
	now func() time.Time
}

func New() *Engine {
	return &Engine{now: time.Now}
}

// ResolveAll resolves every conflict in records against the 500ms processing
// budget tracked by ctx, skipping (and logging via the returned skipped
// count) any conflicts once remaining budget drops under 100ms.
func (e *Engine) ResolveAll(records []*model.ConflictRecord, ctx *model.TransformContext, priorities map[string]int) (resolved []*model.ConflictRecord, skipped int) {
	for _, rec := range records {
		if ctx != nil && ctx.Remaining() < remainingBudgetFloor {
			skipped++
			continue
		}
		e.Resolve(rec, priorities)
		resolved = append(resolved, rec)
	}
	return resolved, skipped
}

// Resolve selects a strategy for rec per the §4.6 table, applies it, and
// mutates rec in place: Strategy is always set; ResolvedAt/Resolution are
// set only when the strategy produces a non-manual outcome.
func (e *Engine) Resolve(rec *model.ConflictRecord, priorities map[string]int) {
	strategy := selectStrategy(rec)
	rec.Strategy = strategy

	var res *model.Resolution
	switch strategy {
	case StrategyLastWriteWins:
		res = lastWriteWins(rec)
	case StrategyPriorityUser:
		res = priorityUser(rec, priorities)
	case StrategyMerge:
		res = merge(rec)
	case StrategyAutomatic:
		res = automatic(rec, priorities)
	default:
		res = manual(rec)
	}

	res.Confidence = clampConfidence(confidenceFor(rec, strategy, res))
	rec.Resolution = res
	if !res.ManualRequired {
		now := e.now()
		rec.ResolvedAt = &now
	}
}

// selectStrategy implements the §4.6 strategy-selection table.
func selectStrategy(rec *model.ConflictRecord) string {
	switch rec.Type {
	case model.ConflictSpatial:
		if rec.Severity == model.SeverityHigh || rec.Severity == model.SeverityCritical {
			return StrategyManual
		}
		return StrategyAutomatic
	case model.ConflictTemporal:
		return StrategyLastWriteWins
	case model.ConflictSemantic:
		if rec.Severity == model.SeverityCritical {
			return StrategyManual
		}
		return StrategyMerge
	default:
		return StrategyAutomatic
	}
}

// automatic dispatches per conflict type, per §4.6: spatial -> LWW,
// temporal -> priority-user, semantic -> merge, else -> LWW.
func automatic(rec *model.ConflictRecord, priorities map[string]int) *model.Resolution {
	switch rec.Type {
	case model.ConflictSpatial:
		return lastWriteWins(rec)
	case model.ConflictTemporal:
		return priorityUser(rec, priorities)
	case model.ConflictSemantic:
		return merge(rec)
	default:
		return lastWriteWins(rec)
	}
}

func lastWriteWins(rec *model.ConflictRecord) *model.Resolution {
	winner := latestOp(rec.Operations)
	if winner == nil {
		return &model.Resolution{Strategy: StrategyLastWriteWins, ManualRequired: true}
	}
	return &model.Resolution{Strategy: StrategyLastWriteWins, ResultOperation: winner}
}

// latestOp picks the operation with the greatest (lamport, timestamp,
// user_id) triple, per §4.1's tie-break rule.
func latestOp(ops []*model.Operation) *model.Operation {
	if len(ops) == 0 {
		return nil
	}
	best := ops[0]
	bestTie := clock.Tie{Lamport: best.Lamport, Timestamp: best.CreatedAt.UnixNano(), UserID: best.UserID}
	for _, o := range ops[1:] {
		t := clock.Tie{Lamport: o.Lamport, Timestamp: o.CreatedAt.UnixNano(), UserID: o.UserID}
		if bestTie.Less(t) {
			best = o
			bestTie = t
		}
	}
	return best
}

// priorityUser picks by the priorities table, falling back to lexicographic
// user id on a tie or on missing priority entries.
func priorityUser(rec *model.ConflictRecord, priorities map[string]int) *model.Resolution {
	ops := rec.Operations
	if len(ops) == 0 {
		return &model.Resolution{Strategy: StrategyPriorityUser, ManualRequired: true}
	}
	sorted := append([]*model.Operation(nil), ops...)
	sort.SliceStable(sorted, func(i, j int) bool {
		pi, pj := priorityOf(sorted[i].UserID, priorities), priorityOf(sorted[j].UserID, priorities)
		if pi != pj {
			return pi > pj
		}
		return sorted[i].UserID < sorted[j].UserID
	})
	return &model.Resolution{Strategy: StrategyPriorityUser, ResultOperation: sorted[0]}
}

func priorityOf(userID string, priorities map[string]int) int {
	if priorities == nil {
		return 0
	}
	return priorities[userID]
}

// merge is only valid for exactly two operations; anything else falls back
// to manual per §4.6's "only valid when exactly two operations involved".
func merge(rec *model.ConflictRecord) *model.Resolution {
	if len(rec.Operations) != 2 {
		return &model.Resolution{Strategy: StrategyMerge, ManualRequired: true}
	}
	// rec.Operations[0] is always the incoming op per the detector registry's
	// (op, candidate) pairing convention.
	incoming, existing := rec.Operations[0], rec.Operations[1]

	// A delete dominates any other field-level merge: overlaying data/style
	// onto a deleted element would silently resurrect it.
	if incoming.Kind == model.OpDelete || existing.Kind == model.OpDelete {
		result := existing.Clone()
		result.ID = ""
		result.Kind = model.OpDelete
		result.Lamport = maxInt64(existing.Lamport, incoming.Lamport) + 1
		result.VectorClock = clock.Merge(existing.VectorClock, incoming.VectorClock)
		result.UserID = incoming.UserID
		result.CreatedAt = time.Now()
		return &model.Resolution{Strategy: StrategyMerge, ResultOperation: result}
	}

	result := existing.Clone()
	result.ID = ""
	result.Data = overlay(existing.Data, incoming.Data)
	result.Style = overlayStyle(existing.Style, incoming.Style)
	if incoming.Position != nil {
		result.Position = incoming.Position
	} else {
		result.Position = existing.Position
	}
	if incoming.Bounds != nil {
		result.Bounds = incoming.Bounds
	} else {
		result.Bounds = existing.Bounds
	}
	result.Lamport = maxInt64(existing.Lamport, incoming.Lamport) + 1
	result.VectorClock = clock.Merge(existing.VectorClock, incoming.VectorClock)
	result.UserID = incoming.UserID
	result.CreatedAt = time.Now()

	return &model.Resolution{Strategy: StrategyMerge, ResultOperation: result}
}

func overlay(base, over map[string]interface{}) map[string]interface{} {
	if base == nil && over == nil {
		return nil
	}
	out := make(map[string]interface{}, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

func overlayStyle(base, over map[string]string) map[string]string {
	if base == nil && over == nil {
		return nil
	}
	out := make(map[string]string, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

func manual(rec *model.ConflictRecord) *model.Resolution {
	return &model.Resolution{Strategy: StrategyManual, ManualRequired: true}
}

// confidenceFor implements the §4.6 confidence formula: base 0.5, +0.3 for
// temporal automatic, -0.2 for semantic conflicts listing > 2 incompatible
// changes, +0.2 for a successful merge.
func confidenceFor(rec *model.ConflictRecord, strategy string, res *model.Resolution) float64 {
	score := 0.5
	if rec.Type == model.ConflictTemporal && strategy != StrategyManual {
		score += 0.3
	}
	if rec.Type == model.ConflictSemantic && rec.Semantic != nil && len(rec.Semantic.IncompatibleChanges) > 2 {
		score -= 0.2
	}
	if strategy == StrategyMerge && !res.ManualRequired {
		score += 0.2
	}
	return score
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
