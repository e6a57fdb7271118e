// Package conflict implements the pluggable conflict detector registry of
// §4.5: spatial, temporal, semantic, ordering, dependency, and compound
// detectors, each pure, each returning a *model.ConflictRecord or nil.
// Candidate pruning is grounded in the teacher's SpatialIndex.Query use in
// ot.go's transformOperation, generalized onto internal/spatial.
package conflict

import (
	"fmt"
	"sort"
	"time"

	"whiteboardcore/internal/clock"
	"whiteboardcore/internal/model"
	"whiteboardcore/internal/spatial"
)

// simultaneousWindow is the §4.5 temporal-proximity threshold: operations
// touching the same element within this window are flagged simultaneous.
const simultaneousWindow = 1000 * time.Millisecond

// tightWindow is §4.5's sub-threshold for temporal conflicts severe enough
// to promote from medium to high.
const tightWindow = 100 * time.Millisecond

// Detector inspects one candidate pending operation against the inbound op
// and reports a conflict if it finds one. Detectors never mutate either
// operation.
type Detector func(op *model.Operation, candidate *model.Operation) *model.ConflictRecord

// Registry runs the full detector family against one inbound operation.
type Registry struct {
	detectors []Detector
	index     *spatial.Index
}

// New builds the default detector registry, wired to idx for spatial
// candidate pruning (§4.5's O(log n + k) requirement).
func New(idx *spatial.Index) *Registry {
	return &Registry{
		index: idx,
		detectors: []Detector{
			spatialDetector,
			temporalDetector,
			semanticDetector,
			compoundDetector,
		},
	}
}

// Detect runs every detector for op against its candidate set: spatially
// nearby pending operations, unioned with any pending operation touching the
// same element id (§4.5's candidate-restriction rule). canvasClock is the
// whiteboard's current vector clock, needed by the Dependency detector to
// compare a prerequisite's own clock against canvas state rather than
// merely checking the prerequisite's presence in pending.
func (r *Registry) Detect(op *model.Operation, pending []*model.Operation, canvasClock map[string]int64) []*model.ConflictRecord {
	candidates := r.candidatesFor(op, pending)

	var found []*model.ConflictRecord
	seen := make(map[string]bool)

	if rec := dependencyNotApplied(op, pending); rec != nil {
		key := canonicalKey(rec.Type, op.ID, "missing-dependency")
		seen[key] = true
		rec.ID = "conflict-" + key
		found = append(found, rec)
	}

	if rec := dependencyClockViolation(op, pending, canvasClock); rec != nil {
		key := canonicalKey(rec.Type, op.ID, "stale-dependency")
		seen[key] = true
		rec.ID = "conflict-" + key
		found = append(found, rec)
	}

	for _, cand := range candidates {
		if cand.ID == op.ID {
			continue
		}
		for _, d := range r.detectors {
			rec := d(op, cand)
			if rec == nil {
				continue
			}
			key := canonicalKey(rec.Type, op.ID, cand.ID)
			if seen[key] {
				continue
			}
			seen[key] = true
			rec.ID = "conflict-" + key
			found = append(found, rec)
		}
	}

	sort.SliceStable(found, func(i, j int) bool {
		if found[i].Severity != found[j].Severity {
			return !model.SeverityLess(found[i].Severity, found[j].Severity)
		}
		return found[i].DetectedAt.Before(found[j].DetectedAt)
	})

	return found
}

func canonicalKey(t model.ConflictType, a, b string) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("%s:%s:%s", t, a, b)
}

func (r *Registry) candidatesFor(op *model.Operation, pending []*model.Operation) []*model.Operation {
	byID := make(map[string]*model.Operation, len(pending))
	var nearbyIDs map[string]bool
	if r.index != nil && op.Bounds != nil {
		ids := r.index.Nearby(*op.Bounds)
		nearbyIDs = make(map[string]bool, len(ids))
		for _, id := range ids {
			nearbyIDs[id] = true
		}
	}

	var out []*model.Operation
	for _, p := range pending {
		byID[p.ID] = p
		sameElement := p.ElementID == op.ElementID
		spatiallyNear := nearbyIDs != nil && nearbyIDs[p.ElementID]
		if sameElement || spatiallyNear {
			out = append(out, p)
		}
	}
	return out
}

func newRecord(t model.ConflictType, sev model.Severity, op, cand *model.Operation) *model.ConflictRecord {
	return &model.ConflictRecord{
		Type:             t,
		Severity:         sev,
		Operations:       []*model.Operation{op, cand},
		AffectedElements: uniqueElementIDs(op, cand),
		DetectedAt:       time.Now(),
	}
}

func uniqueElementIDs(ops ...*model.Operation) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, o := range ops {
		if o == nil || seen[o.ElementID] {
			continue
		}
		seen[o.ElementID] = true
		ids = append(ids, o.ElementID)
	}
	return ids
}

// spatialDetector flags overlapping bounds between operations on distinct
// elements that both move, resize, or create geometry.
func spatialDetector(op, cand *model.Operation) *model.ConflictRecord {
	if op.ElementID == cand.ElementID {
		return nil
	}
	if op.Bounds == nil || cand.Bounds == nil {
		return nil
	}
	if !geometryTouching(op.Kind) || !geometryTouching(cand.Kind) {
		return nil
	}
	inter, ok := op.Bounds.Intersection(*cand.Bounds)
	if !ok {
		return nil
	}
	union := op.Bounds.Union(*cand.Bounds)
	pct := 0.0
	if union.Area() > 0 {
		pct = inter.Area() / union.Area()
	}
	sev := model.SeverityMedium
	if pct > 0.5 {
		sev = model.SeverityHigh
	}
	rec := newRecord(model.ConflictSpatial, sev, op, cand)
	rec.SpatialOverlap = &model.SpatialOverlap{Area: inter.Area(), Percentage: pct}
	return rec
}

func geometryTouching(k model.OpKind) bool {
	switch k {
	case model.OpCreate, model.OpMove, model.OpResize, model.OpRotate:
		return true
	}
	return false
}

// temporalDetector flags two operations on the same element arriving within
// the simultaneous window, regardless of causal relationship — this is the
// cheap, always-on half of §4.5's temporal family; ordering handles the
// causality-aware half.
func temporalDetector(op, cand *model.Operation) *model.ConflictRecord {
	if op.ElementID != cand.ElementID {
		return nil
	}
	diff := op.CreatedAt.Sub(cand.CreatedAt)
	if diff < 0 {
		diff = -diff
	}
	if diff > simultaneousWindow {
		return nil
	}
	sev := model.SeverityMedium
	if diff < tightWindow {
		sev = model.SeverityHigh
	}
	rec := newRecord(model.ConflictTemporal, sev, op, cand)
	rec.TemporalProximity = &model.TemporalProximity{
		DiffMs:       diff.Milliseconds(),
		Simultaneous: true,
	}
	return rec
}

// semanticDetector flags incompatible changes to the same element: a delete
// racing any other mutation, or two style/data edits touching the same keys
// with different values.
func semanticDetector(op, cand *model.Operation) *model.ConflictRecord {
	if op.ElementID != cand.ElementID {
		return nil
	}

	if (op.Kind == model.OpDelete) != (cand.Kind == model.OpDelete) {
		rec := newRecord(model.ConflictSemantic, model.SeverityHigh, op, cand)
		rec.Semantic = &model.SemanticConflictDetail{
			IncompatibleChanges: []string{"delete-vs-mutate"},
		}
		return rec
	}

	conflicts := conflictingDataKeys(op, cand)
	if len(conflicts) == 0 {
		return nil
	}
	rec := newRecord(model.ConflictSemantic, model.SeverityHigh, op, cand)
	details := make(map[string]interface{}, len(conflicts))
	for _, k := range conflicts {
		details[k] = [2]interface{}{op.Data[k], cand.Data[k]}
	}
	rec.Semantic = &model.SemanticConflictDetail{
		IncompatibleChanges: conflicts,
		DataConflicts:       details,
	}
	return rec
}

func conflictingDataKeys(op, cand *model.Operation) []string {
	if op.Data == nil || cand.Data == nil {
		return nil
	}
	var keys []string
	for k, v := range op.Data {
		if cv, ok := cand.Data[k]; ok && v != cv {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// dependencyNotApplied flags an operation whose DependsOn references an
// operation id absent from the full pending set — its dependency chain
// references a prerequisite that has not yet been applied, per §4.5's
// Ordering definition. Unlike the pairwise detectors this needs the whole
// pending set rather than one candidate, so it runs once per Detect call
// instead of per pair.
func dependencyNotApplied(op *model.Operation, pending []*model.Operation) *model.ConflictRecord {
	if len(op.DependsOn) == 0 {
		return nil
	}
	present := make(map[string]bool, len(pending))
	for _, p := range pending {
		present[p.ID] = true
	}
	var missing []string
	for _, dep := range op.DependsOn {
		if !present[dep] {
			missing = append(missing, dep)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	rec := newRecord(model.ConflictOrdering, model.SeverityHigh, op, op)
	rec.Operations = []*model.Operation{op}
	rec.AffectedElements = uniqueElementIDs(op)
	rec.Semantic = &model.SemanticConflictDetail{IncompatibleChanges: missing}
	return rec
}

// dependencyClockViolation flags an operation whose DependsOn references an
// operation present in pending but whose own vector clock is not causally
// ≤ the current canvas clock, per §4.5's Dependency definition: the
// prerequisite claims to have happened, but the canvas hasn't caught up to
// it yet. A present-but-stale prerequisite is a different failure mode than
// dependencyNotApplied's absent-prerequisite case.
func dependencyClockViolation(op *model.Operation, pending []*model.Operation, canvasClock map[string]int64) *model.ConflictRecord {
	if len(op.DependsOn) == 0 || len(canvasClock) == 0 {
		return nil
	}
	byID := make(map[string]*model.Operation, len(pending))
	for _, p := range pending {
		byID[p.ID] = p
	}
	var stale []string
	for _, dep := range op.DependsOn {
		prereq, ok := byID[dep]
		if !ok || len(prereq.VectorClock) == 0 {
			continue
		}
		if !clock.HappensBefore(prereq.VectorClock, canvasClock) && !clock.Equal(prereq.VectorClock, canvasClock) {
			stale = append(stale, dep)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	rec := newRecord(model.ConflictDependency, model.SeverityHigh, op, op)
	rec.Operations = []*model.Operation{op}
	rec.AffectedElements = uniqueElementIDs(op)
	rec.Semantic = &model.SemanticConflictDetail{IncompatibleChanges: stale}
	return rec
}

// compoundDetector flags a compound/batch operation whose sub-operations
// list overlaps a candidate already pending against one of its parents.
func compoundDetector(op, cand *model.Operation) *model.ConflictRecord {
	if op.Kind != model.OpCompound && op.Kind != model.OpBatch {
		return nil
	}
	for _, parent := range op.ParentOps {
		if parent == cand.ID {
			rec := newRecord(model.ConflictCompound, model.SeverityMedium, op, cand)
			return rec
		}
	}
	return nil
}
