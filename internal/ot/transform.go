// Package ot implements the OT Core of §4.7: transform(op, pending, ctx) ->
// op', with special handling for compound (decompose/recompose) and batch
// (per-sub-op transform) operations. Directly generalizes the teacher's
// ot.go OTEngine.transformOperation/transformAgainst/transformStrokeUpdates,
// which already chain an op through transforms against concurrent history;
// this replaces the teacher's two-case stroke switch with the full C5/C6
// detector/resolver pipeline.
package ot

import (
	"time"

	"whiteboardcore/internal/conflict"
	"whiteboardcore/internal/model"
	"whiteboardcore/internal/resolve"
	"whiteboardcore/internal/spatial"
)

// Engine wires the conflict registry and resolution engine into the single
// transform entry point the queue dispatcher calls per inbound operation.
type Engine struct {
	conflicts *conflict.Registry
	resolver  *resolve.Engine
	index     *spatial.Index
	now       func() time.Time
}

func New(conflicts *conflict.Registry, resolver *resolve.Engine, index *spatial.Index) *Engine {
	return &Engine{conflicts: conflicts, resolver: resolver, index: index, now: time.Now}
}

// Transform is the §4.7 contract. It never panics; every failure mode is a
// *model.CoreError alongside a best-effort operation, per §7's "partial
// results" propagation policy.
func (e *Engine) Transform(op *model.Operation, pending []*model.Operation, ctx *model.TransformContext) (*model.Operation, []*model.ConflictRecord, *model.CoreError) {
	if ctx.StartTime.IsZero() {
		ctx.StartTime = e.now()
	}

	var result *model.Operation
	var recs []*model.ConflictRecord
	var err *model.CoreError

	switch op.Kind {
	case model.OpCompound:
		result, recs, err = e.transformCompound(op, pending, ctx)
	case model.OpBatch:
		result, recs, err = e.transformBatch(op, pending, ctx)
	default:
		result, recs, err = e.transformAtomic(op, pending, ctx)
	}

	if result != nil {
		result.Metadata.ProcessingTime = ctx.Elapsed().Milliseconds()
	}
	if e.index != nil && result != nil && result.Bounds != nil && err == nil {
		e.index.Add(result.ElementID, *result.Bounds)
	}
	return result, recs, err
}

// transformAtomic implements §4.7(1).
func (e *Engine) transformAtomic(op *model.Operation, pending []*model.Operation, ctx *model.TransformContext) (*model.Operation, []*model.ConflictRecord, *model.CoreError) {
	if ctx.Remaining() <= 0 {
		return op.Clone(), nil, model.NewProcessingTimeout()
	}

	others := excludeSameUser(op, pending)
	recs := e.conflicts.Detect(op, others, ctx.VectorClock)
	if len(recs) == 0 {
		return op.Clone(), nil, nil
	}

	priorities := buildPriorities(append(append([]*model.Operation{}, others...), op))
	resolved, _ := e.resolver.ResolveAll(recs, ctx, priorities)

	result := op.Clone()
	manualPending := false
	for _, rec := range resolved {
		if rec.Resolution == nil {
			continue
		}
		if rec.Resolution.ManualRequired {
			manualPending = true
			continue
		}
		if rec.Resolution.ResultOperation != nil {
			result = applyFieldTransform(result, rec)
		}
	}

	if ctx.Remaining() <= 0 {
		return result, recs, model.NewProcessingTimeout()
	}
	if manualPending {
		unchanged := op.Clone()
		unchanged.Metadata.ManualRequired = true
		return unchanged, recs, nil
	}
	return result, recs, nil
}

// excludeSameUser drops pending operations from the same user: §4.7(1)'s
// "same-user operations never conflict with themselves".
func excludeSameUser(op *model.Operation, pending []*model.Operation) []*model.Operation {
	out := make([]*model.Operation, 0, len(pending))
	for _, p := range pending {
		if p.UserID == op.UserID && p.ID != op.ID {
			continue
		}
		out = append(out, p)
	}
	return out
}

func buildPriorities(ops []*model.Operation) map[string]int {
	p := make(map[string]int, len(ops))
	for _, o := range ops {
		if o == nil {
			continue
		}
		if o.PriorityHint != nil {
			p[o.UserID] = *o.PriorityHint
		} else if _, ok := p[o.UserID]; !ok {
			p[o.UserID] = 0
		}
	}
	return p
}

// applyFieldTransform folds a conflict's chosen result into the running
// operation, per-field, per §4.7(1): position/bounds/style/data/z-index are
// taken from the resolution's result when it targets the same element;
// an ordering conflict whose winner is a delete drops the update entirely
// (the no-op case).
func applyFieldTransform(result *model.Operation, rec *model.ConflictRecord) *model.Operation {
	winner := rec.Resolution.ResultOperation
	if winner == nil || winner.ElementID != result.ElementID {
		return result
	}

	if rec.Type == model.ConflictOrdering && winner.Kind == model.OpDelete && result.Kind != model.OpDelete {
		noop := result.Clone()
		noop.Kind = model.OpNoop
		return noop
	}

	if winner.Position != nil {
		result.Position = winner.Position
	}
	if winner.Bounds != nil {
		result.Bounds = winner.Bounds
	}
	if winner.ZIndex != nil {
		result.ZIndex = winner.ZIndex
	}
	if winner.Data != nil {
		result.Data = winner.Data
	}
	if winner.Style != nil {
		result.Style = winner.Style
	}
	if winner.VectorClock != nil {
		result.VectorClock = winner.VectorClock
	}
	if winner.Lamport > result.Lamport {
		result.Lamport = winner.Lamport
	}
	return result
}
