package ot

import (
	"encoding/json"

	"whiteboardcore/internal/model"
)

// moveSub is the `move` sub-operation payload: a position delta, not an
// absolute position, so concurrent moves on the same element compose by
// addition (the classic OT move-transform, per §4.7's move example).
type moveSub struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

// resizeSub is the `resize` sub-operation payload: a size delta.
type resizeSub struct {
	DW float64 `json:"dw"`
	DH float64 `json:"dh"`
}

// compoundPayload is the decoded shape of a compound operation's Data field.
type compoundPayload struct {
	Move     *moveSub   `json:"moves,omitempty"`
	Resize   *resizeSub `json:"resize,omitempty"`
	Rotation *float64   `json:"rotation,omitempty"`
}

func decodeCompound(data map[string]interface{}) (compoundPayload, error) {
	var p compoundPayload
	raw, err := json.Marshal(data)
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, err
	}
	return p, nil
}

func (p compoundPayload) encode() map[string]interface{} {
	raw, _ := json.Marshal(p)
	out := make(map[string]interface{})
	_ = json.Unmarshal(raw, &out)
	return out
}

// transformCompound implements §4.7(2): decompose into atomic sub-operations
// inheriting the compound's element id and metadata and transform each
// against pending for conflict detection. The recomposed payload is the
// decoded one, with the move delta summed against concurrent pending moves
// on the same element; the transformed sub-operations themselves contribute
// only their conflict records, not their fields.
func (e *Engine) transformCompound(op *model.Operation, pending []*model.Operation, ctx *model.TransformContext) (*model.Operation, []*model.ConflictRecord, *model.CoreError) {
	payload, decodeErr := decodeCompound(op.Data)
	if decodeErr != nil {
		return op.Clone(), nil, model.NewValidationError("data", "malformed_compound", decodeErr.Error())
	}

	var allConflicts []*model.ConflictRecord
	subConflict := false

	if payload.Move != nil {
		delta := *payload.Move
		for _, p := range pending {
			if p.ElementID != op.ElementID || p.Kind != model.OpMove || p.UserID == op.UserID {
				continue
			}
			if sub, ok := decodeMoveDelta(p.Data); ok {
				delta.DX += sub.DX
				delta.DY += sub.DY
			}
		}
		payload.Move = &delta

		subOp := atomicSubOp(op, model.OpMove, map[string]interface{}{"dx": delta.DX, "dy": delta.DY})
		_, recs, err := e.transformAtomic(subOp, pending, ctx)
		allConflicts = append(allConflicts, recs...)
		if err != nil && err.Kind == model.ErrProcessingTimeout {
			return op.Clone(), allConflicts, err
		}
		if len(recs) > 0 {
			subConflict = true
		}
	}

	if payload.Resize != nil {
		subOp := atomicSubOp(op, model.OpResize, map[string]interface{}{"dw": payload.Resize.DW, "dh": payload.Resize.DH})
		_, recs, err := e.transformAtomic(subOp, pending, ctx)
		allConflicts = append(allConflicts, recs...)
		if err != nil && err.Kind == model.ErrProcessingTimeout {
			return op.Clone(), allConflicts, err
		}
		if len(recs) > 0 {
			subConflict = true
		}
	}

	if payload.Rotation != nil {
		subOp := atomicSubOp(op, model.OpRotate, map[string]interface{}{"rotation": *payload.Rotation})
		_, recs, err := e.transformAtomic(subOp, pending, ctx)
		allConflicts = append(allConflicts, recs...)
		if err != nil && err.Kind == model.ErrProcessingTimeout {
			return op.Clone(), allConflicts, err
		}
		if len(recs) > 0 {
			subConflict = true
		}
	}

	result := op.Clone()
	result.Data = payload.encode()

	if subConflict {
		allConflicts = append(allConflicts, &model.ConflictRecord{
			Type:             model.ConflictCompound,
			Severity:         model.SeverityMedium,
			Operations:       []*model.Operation{op},
			AffectedElements: []string{op.ElementID},
			DetectedAt:       ctx.StartTime,
		})
	}

	return result, allConflicts, nil
}

func decodeMoveDelta(data map[string]interface{}) (moveSub, bool) {
	dx, okX := data["dx"].(float64)
	dy, okY := data["dy"].(float64)
	if !okX || !okY {
		return moveSub{}, false
	}
	return moveSub{DX: dx, DY: dy}, true
}

func atomicSubOp(parent *model.Operation, kind model.OpKind, data map[string]interface{}) *model.Operation {
	sub := parent.Clone()
	sub.Kind = kind
	sub.Data = data
	sub.ParentOps = append(append([]string(nil), parent.ParentOps...), parent.ID)
	return sub
}

// transformBatch implements §4.7(3): data.operations is a list of
// independent sub-operations spanning distinct element ids; each transforms
// independently, order preserved. A sub-op that fails validation-shaped
// decoding is dropped rather than failing the whole batch, per §4.7's
// failure-mode note; the count is surfaced on the result's
// Metadata.DroppedSubOps so the caller can warn on it.
func (e *Engine) transformBatch(op *model.Operation, pending []*model.Operation, ctx *model.TransformContext) (*model.Operation, []*model.ConflictRecord, *model.CoreError) {
	raw, ok := op.Data["operations"].([]interface{})
	if !ok {
		return op.Clone(), nil, model.NewValidationError("data.operations", "malformed_batch", "batch operations field missing or wrong type")
	}

	var transformed []interface{}
	var allConflicts []*model.ConflictRecord
	dropped := 0

	for _, item := range raw {
		subMap, ok := item.(map[string]interface{})
		if !ok {
			dropped++
			continue
		}
		subOp := decodeBatchSubOp(op, subMap)
		if subOp == nil {
			dropped++
			continue
		}

		result, recs, err := e.transformAtomic(subOp, pending, ctx)
		allConflicts = append(allConflicts, recs...)
		if err != nil && err.Kind == model.ErrProcessingTimeout {
			return op.Clone(), allConflicts, err
		}
		transformed = append(transformed, encodeBatchSubOp(result))
	}

	result := op.Clone()
	newData := make(map[string]interface{}, len(op.Data))
	for k, v := range op.Data {
		newData[k] = v
	}
	newData["operations"] = transformed
	result.Data = newData
	result.Metadata.DroppedSubOps = dropped

	return result, allConflicts, nil
}

func decodeBatchSubOp(parent *model.Operation, m map[string]interface{}) *model.Operation {
	elementID, ok := m["element_id"].(string)
	if !ok || elementID == "" {
		return nil
	}
	kindStr, _ := m["kind"].(string)
	sub := &model.Operation{
		ID:          stringOr(m["id"], parent.ID+"-sub"),
		Kind:        model.OpKind(kindStr),
		ElementID:   elementID,
		UserID:      parent.UserID,
		CreatedAt:   parent.CreatedAt,
		VectorClock: parent.VectorClock,
		Lamport:     parent.Lamport,
	}
	if data, ok := m["data"].(map[string]interface{}); ok {
		sub.Data = data
	}
	return sub
}

func encodeBatchSubOp(op *model.Operation) map[string]interface{} {
	return map[string]interface{}{
		"id":         op.ID,
		"kind":       string(op.Kind),
		"element_id": op.ElementID,
		"data":       op.Data,
	}
}

func stringOr(v interface{}, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}
