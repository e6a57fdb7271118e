package ot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"whiteboardcore/internal/model"
)

func TestTransformCompoundComposesMoveWithPending(t *testing.T) {
	e := newEngine()
	now := time.Now()

	pendingMove := &model.Operation{
		ID: "p1", Kind: model.OpMove, ElementID: "el-1", UserID: "ua", CreatedAt: now,
		Data: map[string]interface{}{"dx": 5.0, "dy": 0.0},
	}

	compound := &model.Operation{
		ID: "c1", Kind: model.OpCompound, ElementID: "el-1", UserID: "ub", CreatedAt: now,
		Data: map[string]interface{}{
			"moves":  map[string]interface{}{"dx": 10.0, "dy": 0.0},
			"resize": map[string]interface{}{"dw": 20.0, "dh": 0.0},
		},
	}

	result, _, err := e.Transform(compound, []*model.Operation{pendingMove}, freshCtx())
	require.Nil(t, err)
	require.NotNil(t, result)

	moves, ok := result.Data["moves"].(map[string]interface{})
	require.True(t, ok)
	require.InDelta(t, 15.0, moves["dx"], 0.001)

	resize, ok := result.Data["resize"].(map[string]interface{})
	require.True(t, ok)
	require.InDelta(t, 20.0, resize["dw"], 0.001)
}

func TestTransformBatchPreservesOrderAndElementIDs(t *testing.T) {
	e := newEngine()
	now := time.Now()

	batch := &model.Operation{
		ID: "batch-1", Kind: model.OpBatch, ElementID: "batch-1", UserID: "u1", CreatedAt: now,
		Data: map[string]interface{}{
			"operations": []interface{}{
				map[string]interface{}{"id": "s1", "kind": "move", "element_id": "el-1"},
				map[string]interface{}{"id": "s2", "kind": "style", "element_id": "el-2"},
			},
		},
	}

	result, _, err := e.Transform(batch, nil, freshCtx())
	require.Nil(t, err)
	require.NotNil(t, result)

	ops, ok := result.Data["operations"].([]interface{})
	require.True(t, ok)
	require.Len(t, ops, 2)

	first := ops[0].(map[string]interface{})
	require.Equal(t, "el-1", first["element_id"])
	second := ops[1].(map[string]interface{})
	require.Equal(t, "el-2", second["element_id"])
}

func TestTransformBatchDropsMalformedSubOp(t *testing.T) {
	e := newEngine()
	now := time.Now()

	batch := &model.Operation{
		ID: "batch-2", Kind: model.OpBatch, ElementID: "batch-2", UserID: "u1", CreatedAt: now,
		Data: map[string]interface{}{
			"operations": []interface{}{
				map[string]interface{}{"id": "s1", "kind": "move", "element_id": "el-1"},
				map[string]interface{}{"kind": "move"}, // missing element_id, dropped
			},
		},
	}

	result, _, err := e.Transform(batch, nil, freshCtx())
	require.Nil(t, err)
	ops, ok := result.Data["operations"].([]interface{})
	require.True(t, ok)
	require.Len(t, ops, 1)
}

func TestTransformBatchRejectsMalformedEnvelope(t *testing.T) {
	e := newEngine()
	batch := &model.Operation{ID: "batch-3", Kind: model.OpBatch, ElementID: "batch-3", UserID: "u1", CreatedAt: time.Now()}

	_, _, err := e.Transform(batch, nil, freshCtx())
	require.NotNil(t, err)
	require.Equal(t, model.ErrValidationFailed, err.Kind)
}
