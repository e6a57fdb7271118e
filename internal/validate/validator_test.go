package validate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"whiteboardcore/internal/config"
	"whiteboardcore/internal/model"
)

func newOp() *model.Operation {
	return &model.Operation{
		ID:        "op-1",
		Kind:      model.OpMove,
		ElementID: "el-1",
		UserID:    "u1",
		CreatedAt: time.Now(),
	}
}

func TestValidateOperationAcceptsWellFormedOp(t *testing.T) {
	v := New(config.Default())
	res := v.ValidateOperation(newOp(), nil)
	require.True(t, res.ok())
}

func TestValidateOperationRejectsMissingElementID(t *testing.T) {
	v := New(config.Default())
	op := newOp()
	op.ElementID = ""
	res := v.ValidateOperation(op, nil)
	require.False(t, res.ok())
	require.Equal(t, model.ErrValidationFailed, res.Errors[0].Kind)
}

func TestValidateOperationRejectsUnknownKind(t *testing.T) {
	v := New(config.Default())
	op := newOp()
	op.Kind = model.OpKind("teleport")
	res := v.ValidateOperation(op, nil)
	require.False(t, res.ok())
}

func TestValidateOperationRejectsOutOfRangeBounds(t *testing.T) {
	v := New(config.Default())
	op := newOp()
	op.Bounds = &model.Bounds{X: 1e9, Y: 0, W: 10, H: 10}
	res := v.ValidateOperation(op, nil)
	require.False(t, res.ok())
}

func TestValidateOperationRejectsStaleTimestamp(t *testing.T) {
	v := New(config.Default())
	op := newOp()
	op.CreatedAt = time.Now().Add(-5 * time.Minute)
	res := v.ValidateOperation(op, nil)
	require.False(t, res.ok())
}

func TestValidateOperationRejectsForbiddenCapability(t *testing.T) {
	v := New(config.Default())
	op := newOp()
	res := v.ValidateOperation(op, map[string]bool{"create": true})
	require.False(t, res.ok())
}

func TestValidateOperationFlagsInjectionSigils(t *testing.T) {
	v := New(config.Default())
	op := newOp()
	op.Data = map[string]interface{}{"label": "<script>alert(1)</script>"}
	res := v.ValidateOperation(op, nil)
	require.False(t, res.ok())
}

func TestValidateOperationTruncatesOversizedStrings(t *testing.T) {
	v := New(config.Default())
	op := newOp()
	long := make([]byte, maxPayloadString+50)
	for i := range long {
		long[i] = 'a'
	}
	op.Data = map[string]interface{}{"label": string(long)}
	res := v.ValidateOperation(op, nil)
	require.True(t, res.ok())
	require.NotEmpty(t, res.Warnings)
	require.Len(t, op.Data["label"].(string), maxPayloadString)
}

func TestCheckRateAndAbuseAllowsWithinLimit(t *testing.T) {
	v := New(config.Default())
	err := v.CheckRateAndAbuse("client-a")
	require.Nil(t, err)
}

func TestCheckRateAndAbuseBlocksAfterThreshold(t *testing.T) {
	cfg := config.Default()
	cfg.RateLimitPerSecond = 1
	cfg.RateLimitPerMinute = 1000
	cfg.AbuseViolationThreshold = 2
	v := New(cfg)

	_ = v.CheckRateAndAbuse("client-b")
	var last *model.CoreError
	for i := 0; i < 3; i++ {
		last = v.CheckRateAndAbuse("client-b")
	}
	require.NotNil(t, last)
	require.Equal(t, model.ErrClientBlocked, last.Kind)
}

func TestValidateElementIDsRejectsTooMany(t *testing.T) {
	ids := make([]string, maxElementIDs+1)
	for i := range ids {
		ids[i] = "e"
	}
	err := ValidateElementIDs(ids)
	require.NotNil(t, err)
}

func TestValidateElementIDsRejectsBadPattern(t *testing.T) {
	err := ValidateElementIDs([]string{"ok-1", "bad id!"})
	require.NotNil(t, err)
}
