package conflict

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"whiteboardcore/internal/model"
	"whiteboardcore/internal/spatial"
)

func opAt(id, elementID string, b model.Bounds, createdAt time.Time) *model.Operation {
	return &model.Operation{
		ID:        id,
		Kind:      model.OpMove,
		ElementID: elementID,
		Bounds:    &b,
		CreatedAt: createdAt,
	}
}

func TestSpatialDetectorFlagsOverlap(t *testing.T) {
	idx := spatial.New(100)
	now := time.Now()
	a := opAt("a", "el-1", model.Bounds{X: 0, Y: 0, W: 10, H: 10}, now)
	b := opAt("b", "el-2", model.Bounds{X: 5, Y: 5, W: 10, H: 10}, now.Add(2*time.Second))
	idx.Add("el-2", *b.Bounds)
	a.Bounds = b.Bounds // ensure nearby lookup has something to find; use a's own bounds for query
	a.Bounds = &model.Bounds{X: 0, Y: 0, W: 10, H: 10}

	reg := New(idx)
	recs := reg.Detect(a, []*model.Operation{b}, nil)
	require.NotEmpty(t, recs)

	var sawSpatial bool
	for _, r := range recs {
		if r.Type == model.ConflictSpatial {
			sawSpatial = true
		}
	}
	require.True(t, sawSpatial)
}

func TestTemporalDetectorFlagsSimultaneous(t *testing.T) {
	now := time.Now()
	a := opAt("a", "el-1", model.Bounds{X: 0, Y: 0, W: 1, H: 1}, now)
	b := opAt("b", "el-1", model.Bounds{X: 0, Y: 0, W: 1, H: 1}, now.Add(10*time.Millisecond))

	reg := New(nil)
	recs := reg.Detect(a, []*model.Operation{b}, nil)
	require.NotEmpty(t, recs)
	require.Equal(t, model.ConflictTemporal, recs[0].Type)
}

func TestTemporalDetectorSeverityTiers(t *testing.T) {
	now := time.Now()
	reg := New(nil)

	tight := opAt("a", "el-1", model.Bounds{X: 0, Y: 0, W: 1, H: 1}, now)
	tightCand := opAt("b", "el-1", model.Bounds{X: 0, Y: 0, W: 1, H: 1}, now.Add(10*time.Millisecond))
	recs := reg.Detect(tight, []*model.Operation{tightCand}, nil)
	require.NotEmpty(t, recs)
	require.Equal(t, model.SeverityHigh, recs[0].Severity)

	loose := opAt("c", "el-1", model.Bounds{X: 0, Y: 0, W: 1, H: 1}, now)
	looseCand := opAt("d", "el-1", model.Bounds{X: 0, Y: 0, W: 1, H: 1}, now.Add(500*time.Millisecond))
	recs = reg.Detect(loose, []*model.Operation{looseCand}, nil)
	require.NotEmpty(t, recs)
	require.Equal(t, model.SeverityMedium, recs[0].Severity)
}

func TestSemanticDetectorFlagsDeleteVersusMutate(t *testing.T) {
	now := time.Now()
	a := opAt("a", "el-1", model.Bounds{X: 0, Y: 0, W: 1, H: 1}, now)
	a.Kind = model.OpDelete
	b := opAt("b", "el-1", model.Bounds{X: 0, Y: 0, W: 1, H: 1}, now)
	b.Kind = model.OpStyle

	reg := New(nil)
	recs := reg.Detect(a, []*model.Operation{b}, nil)
	require.NotEmpty(t, recs)

	var sawHigh bool
	for _, r := range recs {
		if r.Type == model.ConflictSemantic && r.Severity == model.SeverityHigh {
			sawHigh = true
		}
	}
	require.True(t, sawHigh)
}

// TestOrderingDetectorFlagsMultipleMissingPrerequisites covers §4.5's
// Ordering definition: a dependency chain referencing prerequisites that
// have not yet been applied (absent from pending), as distinct from the
// Dependency detector's stale-but-present clock violation.
func TestOrderingDetectorFlagsMultipleMissingPrerequisites(t *testing.T) {
	now := time.Now()
	a := opAt("a", "el-1", model.Bounds{X: 0, Y: 0, W: 1, H: 1}, now)
	a.DependsOn = []string{"ghost-1", "ghost-2"}

	reg := New(nil)
	recs := reg.Detect(a, nil, nil)

	var sawOrdering bool
	for _, r := range recs {
		if r.Type == model.ConflictOrdering {
			sawOrdering = true
		}
	}
	require.True(t, sawOrdering)
}

func TestDependencyGapFlagsMissingPrerequisite(t *testing.T) {
	now := time.Now()
	a := opAt("a", "el-1", model.Bounds{X: 0, Y: 0, W: 1, H: 1}, now)
	a.DependsOn = []string{"ghost-op"}

	reg := New(nil)
	recs := reg.Detect(a, nil, nil)
	require.NotEmpty(t, recs)
	require.Equal(t, model.ConflictOrdering, recs[0].Type)
}

// TestDependencyClockViolationFlagsStalePrerequisite covers §4.5's
// Dependency definition: depends_on references an operation that IS
// present in pending, but whose own vector clock is not causally ≤ the
// current canvas clock — the prerequisite the op relies on hasn't actually
// landed on the canvas yet, unlike dependencyNotApplied's absent case.
func TestDependencyClockViolationFlagsStalePrerequisite(t *testing.T) {
	now := time.Now()
	a := opAt("a", "el-1", model.Bounds{X: 0, Y: 0, W: 1, H: 1}, now)
	a.DependsOn = []string{"prereq"}

	prereq := opAt("prereq", "el-1", model.Bounds{X: 0, Y: 0, W: 1, H: 1}, now)
	prereq.VectorClock = map[string]int64{"u1": 5}

	canvasClock := map[string]int64{"u1": 2}

	reg := New(nil)
	recs := reg.Detect(a, []*model.Operation{prereq}, canvasClock)

	var sawDependency bool
	for _, r := range recs {
		if r.Type == model.ConflictDependency {
			sawDependency = true
		}
	}
	require.True(t, sawDependency)
}

func TestDependencyClockViolationIgnoresCaughtUpPrerequisite(t *testing.T) {
	now := time.Now()
	a := opAt("a", "el-1", model.Bounds{X: 0, Y: 0, W: 1, H: 1}, now)
	a.DependsOn = []string{"prereq"}

	prereq := opAt("prereq", "el-1", model.Bounds{X: 0, Y: 0, W: 1, H: 1}, now)
	prereq.VectorClock = map[string]int64{"u1": 1}

	canvasClock := map[string]int64{"u1": 2}

	reg := New(nil)
	recs := reg.Detect(a, []*model.Operation{prereq}, canvasClock)

	for _, r := range recs {
		require.NotEqual(t, model.ConflictDependency, r.Type)
	}
}

func TestDetectIsStableAcrossRepeatedCalls(t *testing.T) {
	now := time.Now()
	a := opAt("a", "el-1", model.Bounds{X: 0, Y: 0, W: 1, H: 1}, now)
	b := opAt("b", "el-1", model.Bounds{X: 0, Y: 0, W: 1, H: 1}, now)

	reg := New(nil)
	first := reg.Detect(a, []*model.Operation{b}, nil)
	second := reg.Detect(a, []*model.Operation{b}, nil)
	require.Equal(t, len(first), len(second))
}

func TestDetectOrdersBySeverityDescending(t *testing.T) {
	now := time.Now()
	a := opAt("a", "el-1", model.Bounds{X: 0, Y: 0, W: 1, H: 1}, now)
	a.Kind = model.OpDelete
	b := opAt("b", "el-1", model.Bounds{X: 0, Y: 0, W: 1, H: 1}, now)
	b.Kind = model.OpStyle

	reg := New(nil)
	recs := reg.Detect(a, []*model.Operation{b}, nil)
	require.NotEmpty(t, recs)
	for i := 1; i < len(recs); i++ {
		require.False(t, model.SeverityLess(recs[i-1].Severity, recs[i].Severity))
	}
}
