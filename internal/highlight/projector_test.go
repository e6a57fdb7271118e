package highlight

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"whiteboardcore/internal/model"
)

func TestProjectDefaultWhenNoConflict(t *testing.T) {
	state := &model.SelectionState{UserID: "u1", ElementIDs: []string{"e1"}, Timestamp: time.Now()}
	h := Project(state, map[string]bool{}, DefaultConfig())
	require.Equal(t, model.StyleSolid, h.Style)
	require.Equal(t, 0.3, h.Opacity)
	require.Equal(t, model.AnimNone, h.Animation)
}

func TestProjectConflictStyleWhenElementContested(t *testing.T) {
	state := &model.SelectionState{UserID: "u1", ElementIDs: []string{"e1", "e2"}, Timestamp: time.Now()}
	h := Project(state, map[string]bool{"e2": true}, DefaultConfig())
	require.Equal(t, model.StyleDashed, h.Style)
	require.Equal(t, 0.5, h.Opacity)
	require.Equal(t, model.AnimPulse, h.Animation)
}

func TestConflictedElementSetIgnoresTerminal(t *testing.T) {
	resolvedAt := time.Now()
	conflicts := []*model.SelectionConflict{
		{ElementID: "e1", ResolvedAt: &resolvedAt},
		{ElementID: "e2"},
	}
	set := ConflictedElementSet(conflicts)
	require.False(t, set["e1"])
	require.True(t, set["e2"])
}
