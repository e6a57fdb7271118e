// Package highlight implements the Highlight Projector of §4.11: a pure
// derivation of per-user visual highlight state from selections and active
// conflicts. Nothing here is stored; every call recomputes from current
// state, per the spec's "re-derived on every downstream read" rule.
package highlight

import (
	"whiteboardcore/internal/model"
)

// Config carries the few tunables §4.11 exposes; defaults match the spec.
type Config struct {
	DefaultStyle     model.HighlightStyle
	ConflictStyle    model.HighlightStyle
	DefaultOpacity   float64
	ConflictOpacity  float64
}

// DefaultConfig returns the §4.11 defaults.
func DefaultConfig() Config {
	return Config{
		DefaultStyle:    model.StyleSolid,
		ConflictStyle:   model.StyleDashed,
		DefaultOpacity:  0.3,
		ConflictOpacity: 0.5,
	}
}

// Project derives a SelectionHighlight for state. conflictedElements is the
// set of element ids currently involved in an active SelectionConflict,
// scoped to the same whiteboard.
func Project(state *model.SelectionState, conflictedElements map[string]bool, cfg Config) model.SelectionHighlight {
	inConflict := false
	for _, id := range state.ElementIDs {
		if conflictedElements[id] {
			inConflict = true
			break
		}
	}

	h := model.SelectionHighlight{
		UserID:     state.UserID,
		UserName:   state.UserName,
		UserColor:  state.UserColor,
		ElementIDs: state.ElementIDs,
		Bounds:     state.Bounds,
		Timestamp:  state.Timestamp,
	}

	if inConflict {
		h.Style = cfg.ConflictStyle
		h.Opacity = cfg.ConflictOpacity
		h.Animation = model.AnimPulse
	} else {
		h.Style = cfg.DefaultStyle
		h.Opacity = cfg.DefaultOpacity
		h.Animation = model.AnimNone
	}
	return h
}

// ProjectAll derives highlights for every active selection, given the set of
// elements currently in conflict on that whiteboard.
func ProjectAll(states []*model.SelectionState, conflictedElements map[string]bool, cfg Config) []model.SelectionHighlight {
	out := make([]model.SelectionHighlight, 0, len(states))
	for _, st := range states {
		out = append(out, Project(st, conflictedElements, cfg))
	}
	return out
}

// ConflictedElementSet builds the lookup Project needs from a list of active
// SelectionConflicts.
func ConflictedElementSet(conflicts []*model.SelectionConflict) map[string]bool {
	set := make(map[string]bool, len(conflicts))
	for _, c := range conflicts {
		if !c.IsTerminal() {
			set[c.ElementID] = true
		}
	}
	return set
}
