package engine

import "whiteboardcore/internal/model"

// EventKind enumerates the §6 outbound events the core publishes for the
// transport layer to fan out to connected clients.
type EventKind string

const (
	EventSelectionUpdated         EventKind = "selection_updated"
	EventSelectionCleared         EventKind = "selection_cleared"
	EventSelectionConflicts       EventKind = "selection_conflicts"
	EventSelectionConflictResolve EventKind = "selection_conflict_resolved"
	EventElementOwnershipChanged  EventKind = "element_ownership_changed"
	EventOperationCommitted       EventKind = "operation_committed"
	EventBackpressure             EventKind = "backpressure"
	EventRateLimited               EventKind = "rate_limited"
)

// Event is one outbound notification. Payload is whichever of the fields
// below the Kind documents; the rest are zero.
type Event struct {
	Kind         EventKind
	WhiteboardID string

	Operation *model.Operation
	Conflicts []*model.ConflictRecord
	Selection *model.SelectionState
	SelConflicts []*model.SelectionConflict
	Ownership *model.SelectionOwnership
	ClearedCount int
	Health    Health
	RetryAfterMs int64
}

// publish is a best-effort non-blocking send: a slow or absent subscriber
// never stalls the engine's single-logical-writer path. Matches the
// teacher's websocket/hub.go broadcast loop, which drops a client's message
// on a full buffered channel rather than blocking the whole broadcast.
func publish(ch chan<- Event, ev Event) {
	if ch == nil {
		return
	}
	select {
	case ch <- ev:
	default:
	}
}
