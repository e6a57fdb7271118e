package ws

import (
	"encoding/json"

	"whiteboardcore/internal/model"
)

// inboundFrame decodes any of spec §6's seven inbound verbs. Data is
// re-decoded per verb since each carries a different payload shape,
// matching the teacher's own Message{Type, Data json.RawMessage} envelope
// in websocket/client.go.
type inboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type joinData struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

type submitOperationData struct {
	Operation    model.Operation `json:"operation"`
	Capabilities map[string]bool `json:"capabilities"`
}

type submitSelectionData struct {
	ElementIDs []string `json:"element_ids"`
	Priority   int      `json:"priority"`
}

type clearSelectionData struct {
	SessionID string `json:"session_id"`
}

type resolveConflictData struct {
	ConflictID string `json:"conflict_id"`
	Resolution string `json:"resolution"`
}

type txData struct {
	TxID         string          `json:"tx_id"`
	Operation    model.Operation `json:"operation"`
	RollbackData interface{}     `json:"rollback_data"`
	Capabilities map[string]bool `json:"capabilities"`
}

// outboundFrame is the wire shape for every fanned-out engine.Event plus
// direct verb responses (get_state/get_metrics answer the requester only,
// not the whole whiteboard).
type outboundFrame struct {
	Type         string                       `json:"type"`
	WhiteboardID string                       `json:"whiteboard_id,omitempty"`
	Operation    *model.Operation             `json:"operation,omitempty"`
	Conflicts    []*model.ConflictRecord      `json:"conflicts,omitempty"`
	Selection    *model.SelectionState        `json:"selection,omitempty"`
	SelConflicts []*model.SelectionConflict   `json:"selection_conflicts,omitempty"`
	Ownership    *model.SelectionOwnership    `json:"ownership,omitempty"`
	Ownerships   []*model.SelectionOwnership  `json:"ownerships,omitempty"`
	Selections   []*model.SelectionState      `json:"selections,omitempty"`
	Highlights   []model.SelectionHighlight   `json:"highlights,omitempty"`
	Metrics      *model.PerformanceMetrics    `json:"metrics,omitempty"`
	ClearedCount int                          `json:"cleared_count,omitempty"`
	Health       string                       `json:"health,omitempty"`
	RetryAfterMs int64                        `json:"retry_after_ms,omitempty"`
	TxID         string                       `json:"tx_id,omitempty"`
	Error        string                       `json:"error,omitempty"`
}
