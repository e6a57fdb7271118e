package ws

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"whiteboardcore/internal/selection"
)

// Client is one connected peer on one whiteboard. Matches the teacher's
// websocket/client.go Client shape (hub, conn, send channel, room id),
// replacing its bare userID string with the join-time identity the core
// needs for priority/ownership decisions.
type Client struct {
	hub          *Hub
	conn         *websocket.Conn
	send         chan []byte
	whiteboardID string
	userID       string
	userName     string
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("ws: read error: %v", err)
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.sendError(err.Error())
			continue
		}
		c.handle(frame)
	}
}

func (c *Client) handle(frame inboundFrame) {
	switch frame.Type {
	case "join":
		var d joinData
		if err := json.Unmarshal(frame.Data, &d); err != nil {
			c.sendError(err.Error())
			return
		}
		c.userID = d.UserID
		c.userName = d.UserName

	case "submit_operation":
		var d submitOperationData
		if err := json.Unmarshal(frame.Data, &d); err != nil {
			c.sendError(err.Error())
			return
		}
		d.Operation.UserID = c.userID
		res, cerr := c.hub.eng.SubmitOperation(c.whiteboardID, c.userID, &d.Operation, d.Capabilities)
		if cerr != nil {
			c.sendCoreError(cerr)
			return
		}
		c.sendDirect(outboundFrame{Type: "operation_committed", WhiteboardID: c.whiteboardID, Operation: res.Operation, Conflicts: res.Conflicts})

	case "submit_selection":
		var d submitSelectionData
		if err := json.Unmarshal(frame.Data, &d); err != nil {
			c.sendError(err.Error())
			return
		}
		upd := selection.Update{
			UserID: c.userID, UserName: c.userName,
			ElementIDs: d.ElementIDs, Priority: d.Priority, Timestamp: time.Now(),
		}
		res, cerr := c.hub.eng.SubmitSelection(c.whiteboardID, c.userID, upd)
		if cerr != nil {
			c.sendCoreError(cerr)
			return
		}
		c.sendDirect(outboundFrame{Type: "selection_updated", WhiteboardID: c.whiteboardID, Selection: res.State, SelConflicts: res.Conflicts, Ownerships: res.Ownerships})

	case "clear_selection":
		var d clearSelectionData
		_ = json.Unmarshal(frame.Data, &d)
		cleared := c.hub.eng.ClearSelection(c.whiteboardID, c.userID, d.SessionID)
		c.sendDirect(outboundFrame{Type: "selection_cleared", WhiteboardID: c.whiteboardID, ClearedCount: cleared})

	case "resolve_conflict":
		var d resolveConflictData
		if err := json.Unmarshal(frame.Data, &d); err != nil {
			c.sendError(err.Error())
			return
		}
		owner, cerr := c.hub.eng.ResolveConflict(c.whiteboardID, d.ConflictID, c.userID, d.Resolution)
		if cerr != nil {
			c.sendCoreError(cerr)
			return
		}
		c.sendDirect(outboundFrame{Type: "conflict_resolved", WhiteboardID: c.whiteboardID, Ownership: owner})

	case "begin_tx":
		txID := c.hub.eng.BeginTx(c.userID)
		c.sendDirect(outboundFrame{Type: "tx_begun", TxID: txID})

	case "append_tx":
		var d txData
		if err := json.Unmarshal(frame.Data, &d); err != nil {
			c.sendError(err.Error())
			return
		}
		d.Operation.UserID = c.userID
		if cerr := c.hub.eng.AppendTx(d.TxID, &d.Operation, d.RollbackData); cerr != nil {
			c.sendCoreError(cerr)
		}

	case "commit_tx":
		var d txData
		if err := json.Unmarshal(frame.Data, &d); err != nil {
			c.sendError(err.Error())
			return
		}
		committed, cerr := c.hub.eng.CommitTx(c.whiteboardID, d.TxID, d.Capabilities)
		if cerr != nil {
			c.sendCoreError(cerr)
			return
		}
		for _, op := range committed {
			c.sendDirect(outboundFrame{Type: "operation_committed", WhiteboardID: c.whiteboardID, Operation: op})
		}

	case "rollback_tx":
		var d txData
		if err := json.Unmarshal(frame.Data, &d); err != nil {
			c.sendError(err.Error())
			return
		}
		if cerr := c.hub.eng.RollbackTx(d.TxID); cerr != nil {
			c.sendCoreError(cerr)
		}

	case "get_state":
		snap := c.hub.eng.GetState(c.whiteboardID)
		c.sendDirect(outboundFrame{Type: "state", WhiteboardID: c.whiteboardID, Selections: snap.Selections, Ownerships: snap.Ownerships, SelConflicts: snap.Conflicts, Highlights: snap.Highlights})

	case "get_metrics":
		m := c.hub.eng.GetMetrics()
		c.sendDirect(outboundFrame{Type: "metrics", Metrics: &m})

	default:
		c.sendError("unknown frame type: " + frame.Type)
	}
}

func (c *Client) sendError(msg string) {
	c.sendDirect(outboundFrame{Type: "error", Error: msg})
}

func (c *Client) sendCoreError(cerr interface{ Error() string }) {
	c.sendDirect(outboundFrame{Type: "error", Error: cerr.Error()})
}

// sendDirect answers only this client, not the whole whiteboard — used for
// request/response style verbs, as opposed to fanOut's broadcast of
// engine-originated events.
func (c *Client) sendDirect(f outboundFrame) {
	payload, err := json.Marshal(f)
	if err != nil {
		log.Printf("ws: marshal direct response: %v", err)
		return
	}
	select {
	case c.send <- payload:
	default:
		log.Printf("ws: client %s send buffer full, dropping", c.userID)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
