// Package ws is the WebSocket transport for the coordination core: it
// decodes inbound frames into the seven verbs of spec §6, calls the engine,
// and fans the engine's outbound event stream back out to every client
// subscribed to a whiteboard. Grounded in the teacher's websocket/hub.go
// (register/unregister/broadcast channel triad, one room-membership map)
// and websocket/client.go (readPump/writePump, ping/pong keepalive),
// generalized from room-scoped chat/stroke messages to the engine's typed
// verb/event vocabulary.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"whiteboardcore/internal/engine"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub owns the set of live connections, grouped by whiteboard, and the
// single goroutine that drains the engine's event channel and fans each
// event out to every client on the matching whiteboard. Matches the
// teacher's Hub.Run() shape: one loop, one map, channel-driven membership
// changes so the map is never touched concurrently from two goroutines.
type Hub struct {
	eng *engine.Engine

	mu      sync.Mutex
	clients map[string]map[*Client]bool // whiteboard id -> client set

	register   chan *Client
	unregister chan *Client
}

func NewHub(eng *engine.Engine) *Hub {
	return &Hub{
		eng:        eng,
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run drains registration changes and the engine's event stream until ctx
// is cancelled. Intended to run on its own goroutine, started once from main.
func (h *Hub) Run(ctx context.Context) {
	events := h.eng.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.mu.Lock()
			if h.clients[c.whiteboardID] == nil {
				h.clients[c.whiteboardID] = make(map[*Client]bool)
			}
			h.clients[c.whiteboardID][c] = true
			h.mu.Unlock()
			log.Printf("ws: client joined whiteboard %s", c.whiteboardID)
		case c := <-h.unregister:
			h.mu.Lock()
			if set, ok := h.clients[c.whiteboardID]; ok {
				if _, ok := set[c]; ok {
					delete(set, c)
					close(c.send)
					if len(set) == 0 {
						delete(h.clients, c.whiteboardID)
					}
				}
			}
			h.mu.Unlock()
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.fanOut(ev)
		}
	}
}

// fanOut serializes one engine.Event and pushes it to every client on the
// matching whiteboard, dropping (and disconnecting) any client whose send
// buffer is already full — identical backpressure handling to the
// teacher's hub.go broadcast loop.
func (h *Hub) fanOut(ev engine.Event) {
	payload, err := json.Marshal(outboundFrame{
		Type:         string(ev.Kind),
		WhiteboardID: ev.WhiteboardID,
		Operation:    ev.Operation,
		Conflicts:    ev.Conflicts,
		Selection:    ev.Selection,
		SelConflicts: ev.SelConflicts,
		Ownership:    ev.Ownership,
		ClearedCount: ev.ClearedCount,
		Health:       string(ev.Health),
		RetryAfterMs: ev.RetryAfterMs,
	})
	if err != nil {
		log.Printf("ws: marshal event: %v", err)
		return
	}

	h.mu.Lock()
	set := h.clients[ev.WhiteboardID]
	targets := make([]*Client, 0, len(set))
	for c := range set {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		select {
		case c.send <- payload:
		default:
			// fanOut runs on the Run goroutine, the only receiver of
			// h.unregister, so the send is handed to its own goroutine.
			go func(c *Client) { h.unregister <- c }(c)
		}
	}
}

// ServeWs upgrades the request and registers a new client. Expected path
// shape is /ws/board/{whiteboardId}, matching the teacher's
// /ws/room/{roomId} convention.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.URL.Path, "/")
	var whiteboardID string
	if len(parts) >= 4 && parts[2] == "board" {
		whiteboardID = parts[3]
	} else {
		http.Error(w, "invalid whiteboard id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade: %v", err)
		return
	}

	c := &Client{
		hub:          hub,
		conn:         conn,
		send:         make(chan []byte, sendBuffer),
		whiteboardID: whiteboardID,
	}
	hub.register <- c

	go c.writePump()
	go c.readPump()
}
