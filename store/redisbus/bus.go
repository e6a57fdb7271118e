// Package redisbus fans outbound engine events out to a Redis pub/sub
// channel per whiteboard, so multiple process instances behind a load
// balancer can broadcast to clients connected to a different instance.
// Grounded in the teacher's redis/connection.go (env-based Connect()) for
// the client setup, and websocket/hub.go's broadcast loop for the
// "one channel per room, JSON payload" shape — generalized from an
// in-process Go channel broadcast to a cross-process Redis one.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/redis/go-redis/v9"

	"whiteboardcore/internal/model"
)

// Connect builds a Redis client from WHITEBOARD_REDIS_ADDR (falling back to
// REDIS_HOST/REDIS_PORT, then localhost:6379), matching the teacher's
// redis/connection.go resolution order.
func Connect() (*redis.Client, error) {
	addr := os.Getenv("WHITEBOARD_REDIS_ADDR")
	if addr == "" {
		host := os.Getenv("REDIS_HOST")
		port := os.Getenv("REDIS_PORT")
		if host != "" && port != "" {
			addr = fmt.Sprintf("%s:%s", host, port)
		} else {
			addr = "localhost:6379"
		}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("WHITEBOARD_REDIS_PASSWORD"),
		DB:       0,
	})
	return client, nil
}

// channelName mirrors websocket/hub.go's per-room scoping: one topic per
// whiteboard rather than one global firehose.
func channelName(whiteboardID string) string {
	return "whiteboard:" + whiteboardID + ":events"
}

// envelope is the wire shape published to Redis; subscribers decode it
// back into the fields a client frame needs.
type envelope struct {
	Kind         string                    `json:"kind"`
	WhiteboardID string                    `json:"whiteboard_id"`
	Operation    *model.Operation          `json:"operation,omitempty"`
	Selection    *model.SelectionState     `json:"selection,omitempty"`
	Ownership    *model.SelectionOwnership `json:"ownership,omitempty"`
	ClearedCount int                       `json:"cleared_count,omitempty"`
	RetryAfterMs int64                     `json:"retry_after_ms,omitempty"`
}

// Bus publishes events onto Redis and exposes a Subscribe for the transport
// layer to receive them back (including events published by other process
// instances).
type Bus struct {
	client *redis.Client
}

func New(client *redis.Client) *Bus {
	return &Bus{client: client}
}

// Publish serializes ev and publishes it to whiteboardID's channel. Errors
// are logged, not returned: a dropped broadcast is the same failure mode as
// the teacher's hub.go closing a full client channel rather than blocking
// the whole broadcast loop, so publish failures must never stall the
// caller's event loop.
func (b *Bus) Publish(ctx context.Context, whiteboardID string, kind string, payload envelope) {
	payload.Kind = kind
	payload.WhiteboardID = whiteboardID
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("redisbus: marshal event: %v", err)
		return
	}
	if err := b.client.Publish(ctx, channelName(whiteboardID), data).Err(); err != nil {
		log.Printf("redisbus: publish to %s: %v", whiteboardID, err)
	}
}

// PublishOperation publishes an operation_committed event.
func (b *Bus) PublishOperation(ctx context.Context, whiteboardID string, op *model.Operation) {
	b.Publish(ctx, whiteboardID, "operation_committed", envelope{Operation: op})
}

// PublishSelection publishes a selection_updated event.
func (b *Bus) PublishSelection(ctx context.Context, whiteboardID string, state *model.SelectionState) {
	b.Publish(ctx, whiteboardID, "selection_updated", envelope{Selection: state})
}

// PublishOwnership publishes an element_ownership_changed event.
func (b *Bus) PublishOwnership(ctx context.Context, whiteboardID string, o *model.SelectionOwnership) {
	b.Publish(ctx, whiteboardID, "element_ownership_changed", envelope{Ownership: o})
}

// PublishCleared publishes a selection_cleared event.
func (b *Bus) PublishCleared(ctx context.Context, whiteboardID string, clearedCount int) {
	b.Publish(ctx, whiteboardID, "selection_cleared", envelope{ClearedCount: clearedCount})
}

// Subscription wraps a Redis pub/sub subscription for one whiteboard.
type Subscription struct {
	pubsub *redis.PubSub
}

// Subscribe opens a subscription to whiteboardID's channel. Callers read
// from Subscription.Channel() and are responsible for Close()ing it.
func (b *Bus) Subscribe(ctx context.Context, whiteboardID string) *Subscription {
	return &Subscription{pubsub: b.client.Subscribe(ctx, channelName(whiteboardID))}
}

// Channel returns the raw Redis message channel; each payload is the JSON
// envelope written by Publish.
func (s *Subscription) Channel() <-chan *redis.Message {
	return s.pubsub.Channel()
}

func (s *Subscription) Close() error {
	return s.pubsub.Close()
}
