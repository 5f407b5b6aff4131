// Package notify pushes account events to connected clients. Events are
// published on Redis so every socket server instance can fan them out to
// the clients in a room.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// UserUpdated is emitted after any account mutation.
const UserUpdated = "user_updated"

// Emitter delivers an event to every client in room.
type Emitter interface {
	Emit(ctx context.Context, event string, payload any, room string) error
}

// UserRoom is the room joined by every socket of one user.
func UserRoom(userID string) string { return "user:" + userID }

// Channel is the Redis channel carrying a room's events.
func Channel(room string) string { return "room:" + room }

// Envelope is the published message.
type Envelope struct {
	Event   string          `json:"event"`
	Room    string          `json:"room"`
	Payload json.RawMessage `json:"payload"`
}

// RedisEmitter publishes envelopes with PUBLISH.
type RedisEmitter struct {
	client redis.UniversalClient
}

func NewRedisEmitter(client redis.UniversalClient) *RedisEmitter {
	return &RedisEmitter{client: client}
}

func (e *RedisEmitter) Emit(ctx context.Context, event string, payload any, room string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: encode payload: %w", err)
	}
	msg, err := json.Marshal(Envelope{Event: event, Room: room, Payload: body})
	if err != nil {
		return fmt.Errorf("notify: encode envelope: %w", err)
	}
	if err := e.client.Publish(ctx, Channel(room), msg).Err(); err != nil {
		return fmt.Errorf("notify: publish: %w", err)
	}
	return nil
}

// Nop drops every event.
type Nop struct{}

func (Nop) Emit(context.Context, string, any, string) error { return nil }
