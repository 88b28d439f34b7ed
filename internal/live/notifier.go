// Package live implements the live-update collaborator: a fire-and-forget
// notifier publishing to Redis, and a process-scoped hub fanning messages out
// to subscribed connections.
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Channel keys: one group per taskboard for entity updates, one per chatroom.
func BoardChannel(taskboardID string) string {
	return "board:" + taskboardID
}

func ChatChannel(chatroomID string) string {
	return "chat:" + chatroomID
}

// Envelope is the wire format for fan-out messages. For chat messages User is
// the sender and delivery skips the sender's own connections; entity updates
// leave User empty and reach every channel member.
type Envelope struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel"`
	User    string          `json:"user,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Notifier is the boundary the orchestrators call. Best effort: callers log
// failures and never surface them.
type Notifier interface {
	Notify(ctx context.Context, channel string, envelope Envelope) error
}

type RedisNotifier struct {
	client *redis.Client
}

func NewRedisNotifier(redisURL string) (*RedisNotifier, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisNotifierWithClient(client), nil
}

func NewRedisNotifierWithClient(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

func (n *RedisNotifier) Notify(ctx context.Context, channel string, envelope Envelope) error {
	envelope.Channel = channel
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := n.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

func (n *RedisNotifier) Close() error {
	return n.client.Close()
}

// MarshalPayload wraps an entity for an update envelope.
func MarshalPayload(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return data, nil
}
