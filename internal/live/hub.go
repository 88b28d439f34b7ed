package live

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

type subscriber struct {
	userID string
	ch     chan Envelope
}

// Hub is the process-scoped subscription registry. Connections are grouped by
// channel key; a channel entry is garbage-collected when its last member
// unsubscribes. Created at process start, torn down with the process.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[int]subscriber
	next     int
}

func NewHub() *Hub {
	return &Hub{channels: make(map[string]map[int]subscriber)}
}

// Subscribe registers a connection on a channel key. The returned channel is
// closed when ctx ends, and the channel entry is dropped with its last member.
func (h *Hub) Subscribe(ctx context.Context, channel, userID string) <-chan Envelope {
	ch := make(chan Envelope, 16)

	h.mu.Lock()
	id := h.next
	h.next++
	group, ok := h.channels[channel]
	if !ok {
		group = make(map[int]subscriber)
		h.channels[channel] = group
	}
	group[id] = subscriber{userID: userID, ch: ch}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		if group, ok := h.channels[channel]; ok {
			delete(group, id)
			if len(group) == 0 {
				delete(h.channels, channel)
			}
		}
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Publish fans an envelope out to the channel's members. Chat envelopes skip
// the sender's own connections. Slow subscribers are dropped, not blocked on.
func (h *Hub) Publish(envelope Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.channels[envelope.Channel] {
		if envelope.Type == "chat" && envelope.User != "" && envelope.User == sub.userID {
			continue
		}
		select {
		case sub.ch <- envelope:
		default:
		}
	}
}

// ChannelCount reports live channel entries; used by tests to observe GC.
func (h *Hub) ChannelCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels)
}

// Bridge subscribes to the Redis fan-out pattern and republishes every
// message into the local hub until ctx ends.
func (h *Hub) Bridge(ctx context.Context, client *redis.Client) {
	pubsub := client.PSubscribe(ctx, "board:*", "chat:*")
	defer pubsub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-pubsub.Channel():
			if !ok {
				return
			}
			var envelope Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
				log.Printf("live: drop malformed envelope on %s: %v", msg.Channel, err)
				continue
			}
			if envelope.Channel == "" {
				envelope.Channel = msg.Channel
			}
			h.Publish(envelope)
		}
	}
}
