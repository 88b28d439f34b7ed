package live

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestHubDeliversEntityUpdatesToAllMembers(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := hub.Subscribe(ctx, BoardChannel("tb-1"), "user-a")
	b := hub.Subscribe(ctx, BoardChannel("tb-1"), "user-b")
	other := hub.Subscribe(ctx, BoardChannel("tb-2"), "user-c")

	hub.Publish(Envelope{Type: "task.updated", Channel: BoardChannel("tb-1")})

	for name, ch := range map[string]<-chan Envelope{"a": a, "b": b} {
		select {
		case envelope := <-ch:
			if envelope.Type != "task.updated" {
				t.Fatalf("subscriber %s: unexpected envelope %+v", name, envelope)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s: no envelope delivered", name)
		}
	}

	select {
	case envelope := <-other:
		t.Fatalf("subscriber on tb-2 must not receive tb-1 updates, got %+v", envelope)
	default:
	}
}

func TestHubChatSkipsSender(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sender := hub.Subscribe(ctx, ChatChannel("tb-1"), "user-a")
	receiver := hub.Subscribe(ctx, ChatChannel("tb-1"), "user-b")

	hub.Publish(Envelope{Type: "chat", Channel: ChatChannel("tb-1"), User: "user-a"})

	select {
	case envelope := <-receiver:
		if envelope.User != "user-a" {
			t.Fatalf("unexpected envelope %+v", envelope)
		}
	case <-time.After(time.Second):
		t.Fatal("receiver got no chat message")
	}

	select {
	case envelope := <-sender:
		t.Fatalf("sender must not receive own chat message, got %+v", envelope)
	default:
	}
}

func TestHubGarbageCollectsEmptyChannels(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())

	ch := hub.Subscribe(ctx, BoardChannel("tb-1"), "user-a")
	if hub.ChannelCount() != 1 {
		t.Fatalf("expected 1 channel entry, got %d", hub.ChannelCount())
	}

	cancel()
	// Closed subscription channel signals the cleanup goroutine ran.
	select {
	case _, open := <-ch:
		if open {
			t.Fatal("expected subscription channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription channel not closed")
	}
	if hub.ChannelCount() != 0 {
		t.Fatalf("expected channel entry to be garbage-collected, got %d", hub.ChannelCount())
	}
}

func TestRedisNotifierBridgesIntoHub(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Bridge(ctx, client)

	// Give the bridge a moment to establish its subscription.
	time.Sleep(50 * time.Millisecond)

	sub := hub.Subscribe(ctx, BoardChannel("tb-1"), "user-a")

	notifier := NewRedisNotifierWithClient(client)
	payload, err := MarshalPayload(map[string]string{"id": "task-1"})
	if err != nil {
		t.Fatalf("MarshalPayload() error = %v", err)
	}
	if err := notifier.Notify(ctx, BoardChannel("tb-1"), Envelope{Type: "task.updated", Payload: payload}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	select {
	case envelope := <-sub:
		if envelope.Type != "task.updated" || envelope.Channel != BoardChannel("tb-1") {
			t.Fatalf("unexpected envelope %+v", envelope)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("bridged envelope not delivered")
	}
}
