package stream

import (
	"context"
	"testing"
	"time"

	"backend-silksong/internal/posts"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func receive(t *testing.T, client *Client, want string) {
	t.Helper()
	select {
	case msg := <-client.Send:
		if string(msg) != want {
			t.Fatalf("unexpected message %q", msg)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for %q", want)
	}
}

func TestHubPublishLocal(t *testing.T) {
	hub := NewHub(nil)
	client := hub.Register("posts")
	other := hub.Register("other")
	defer hub.Unregister(client)
	defer hub.Unregister(other)

	if err := hub.Publish(context.Background(), "posts", []byte("hello")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	receive(t, client, "hello")

	select {
	case msg := <-other.Send:
		t.Fatalf("unexpected delivery to other topic: %q", msg)
	default:
	}
}

func TestHubHelpers(t *testing.T) {
	ch := redisChannel("posts")
	if ch != "silksong:posts:broadcast" {
		t.Fatalf("unexpected channel %s", ch)
	}
	if topicFromChannel(ch) != "posts" {
		t.Fatalf("unexpected topic")
	}
	for _, bad := range []string{"bad", "silksong::broadcast", "tracking:posts:broadcast"} {
		if topicFromChannel(bad) != "" {
			t.Fatalf("expected empty topic for %q", bad)
		}
	}
}

func TestUnregisterCloses(t *testing.T) {
	hub := NewHub(nil)
	client := hub.Register("posts")
	hub.Unregister(client)
	hub.Unregister(client)
	if _, ok := <-client.Send; ok {
		t.Fatalf("expected channel closed")
	}
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	hub := NewHub(nil)
	client := hub.Register("posts")
	if err := hub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, ok := <-client.Send; ok {
		t.Fatalf("expected channel closed")
	}
	hub.Unregister(client)
}

func TestHubRedisFanOut(t *testing.T) {
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer rdb.Close()

	first := NewHub(rdb)
	second := NewHub(rdb)
	defer first.Close()
	defer second.Close()

	a := first.Register("posts")
	b := second.Register("posts")

	if err := first.Publish(context.Background(), "posts", []byte("ping")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	receive(t, a, "ping")
	receive(t, b, "ping")

	// delivered once, through redis only
	select {
	case msg := <-a.Send:
		t.Fatalf("duplicate delivery %q", msg)
	case <-time.After(50 * time.Millisecond):
	}

	if err := rdb.Publish(context.Background(), "silksong:posts:broadcast", "from-elsewhere").Err(); err != nil {
		t.Fatalf("publish error: %v", err)
	}
	receive(t, a, "from-elsewhere")
}

func TestHubRedisUnavailable(t *testing.T) {
	server := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: server.Addr()})
	server.Close()
	defer rdb.Close()

	hub := NewHub(rdb)
	defer hub.Close()
	client := hub.Register("posts")

	if err := hub.Publish(context.Background(), "posts", []byte("ping")); err != nil {
		t.Fatalf("hub without redis should publish locally: %v", err)
	}
	receive(t, client, "ping")
}

func TestHubRedisPublishErrorFallsBack(t *testing.T) {
	server := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer rdb.Close()

	hub := NewHub(rdb)
	client := hub.Register("posts")
	server.Close()

	if err := hub.Publish(context.Background(), "posts", []byte("ping")); err == nil {
		t.Fatalf("expected publish error")
	}
	receive(t, client, "ping")
	_ = hub.Close()
}

func TestFeedNotifier(t *testing.T) {
	hub := NewHub(nil)
	client := hub.Register(TopicPosts)
	defer hub.Unregister(client)

	err := NewFeedNotifier(hub).PostCreated(context.Background(), posts.EnrichedPost{ID: "post-1", AuthorName: "Hornet"})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}

	select {
	case msg := <-client.Send:
		var ev posts.Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if ev.Type != posts.EventPostCreated || ev.Post.ID != "post-1" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("timeout waiting for event")
	}
}
