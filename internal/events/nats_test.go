package events

import (
	"context"
	"errors"
	"testing"

	"backend-silksong/internal/posts"

	"github.com/nats-io/nats.go"
)

type fakeConn struct {
	msgs []*nats.Msg
	err  error
}

func (f *fakeConn) PublishMsg(m *nats.Msg) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, m)
	return nil
}

func TestPostCreatedPublishes(t *testing.T) {
	conn := &fakeConn{}
	pub := &NatsPublisher{nc: conn}

	err := pub.PostCreated(context.Background(), posts.EnrichedPost{ID: "post-1", Title: "Hello"})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(conn.msgs) != 1 {
		t.Fatalf("expected one message")
	}
	msg := conn.msgs[0]
	if msg.Subject != "post.created" || msg.Header.Get(nats.MsgIdHdr) != "post-1" {
		t.Fatalf("unexpected message %+v", msg)
	}

	var ev posts.Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Type != posts.EventPostCreated || ev.Post.Title != "Hello" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestPostCreatedError(t *testing.T) {
	pub := &NatsPublisher{nc: &fakeConn{err: errors.New("nats down")}}
	if err := pub.PostCreated(context.Background(), posts.EnrichedPost{ID: "post-1"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestDisabledPublisher(t *testing.T) {
	if err := NewNatsPublisher(nil).PostCreated(context.Background(), posts.EnrichedPost{}); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
	var pub *NatsPublisher
	if err := pub.PostCreated(context.Background(), posts.EnrichedPost{}); err != nil {
		t.Fatalf("expected no-op on nil publisher, got %v", err)
	}
}

func TestConnectDisabled(t *testing.T) {
	nc, err := Connect("")
	if err != nil || nc != nil {
		t.Fatalf("expected disabled connection")
	}
}
