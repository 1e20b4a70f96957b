// Package events publishes post change events to NATS for other services.
package events

import (
	"context"
	"fmt"
	"time"

	"backend-silksong/internal/posts"

	jsoniter "github.com/json-iterator/go"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const SubjectPostCreated = posts.EventPostCreated

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type msgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// Connect dials NATS. An empty url disables events and returns a nil conn.
func Connect(url string) (*nats.Conn, error) {
	if url == "" {
		return nil, nil
	}
	return nats.Connect(url,
		nats.Name("backend-silksong"),
		nats.Timeout(2*time.Second),
		nats.MaxReconnects(-1),
	)
}

type NatsPublisher struct {
	nc msgPublisher
}

// NewNatsPublisher returns a publisher that does nothing when nc is nil.
func NewNatsPublisher(nc *nats.Conn) *NatsPublisher {
	if nc == nil {
		return &NatsPublisher{}
	}
	return &NatsPublisher{nc: nc}
}

func (p *NatsPublisher) PostCreated(_ context.Context, post posts.EnrichedPost) error {
	if p == nil || p.nc == nil {
		return nil
	}

	data, err := json.Marshal(posts.Event{Type: posts.EventPostCreated, Post: post})
	if err != nil {
		return fmt.Errorf("marshal post event: %w", err)
	}

	msg := &nats.Msg{
		Subject: SubjectPostCreated,
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set(nats.MsgIdHdr, post.ID)

	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", SubjectPostCreated, err)
	}
	log.Debug().Str("subject", SubjectPostCreated).Str("post_id", post.ID).Msg("published post event")
	return nil
}
