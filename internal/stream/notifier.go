package stream

import (
	"context"

	"backend-silksong/internal/posts"

	jsoniter "github.com/json-iterator/go"
)

const TopicPosts = "posts"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FeedNotifier pushes newly created posts to /ws/posts subscribers.
type FeedNotifier struct {
	hub *Hub
}

func NewFeedNotifier(hub *Hub) *FeedNotifier {
	return &FeedNotifier{hub: hub}
}

func (n *FeedNotifier) PostCreated(ctx context.Context, post posts.EnrichedPost) error {
	payload, err := json.Marshal(posts.Event{Type: posts.EventPostCreated, Post: post})
	if err != nil {
		return err
	}
	return n.hub.Publish(ctx, TopicPosts, payload)
}
