package stream

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	channelPrefix = "silksong:"
	channelSuffix = ":broadcast"
	clientBuffer  = 64
)

// Hub fans topic messages out to websocket clients. With Redis configured
// every message goes through pub/sub so all instances deliver it exactly once.
type Hub struct {
	redis   *redis.Client
	pubsub  *redis.PubSub
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
	done    chan struct{}
}

type Client struct {
	Topic string
	Send  chan []byte
}

func NewHub(redisClient *redis.Client) *Hub {
	h := &Hub{
		clients: map[string]map[*Client]struct{}{},
		done:    make(chan struct{}),
	}

	if redisClient == nil {
		close(h.done)
		return h
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	pubsub := redisClient.PSubscribe(ctx, channelPrefix+"*"+channelSuffix)
	if _, err := pubsub.Receive(ctx); err != nil {
		log.Warn().Err(err).Msg("redis subscribe failed, stream hub running in-process only")
		_ = pubsub.Close()
		close(h.done)
		return h
	}

	h.redis = redisClient
	h.pubsub = pubsub
	go h.forward()
	return h
}

func (h *Hub) Register(topic string) *Client {
	client := &Client{
		Topic: topic,
		Send:  make(chan []byte, clientBuffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[topic] == nil {
		h.clients[topic] = map[*Client]struct{}{}
	}
	h.clients[topic][client] = struct{}{}
	return client
}

// Unregister removes client and closes its Send channel. Calling it for a
// client that is already gone is a no-op.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	topicClients, ok := h.clients[client.Topic]
	if !ok {
		return
	}
	if _, ok := topicClients[client]; !ok {
		return
	}
	delete(topicClients, client)
	if len(topicClients) == 0 {
		delete(h.clients, client.Topic)
	}
	close(client.Send)
}

// Publish sends payload to every subscriber of topic. When the Redis publish
// fails the message is still delivered to this instance's clients.
func (h *Hub) Publish(ctx context.Context, topic string, payload []byte) error {
	if h.redis == nil {
		h.deliver(topic, payload)
		return nil
	}
	if err := h.redis.Publish(ctx, redisChannel(topic), payload).Err(); err != nil {
		h.deliver(topic, payload)
		return err
	}
	return nil
}

// Close stops the Redis subscription and disconnects every client.
func (h *Hub) Close() error {
	var err error
	if h.pubsub != nil {
		err = h.pubsub.Close()
	}
	<-h.done

	h.mu.Lock()
	defer h.mu.Unlock()
	for topic, clients := range h.clients {
		for client := range clients {
			close(client.Send)
		}
		delete(h.clients, topic)
	}
	return err
}

func (h *Hub) deliver(topic string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[topic] {
		select {
		case client.Send <- payload:
		default:
			log.Debug().Str("topic", topic).Msg("dropping message for slow stream client")
		}
	}
}

func (h *Hub) forward() {
	defer close(h.done)
	for msg := range h.pubsub.Channel() {
		topic := topicFromChannel(msg.Channel)
		if topic == "" {
			continue
		}
		h.deliver(topic, []byte(msg.Payload))
	}
}

func redisChannel(topic string) string {
	return channelPrefix + topic + channelSuffix
}

// topicFromChannel parses silksong:{topic}:broadcast.
func topicFromChannel(ch string) string {
	if !strings.HasPrefix(ch, channelPrefix) || !strings.HasSuffix(ch, channelSuffix) {
		return ""
	}
	if len(ch) <= len(channelPrefix)+len(channelSuffix) {
		return ""
	}
	return ch[len(channelPrefix) : len(ch)-len(channelSuffix)]
}
