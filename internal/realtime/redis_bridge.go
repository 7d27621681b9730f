package realtime

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// envelope is the wire form of an event mirrored between instances.
type envelope struct {
	Origin  string            `json:"origin"`
	Kind    EventType         `json:"kind"`
	Table   string            `json:"table,omitempty"`
	Keys    map[string]string `json:"keys,omitempty"`
	Row     json.RawMessage   `json:"row,omitempty"`
	Topic   string            `json:"topic,omitempty"`
	Name    string            `json:"name,omitempty"`
	Payload json.RawMessage   `json:"payload,omitempty"`
}

// RedisBridge mirrors row and broadcast events over a Redis Pub/Sub channel
// so several server instances see each other's changes. Own-origin messages
// are ignored on receipt.
type RedisBridge struct {
	client  *redis.Client
	channel string
	origin  string
	cancel  context.CancelFunc
}

func NewRedisBridge(url, channel string) (*RedisBridge, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &RedisBridge{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
	}, nil
}

func (b *RedisBridge) start(broker *Broker) {
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	pubsub := b.client.Subscribe(ctx, b.channel)
	go func() {
		defer pubsub.Close()
		for {
			msg, err := pubsub.ReceiveMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("[realtime] bridge receive: %v", err)
				broker.AnnounceStatus(err, "bridge receive failed")
				continue
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Printf("[realtime] bridge drop malformed envelope: %v", err)
				continue
			}
			if env.Origin == b.origin {
				continue
			}
			broker.deliverRemote(env)
		}
	}()
}

func (b *RedisBridge) forward(env envelope) {
	env.Origin = b.origin
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	if err := b.client.Publish(context.Background(), b.channel, data).Err(); err != nil {
		log.Printf("[realtime] bridge publish: %v", err)
	}
}

func (b *RedisBridge) Close() error {
	if b.cancel != nil {
		b.cancel()
	}
	return b.client.Close()
}
