package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisSink publishes JSON envelopes on a Redis pub/sub channel so every
// application node can relay them to its own clients.
type RedisSink struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisSink constructs a RedisSink.
func NewRedisSink(client redis.UniversalClient, channel string) *RedisSink {
	if channel == "" {
		channel = "mise:events"
	}
	return &RedisSink{client: client, channel: channel}
}

// Name implements Sink.
func (s *RedisSink) Name() string { return "redis" }

// Publish implements Sink.
func (s *RedisSink) Publish(ctx context.Context, evt Event) error {
	if s == nil || s.client == nil {
		return ErrSinkClosed
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("broadcast: encode %s: %w", evt.Name, err)
	}
	return s.client.Publish(ctx, s.channel, payload).Err()
}

// Relay subscribes to the channel and forwards every decoded event to the
// local hub until ctx is cancelled. Events are re-published verbatim.
func (s *RedisSink) Relay(ctx context.Context, hub *Hub) error {
	pubsub := s.client.Subscribe(ctx, s.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var evt relayedEvent
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					continue
				}
				_ = hub.Publish(ctx, Event{
					ID:         evt.ID,
					Name:       evt.Name,
					Audience:   evt.Audience,
					OccurredAt: evt.OccurredAt,
					Payload:    evt.Payload,
				})
			}
		}
	}()
	return nil
}

type relayedEvent struct {
	Event
	Payload json.RawMessage `json:"payload"`
}
