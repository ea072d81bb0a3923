package broadcast

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisBroker carries the topic over redis pub/sub so flows in separate
// processes sharing one redis behave like tabs in one browser profile.
type RedisBroker struct {
	client *redis.Client
}

// NewRedisBroker wraps an existing redis client.
func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

// Publish sends the payload to the shared topic.
func (b *RedisBroker) Publish(ctx context.Context, payload []byte) error {
	return b.client.Publish(ctx, Topic, payload).Err()
}

// Subscribe opens a redis subscription on the shared topic.
func (b *RedisBroker) Subscribe(ctx context.Context) (<-chan []byte, func(), error) {
	pubsub := b.client.Subscribe(ctx, Topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, err
	}

	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			out <- []byte(msg.Payload)
		}
	}()

	cancel := func() { _ = pubsub.Close() }
	return out, cancel, nil
}
