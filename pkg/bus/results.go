package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ResultBus is the results:<client_id> pub/sub contract.
type ResultBus interface {
	Publish(ctx context.Context, clientID string, result Result) error
	// Subscribe returns a channel of decoded results for clientID and a
	// cancel function that unsubscribes and releases the underlying
	// connection. The channel is closed once cancel has fully drained the
	// subscription.
	Subscribe(ctx context.Context, clientID string) (<-chan Result, func(), error)
}

// RedisResultBus implements ResultBus on Redis Pub/Sub, grounded on the
// original gateway's subscribe_to_client_channel/publish_result: one
// channel per client, topic-isolated so results never leak across clients.
type RedisResultBus struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisResultBus(rdb *redis.Client, channelPrefix string) *RedisResultBus {
	return &RedisResultBus{rdb: rdb, prefix: channelPrefix}
}

func (b *RedisResultBus) channel(clientID string) string {
	return b.prefix + clientID
}

func (b *RedisResultBus) Publish(ctx context.Context, clientID string, result Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("bus: marshal result for %s: %w", clientID, err)
	}
	if err := b.rdb.Publish(ctx, b.channel(clientID), payload).Err(); err != nil {
		return fmt.Errorf("bus: publish result for %s: %w", clientID, err)
	}
	return nil
}

func (b *RedisResultBus) Subscribe(ctx context.Context, clientID string) (<-chan Result, func(), error) {
	pubsub := b.rdb.Subscribe(ctx, b.channel(clientID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, fmt.Errorf("bus: subscribe for %s: %w", clientID, err)
	}

	out := make(chan Result)
	done := make(chan struct{})

	go func() {
		defer close(out)
		ch := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var r Result
				if err := json.Unmarshal([]byte(msg.Payload), &r); err != nil {
					continue // malformed message from a worker; drop it, keep listening
				}
				select {
				case out <- r:
				case <-done:
					return
				}
			}
		}
	}()

	cancel := func() {
		close(done)
		pubsub.Unsubscribe(ctx, b.channel(clientID))
		pubsub.Close()
	}
	return out, cancel, nil
}
