package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/PaulBabatuyi/realtime-dm/internal/events"
)

// DialRedis connects to the Redis server at url and pings it.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	c := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return c, nil
}

// RedisRelay shares batches between nodes over a Redis pub/sub channel.
// Deliver publishes; Start subscribes and feeds every received batch to the
// local sink, normally a Sequencer in front of the Hub.
type RedisRelay struct {
	client *redis.Client
	topic  string
	local  Sink
	log    zerolog.Logger

	mu   sync.Mutex
	sub  *redis.PubSub
	done chan struct{}
}

// NewRedisRelay returns a relay on topic that delivers to local.
func NewRedisRelay(client *redis.Client, topic string, local Sink, log zerolog.Logger) *RedisRelay {
	return &RedisRelay{client: client, topic: topic, local: local, log: log}
}

var _ Sink = (*RedisRelay)(nil)

// Deliver publishes b to every node, this one included.
func (r *RedisRelay) Deliver(ctx context.Context, b events.Batch) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.topic, raw).Err(); err != nil {
		return fmt.Errorf("redis: publish: %w", err)
	}
	return nil
}

// Start subscribes to the topic and returns once the subscription is
// confirmed. Received batches are delivered until Close or ctx ends.
func (r *RedisRelay) Start(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.topic)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis: subscribe %s: %w", r.topic, err)
	}

	r.mu.Lock()
	r.sub = sub
	r.done = make(chan struct{})
	r.mu.Unlock()

	go r.pump(ctx, sub, r.done)
	return nil
}

// Close ends the subscription and waits for the receive loop.
func (r *RedisRelay) Close() error {
	r.mu.Lock()
	sub, done := r.sub, r.done
	r.sub = nil
	r.mu.Unlock()
	if sub == nil {
		return nil
	}
	err := sub.Close()
	<-done
	return err
}

func (r *RedisRelay) pump(ctx context.Context, sub *redis.PubSub, done chan<- struct{}) {
	defer close(done)
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var b events.Batch
			if err := json.Unmarshal([]byte(msg.Payload), &b); err != nil {
				r.log.Warn().Err(err).Msg("discarding malformed batch")
				continue
			}
			if err := r.local.Deliver(ctx, b); err != nil {
				r.log.Warn().Err(err).Str("key", b.Key).Msg("delivery failed")
			}
		}
	}
}
