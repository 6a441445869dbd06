package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// streamMaxLen caps the durable event stream via XADD MAXLEN ~.
const streamMaxLen int64 = 10000

// RedisPublisher publishes events on a Redis Pub/Sub channel for live
// consumers and appends them to a capped Redis stream for replay.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

// NewRedisPublisher creates a publisher on channel. The stream key is
// channel + ":stream".
func NewRedisPublisher(rdb *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	pipe := p.rdb.Pipeline()
	pipe.Publish(ctx, p.channel, payload)
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: p.StreamKey(),
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{"type": evt.Type, "market_id": evt.MarketID, "data": payload},
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: publish %s: %w", p.channel, err)
	}
	return nil
}

// StreamKey is the Redis stream events are appended to.
func (p *RedisPublisher) StreamKey() string {
	return p.channel + ":stream"
}
