package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"crm-calls/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// RedisRelay publishes updates on a Redis channel and feeds every update
// received on it into the local Hub, so each API instance serves the streams
// connected to it.
type RedisRelay struct {
	rdb       *redis.Client
	hub       *Hub
	channel   string
	ready     chan struct{}
	readyOnce sync.Once
}

func NewRedisRelay(rdb *redis.Client, hub *Hub) *RedisRelay {
	return &RedisRelay{rdb: rdb, hub: hub, channel: ChannelCallUpdate, ready: make(chan struct{})}
}

func (r *RedisRelay) Broadcast(ctx context.Context, u CallUpdate) error {
	b, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("realtime: encode update: %w", err)
	}
	if err := r.rdb.Publish(ctx, r.channel, b).Err(); err != nil {
		return fmt.Errorf("realtime: publish: %w", err)
	}
	return nil
}

// Ready is closed once Run has subscribed.
func (r *RedisRelay) Ready() <-chan struct{} { return r.ready }

// Run relays until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("realtime: subscribe %s: %w", r.channel, err)
	}
	r.readyOnce.Do(func() { close(r.ready) })

	log := logger.From(ctx)
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var u CallUpdate
			if err := json.Unmarshal([]byte(msg.Payload), &u); err != nil {
				log.Warn("realtime: dropping malformed update", "err", err)
				continue
			}
			_ = r.hub.Broadcast(ctx, u)
		}
	}
}
