package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/open-same/collab-hub/internal/config"
)

// RedisBus is a Bus backed by Redis pub/sub.
type RedisBus struct {
	rdb    *redis.Client
	prefix string
	log    *slog.Logger
}

// NewRedisBus connects to redis and verifies connectivity.
func NewRedisBus(ctx context.Context, cfg config.RedisConfig, log *slog.Logger) (*RedisBus, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	prefix := cfg.ChannelPrefix
	if prefix == "" {
		prefix = "collab"
	}
	return &RedisBus{rdb: rdb, prefix: prefix, log: log}, nil
}

// Publish sends m on the channel for its scope and target.
func (b *RedisBus) Publish(ctx context.Context, m BusMessage) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel(m.Scope, m.Target), raw).Err()
}

// Subscribe listens to every hub channel and invokes fn for each message.
func (b *RedisBus) Subscribe(ctx context.Context, fn func(BusMessage)) {
	pubsub := b.rdb.PSubscribe(ctx, b.prefix+":*")
	defer pubsub.Close()
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var bm BusMessage
			if err := json.Unmarshal([]byte(msg.Payload), &bm); err != nil {
				b.log.Warn("bus.decode_failed", "channel", msg.Channel, "err", err)
				continue
			}
			if bm.Scope != "" {
				fn(bm)
			}
		}
	}
}

// Close shuts down the redis connection.
func (b *RedisBus) Close() { _ = b.rdb.Close() }

func (b *RedisBus) channel(scope BusScope, target string) string {
	if target == "" {
		return b.prefix + ":" + string(scope)
	}
	return b.prefix + ":" + string(scope) + ":" + target
}
