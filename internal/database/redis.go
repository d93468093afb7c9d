package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisDialCheckTimeout = 10 * time.Second

// RedisClients separates the queue/lock connection from the pub/sub
// connection so long-lived subscriptions never starve publishers.
type RedisClients struct {
	Queue  *redis.Client
	PubSub *redis.Client
}

// NewRedisClients builds both clients from one URL. Only the pub/sub side is
// checked up front; the queue client may start disconnected because the job
// queue supervisor reconnects it.
func NewRedisClients(redisURL string) (*RedisClients, error) {
	base, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	clients := &RedisClients{
		Queue:  redis.NewClient(named(base, "reelflow-queue")),
		PubSub: redis.NewClient(named(base, "reelflow-pubsub")),
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisDialCheckTimeout)
	defer cancel()
	if err := clients.PubSub.Ping(ctx).Err(); err != nil {
		clients.Close()
		return nil, fmt.Errorf("redis pubsub unreachable: %w", err)
	}
	return clients, nil
}

func named(base *redis.Options, name string) *redis.Options {
	opt := *base
	opt.ClientName = name
	return &opt
}

func (r *RedisClients) Close() {
	for _, c := range []*redis.Client{r.Queue, r.PubSub} {
		if c != nil {
			_ = c.Close()
		}
	}
}
