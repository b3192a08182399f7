package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// RedisClients splits traffic over two connections: Store carries refresh
// tokens, the chain-job queue and the leaderboard cache, PubSub carries the
// per-user score channels so blocking subscriptions never starve the store.
type RedisClients struct {
	Store  *redis.Client
	PubSub *redis.Client
}

func NewRedisClients(redisURL string) (*RedisClients, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	pubsubOpt := *opt
	clients := &RedisClients{
		Store:  redis.NewClient(opt),
		PubSub: redis.NewClient(&pubsubOpt),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := clients.Store.Ping(gctx).Err(); err != nil {
			return fmt.Errorf("failed to ping Redis (store): %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := clients.PubSub.Ping(gctx).Err(); err != nil {
			return fmt.Errorf("failed to ping Redis (pubsub): %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		clients.Close()
		return nil, err
	}
	return clients, nil
}

func (r *RedisClients) Close() {
	r.Store.Close()
	r.PubSub.Close()
}
