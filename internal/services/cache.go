package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"promptarena-backend/internal/logger"
	"promptarena-backend/internal/models"
)

// Cache stores serialized leaderboards.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, keys ...string)
}

func globalBoardKey(filter string) string { return "leaderboard:global:" + filter }
func taskBoardKey(taskID uuid.UUID) string { return "leaderboard:task:" + taskID.String() }

// RedisCache is a best-effort cache: Redis failures are logged and treated
// as misses so the leaderboards stay available.
type RedisCache struct {
	client *redis.Client
	log    *logger.Logger
}

func NewRedisCache(client *redis.Client, log *logger.Logger) *RedisCache {
	return &RedisCache{client: client, log: log}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.log.Warn("Cache read failed", "key", key, "error", err)
		return nil, false
	}
	return data, true
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.log.Warn("Cache write failed", "key", key, "error", err)
	}
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) {
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.log.Warn("Cache invalidation failed", "keys", keys, "error", err)
	}
}

// RedisPublisher fans session events out on the per-user channel the
// WebSocket hub subscribes to.
type RedisPublisher struct {
	client *redis.Client
	log    *logger.Logger
}

func NewRedisPublisher(client *redis.Client, log *logger.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, log: log}
}

func UserChannel(userID uuid.UUID) string {
	return fmt.Sprintf("user_updates:%s", userID.String())
}

func (p *RedisPublisher) PublishUpdate(ctx context.Context, userID uuid.UUID, msg models.WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		p.log.Error("Failed to encode event", "type", msg.Type, "error", err)
		return
	}
	if err := p.client.Publish(ctx, UserChannel(userID), data).Err(); err != nil {
		p.log.Warn("Failed to publish event", "type", msg.Type, "user_id", userID, "error", err)
	}
}
