// backend/pkg/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"challenge-system/internal/models"

	"github.com/go-redis/redis/v8"
)

const historyTTL = 10 * time.Minute

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(addr string) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	return NewRedisCacheWithClient(client)
}

func NewRedisCacheWithClient(client *redis.Client) *RedisCache {
	return &RedisCache{
		client: client,
		ttl:    historyTTL,
	}
}

func historyKey(userID string) string {
	return "history:" + userID
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// GetHistory reports found=false on a cache miss.
func (c *RedisCache) GetHistory(ctx context.Context, userID string) ([]models.ChallengeDTO, bool, error) {
	data, err := c.client.Get(ctx, historyKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var history []models.ChallengeDTO
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, false, err
	}
	return history, true, nil
}

func (c *RedisCache) SetHistory(ctx context.Context, userID string, history []models.ChallengeDTO) error {
	data, err := json.Marshal(history)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, historyKey(userID), data, c.ttl).Err()
}

func (c *RedisCache) InvalidateHistory(ctx context.Context, userID string) error {
	return c.client.Del(ctx, historyKey(userID)).Err()
}
