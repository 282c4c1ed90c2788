package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

type sentValue struct {
	ProviderRef string    `json:"providerRef"`
	SentAt      time.Time `json:"sentAt"`
}

func (c *RedisCache) StoreSent(ctx context.Context, messageID int64, providerRef string, sentAt time.Time) error {
	key := fmt.Sprintf("msg:%d", messageID)
	val := sentValue{
		ProviderRef: providerRef,
		SentAt:      sentAt.UTC(),
	}

	b, err := json.Marshal(val)
	if err != nil {
		return err
	}

	return c.rdb.Set(ctx, key, b, c.ttl).Err()
}

// Seen and Mark implement callback deduplication: one marker per
// (provider_ref, status) pair, expiring with the cache TTL.
func (c *RedisCache) Seen(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, "cb:"+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *RedisCache) Mark(ctx context.Context, key string) error {
	return c.rdb.Set(ctx, "cb:"+key, 1, c.ttl).Err()
}
