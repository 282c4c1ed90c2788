package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if we still own it, so a worker that
// overran the TTL cannot release a lock re-acquired by someone else.
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// RedisDispatchLock is the per-broadcast claim preventing two workers from
// racing over the same recipient rows when a dispatch job is delivered
// twice.
type RedisDispatchLock struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisDispatchLock(rdb *redis.Client, ttl time.Duration) *RedisDispatchLock {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisDispatchLock{rdb: rdb, ttl: ttl}
}

func (l *RedisDispatchLock) Acquire(ctx context.Context, broadcastID int64) (func(), bool, error) {
	key := fmt.Sprintf("broadcast:%d:dispatch", broadcastID)
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		_, _ = releaseScript.Run(context.Background(), l.rdb, []string{key}, token).Result()
	}
	return release, true, nil
}

// NoopDispatchLock always grants the lock. Used when Redis is disabled;
// dispatch then relies solely on row-level claiming.
type NoopDispatchLock struct{}

func (NoopDispatchLock) Acquire(ctx context.Context, broadcastID int64) (func(), bool, error) {
	return func() {}, true, nil
}

var (
	_ DispatchLock = (*RedisDispatchLock)(nil)
	_ DispatchLock = NoopDispatchLock{}
)
