package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisDispatchLock_AcquireAndRelease(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	lock := NewRedisDispatchLock(rdb, time.Minute)
	ctx := context.Background()

	release, ok, err := lock.Acquire(ctx, 7)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if !ok {
		t.Fatalf("expected first Acquire to succeed")
	}
	if !mr.Exists("broadcast:7:dispatch") {
		t.Fatalf("expected lock key to exist")
	}

	// Second worker is turned away while the lock is held.
	_, ok, err = lock.Acquire(ctx, 7)
	if err != nil {
		t.Fatalf("second Acquire() error: %v", err)
	}
	if ok {
		t.Fatalf("expected second Acquire to be refused")
	}

	release()
	if mr.Exists("broadcast:7:dispatch") {
		t.Fatalf("expected lock key to be gone after release")
	}

	_, ok, err = lock.Acquire(ctx, 7)
	if err != nil {
		t.Fatalf("Acquire() after release error: %v", err)
	}
	if !ok {
		t.Fatalf("expected Acquire to succeed after release")
	}
}

func TestRedisDispatchLock_DifferentBroadcastsDoNotContend(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	lock := NewRedisDispatchLock(rdb, time.Minute)
	ctx := context.Background()

	_, ok, err := lock.Acquire(ctx, 1)
	if err != nil || !ok {
		t.Fatalf("Acquire(1) = %v, %v", ok, err)
	}

	_, ok, err = lock.Acquire(ctx, 2)
	if err != nil || !ok {
		t.Fatalf("Acquire(2) = %v, %v", ok, err)
	}
}

func TestRedisDispatchLock_ReleaseAfterExpiryDoesNotStealLock(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	lock := NewRedisDispatchLock(rdb, time.Second)
	ctx := context.Background()

	staleRelease, ok, err := lock.Acquire(ctx, 7)
	if err != nil || !ok {
		t.Fatalf("Acquire() = %v, %v", ok, err)
	}

	// The first holder overruns the TTL and a second worker takes over.
	mr.FastForward(2 * time.Second)

	_, ok, err = lock.Acquire(ctx, 7)
	if err != nil || !ok {
		t.Fatalf("Acquire() after expiry = %v, %v", ok, err)
	}

	// The stale release must not delete the new owner's lock.
	staleRelease()
	if !mr.Exists("broadcast:7:dispatch") {
		t.Fatalf("stale release deleted the new owner's lock")
	}
}

func TestNoopDispatchLock_AlwaysGrants(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		release, ok, err := NoopDispatchLock{}.Acquire(ctx, 7)
		if err != nil || !ok {
			t.Fatalf("Acquire() = %v, %v", ok, err)
		}
		release()
	}
}
