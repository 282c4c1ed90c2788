package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisCache_StoreSent_Success(t *testing.T) {
	t.Parallel()

	// Start in-memory Redis
	mr := miniredis.RunT(t)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	ttl := 10 * time.Second
	cache := NewRedisCache(rdb, ttl)

	ctx := context.Background()
	messageID := int64(42)
	providerRef := "prov-123"
	sentAt := time.Date(2026, 2, 2, 18, 0, 0, 0, time.UTC)

	if err := cache.StoreSent(ctx, messageID, providerRef, sentAt); err != nil {
		t.Fatalf("StoreSent() error: %v", err)
	}

	key := "msg:42"

	if !mr.Exists(key) {
		t.Fatalf("expected key %q to exist", key)
	}

	ttlRemaining := mr.TTL(key)
	if ttlRemaining <= 0 {
		t.Fatalf("expected TTL to be set, got %v", ttlRemaining)
	}

	raw, err := mr.Get(key)
	if err != nil {
		t.Fatalf("failed to get key %q: %v", key, err)
	}

	var got sentValue
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatalf("failed to unmarshal value: %v", err)
	}

	if got.ProviderRef != providerRef {
		t.Fatalf("expected ProviderRef %q, got %q", providerRef, got.ProviderRef)
	}
	if !got.SentAt.Equal(sentAt.UTC()) {
		t.Fatalf("expected SentAt %v, got %v", sentAt.UTC(), got.SentAt)
	}
}

func TestRedisCache_StoreSent_OverwritesExistingValue(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cache := NewRedisCache(rdb, time.Minute)
	ctx := context.Background()

	messageID := int64(1)

	// First write
	if err := cache.StoreSent(ctx, messageID, "first", time.Now()); err != nil {
		t.Fatalf("first StoreSent() error: %v", err)
	}

	// Second write should overwrite
	secondTime := time.Now().Add(time.Minute)
	if err := cache.StoreSent(ctx, messageID, "second", secondTime); err != nil {
		t.Fatalf("second StoreSent() error: %v", err)
	}

	raw, err := mr.Get("msg:1")
	if err != nil {
		t.Fatalf("failed to get key msg:1: %v", err)
	}

	var got sentValue
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatalf("failed to unmarshal value: %v", err)
	}

	if got.ProviderRef != "second" {
		t.Fatalf("expected overwritten ProviderRef %q, got %q", "second", got.ProviderRef)
	}
}

func TestRedisCache_StoreSent_ContextCanceled(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cache := NewRedisCache(rdb, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cache.StoreSent(ctx, 1, "x", time.Now())
	if err == nil {
		t.Fatalf("expected error due to canceled context, got nil")
	}
}

func TestRedisCache_SeenMark(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cache := NewRedisCache(rdb, time.Minute)
	ctx := context.Background()

	seen, err := cache.Seen(ctx, "prov-1:delivered")
	if err != nil {
		t.Fatalf("Seen() error: %v", err)
	}
	if seen {
		t.Fatalf("expected unmarked key to be unseen")
	}

	if err := cache.Mark(ctx, "prov-1:delivered"); err != nil {
		t.Fatalf("Mark() error: %v", err)
	}

	seen, err = cache.Seen(ctx, "prov-1:delivered")
	if err != nil {
		t.Fatalf("Seen() after Mark error: %v", err)
	}
	if !seen {
		t.Fatalf("expected marked key to be seen")
	}

	// Markers for other statuses of the same message stay independent.
	seen, err = cache.Seen(ctx, "prov-1:read")
	if err != nil {
		t.Fatalf("Seen() error: %v", err)
	}
	if seen {
		t.Fatalf("expected different status key to be unseen")
	}

	if ttl := mr.TTL("cb:prov-1:delivered"); ttl <= 0 {
		t.Fatalf("expected TTL on marker, got %v", ttl)
	}
}
