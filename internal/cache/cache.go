package cache

import (
	"context"
	"time"
)

// SentCache records accepted sends for fast inspection without a DB round
// trip.
type SentCache interface {
	StoreSent(ctx context.Context, messageID int64, providerRef string, sentAt time.Time) error
}

// DispatchLock guards a broadcast against concurrent dispatch by two
// workers. Acquire returns false when another holder is active; the
// returned release func is a no-op after the lock expired.
type DispatchLock interface {
	Acquire(ctx context.Context, broadcastID int64) (release func(), ok bool, err error)
}
