package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Job names handled by the worker runtime.
const (
	JobDispatchBroadcast = "broadcast.dispatch"
	JobRetryCycle        = "retry.cycle"
)

// Job is the envelope published to the task queue. Delivery is
// at-least-once: handlers must be idempotent.
type Job struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

type DispatchBroadcastPayload struct {
	BroadcastID int64 `json:"broadcastId"`
}

// Handler processes one job payload. Returning an error requeues the job.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Enqueuer is the fire-and-forget producer side.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload any) error
}
