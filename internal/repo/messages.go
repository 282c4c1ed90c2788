package repo

import (
	"context"
	"time"

	"github.com/sendbridge/delivery/internal/model"
)

// StatusUpdate is one durable mutation of a message's delivery state,
// produced by the callback processor. Only non-nil fields are written;
// timestamp fields are set at most once.
type StatusUpdate struct {
	MessageID    int64
	Status       model.DeliveryStatus
	DeliveredAt  *time.Time
	ReadAt       *time.Time
	ErrorCode    *string
	ErrorMessage *string
}

type MessageRepository interface {
	GetByProviderRef(ctx context.Context, providerRef string) (model.Message, error)
	ApplyStatusUpdate(ctx context.Context, upd StatusUpdate) error
	// ListRetryCandidates returns failed or undelivered messages below the
	// attempt cap whose error code is not in the permanent set. Backoff
	// elapsed-time filtering is the caller's concern.
	ListRetryCandidates(ctx context.Context, maxAttempts int, permanentCodes []string, limit int) ([]model.Message, error)
	ListSent(ctx context.Context, limit, offset int) ([]model.Message, error)
}
