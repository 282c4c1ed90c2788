package repo

import (
	"context"

	"github.com/sendbridge/delivery/internal/model"
)

// RecipientOutcome records one recipient's dispatch result. A batch of
// outcomes is committed in a single transaction.
type RecipientOutcome struct {
	RecipientID  int64
	Status       model.DeliveryStatus
	ProviderRef  *string
	ErrorMessage *string
}

type BroadcastRepository interface {
	// CreateWithRecipients creates the broadcast and fans its target groups
	// out into deduplicated recipient rows in one transaction. Returns
	// model.ErrGroupNotFound if any group is missing or not owned by
	// createdBy, and model.ErrNoRecipients if the membership union is
	// empty; in both cases nothing is persisted.
	CreateWithRecipients(ctx context.Context, body string, createdBy int64, groupIDs []int64) (model.Broadcast, int, error)
	Get(ctx context.Context, id int64) (model.Broadcast, error)
	SetStatus(ctx context.Context, id int64, status model.BroadcastStatus) error
	Progress(ctx context.Context, id int64) (model.BroadcastProgress, error)
	// ClaimPendingRecipients locks and moves up to limit pending recipients
	// to sending, so concurrent workers never pick the same rows.
	ClaimPendingRecipients(ctx context.Context, broadcastID int64, limit int) ([]model.Recipient, error)
	FinishRecipients(ctx context.Context, outcomes []RecipientOutcome) error
}
