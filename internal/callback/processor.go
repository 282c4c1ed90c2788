// Package callback consumes asynchronous provider status reports and
// advances the delivery-state machine. Processing is idempotent: replays
// and out-of-order reports never double-apply side effects.
package callback

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sendbridge/delivery/internal/model"
	"github.com/sendbridge/delivery/internal/repo"
)

// StatusCallback is the provider's webhook payload. The surrounding HTTP
// layer authenticates it before it reaches this package.
type StatusCallback struct {
	MessageRefID string `json:"message_ref_id"`
	Status       string `json:"status"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type Result string

const (
	// ResultApplied means the state machine advanced.
	ResultApplied Result = "applied"
	// ResultIgnored means the provider reference is unknown to us.
	ResultIgnored Result = "ignored"
	// ResultDuplicate means an identical callback was already processed.
	ResultDuplicate Result = "duplicate"
	// ResultStale means the report would move the state machine backward
	// (or sideways) and was dropped.
	ResultStale Result = "stale"
)

// DedupMarker short-circuits exact webhook redeliveries before any
// database work. Implementations may lose markers (e.g. Redis restart);
// the state machine check below stays the source of truth.
type DedupMarker interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

type Processor struct {
	messages repo.MessageRepository
	dedup    DedupMarker
	now      func() time.Time
	log      *slog.Logger
}

func NewProcessor(messages repo.MessageRepository, dedup DedupMarker, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		messages: messages,
		dedup:    dedup,
		now:      time.Now,
		log:      log,
	}
}

func (p *Processor) Process(ctx context.Context, cb StatusCallback) (Result, error) {
	if cb.MessageRefID == "" {
		return "", fmt.Errorf("message_ref_id must not be empty")
	}
	next := model.DeliveryStatus(cb.Status)
	if !next.Valid() || next == model.StatusPending {
		return "", fmt.Errorf("unsupported callback status %q", cb.Status)
	}

	dedupKey := cb.MessageRefID + ":" + cb.Status
	if p.dedup != nil {
		seen, err := p.dedup.Seen(ctx, dedupKey)
		if err == nil && seen {
			return ResultDuplicate, nil
		}
	}

	m, err := p.messages.GetByProviderRef(ctx, cb.MessageRefID)
	if err == model.ErrNotFound {
		p.log.Debug("callback for unknown provider ref", slog.String("provider_ref", cb.MessageRefID))
		return ResultIgnored, nil
	}
	if err != nil {
		return "", fmt.Errorf("looking up message by provider ref: %w", err)
	}

	if !m.DeliveryStatus.CanTransition(next) {
		return ResultStale, nil
	}
	// A failed or undelivered message returns to sent only through the
	// retry path. A provider "sent" report arriving after a failure report
	// is out of date, not a recovery.
	if m.DeliveryStatus.IsFailure() && next == model.StatusSent {
		return ResultStale, nil
	}

	upd := repo.StatusUpdate{MessageID: m.ID, Status: next}
	now := p.now().UTC()

	switch next {
	case model.StatusDelivered:
		if m.DeliveredAt == nil {
			upd.DeliveredAt = &now
		}
	case model.StatusRead:
		// Providers may skip the delivered report entirely.
		if m.DeliveredAt == nil {
			upd.DeliveredAt = &now
		}
		if m.ReadAt == nil {
			upd.ReadAt = &now
		}
	case model.StatusFailed, model.StatusUndelivered:
		if cb.ErrorCode != "" {
			upd.ErrorCode = &cb.ErrorCode
		}
		if cb.ErrorMessage != "" {
			upd.ErrorMessage = &cb.ErrorMessage
		}
	}

	if err := p.messages.ApplyStatusUpdate(ctx, upd); err != nil {
		return "", fmt.Errorf("applying status update: %w", err)
	}

	if p.dedup != nil {
		if err := p.dedup.Mark(ctx, dedupKey); err != nil {
			p.log.Debug("marking callback processed failed", slog.Any("err", err))
		}
	}

	p.log.Info("delivery status advanced",
		slog.Int64("message_id", m.ID),
		slog.String("from", string(m.DeliveryStatus)),
		slog.String("to", string(next)),
	)
	return ResultApplied, nil
}
