// Package dispatch walks a broadcast's pending recipients in bounded
// batches, pushing each one through the ledger/channel path. It runs as a
// task-queue job handler and is written to survive redelivery: recipients
// are claimed row-by-row and a Redis lock keeps two workers off the same
// broadcast.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/sendbridge/delivery/internal/cache"
	"github.com/sendbridge/delivery/internal/channel"
	"github.com/sendbridge/delivery/internal/ledger"
	"github.com/sendbridge/delivery/internal/model"
	"github.com/sendbridge/delivery/internal/queue"
	"github.com/sendbridge/delivery/internal/repo"
)

type Config struct {
	BatchSize  int
	RatePerSec int
}

type Dispatcher struct {
	broadcasts repo.BroadcastRepository
	ledger     ledger.Creator
	ch         channel.Channel
	lock       cache.DispatchLock
	limiter    *rate.Limiter
	batchSize  int
	log        *slog.Logger
}

func New(cfg Config, broadcasts repo.BroadcastRepository, l ledger.Creator, ch channel.Channel, lock cache.DispatchLock, log *slog.Logger) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 10
	}
	if lock == nil {
		lock = cache.NoopDispatchLock{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		broadcasts: broadcasts,
		ledger:     l,
		ch:         ch,
		lock:       lock,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		batchSize:  cfg.BatchSize,
		log:        log,
	}
}

// HandleJob is the queue.JobDispatchBroadcast handler.
func (d *Dispatcher) HandleJob(ctx context.Context, payload json.RawMessage) error {
	var p queue.DispatchBroadcastPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		// Malformed payloads would fail forever; drop instead of requeue.
		d.log.Error("dropping malformed dispatch payload", slog.Any("err", err))
		return nil
	}
	return d.Run(ctx, p.BroadcastID)
}

// Run processes one broadcast to completion. Safe to call again after a
// partial run: already-finished recipients are no longer pending and are
// not claimed twice.
func (d *Dispatcher) Run(ctx context.Context, broadcastID int64) error {
	release, ok, err := d.lock.Acquire(ctx, broadcastID)
	if err != nil {
		return fmt.Errorf("acquiring dispatch lock: %w", err)
	}
	if !ok {
		d.log.Info("broadcast already being dispatched", slog.Int64("broadcast_id", broadcastID))
		return nil
	}
	defer release()

	b, err := d.broadcasts.Get(ctx, broadcastID)
	if err != nil {
		return fmt.Errorf("loading broadcast %d: %w", broadcastID, err)
	}
	if b.Status == model.BroadcastCompleted {
		return nil
	}

	if err := d.broadcasts.SetStatus(ctx, broadcastID, model.BroadcastProcessing); err != nil {
		return fmt.Errorf("marking broadcast processing: %w", err)
	}

	start := time.Now()
	var sent, failed int
	processedAny := false

	for {
		batch, err := d.broadcasts.ClaimPendingRecipients(ctx, broadcastID, d.batchSize)
		if err != nil {
			if !processedAny {
				_ = d.broadcasts.SetStatus(ctx, broadcastID, model.BroadcastFailed)
			}
			return fmt.Errorf("claiming recipients: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		outcomes := make([]repo.RecipientOutcome, 0, len(batch))
		for _, rec := range batch {
			if err := d.limiter.Wait(ctx); err != nil {
				// Cancelled mid-batch: put the claimed rows back so the
				// next run picks them up.
				outcomes = appendUnclaimed(outcomes, batch[len(outcomes):])
				_ = d.broadcasts.FinishRecipients(ctx, outcomes)
				return err
			}
			outcomes = append(outcomes, d.sendOne(ctx, b, rec))
		}

		if err := d.broadcasts.FinishRecipients(ctx, outcomes); err != nil {
			if !processedAny {
				_ = d.broadcasts.SetStatus(ctx, broadcastID, model.BroadcastFailed)
			}
			return fmt.Errorf("recording batch outcomes: %w", err)
		}
		processedAny = true

		for _, o := range outcomes {
			if o.Status == model.StatusSent {
				sent++
			} else {
				failed++
			}
		}
	}

	// Completed even when individual recipients failed; their errors stay
	// queryable on the recipient rows.
	if err := d.broadcasts.SetStatus(ctx, broadcastID, model.BroadcastCompleted); err != nil {
		return fmt.Errorf("marking broadcast completed: %w", err)
	}

	d.log.Info("broadcast dispatched",
		slog.Int64("broadcast_id", broadcastID),
		slog.Int("sent", sent),
		slog.Int("failed", failed),
		slog.Duration("dur", time.Since(start)),
	)
	return nil
}

// sendOne isolates a single recipient: its failure never aborts the batch.
func (d *Dispatcher) sendOne(ctx context.Context, b model.Broadcast, rec model.Recipient) repo.RecipientOutcome {
	recID := rec.ID
	pending, err := d.ledger.CreatePending(ctx, ledger.MessageSpec{
		RecipientID: &recID,
		Phone:       rec.Phone,
		Body:        b.Body,
		Origin:      model.OriginSystem,
	})
	if err != nil {
		return failedOutcome(rec.ID, fmt.Sprintf("opening ledger record: %v", err))
	}

	var res channel.SendResult
	if rec.TemplateRef != nil {
		res, err = d.ch.SendTemplate(ctx, rec.Phone, *rec.TemplateRef, map[string]string{
			"name": rec.DisplayName,
			"body": b.Body,
		})
	} else {
		res, err = d.ch.Send(ctx, rec.Phone, b.Body)
	}
	if err != nil {
		// Submission failure: no delivery record may survive.
		_ = pending.Rollback()
		if se, ok := channel.AsSendError(err); ok {
			return failedOutcome(rec.ID, se.Message)
		}
		return failedOutcome(rec.ID, err.Error())
	}

	if err := pending.MarkSent(ctx, res.ProviderRef); err != nil {
		_ = pending.Rollback()
		return failedOutcome(rec.ID, fmt.Sprintf("stamping provider ref: %v", err))
	}
	if err := pending.Commit(); err != nil {
		return failedOutcome(rec.ID, fmt.Sprintf("committing ledger record: %v", err))
	}

	ref := res.ProviderRef
	return repo.RecipientOutcome{
		RecipientID: rec.ID,
		Status:      model.StatusSent,
		ProviderRef: &ref,
	}
}

func failedOutcome(recipientID int64, msg string) repo.RecipientOutcome {
	return repo.RecipientOutcome{
		RecipientID:  recipientID,
		Status:       model.StatusFailed,
		ErrorMessage: &msg,
	}
}

func appendUnclaimed(outcomes []repo.RecipientOutcome, rest []model.Recipient) []repo.RecipientOutcome {
	for _, rec := range rest {
		outcomes = append(outcomes, repo.RecipientOutcome{
			RecipientID: rec.ID,
			Status:      model.StatusPending,
		})
	}
	return outcomes
}
