package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sendbridge/delivery/internal/model"
	"github.com/sendbridge/delivery/internal/queue"
	"github.com/sendbridge/delivery/internal/repo"
)

// BroadcastService creates broadcasts (fan-out included) and hands them to
// the task queue for dispatch.
type BroadcastService struct {
	broadcasts repo.BroadcastRepository
	enqueuer   queue.Enqueuer
	log        *slog.Logger
}

func NewBroadcastService(broadcasts repo.BroadcastRepository, enqueuer queue.Enqueuer, log *slog.Logger) *BroadcastService {
	if log == nil {
		log = slog.Default()
	}
	return &BroadcastService{
		broadcasts: broadcasts,
		enqueuer:   enqueuer,
		log:        log,
	}
}

// Create resolves the target groups into recipients and enqueues the
// dispatch job. Resolution errors (unknown group, empty recipient set)
// surface synchronously and leave no partial state.
func (s *BroadcastService) Create(ctx context.Context, body string, createdBy int64, groupIDs []int64) (model.Broadcast, int, error) {
	b, recipients, err := s.broadcasts.CreateWithRecipients(ctx, body, createdBy, groupIDs)
	if err != nil {
		return model.Broadcast{}, 0, err
	}

	err = s.enqueuer.Enqueue(ctx, queue.JobDispatchBroadcast, queue.DispatchBroadcastPayload{
		BroadcastID: b.ID,
	})
	if err != nil {
		// The broadcast stays pending; the retry scheduler does not pick
		// up dispatch jobs, so surface this to the caller.
		return model.Broadcast{}, 0, fmt.Errorf("enqueueing dispatch job: %w", err)
	}

	s.log.Info("broadcast created",
		slog.Int64("broadcast_id", b.ID),
		slog.Int("recipients", recipients),
		slog.Int("groups", len(groupIDs)),
	)
	return b, recipients, nil
}

func (s *BroadcastService) Get(ctx context.Context, id int64) (model.Broadcast, model.BroadcastProgress, error) {
	b, err := s.broadcasts.Get(ctx, id)
	if err != nil {
		return model.Broadcast{}, model.BroadcastProgress{}, err
	}
	p, err := s.broadcasts.Progress(ctx, id)
	if err != nil {
		return model.Broadcast{}, model.BroadcastProgress{}, err
	}
	return b, p, nil
}
