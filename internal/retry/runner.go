package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/sendbridge/delivery/internal/channel"
	"github.com/sendbridge/delivery/internal/model"
	"github.com/sendbridge/delivery/internal/repo"
)

// Resubmitter is the ledger's retry path.
type Resubmitter interface {
	Resubmit(ctx context.Context, id int64, maxAttempts int, ch channel.Channel) (model.Message, error)
}

// Runner executes one retry cycle: query candidates, filter by backoff,
// resubmit each through the ledger. It is the tick function of the periodic
// retry scheduler and is safe to run concurrently with dispatchers (the
// claim update inside Resubmit serializes per row).
type Runner struct {
	policy   Policy
	messages repo.MessageRepository
	ledger   Resubmitter
	ch       channel.Channel
	batch    int
	now      func() time.Time
	log      *slog.Logger
}

func NewRunner(policy Policy, messages repo.MessageRepository, ledger Resubmitter, ch channel.Channel, batch int, log *slog.Logger) *Runner {
	if batch <= 0 {
		batch = 100
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		policy:   policy,
		messages: messages,
		ledger:   ledger,
		ch:       ch,
		batch:    batch,
		now:      time.Now,
		log:      log,
	}
}

// Tick runs one retry cycle and reports how many messages were resubmitted
// successfully and how many attempts failed again.
func (r *Runner) Tick(ctx context.Context) (retried, failed int) {
	candidates, err := r.messages.ListRetryCandidates(ctx, r.policy.MaxAttempts(), r.policy.PermanentCodes(), r.batch)
	if err != nil {
		r.log.Error("listing retry candidates failed", slog.Any("err", err))
		return 0, 0
	}

	now := r.now()
	for _, m := range candidates {
		if !r.policy.Eligible(m, now) {
			continue
		}

		if _, err := r.ledger.Resubmit(ctx, m.ID, r.policy.MaxAttempts(), r.ch); err != nil {
			failed++
			continue
		}
		retried++
	}

	if retried > 0 || failed > 0 {
		r.log.Info("retry cycle finished",
			slog.Int("candidates", len(candidates)),
			slog.Int("retried", retried),
			slog.Int("failed", failed),
		)
	}
	return retried, failed
}
