package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sendbridge/delivery/internal/channel"
	"github.com/sendbridge/delivery/internal/model"
	"github.com/sendbridge/delivery/internal/repo"
)

type fakeMessageRepo struct {
	candidates []model.Message

	gotMaxAttempts int
	gotPermanent   []string
}

func (f *fakeMessageRepo) GetByProviderRef(ctx context.Context, ref string) (model.Message, error) {
	return model.Message{}, model.ErrNotFound
}

func (f *fakeMessageRepo) ApplyStatusUpdate(ctx context.Context, upd repo.StatusUpdate) error {
	return errors.New("not implemented")
}

func (f *fakeMessageRepo) ListRetryCandidates(ctx context.Context, maxAttempts int, permanentCodes []string, limit int) ([]model.Message, error) {
	f.gotMaxAttempts = maxAttempts
	f.gotPermanent = permanentCodes
	return f.candidates, nil
}

func (f *fakeMessageRepo) ListSent(ctx context.Context, limit, offset int) ([]model.Message, error) {
	return nil, nil
}

type fakeResubmitter struct {
	calls   []int64
	failIDs map[int64]bool
}

func (f *fakeResubmitter) Resubmit(ctx context.Context, id int64, maxAttempts int, ch channel.Channel) (model.Message, error) {
	f.calls = append(f.calls, id)
	if f.failIDs[id] {
		return model.Message{}, &channel.SendError{Code: "throttled", Message: "try later"}
	}
	return model.Message{ID: id, DeliveryStatus: model.StatusSent}, nil
}

type noopChannel struct{}

func (noopChannel) Send(ctx context.Context, to, body string) (channel.SendResult, error) {
	return channel.SendResult{ProviderRef: "ref"}, nil
}

func (noopChannel) SendTemplate(ctx context.Context, to, templateRef string, variables map[string]string) (channel.SendResult, error) {
	return channel.SendResult{ProviderRef: "ref"}, nil
}

func TestRunner_RetriesOnlyEligible(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	eligible := failedMessage(0, now.Add(-10*time.Minute))
	eligible.ID = 1
	tooSoon := failedMessage(0, now.Add(-2*time.Minute))
	tooSoon.ID = 2

	msgs := &fakeMessageRepo{candidates: []model.Message{eligible, tooSoon}}
	sub := &fakeResubmitter{}

	r := NewRunner(testPolicy(), msgs, sub, noopChannel{}, 50, nil)
	r.now = func() time.Time { return now }

	retried, failed := r.Tick(context.Background())
	if retried != 1 || failed != 0 {
		t.Fatalf("expected retried=1 failed=0, got %d/%d", retried, failed)
	}
	if len(sub.calls) != 1 || sub.calls[0] != 1 {
		t.Fatalf("expected resubmit of id=1 only, got %v", sub.calls)
	}
}

func TestRunner_CountsFailedAttempts(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := failedMessage(0, now.Add(-10*time.Minute))
	first.ID = 1
	second := failedMessage(0, now.Add(-10*time.Minute))
	second.ID = 2

	msgs := &fakeMessageRepo{candidates: []model.Message{first, second}}
	sub := &fakeResubmitter{failIDs: map[int64]bool{2: true}}

	r := NewRunner(testPolicy(), msgs, sub, noopChannel{}, 50, nil)
	r.now = func() time.Time { return now }

	retried, failed := r.Tick(context.Background())
	if retried != 1 || failed != 1 {
		t.Fatalf("expected retried=1 failed=1, got %d/%d", retried, failed)
	}
}

func TestRunner_PassesPolicyBoundsToQuery(t *testing.T) {
	t.Parallel()

	msgs := &fakeMessageRepo{}
	sub := &fakeResubmitter{}

	r := NewRunner(testPolicy(), msgs, sub, noopChannel{}, 50, nil)
	r.Tick(context.Background())

	if msgs.gotMaxAttempts != 3 {
		t.Fatalf("expected max attempts 3 passed to query, got %d", msgs.gotMaxAttempts)
	}
	if len(msgs.gotPermanent) != 2 {
		t.Fatalf("expected permanent codes passed to query, got %v", msgs.gotPermanent)
	}
}
