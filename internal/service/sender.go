package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/sendbridge/delivery/internal/cache"
	"github.com/sendbridge/delivery/internal/channel"
	"github.com/sendbridge/delivery/internal/ledger"
	"github.com/sendbridge/delivery/internal/model"
)

// ErrInvalidMessage marks validation failures caught before the ledger or
// the channel is touched. Callers can map it to a client error.
var ErrInvalidMessage = errors.New("invalid message")

// Sender is the direct synchronous send path. It follows the ledger
// protocol: the message row becomes durable only after the channel accepts
// the submission, so a rejected send leaves no trace in the store.
type Sender struct {
	ledger     ledger.Creator
	ch         channel.Channel
	contentMax int

	sentCache cache.SentCache
	log       *slog.Logger
}

func NewSender(l ledger.Creator, ch channel.Channel, contentMax int, log *slog.Logger) *Sender {
	if log == nil {
		log = slog.Default()
	}
	return &Sender{
		ledger:     l,
		ch:         ch,
		contentMax: contentMax,
		log:        log,
	}
}

// WithSentCache records accepted sends in the cache as well.
func (s *Sender) WithSentCache(c cache.SentCache) *Sender {
	s.sentCache = c
	return s
}

func (s *Sender) Send(ctx context.Context, phone, body string, origin model.MessageOrigin) (model.Message, error) {
	if phone == "" {
		return model.Message{}, fmt.Errorf("%w: phone must not be empty", ErrInvalidMessage)
	}
	if utf8.RuneCountInString(body) > s.contentMax {
		return model.Message{}, fmt.Errorf("%w: content exceeds %d chars", ErrInvalidMessage, s.contentMax)
	}

	pending, err := s.ledger.CreatePending(ctx, ledger.MessageSpec{
		Phone:  phone,
		Body:   body,
		Origin: origin,
	})
	if err != nil {
		return model.Message{}, err
	}

	res, err := s.ch.Send(ctx, phone, body)
	if err != nil {
		_ = pending.Rollback()
		return model.Message{}, fmt.Errorf("channel send: %w", err)
	}

	if err := pending.MarkSent(ctx, res.ProviderRef); err != nil {
		_ = pending.Rollback()
		return model.Message{}, err
	}
	if err := pending.Commit(); err != nil {
		return model.Message{}, err
	}

	m := pending.Record()
	if s.sentCache != nil {
		if err := s.sentCache.StoreSent(ctx, m.ID, res.ProviderRef, time.Now()); err != nil {
			s.log.Debug("sent cache write failed", slog.Any("err", err))
		}
	}

	s.log.Info("message sent",
		slog.Int64("message_id", m.ID),
		slog.String("provider_ref", res.ProviderRef),
	)
	return m, nil
}
