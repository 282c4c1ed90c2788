package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sendbridge/delivery/internal/channel"
	"github.com/sendbridge/delivery/internal/model"
)

var ErrNotRetryable = errors.New("message is not in a retryable state")

// Resubmit re-attempts a failed or undelivered message through the channel.
// The attempt counter and last_retry_at are bumped before the channel call
// in their own transaction, so the attempt is counted even when the send
// fails or the process dies mid-call. On acceptance the record returns to
// sent with the fresh provider reference; on rejection the provider error
// is recorded, and exhausting maxAttempts parks the record at undelivered.
func (l *Ledger) Resubmit(ctx context.Context, id int64, maxAttempts int, ch channel.Channel) (model.Message, error) {
	m, err := l.claimAttempt(ctx, id)
	if err != nil {
		return model.Message{}, err
	}

	res, sendErr := ch.Send(ctx, m.Phone, m.Body)
	if sendErr == nil {
		return l.recordRetrySuccess(ctx, m, res.ProviderRef)
	}

	return l.recordRetryFailure(ctx, m, maxAttempts, sendErr)
}

func (l *Ledger) claimAttempt(ctx context.Context, id int64) (model.Message, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Message{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		m      model.Message
		status string
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, phone, body, delivery_status, retry_count
		FROM messages
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&m.ID, &m.Phone, &m.Body, &status, &m.RetryCount)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Message{}, model.ErrNotFound
	}
	if err != nil {
		return model.Message{}, err
	}
	m.DeliveryStatus = model.DeliveryStatus(status)
	if !m.DeliveryStatus.IsFailure() {
		return model.Message{}, ErrNotRetryable
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE messages
		SET retry_count = retry_count + 1,
		    last_retry_at = $2,
		    updated_at = $2
		WHERE id = $1
	`, id, now); err != nil {
		return model.Message{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE broadcast_recipients br
		SET retry_count = br.retry_count + 1,
		    updated_at = $2
		FROM messages m
		WHERE m.id = $1 AND br.id = m.recipient_id
	`, id, now); err != nil {
		return model.Message{}, err
	}

	if err := tx.Commit(); err != nil {
		return model.Message{}, err
	}

	m.RetryCount++
	m.LastRetryAt = &now
	return m, nil
}

func (l *Ledger) recordRetrySuccess(ctx context.Context, m model.Message, providerRef string) (model.Message, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Message{}, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE messages
		SET delivery_status = 'sent',
		    provider_ref = $2,
		    sent_at = COALESCE(sent_at, $3),
		    error_code = NULL,
		    error_message = NULL,
		    updated_at = $3
		WHERE id = $1
	`, m.ID, providerRef, now); err != nil {
		return model.Message{}, fmt.Errorf("record retry success: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE broadcast_recipients br
		SET delivery_status = 'sent',
		    provider_ref = $2,
		    error_message = NULL,
		    updated_at = $3
		FROM messages m
		WHERE m.id = $1 AND br.id = m.recipient_id
	`, m.ID, providerRef, now); err != nil {
		return model.Message{}, fmt.Errorf("record retry success: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.Message{}, fmt.Errorf("record retry success: %w", err)
	}

	l.log.Info("message resubmitted",
		slog.Int64("message_id", m.ID),
		slog.Int("attempt", m.RetryCount),
		slog.String("provider_ref", providerRef),
	)

	m.DeliveryStatus = model.StatusSent
	m.ProviderRef = &providerRef
	m.ErrorCode = nil
	m.ErrorMessage = nil
	return m, nil
}

// retryFailureStatus classifies a failed attempt: attempts left means the
// record stays retryable-failed, an exhausted counter parks it at
// undelivered for good.
func retryFailureStatus(retryCount, maxAttempts int) model.DeliveryStatus {
	if retryCount >= maxAttempts {
		return model.StatusUndelivered
	}
	return model.StatusFailed
}

// sendErrorDetails extracts the provider error code and message when the
// channel returned a typed rejection, or just the error text otherwise.
func sendErrorDetails(sendErr error) (code, msg *string) {
	if se, ok := channel.AsSendError(sendErr); ok {
		return &se.Code, &se.Message
	}
	s := sendErr.Error()
	return nil, &s
}

func (l *Ledger) recordRetryFailure(ctx context.Context, m model.Message, maxAttempts int, sendErr error) (model.Message, error) {
	status := retryFailureStatus(m.RetryCount, maxAttempts)
	code, msg := sendErrorDetails(sendErr)

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Message{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE messages
		SET delivery_status = $2,
		    error_code = COALESCE($3, error_code),
		    error_message = $4,
		    updated_at = now()
		WHERE id = $1
	`, m.ID, string(status), code, msg); err != nil {
		return model.Message{}, fmt.Errorf("record retry failure: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE broadcast_recipients br
		SET delivery_status = $2,
		    error_message = COALESCE($3, br.error_message),
		    updated_at = now()
		FROM messages m
		WHERE m.id = $1 AND br.id = m.recipient_id
	`, m.ID, string(status), msg); err != nil {
		return model.Message{}, fmt.Errorf("record retry failure: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.Message{}, fmt.Errorf("record retry failure: %w", err)
	}

	l.log.Warn("message retry failed",
		slog.Int64("message_id", m.ID),
		slog.Int("attempt", m.RetryCount),
		slog.String("status", string(status)),
		slog.Any("err", sendErr),
	)

	m.DeliveryStatus = status
	m.ErrorCode = code
	m.ErrorMessage = msg
	return m, sendErr
}
