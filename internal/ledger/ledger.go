// Package ledger guarantees a delivery record is never durable unless the
// channel confirmed acceptance. Callers open a pending record, invoke the
// channel, then commit on acceptance or roll back on any failure.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sendbridge/delivery/internal/model"
)

var ErrAlreadyFinished = errors.New("pending message already committed or rolled back")

// Pending is one open, uncommitted delivery record.
type Pending interface {
	MarkSent(ctx context.Context, providerRef string) error
	Commit() error
	Rollback() error
	Record() model.Message
}

// Creator is the narrow create-pending contract consumed by the dispatcher
// and the synchronous sender; fakes implement it in tests.
type Creator interface {
	CreatePending(ctx context.Context, spec MessageSpec) (Pending, error)
}

// AsCreator adapts the concrete ledger to the Creator interface.
func AsCreator(l *Ledger) Creator {
	return creatorAdapter{l}
}

type creatorAdapter struct {
	l *Ledger
}

func (a creatorAdapter) CreatePending(ctx context.Context, spec MessageSpec) (Pending, error) {
	return a.l.CreatePending(ctx, spec)
}

type MessageSpec struct {
	RecipientID *int64
	Phone       string
	Body        string
	Origin      model.MessageOrigin
}

type Ledger struct {
	db  *sql.DB
	log *slog.Logger
}

func New(db *sql.DB, log *slog.Logger) *Ledger {
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{db: db, log: log}
}

// PendingMessage is an uncommitted delivery record. It is visible only
// inside its own transaction until Commit.
type PendingMessage struct {
	tx       *sql.Tx
	finished bool

	Message model.Message
}

const insertMessageSQL = `
	INSERT INTO messages (recipient_id, phone, body, origin, delivery_status)
	VALUES ($1, $2, $3, $4, 'pending')
	RETURNING id, created_at, updated_at
`

// CreatePending allocates an identifier and writes a pending row inside an
// open transaction. The caller must Commit or Rollback.
func (l *Ledger) CreatePending(ctx context.Context, spec MessageSpec) (*PendingMessage, error) {
	if spec.Phone == "" {
		return nil, fmt.Errorf("phone must not be empty")
	}
	if spec.Origin == "" {
		spec.Origin = model.OriginSystem
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin ledger tx: %w", err)
	}

	m := model.Message{
		RecipientID:    spec.RecipientID,
		Phone:          spec.Phone,
		Body:           spec.Body,
		Origin:         spec.Origin,
		DeliveryStatus: model.StatusPending,
	}

	err = tx.QueryRowContext(ctx, insertMessageSQL,
		spec.RecipientID, spec.Phone, spec.Body, string(spec.Origin),
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("insert pending message: %w", err)
	}

	return &PendingMessage{tx: tx, Message: m}, nil
}

// MarkSent stamps the provider reference and moves the record to sent,
// still within the open transaction.
func (p *PendingMessage) MarkSent(ctx context.Context, providerRef string) error {
	if p.finished {
		return ErrAlreadyFinished
	}
	now := time.Now().UTC()
	_, err := p.tx.ExecContext(ctx, `
		UPDATE messages
		SET delivery_status = 'sent',
		    provider_ref = $2,
		    sent_at = $3,
		    updated_at = $3
		WHERE id = $1
	`, p.Message.ID, providerRef, now)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	p.Message.DeliveryStatus = model.StatusSent
	p.Message.ProviderRef = &providerRef
	p.Message.SentAt = &now
	return nil
}

// Commit makes the record durable.
func (p *PendingMessage) Commit() error {
	if p.finished {
		return ErrAlreadyFinished
	}
	p.finished = true
	return p.tx.Commit()
}

// Rollback discards the record entirely; no other reader will ever see it.
func (p *PendingMessage) Rollback() error {
	if p.finished {
		return nil
	}
	p.finished = true
	return p.tx.Rollback()
}

// Record returns the in-memory view of the pending row.
func (p *PendingMessage) Record() model.Message {
	return p.Message
}

// CreateCommitted is the legacy non-transactional variant: the row is
// durable immediately, before any channel confirmation. Only for simple
// synchronous paths where that is acceptable.
func (l *Ledger) CreateCommitted(ctx context.Context, spec MessageSpec) (model.Message, error) {
	if spec.Origin == "" {
		spec.Origin = model.OriginSystem
	}
	m := model.Message{
		RecipientID:    spec.RecipientID,
		Phone:          spec.Phone,
		Body:           spec.Body,
		Origin:         spec.Origin,
		DeliveryStatus: model.StatusPending,
	}
	err := l.db.QueryRowContext(ctx, insertMessageSQL,
		spec.RecipientID, spec.Phone, spec.Body, string(spec.Origin),
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return model.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}
