package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sendbridge/delivery/internal/model"
)

type PostgresMessageRepo struct {
	db *sql.DB
}

func NewPostgresMessageRepo(db *sql.DB) *PostgresMessageRepo {
	return &PostgresMessageRepo{db: db}
}

const messageColumns = `
	id, recipient_id, phone, body, origin, delivery_status, provider_ref,
	retry_count, last_retry_at, error_code, error_message,
	sent_at, delivered_at, read_at, created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (model.Message, error) {
	var (
		m           model.Message
		status      string
		origin      string
		recipientID sql.NullInt64
		providerRef sql.NullString
		lastRetryAt sql.NullTime
		errCode     sql.NullString
		errMsg      sql.NullString
		sentAt      sql.NullTime
		deliveredAt sql.NullTime
		readAt      sql.NullTime
	)

	if err := row.Scan(
		&m.ID,
		&recipientID,
		&m.Phone,
		&m.Body,
		&origin,
		&status,
		&providerRef,
		&m.RetryCount,
		&lastRetryAt,
		&errCode,
		&errMsg,
		&sentAt,
		&deliveredAt,
		&readAt,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return model.Message{}, err
	}

	m.DeliveryStatus = model.DeliveryStatus(status)
	m.Origin = model.MessageOrigin(origin)

	if recipientID.Valid {
		v := recipientID.Int64
		m.RecipientID = &v
	}
	if providerRef.Valid {
		s := providerRef.String
		m.ProviderRef = &s
	}
	if lastRetryAt.Valid {
		t := lastRetryAt.Time
		m.LastRetryAt = &t
	}
	if errCode.Valid {
		s := errCode.String
		m.ErrorCode = &s
	}
	if errMsg.Valid {
		s := errMsg.String
		m.ErrorMessage = &s
	}
	if sentAt.Valid {
		t := sentAt.Time
		m.SentAt = &t
	}
	if deliveredAt.Valid {
		t := deliveredAt.Time
		m.DeliveredAt = &t
	}
	if readAt.Valid {
		t := readAt.Time
		m.ReadAt = &t
	}

	return m, nil
}

func (r *PostgresMessageRepo) GetByProviderRef(ctx context.Context, providerRef string) (model.Message, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE provider_ref = $1
	`, providerRef)

	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Message{}, model.ErrNotFound
	}
	return m, err
}

// ApplyStatusUpdate writes the message mutation and mirrors the new status
// onto the owning broadcast recipient row, in one transaction.
func (r *PostgresMessageRepo) ApplyStatusUpdate(ctx context.Context, upd StatusUpdate) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE messages
		SET delivery_status = $2,
		    delivered_at = COALESCE(delivered_at, $3),
		    read_at = COALESCE(read_at, $4),
		    error_code = COALESCE($5, error_code),
		    error_message = COALESCE($6, error_message),
		    updated_at = now()
		WHERE id = $1
	`, upd.MessageID, string(upd.Status), upd.DeliveredAt, upd.ReadAt, upd.ErrorCode, upd.ErrorMessage)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return model.ErrNotFound
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE broadcast_recipients br
		SET delivery_status = $2,
		    error_message = COALESCE($3, br.error_message),
		    updated_at = now()
		FROM messages m
		WHERE m.id = $1 AND br.id = m.recipient_id
	`, upd.MessageID, string(upd.Status), upd.ErrorMessage)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (r *PostgresMessageRepo) ListRetryCandidates(ctx context.Context, maxAttempts int, permanentCodes []string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}
	if permanentCodes == nil {
		permanentCodes = []string{}
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE delivery_status IN ('failed', 'undelivered')
		  AND retry_count < $1
		  AND (error_code IS NULL OR error_code <> ALL($2))
		ORDER BY created_at ASC
		LIMIT $3
	`, maxAttempts, permanentCodes, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PostgresMessageRepo) ListSent(ctx context.Context, limit, offset int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE delivery_status IN ('sent', 'delivered', 'read')
		ORDER BY sent_at DESC NULLS LAST
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

var _ MessageRepository = (*PostgresMessageRepo)(nil)
