package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sendbridge/delivery/internal/model"
)

type PostgresBroadcastRepo struct {
	db *sql.DB
}

func NewPostgresBroadcastRepo(db *sql.DB) *PostgresBroadcastRepo {
	return &PostgresBroadcastRepo{db: db}
}

func (r *PostgresBroadcastRepo) CreateWithRecipients(ctx context.Context, body string, createdBy int64, groupIDs []int64) (model.Broadcast, int, error) {
	if body == "" {
		return model.Broadcast{}, 0, fmt.Errorf("body must not be empty")
	}
	if len(groupIDs) == 0 {
		return model.Broadcast{}, 0, fmt.Errorf("at least one target group is required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Broadcast{}, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var accessible int
	err = tx.QueryRowContext(ctx, `
		SELECT count(*) FROM groups
		WHERE id = ANY($1) AND owner_id = $2
	`, groupIDs, createdBy).Scan(&accessible)
	if err != nil {
		return model.Broadcast{}, 0, err
	}
	if accessible != len(groupIDs) {
		return model.Broadcast{}, 0, model.ErrGroupNotFound
	}

	var b model.Broadcast
	b.Body = body
	b.CreatedBy = createdBy
	b.Status = model.BroadcastPending
	err = tx.QueryRowContext(ctx, `
		INSERT INTO broadcasts (body, status, created_by)
		VALUES ($1, 'pending', $2)
		RETURNING id, created_at, updated_at
	`, body, createdBy).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return model.Broadcast{}, 0, err
	}

	// Single set-deduplicating pass over the membership union. The unique
	// (broadcast_id, customer_id) constraint backs this up at the schema
	// level, so overlapping groups can never yield duplicate rows.
	res, err := tx.ExecContext(ctx, `
		INSERT INTO broadcast_recipients (broadcast_id, customer_id, phone, display_name)
		SELECT $1, c.id, c.phone, c.display_name
		FROM customers c
		WHERE c.id IN (
			SELECT DISTINCT customer_id
			FROM group_members
			WHERE group_id = ANY($2)
		)
	`, b.ID, groupIDs)
	if err != nil {
		return model.Broadcast{}, 0, err
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return model.Broadcast{}, 0, err
	}
	if inserted == 0 {
		return model.Broadcast{}, 0, model.ErrNoRecipients
	}

	if err := tx.Commit(); err != nil {
		return model.Broadcast{}, 0, err
	}
	return b, int(inserted), nil
}

func (r *PostgresBroadcastRepo) Get(ctx context.Context, id int64) (model.Broadcast, error) {
	var (
		b           model.Broadcast
		status      string
		completedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, body, status, created_by, created_at, updated_at, completed_at
		FROM broadcasts
		WHERE id = $1
	`, id).Scan(&b.ID, &b.Body, &status, &b.CreatedBy, &b.CreatedAt, &b.UpdatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Broadcast{}, model.ErrNotFound
	}
	if err != nil {
		return model.Broadcast{}, err
	}
	b.Status = model.BroadcastStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		b.CompletedAt = &t
	}
	return b, nil
}

func (r *PostgresBroadcastRepo) SetStatus(ctx context.Context, id int64, status model.BroadcastStatus) error {
	var completed any
	if status == model.BroadcastCompleted || status == model.BroadcastFailed {
		completed = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE broadcasts
		SET status = $2,
		    completed_at = COALESCE($3, completed_at),
		    updated_at = now()
		WHERE id = $1
	`, id, string(status), completed)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (r *PostgresBroadcastRepo) Progress(ctx context.Context, id int64) (model.BroadcastProgress, error) {
	var p model.BroadcastProgress
	err := r.db.QueryRowContext(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE delivery_status IN ('pending', 'sending')),
		       count(*) FILTER (WHERE delivery_status IN ('sent', 'delivered', 'read')),
		       count(*) FILTER (WHERE delivery_status IN ('failed', 'undelivered'))
		FROM broadcast_recipients
		WHERE broadcast_id = $1
	`, id).Scan(&p.Total, &p.Pending, &p.Sent, &p.Failed)
	return p, err
}

func (r *PostgresBroadcastRepo) ClaimPendingRecipients(ctx context.Context, broadcastID int64, limit int) ([]model.Recipient, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, broadcast_id, customer_id, phone, display_name,
		       delivery_status, template_ref, provider_ref, retry_count,
		       error_message, created_at, updated_at
		FROM broadcast_recipients
		WHERE broadcast_id = $1 AND delivery_status = 'pending'
		ORDER BY id ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $2
	`, broadcastID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recipients []model.Recipient
	for rows.Next() {
		var (
			rec         model.Recipient
			status      string
			templateRef sql.NullString
			providerRef sql.NullString
			errMsg      sql.NullString
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.BroadcastID,
			&rec.CustomerID,
			&rec.Phone,
			&rec.DisplayName,
			&status,
			&templateRef,
			&providerRef,
			&rec.RetryCount,
			&errMsg,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		); err != nil {
			return nil, err
		}
		rec.DeliveryStatus = model.DeliveryStatus(status)
		if templateRef.Valid {
			s := templateRef.String
			rec.TemplateRef = &s
		}
		if providerRef.Valid {
			s := providerRef.String
			rec.ProviderRef = &s
		}
		if errMsg.Valid {
			s := errMsg.String
			rec.ErrorMessage = &s
		}
		recipients = append(recipients, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(recipients) == 0 {
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return nil, nil
	}

	now := time.Now().UTC()
	for _, rec := range recipients {
		if _, err := tx.ExecContext(ctx, `
			UPDATE broadcast_recipients
			SET delivery_status = 'sending', updated_at = $2
			WHERE id = $1
		`, rec.ID, now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	for i := range recipients {
		recipients[i].DeliveryStatus = model.StatusSending
		recipients[i].UpdatedAt = now
	}
	return recipients, nil
}

// FinishRecipients commits one batch's outcomes together; a crash between
// batches only loses the in-flight batch.
func (r *PostgresBroadcastRepo) FinishRecipients(ctx context.Context, outcomes []RecipientOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, o := range outcomes {
		if _, err := tx.ExecContext(ctx, `
			UPDATE broadcast_recipients
			SET delivery_status = $2,
			    provider_ref = COALESCE($3, provider_ref),
			    error_message = $4,
			    updated_at = now()
			WHERE id = $1
		`, o.RecipientID, string(o.Status), o.ProviderRef, o.ErrorMessage); err != nil {
			return err
		}
	}

	return tx.Commit()
}

var _ BroadcastRepository = (*PostgresBroadcastRepo)(nil)
