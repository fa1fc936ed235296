package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/outbox"
)

type OutboxRepository struct {
	db *sql.DB
}

func NewOutboxRepository(db *sql.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// insertOutbox writes msgs inside tx so they commit or roll back with the state change.
func insertOutbox(ctx context.Context, tx *sql.Tx, msgs []outbox.Message) error {
	for _, msg := range msgs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO outbox (topic, message_key, payload)
			VALUES ($1, $2, $3)
		`, msg.Topic, msg.Key, msg.Payload); err != nil {
			return err
		}
	}
	return nil
}

func (r *OutboxRepository) LockBatch(ctx context.Context, relayID string, limit int, lease time.Duration) ([]outbox.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE outbox
		SET locked_by = $1, locked_until = NOW() + make_interval(secs => $3), attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM outbox
			WHERE sent_at IS NULL AND (locked_until IS NULL OR locked_until < NOW())
			ORDER BY id
			FOR UPDATE SKIP LOCKED
			LIMIT $2
		)
		RETURNING id, topic, message_key, payload, attempts
	`, relayID, limit, lease.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batch []outbox.Message
	for rows.Next() {
		var msg outbox.Message
		if err := rows.Scan(&msg.ID, &msg.Topic, &msg.Key, &msg.Payload, &msg.Attempts); err != nil {
			return nil, err
		}
		batch = append(batch, msg)
	}
	return batch, rows.Err()
}

func (r *OutboxRepository) MarkSent(ctx context.Context, ids []int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE outbox SET sent_at = NOW(), locked_by = NULL, locked_until = NULL, last_error = NULL
		WHERE id = ANY($1)
	`, pq.Array(ids))
	return err
}

// MarkFailed releases the lease so the next batch retries the message.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id int64, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE outbox SET last_error = $2, locked_by = NULL, locked_until = NULL
		WHERE id = $1
	`, id, reason)
	return err
}

// Pending counts undelivered messages.
func (r *OutboxRepository) Pending(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox WHERE sent_at IS NULL`).Scan(&n)
	return n, err
}
