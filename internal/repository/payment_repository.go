package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/models"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/outbox"
)

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `id, pi_uid, profile_id, item_id, item_type, amount, memo, metadata, status,
	COALESCE(txid, ''), COALESCE(last_error, ''), created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*models.Payment, error) {
	var (
		payment  models.Payment
		metadata []byte
	)
	err := row.Scan(&payment.ID, &payment.PiUID, &payment.ProfileID, &payment.ItemID, &payment.ItemType,
		&payment.Amount, &payment.Memo, &metadata, &payment.Status, &payment.TxID, &payment.LastError,
		&payment.CreatedAt, &payment.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &payment.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of payment %s: %w", payment.ID, err)
		}
	}
	return &payment, nil
}

func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	metadata, err := json.Marshal(payment.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO payments (id, pi_uid, profile_id, item_id, item_type, amount, memo, metadata, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`, payment.ID, payment.PiUID, payment.ProfileID, payment.ItemID, payment.ItemType,
		payment.Amount, payment.Memo, metadata, payment.Status)
	return err
}

func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*models.Payment, error) {
	return scanPayment(r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
}

func (r *PaymentRepository) Transition(ctx context.Context, id string, from, to models.PaymentStatus) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE payments SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, to, id, from)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s -> %s for payment %s", models.ErrInvalidTransition, from, to, id)
	}
	return nil
}

func (r *PaymentRepository) Complete(ctx context.Context, vt *models.VerifiedTransaction, msgs ...outbox.Message) error {
	if vt.ID == "" {
		vt.ID = uuid.New().String()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO verified_transactions (id, payment_id, txid, amount, from_address, to_address, ledger, verified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, vt.ID, vt.PaymentID, vt.TxID, vt.Amount, vt.FromAddr, vt.ToAddr, vt.Ledger, vt.VerifiedAt); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE payments SET status = $1, txid = $2, last_error = NULL, updated_at = NOW()
		WHERE id = $3 AND status = $4
	`, models.StatusCompleted, vt.TxID, vt.PaymentID, models.StatusApproved)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: complete payment %s", models.ErrInvalidTransition, vt.PaymentID)
	}
	if err := insertOutbox(ctx, tx, msgs); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *PaymentRepository) RecordError(ctx context.Context, id, message string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE payments SET last_error = $1, updated_at = NOW() WHERE id = $2`, message, id)
	return err
}

func (r *PaymentRepository) GetVerification(ctx context.Context, paymentID string) (*models.VerifiedTransaction, error) {
	var vt models.VerifiedTransaction
	err := r.db.QueryRowContext(ctx, `
		SELECT id, payment_id, txid, amount, from_address, to_address, ledger, verified_at
		FROM verified_transactions WHERE payment_id = $1
	`, paymentID).Scan(&vt.ID, &vt.PaymentID, &vt.TxID, &vt.Amount, &vt.FromAddr, &vt.ToAddr,
		&vt.Ledger, &vt.VerifiedAt)
	if err != nil {
		return nil, err
	}
	return &vt, nil
}

func (r *PaymentRepository) ListByStatus(ctx context.Context, status models.PaymentStatus, limit int) ([]*models.Payment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE status = $1
		ORDER BY updated_at ASC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, payment)
	}
	return payments, rows.Err()
}
