package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/models"
)

const PlatformAccount = "platform-001"

type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Credit records the payee share and the platform fee of a verified payment or reward.
func (r *LedgerRepository) Credit(ctx context.Context, paymentID, sellerAccount string, amount, fee decimal.Decimal, idempotencyKey string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO accounts (id, type, balance)
		VALUES ($1, 'profile', 0)
		ON CONFLICT (id) DO NOTHING
	`, sellerAccount); err != nil {
		return err
	}

	if err := recordEntry(ctx, tx, sellerAccount, paymentID, models.EntryCredit, amount.Sub(fee), idempotencyKey+"-seller"); err != nil {
		return err
	}
	if fee.IsPositive() {
		if err := recordEntry(ctx, tx, PlatformAccount, paymentID, models.EntryCredit, fee, idempotencyKey+"-platform"); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// recordEntry only moves the balance when the entry was actually inserted, so replays
// leave both the journal and the balance untouched.
func recordEntry(ctx context.Context, tx *sql.Tx, accountID, paymentID, entryType string, amount decimal.Decimal, idempotencyKey string) error {
	var balance decimal.Decimal
	if err := tx.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE id = $1 FOR UPDATE`, accountID,
	).Scan(&balance); err != nil {
		return err
	}

	newBalance := balance.Add(amount)
	if entryType == models.EntryDebit {
		newBalance = balance.Sub(amount)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (account_id, payment_id, type, amount, balance, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, accountID, paymentID, entryType, amount, newBalance, idempotencyKey)
	if err != nil {
		return err
	}
	if rows, err := result.RowsAffected(); err != nil || rows == 0 {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE accounts SET balance = $1, updated_at = NOW()
		WHERE id = $2
	`, newBalance, accountID)
	return err
}

// ActivateSubscription grants period of access. A running subscription is extended from its
// current expiry; replaying the same payment changes nothing.
func (r *LedgerRepository) ActivateSubscription(ctx context.Context, sub *models.Subscription, period time.Duration) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO subscriptions (profile_id, plan_id, payment_id, expires_at)
		VALUES ($1, $2, $3, NOW()::timestamp + make_interval(secs => $4))
		ON CONFLICT (profile_id, plan_id) DO UPDATE
		SET payment_id = EXCLUDED.payment_id,
			expires_at = GREATEST(subscriptions.expires_at, NOW()::timestamp) + make_interval(secs => $4),
			updated_at = NOW()
		WHERE subscriptions.payment_id <> EXCLUDED.payment_id
		RETURNING expires_at
	`, sub.ProfileID, sub.PlanID, sub.PaymentID, period.Seconds()).Scan(&sub.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	return err
}

func (r *LedgerRepository) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	var account models.Account
	err := r.db.QueryRowContext(ctx, `
		SELECT id, type, balance, created_at
		FROM accounts WHERE id = $1
	`, id).Scan(&account.ID, &account.Type, &account.Balance, &account.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *LedgerRepository) EntriesByAccount(ctx context.Context, accountID string, limit int) ([]models.LedgerEntry, error) {
	return r.queryEntries(ctx, `
		SELECT id, account_id, payment_id, type, amount, balance, created_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, accountID, limit)
}

func (r *LedgerRepository) EntriesByPayment(ctx context.Context, paymentID string) ([]models.LedgerEntry, error) {
	return r.queryEntries(ctx, `
		SELECT id, account_id, payment_id, type, amount, balance, created_at
		FROM ledger_entries
		WHERE payment_id = $1
		ORDER BY created_at ASC
	`, paymentID)
}

func (r *LedgerRepository) queryEntries(ctx context.Context, query string, args ...any) ([]models.LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var entry models.LedgerEntry
		if err := rows.Scan(&entry.ID, &entry.AccountID, &entry.PaymentID,
			&entry.Type, &entry.Amount, &entry.Balance, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
