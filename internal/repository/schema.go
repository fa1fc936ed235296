package repository

import (
	"context"
	"database/sql"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
		id VARCHAR(255) PRIMARY KEY,
		pi_uid VARCHAR(255) NOT NULL UNIQUE,
		username VARCHAR(255) NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS catalog_items (
		id VARCHAR(255) NOT NULL,
		item_type VARCHAR(50) NOT NULL,
		title VARCHAR(255) NOT NULL DEFAULT '',
		price DECIMAL(20,7) NOT NULL DEFAULT 0,
		seller_id VARCHAR(255) NOT NULL DEFAULT '',
		active BOOLEAN DEFAULT true,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (id, item_type)
	)`,
	`CREATE TABLE IF NOT EXISTS payments (
		id VARCHAR(255) PRIMARY KEY,
		pi_uid VARCHAR(255) NOT NULL,
		profile_id VARCHAR(255) NOT NULL,
		item_id VARCHAR(255) NOT NULL,
		item_type VARCHAR(50) NOT NULL,
		amount DECIMAL(20,7) NOT NULL,
		memo TEXT NOT NULL DEFAULT '',
		metadata JSONB NOT NULL DEFAULT '{}',
		status VARCHAR(50) NOT NULL,
		txid VARCHAR(255),
		last_error TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_status ON payments(status)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_profile_id ON payments(profile_id)`,
	`CREATE TABLE IF NOT EXISTS verified_transactions (
		id VARCHAR(255) PRIMARY KEY,
		payment_id VARCHAR(255) NOT NULL UNIQUE REFERENCES payments(id),
		txid VARCHAR(255) NOT NULL UNIQUE,
		amount DECIMAL(20,7) NOT NULL,
		from_address VARCHAR(64) NOT NULL,
		to_address VARCHAR(64) NOT NULL,
		ledger INTEGER NOT NULL,
		verified_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS outbox (
		id BIGSERIAL PRIMARY KEY,
		topic VARCHAR(255) NOT NULL,
		message_key VARCHAR(255) NOT NULL,
		payload JSONB NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		locked_by VARCHAR(255),
		locked_until TIMESTAMP,
		sent_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_unsent ON outbox(id) WHERE sent_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS ad_rewards (
		ad_id VARCHAR(255) PRIMARY KEY,
		profile_id VARCHAR(255) NOT NULL,
		pi_uid VARCHAR(255) NOT NULL,
		status VARCHAR(50) NOT NULL,
		amount DECIMAL(20,7) NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS accounts (
		id VARCHAR(255) PRIMARY KEY,
		type VARCHAR(50) NOT NULL,
		balance DECIMAL(20,7) DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id BIGSERIAL PRIMARY KEY,
		account_id VARCHAR(255) NOT NULL,
		payment_id VARCHAR(255) NOT NULL,
		type VARCHAR(50) NOT NULL,
		amount DECIMAL(20,7) NOT NULL,
		balance DECIMAL(20,7) NOT NULL,
		idempotency_key VARCHAR(255) UNIQUE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_account_id ON ledger_entries(account_id)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_payment_id ON ledger_entries(payment_id)`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
		profile_id VARCHAR(255) NOT NULL,
		plan_id VARCHAR(255) NOT NULL,
		payment_id VARCHAR(255) NOT NULL UNIQUE,
		expires_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (profile_id, plan_id)
	)`,
	`CREATE TABLE IF NOT EXISTS risk_decisions (
		id SERIAL PRIMARY KEY,
		payment_id VARCHAR(255) NOT NULL,
		purchaser VARCHAR(255) NOT NULL,
		amount DECIMAL(20,7) NOT NULL,
		decision VARCHAR(50) NOT NULL,
		reason TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_risk_decisions_payment_id ON risk_decisions(payment_id)`,
}

// InitDB creates the tables used by the gateway, ledger and risk services.
func InitDB(ctx context.Context, db *sql.DB) error {
	for _, query := range schema {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return err
		}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO accounts (id, type, balance)
		VALUES ($1, 'platform', 0)
		ON CONFLICT (id) DO NOTHING
	`, PlatformAccount)
	return err
}
