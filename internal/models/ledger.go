package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EntryCredit = "credit"
	EntryDebit  = "debit"
)

type LedgerEntry struct {
	ID        int64           `json:"id"`
	AccountID string          `json:"account_id"`
	PaymentID string          `json:"payment_id"`
	Type      string          `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
}

type Account struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
}

type Subscription struct {
	ProfileID string    `json:"profile_id"`
	PlanID    string    `json:"plan_id"`
	PaymentID string    `json:"payment_id"`
	ExpiresAt time.Time `json:"expires_at"`
}
