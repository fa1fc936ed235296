package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	StatusCreated   PaymentStatus = "created"
	StatusApproved  PaymentStatus = "approved"
	StatusCompleted PaymentStatus = "completed"
	StatusCancelled PaymentStatus = "cancelled"
	StatusErrored   PaymentStatus = "errored"
)

// Terminal statuses never change again.
func (s PaymentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusErrored
}

// Payment is the server's record of a Pi payment going through approve and complete.
type Payment struct {
	ID        string          `json:"id"`
	PiUID     string          `json:"pi_uid"`
	ProfileID string          `json:"profile_id"`
	ItemID    string          `json:"item_id"`
	ItemType  string          `json:"item_type"`
	Amount    decimal.Decimal `json:"amount"`
	Memo      string          `json:"memo"`
	Metadata  map[string]any  `json:"metadata"`
	Status    PaymentStatus   `json:"status"`
	TxID      string          `json:"txid,omitempty"`
	LastError string          `json:"last_error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// VerifiedTransaction proves a payment's txid moved its amount to the app wallet.
type VerifiedTransaction struct {
	ID         string          `json:"id"`
	PaymentID  string          `json:"payment_id"`
	TxID       string          `json:"txid"`
	Amount     decimal.Decimal `json:"amount"`
	FromAddr   string          `json:"from_address"`
	ToAddr     string          `json:"to_address"`
	Ledger     int32           `json:"ledger"`
	VerifiedAt time.Time       `json:"verified_at"`
}

// ErrInvalidTransition is returned when a conditional status update finds the payment in
// a different status than expected.
var ErrInvalidTransition = errors.New("invalid payment status transition")
