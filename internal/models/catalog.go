package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type CatalogItem struct {
	ID        string          `json:"id"`
	ItemType  string          `json:"item_type"`
	Title     string          `json:"title"`
	Price     decimal.Decimal `json:"price"`
	SellerID  string          `json:"seller_id"`
	Active    bool            `json:"active"`
	CreatedAt time.Time       `json:"created_at"`
}

// Profile links a Pi user to the DropLink account it buys and sells as.
type Profile struct {
	ID        string    `json:"id"`
	PiUID     string    `json:"pi_uid"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

type AdRewardStatus string

const (
	AdRewardGranted AdRewardStatus = "granted"
	AdRewardRevoked AdRewardStatus = "revoked"
	AdRewardFailed  AdRewardStatus = "failed"
)

type AdReward struct {
	AdID      string          `json:"ad_id"`
	ProfileID string          `json:"profile_id"`
	PiUID     string          `json:"pi_uid"`
	Status    AdRewardStatus  `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}
