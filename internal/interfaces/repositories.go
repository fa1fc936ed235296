package interfaces

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/models"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/outbox"
)

type CatalogRepository interface {
	GetItem(ctx context.Context, id, itemType string) (*models.CatalogItem, error)
}

type ProfileRepository interface {
	// Resolve returns the profile for a Pi user, creating it on first sight.
	Resolve(ctx context.Context, piUID, username string) (*models.Profile, error)
	GetByID(ctx context.Context, id string) (*models.Profile, error)
}

type AdRewardRepository interface {
	// Record stores the reward and queues msgs with it. It reports false, and queues
	// nothing, when the ad was already recorded.
	Record(ctx context.Context, reward *models.AdReward, msgs ...outbox.Message) (bool, error)
	GetByAdID(ctx context.Context, adID string) (*models.AdReward, error)
}

type LedgerRepository interface {
	// Credit posts a double-entry credit split between seller and platform. Replays with the
	// same idempotency key are no-ops.
	Credit(ctx context.Context, paymentID, sellerAccount string, amount, fee decimal.Decimal, idempotencyKey string) error
	ActivateSubscription(ctx context.Context, sub *models.Subscription, period time.Duration) error
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	EntriesByAccount(ctx context.Context, accountID string, limit int) ([]models.LedgerEntry, error)
	EntriesByPayment(ctx context.Context, paymentID string) ([]models.LedgerEntry, error)
}
