// Package ledgerservice applies the downstream effects of completed payments and granted
// ad rewards: subscription access and double-entry balance credits.
package ledgerservice

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/events"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/interfaces"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/models"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/money"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/telemetry"
	"github.com/playdroplink/droplink-testnet-35167-sub002/pkg/paymentapi"
)

const (
	GroupID            = "ledger-service"
	SubscriptionPeriod = 30 * 24 * time.Hour
)

// ErrUnverified means an event has no verified transaction or granted reward behind it.
// Such events are dropped, never applied.
var ErrUnverified = errors.New("no verified record behind event")

// PaymentReader is the part of the payment repository the consumer re-checks against.
type PaymentReader interface {
	GetByID(ctx context.Context, id string) (*models.Payment, error)
	GetVerification(ctx context.Context, paymentID string) (*models.VerifiedTransaction, error)
}

// MessageReader is satisfied by *kafka.Reader.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Consumer struct {
	payments PaymentReader
	catalog  interfaces.CatalogRepository
	rewards  interfaces.AdRewardRepository
	ledger   interfaces.LedgerRepository
	feeRate  decimal.Decimal
	retries  int
	backoff  time.Duration
}

func NewConsumer(payments PaymentReader, catalog interfaces.CatalogRepository, rewards interfaces.AdRewardRepository, ledger interfaces.LedgerRepository, feeRate decimal.Decimal) *Consumer {
	return &Consumer{
		payments: payments,
		catalog:  catalog,
		rewards:  rewards,
		ledger:   ledger,
		feeRate:  feeRate,
		retries:  3,
		backoff:  time.Second,
	}
}

// NewReader subscribes the ledger-service group to the completion and reward topics.
func NewReader(brokers []string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     GroupID,
		GroupTopics: []string{events.TopicPaymentComplete, events.TopicAdRewardGranted},
		MinBytes:    10e3,
		MaxBytes:    10e6,
	})
}

// AccountFor is the ledger account holding a profile's balance.
func AccountFor(profileID string) string {
	return "profile-" + profileID
}

// Run processes messages until ctx is cancelled. A message is committed once it has been
// applied, rejected as unverified, or has exhausted its retries.
func (c *Consumer) Run(ctx context.Context, reader MessageReader) error {
	telemetry.Logger.Info("Started consuming ledger events")
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			telemetry.Logger.Error("Error reading message from Kafka", zap.Error(err))
			continue
		}

		c.handleWithRetry(ctx, msg)

		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			telemetry.Logger.Error("Failed to commit message", zap.String("topic", msg.Topic), zap.Error(err))
		}
	}
}

func (c *Consumer) handleWithRetry(ctx context.Context, msg kafka.Message) {
	var err error
	for attempt := 1; attempt <= c.retries; attempt++ {
		err = c.Handle(ctx, msg)
		if err == nil || errors.Is(err, ErrUnverified) {
			break
		}
		telemetry.Logger.Warn("Ledger event failed, retrying",
			zap.String("topic", msg.Topic),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}
	if err != nil {
		telemetry.Logger.Error("Dropping ledger event",
			zap.String("topic", msg.Topic),
			zap.String("key", string(msg.Key)),
			zap.Error(err),
		)
	}
}

// Handle decodes one message and applies its effects.
func (c *Consumer) Handle(ctx context.Context, msg kafka.Message) error {
	switch msg.Topic {
	case events.TopicPaymentComplete:
		var ev events.PaymentCompleted
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			return fmt.Errorf("%w: undecodable event: %v", ErrUnverified, err)
		}
		return c.ApplyPayment(ctx, ev)
	case events.TopicAdRewardGranted:
		var ev events.AdRewardGranted
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			return fmt.Errorf("%w: undecodable event: %v", ErrUnverified, err)
		}
		return c.ApplyAdReward(ctx, ev)
	default:
		return nil
	}
}

// ApplyPayment credits the seller and activates subscriptions for a completed payment.
// Amounts come from the stored records, not the event.
func (c *Consumer) ApplyPayment(ctx context.Context, ev events.PaymentCompleted) error {
	vt, err := c.payments.GetVerification(ctx, ev.PaymentID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: payment %s", ErrUnverified, ev.PaymentID)
	}
	if err != nil {
		return err
	}
	if vt.TxID != ev.TxID {
		return fmt.Errorf("%w: payment %s txid %s does not match %s", ErrUnverified, ev.PaymentID, ev.TxID, vt.TxID)
	}

	payment, err := c.payments.GetByID(ctx, ev.PaymentID)
	if err != nil {
		return err
	}
	if payment.Status != models.StatusCompleted {
		return fmt.Errorf("%w: payment %s is %s", ErrUnverified, payment.ID, payment.Status)
	}

	item, err := c.catalog.GetItem(ctx, payment.ItemID, payment.ItemType)
	if err != nil {
		return fmt.Errorf("catalog item %s/%s: %w", payment.ItemType, payment.ItemID, err)
	}

	fee := vt.Amount.Mul(c.feeRate).Round(money.MaxFractionDigits)
	if err := c.ledger.Credit(ctx, payment.ID, AccountFor(item.SellerID), vt.Amount, fee, "payment:"+payment.ID); err != nil {
		return fmt.Errorf("credit seller: %w", err)
	}
	telemetry.LedgerEntries.WithLabelValues("seller_credit").Inc()

	if payment.ItemType == paymentapi.ItemSubscription {
		sub := &models.Subscription{ProfileID: payment.ProfileID, PlanID: payment.ItemID, PaymentID: payment.ID}
		if err := c.ledger.ActivateSubscription(ctx, sub, SubscriptionPeriod); err != nil {
			return fmt.Errorf("activate subscription: %w", err)
		}
		telemetry.LedgerEntries.WithLabelValues("subscription").Inc()
	}

	telemetry.Logger.Info("Applied payment effects",
		zap.String("payment_id", payment.ID),
		zap.String("item_type", payment.ItemType),
		zap.String("amount", vt.Amount.String()),
		zap.String("platform_fee", fee.String()),
	)
	return nil
}

// ApplyAdReward credits a granted reward to the viewer's balance.
func (c *Consumer) ApplyAdReward(ctx context.Context, ev events.AdRewardGranted) error {
	reward, err := c.rewards.GetByAdID(ctx, ev.AdID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: ad %s", ErrUnverified, ev.AdID)
	}
	if err != nil {
		return err
	}
	if reward.Status != models.AdRewardGranted || reward.ProfileID != ev.ProfileID {
		return fmt.Errorf("%w: ad %s is %s for %s", ErrUnverified, ev.AdID, reward.Status, reward.ProfileID)
	}

	key := "ad:" + reward.AdID
	if err := c.ledger.Credit(ctx, key, AccountFor(reward.ProfileID), reward.Amount, decimal.Zero, key); err != nil {
		return fmt.Errorf("credit ad reward: %w", err)
	}
	telemetry.LedgerEntries.WithLabelValues("ad_reward").Inc()

	telemetry.Logger.Info("Applied ad reward",
		zap.String("ad_id", reward.AdID),
		zap.String("profile_id", reward.ProfileID),
		zap.String("amount", reward.Amount.String()),
	)
	return nil
}
