// Package adreward grants rewards for rewarded ads once the Pi ad mediator acknowledges them.
package adreward

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/events"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/interfaces"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/models"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/outbox"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/pinetwork"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/telemetry"
)

var (
	ErrNotGranted  = errors.New("ad reward not granted")
	ErrUnavailable = errors.New("ad status unavailable")
	ErrOtherUser   = errors.New("ad was watched by another user")
	ErrMissingAdID = errors.New("adId is required")
)

// StatusFetcher asks the Pi ad network for the mediator acknowledgment of an ad.
type StatusFetcher interface {
	AdStatus(ctx context.Context, adID string) (*pinetwork.AdStatus, error)
}

type Result struct {
	Granted bool
	Status  string
	Reward  decimal.Decimal
}

type Verifier struct {
	pi      StatusFetcher
	rewards interfaces.AdRewardRepository
	amount  decimal.Decimal
	now     func() time.Time
}

func NewVerifier(pi StatusFetcher, rewards interfaces.AdRewardRepository, amount decimal.Decimal) *Verifier {
	return &Verifier{pi: pi, rewards: rewards, amount: amount, now: time.Now}
}

// Verify credits the reward for adID to the caller when, and only when, the mediator
// status is granted. Each ad is rewarded at most once.
func (v *Verifier) Verify(ctx context.Context, profileID, piUID, adID string) (Result, error) {
	if adID == "" {
		return Result{}, ErrMissingAdID
	}

	existing, err := v.rewards.GetByAdID(ctx, adID)
	switch {
	case err == nil:
		return recorded(existing, piUID)
	case !errors.Is(err, sql.ErrNoRows):
		return Result{}, fmt.Errorf("load reward: %w", err)
	}

	status, err := v.pi.AdStatus(ctx, adID)
	if err != nil {
		if pinetwork.IsNotFound(err) {
			telemetry.AdRewards.WithLabelValues("unknown").Inc()
			return Result{}, fmt.Errorf("%w: ad %s is unknown", ErrNotGranted, adID)
		}
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	ack := status.MediatorAckStatus
	telemetry.AdRewards.WithLabelValues(labelFor(ack)).Inc()
	if ack != string(models.AdRewardGranted) {
		telemetry.Logger.Info("Ad reward not granted",
			zap.String("ad_id", adID),
			zap.String("status", ack),
		)
		return Result{Status: ack}, fmt.Errorf("%w: mediator status %q", ErrNotGranted, ack)
	}

	reward := &models.AdReward{
		AdID:      adID,
		ProfileID: profileID,
		PiUID:     piUID,
		Status:    models.AdRewardGranted,
		Amount:    v.amount,
	}
	msg, err := outbox.New(events.TopicAdRewardGranted, adID, events.AdRewardGranted{
		EventID:   events.NewID(),
		AdID:      adID,
		ProfileID: profileID,
		PiUID:     piUID,
		Amount:    v.amount,
		Timestamp: v.now().UTC(),
	})
	if err != nil {
		return Result{}, err
	}
	inserted, err := v.rewards.Record(ctx, reward, msg)
	if err != nil {
		return Result{}, fmt.Errorf("record reward: %w", err)
	}
	if !inserted {
		// A concurrent verification of the same ad recorded it first.
		existing, err := v.rewards.GetByAdID(ctx, adID)
		if err != nil {
			return Result{}, fmt.Errorf("load reward: %w", err)
		}
		return recorded(existing, piUID)
	}

	telemetry.Logger.Info("Ad reward granted",
		zap.String("ad_id", adID),
		zap.String("profile_id", profileID),
		zap.String("amount", v.amount.String()),
	)
	return Result{Granted: true, Status: ack, Reward: v.amount}, nil
}

// recorded reports an ad that already has a reward row.
func recorded(existing *models.AdReward, piUID string) (Result, error) {
	if existing.PiUID != piUID {
		return Result{Status: string(existing.Status)}, ErrOtherUser
	}
	return Result{Granted: existing.Status == models.AdRewardGranted, Status: string(existing.Status), Reward: existing.Amount}, nil
}

func labelFor(ack string) string {
	switch ack {
	case string(models.AdRewardGranted), string(models.AdRewardRevoked), string(models.AdRewardFailed):
		return ack
	case "":
		return "pending"
	default:
		return "other"
	}
}
