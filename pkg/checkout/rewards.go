package checkout

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/playdroplink/droplink-testnet-35167-sub002/pkg/pisdk"
)

// Mediator acknowledgment statuses.
const (
	AckGranted = "granted"
	AckRevoked = "revoked"
	AckFailed  = "failed"
)

// RewardResult is the outcome of a rewarded ad watch. Granted is only true once the server
// confirmed the mediator acknowledgment.
type RewardResult struct {
	Granted bool
	AdID    string
	Status  string
	Reward  string
	Error   string
}

// RewardWatcher shows rewarded ads and asks the server to verify them.
type RewardWatcher struct {
	ads      pisdk.Ads
	verifier RewardVerifier
	log      *zap.Logger
}

func NewRewardWatcher(ads pisdk.Ads, verifier RewardVerifier, log *zap.Logger) *RewardWatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &RewardWatcher{ads: ads, verifier: verifier, log: log}
}

func (w *RewardWatcher) WatchRewardedAd(ctx context.Context) RewardResult {
	if w.ads == nil {
		return RewardResult{Status: pisdk.AdsNotSupported, Error: pisdk.ErrUnavailable.Error()}
	}

	ready, err := w.ads.IsAdReady(ctx, pisdk.AdTypeRewarded)
	if err != nil {
		return w.failed("", "", fmt.Errorf("is ad ready: %w", err))
	}
	if !ready {
		loaded, err := w.ads.RequestAd(ctx, pisdk.AdTypeRewarded)
		if err != nil {
			return w.failed("", "", fmt.Errorf("request ad: %w", err))
		}
		if loaded != pisdk.AdLoaded {
			return RewardResult{Status: loaded, Error: "rewarded ad not available"}
		}
	}

	shown, err := w.ads.ShowAd(ctx, pisdk.AdTypeRewarded)
	if err != nil {
		return w.failed("", "", fmt.Errorf("show ad: %w", err))
	}
	if shown.Result != pisdk.AdRewarded {
		return RewardResult{AdID: shown.AdID, Status: shown.Result}
	}
	if shown.AdID == "" {
		return w.failed("", shown.Result, errors.New("rewarded ad returned no ad id"))
	}

	resp, err := w.verifier.VerifyAdReward(ctx, shown.AdID)
	if err != nil {
		return w.failed(shown.AdID, "", err)
	}
	if !resp.Success || resp.Status != AckGranted {
		w.log.Info("Ad reward not granted",
			zap.String("ad_id", shown.AdID),
			zap.String("status", resp.Status),
		)
		return RewardResult{AdID: shown.AdID, Status: resp.Status, Error: resp.Error}
	}

	w.log.Info("Ad reward granted",
		zap.String("ad_id", shown.AdID),
		zap.String("reward", resp.Reward),
	)
	return RewardResult{Granted: true, AdID: shown.AdID, Status: resp.Status, Reward: resp.Reward}
}

func (w *RewardWatcher) failed(adID, status string, err error) RewardResult {
	w.log.Warn("Rewarded ad failed", zap.String("ad_id", adID), zap.Error(err))
	return RewardResult{AdID: adID, Status: status, Error: err.Error()}
}
