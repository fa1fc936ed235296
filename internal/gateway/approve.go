package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/models"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/money"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/pinetwork"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/risk"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/schema"
	"github.com/playdroplink/droplink-testnet-35167-sub002/pkg/paymentapi"
	"github.com/playdroplink/droplink-testnet-35167-sub002/pkg/pisdk"
)

const opApprove = "approve"

// Approve checks a payment against the catalog and tells the Pi network to let the user
// sign it. Approving an already approved payment succeeds without side effects.
func (s *Service) Approve(ctx context.Context, paymentID string, metadata map[string]any) (ok bool, err error) {
	started := time.Now()
	defer func() { observe(opApprove, started, ok, err) }()

	if paymentID == "" {
		return false, newError(KindRejected, opApprove, "paymentId is required", nil)
	}
	if err := schema.ValidateMetadata(metadata); err != nil {
		return false, newError(KindRejected, opApprove, "invalid metadata", err)
	}
	purchaser := schema.String(metadata, paymentapi.MetaPurchaser)
	if caller, found := CallerFrom(ctx); found && caller.PiUID != purchaser {
		return false, newError(KindRejected, opApprove, "purchaser does not match the signed in user", nil)
	}

	unlock, err := s.lock(ctx, opApprove, paymentID)
	if err != nil {
		return false, err
	}
	defer unlock()

	existing, err := s.payments.GetByID(ctx, paymentID)
	switch {
	case err == nil:
		switch existing.Status {
		case models.StatusApproved, models.StatusCompleted:
			s.log.Info("Payment already approved", zap.String("payment_id", paymentID))
			return true, nil
		case models.StatusCancelled, models.StatusErrored:
			return false, newError(KindRejected, opApprove, fmt.Sprintf("payment is %s", existing.Status), nil)
		}
	case errors.Is(err, sql.ErrNoRows):
	default:
		return false, newError(KindInternal, opApprove, "failed to load payment", err)
	}

	piPayment, err := s.pi.GetPayment(ctx, paymentID)
	if err != nil {
		return false, piError(opApprove, "failed to fetch payment from Pi", err)
	}
	if err := s.checkPiPayment(piPayment, metadata); err != nil {
		return false, err
	}

	itemID := schema.String(metadata, paymentapi.MetaItemID)
	itemType := schema.String(metadata, paymentapi.MetaItemType)
	if err := s.checkCatalog(ctx, itemID, itemType, piPayment); err != nil {
		return false, err
	}
	if err := s.checkRisk(ctx, piPayment, purchaser, itemType); err != nil {
		return false, err
	}

	caller, _ := CallerFrom(ctx)
	record := &models.Payment{
		ID:        paymentID,
		PiUID:     piPayment.UserUID,
		ProfileID: caller.ProfileID,
		ItemID:    itemID,
		ItemType:  itemType,
		Amount:    piPayment.Amount,
		Memo:      piPayment.Memo,
		Metadata:  metadata,
		Status:    models.StatusCreated,
	}
	if existing == nil {
		if err := s.payments.Create(ctx, record); err != nil {
			return false, newError(KindInternal, opApprove, "failed to save payment", err)
		}
	}

	if !piPayment.Status.DeveloperApproved {
		if _, err := s.pi.ApprovePayment(ctx, paymentID); err != nil {
			s.recordError(ctx, paymentID, err)
			return false, piError(opApprove, "Pi rejected the approval", err)
		}
	}

	if err := s.payments.Transition(ctx, paymentID, models.StatusCreated, models.StatusApproved); err != nil {
		return false, newError(KindInternal, opApprove, "failed to record approval", err)
	}
	s.publishState(ctx, paymentID, string(models.StatusCreated), string(models.StatusApproved))

	s.log.Info("Payment approved",
		zap.String("payment_id", paymentID),
		zap.String("item_id", itemID),
		zap.String("amount", piPayment.Amount.String()),
	)
	return true, nil
}

func (s *Service) checkPiPayment(p *pisdk.Payment, metadata map[string]any) error {
	if p.Status.Cancelled || p.Status.UserCancelled {
		return newError(KindRejected, opApprove, "payment was cancelled", nil)
	}
	if p.Direction != "" && p.Direction != "user_to_app" {
		return newError(KindRejected, opApprove, "payment is not a user to app payment", nil)
	}
	if p.UserUID != schema.String(metadata, paymentapi.MetaPurchaser) {
		return newError(KindRejected, opApprove, "purchaser does not match the paying user", nil)
	}
	if piItem := schema.String(p.Metadata, paymentapi.MetaItemID); piItem != "" && piItem != schema.String(metadata, paymentapi.MetaItemID) {
		return newError(KindRejected, opApprove, "metadata does not match the Pi payment", nil)
	}
	if p.ToAddress != "" && s.appWallet != "" && p.ToAddress != s.appWallet {
		return newError(KindRejected, opApprove, "payment is not addressed to the app wallet", nil)
	}
	if err := money.Validate(p.Amount); err != nil {
		return newError(KindRejected, opApprove, "invalid amount", err)
	}
	return nil
}

func (s *Service) checkCatalog(ctx context.Context, itemID, itemType string, p *pisdk.Payment) error {
	item, err := s.catalog.GetItem(ctx, itemID, itemType)
	if errors.Is(err, sql.ErrNoRows) {
		return newError(KindRejected, opApprove, "item not found", nil)
	}
	if err != nil {
		return newError(KindInternal, opApprove, "failed to load item", err)
	}
	if !item.Active {
		return newError(KindRejected, opApprove, "item is not for sale", nil)
	}

	// Tips and donations are pay-what-you-want.
	if itemType == paymentapi.ItemTip || itemType == paymentapi.ItemDonation {
		return nil
	}
	if !money.Equal(item.Price, p.Amount) {
		return newError(KindRejected, opApprove, "price mismatch",
			fmt.Errorf("catalog price %s, payment amount %s", item.Price, p.Amount))
	}
	return nil
}

func (s *Service) checkRisk(ctx context.Context, p *pisdk.Payment, purchaser, itemType string) error {
	if s.risk == nil {
		return nil
	}
	resp, err := s.risk.Check(ctx, risk.Request{
		PaymentID: p.Identifier,
		Purchaser: purchaser,
		Amount:    p.Amount,
		ItemType:  itemType,
	})
	if err != nil {
		return newError(KindNetwork, opApprove, "risk check unavailable", err)
	}
	if resp.Decision != risk.DecisionApprove {
		return newError(KindRejected, opApprove, "payment declined", errors.New(resp.Reason))
	}
	return nil
}

func (s *Service) recordError(ctx context.Context, paymentID string, cause error) {
	if err := s.payments.RecordError(ctx, paymentID, cause.Error()); err != nil {
		s.log.Error("Failed to record payment error",
			zap.String("payment_id", paymentID),
			zap.Error(err),
		)
	}
}

// piError tells a refusal by the Pi API apart from not reaching it.
func piError(op, msg string, err error) *Error {
	var apiErr *pinetwork.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode < 500 {
		return newError(KindRejected, op, msg, err)
	}
	return newError(KindNetwork, op, msg, err)
}
