package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/events"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/ledger"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/models"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/outbox"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/schema"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/telemetry"
	"github.com/playdroplink/droplink-testnet-35167-sub002/pkg/paymentapi"
)

const opComplete = "complete"

// Complete finalises an approved payment once its transaction is verified on the ledger.
// Completing an already completed payment with the same txid succeeds without side effects.
func (s *Service) Complete(ctx context.Context, paymentID, txid string, metadata map[string]any) (ok bool, err error) {
	started := time.Now()
	defer func() { observe(opComplete, started, ok, err) }()

	if paymentID == "" || txid == "" {
		return false, newError(KindRejected, opComplete, "paymentId and txid are required", nil)
	}

	unlock, err := s.lock(ctx, opComplete, paymentID)
	if err != nil {
		return false, err
	}
	defer unlock()

	record, err := s.payments.GetByID(ctx, paymentID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, newError(KindRejected, opComplete, "payment was not approved by this server", nil)
	}
	if err != nil {
		return false, newError(KindInternal, opComplete, "failed to load payment", err)
	}
	if caller, found := CallerFrom(ctx); found && caller.PiUID != record.PiUID {
		return false, newError(KindRejected, opComplete, "payment belongs to another user", nil)
	}

	if itemID := schema.String(metadata, paymentapi.MetaItemID); itemID != "" && itemID != record.ItemID {
		return false, newError(KindRejected, opComplete, "metadata does not match the approved payment", nil)
	}

	switch record.Status {
	case models.StatusCompleted:
		if record.TxID == txid {
			s.log.Info("Payment already completed", zap.String("payment_id", paymentID))
			return true, nil
		}
		return false, newError(KindConflict, opComplete, "payment was completed with another transaction", nil)
	case models.StatusApproved:
	default:
		return false, newError(KindRejected, opComplete, fmt.Sprintf("payment is %s", record.Status), nil)
	}

	piPayment, err := s.pi.GetPayment(ctx, paymentID)
	if err != nil {
		return false, piError(opComplete, "failed to fetch payment from Pi", err)
	}
	if piPayment.Status.Cancelled || piPayment.Status.UserCancelled {
		return false, newError(KindRejected, opComplete, "payment was cancelled", nil)
	}
	if piPayment.Transaction == nil || piPayment.Transaction.TxID != txid {
		return false, s.verificationFailed(ctx, record, "txid_mismatch",
			newError(KindVerification, opComplete, "transaction does not belong to this payment", nil))
	}
	if !piPayment.Transaction.Verified {
		return false, s.verificationFailed(ctx, record, "not_verified",
			newError(KindVerification, opComplete, "transaction is not verified yet", nil))
	}

	proof, err := s.ledger.Verify(ctx, ledger.Expectation{
		PaymentID:   paymentID,
		TxID:        txid,
		Amount:      record.Amount,
		FromAddress: piPayment.FromAddress,
	})
	if err != nil {
		if ledger.Unavailable(err) {
			s.recordError(ctx, paymentID, err)
			return false, newError(KindNetwork, opComplete, "ledger unavailable", err)
		}
		return false, s.verificationFailed(ctx, record, verificationReason(err),
			newError(KindVerification, opComplete, "transaction verification failed", err))
	}

	if !piPayment.Status.DeveloperCompleted {
		if _, err := s.pi.CompletePayment(ctx, paymentID, txid); err != nil {
			s.recordError(ctx, paymentID, err)
			return false, piError(opComplete, "Pi rejected the completion", err)
		}
	}

	vt := &models.VerifiedTransaction{
		PaymentID:  paymentID,
		TxID:       txid,
		Amount:     proof.Amount,
		FromAddr:   proof.FromAddress,
		ToAddr:     proof.ToAddress,
		Ledger:     proof.Ledger,
		VerifiedAt: s.now().UTC(),
	}
	msgs, err := completionMessages(record, vt)
	if err != nil {
		return false, newError(KindInternal, opComplete, "failed to encode completion events", err)
	}
	if err := s.payments.Complete(ctx, vt, msgs...); err != nil {
		s.log.Error("Payment completed on Pi but not recorded, needs reconciliation",
			zap.String("payment_id", paymentID),
			zap.String("txid", txid),
			zap.Error(err),
		)
		return false, newError(KindInternal, opComplete, "failed to record completion", err)
	}

	s.log.Info("Payment completed",
		zap.String("payment_id", paymentID),
		zap.String("txid", txid),
		zap.Int32("ledger", proof.Ledger),
	)
	return true, nil
}

// completionMessages are committed with the verified transaction so the ledger service
// eventually sees every completion even when the broker is down.
func completionMessages(record *models.Payment, vt *models.VerifiedTransaction) ([]outbox.Message, error) {
	state, err := outbox.New(events.TopicStateChanged, record.ID, events.StateChanged{
		EventID:       events.NewID(),
		PaymentID:     record.ID,
		State:         string(models.StatusCompleted),
		PreviousState: string(models.StatusApproved),
		Timestamp:     vt.VerifiedAt,
	})
	if err != nil {
		return nil, err
	}
	completed, err := outbox.New(events.TopicPaymentComplete, record.ID, events.PaymentCompleted{
		EventID:   events.NewID(),
		PaymentID: record.ID,
		TxID:      vt.TxID,
		ProfileID: record.ProfileID,
		PiUID:     record.PiUID,
		ItemID:    record.ItemID,
		ItemType:  record.ItemType,
		Amount:    record.Amount,
		Timestamp: vt.VerifiedAt,
	})
	if err != nil {
		return nil, err
	}
	return []outbox.Message{state, completed}, nil
}

// verificationFailed keeps the payment approved so a later retry or the reconciler can
// finish it, and records why verification failed.
func (s *Service) verificationFailed(ctx context.Context, record *models.Payment, reason string, err *Error) *Error {
	telemetry.VerificationFailures.WithLabelValues(reason).Inc()
	s.recordError(ctx, record.ID, err)
	s.log.Warn("Payment verification failed, needs reconciliation",
		zap.String("payment_id", record.ID),
		zap.String("reason", reason),
		zap.Error(err),
	)
	return err
}

func verificationReason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrTxNotFound):
		return "tx_not_found"
	case errors.Is(err, ledger.ErrTxFailed):
		return "tx_failed"
	case errors.Is(err, ledger.ErrMemoMismatch):
		return "memo_mismatch"
	case errors.Is(err, ledger.ErrNoMatchingPayment):
		return "no_matching_payment"
	default:
		return "unknown"
	}
}
