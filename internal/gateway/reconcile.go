package gateway

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/models"
	"github.com/playdroplink/droplink-testnet-35167-sub002/pkg/pisdk"
)

// DefaultStaleAfter is how long a payment may sit in created before Reconcile settles it.
const DefaultStaleAfter = 30 * time.Minute

// WithStaleAfter overrides DefaultStaleAfter.
func WithStaleAfter(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.staleAfter = d
		}
	}
}

// Reconcile finishes payments whose approval or completion never reached the server, for
// example because the client went away after signing. It
//   - completes signed payments Pi lists as incomplete for this app,
//   - settles created payments older than the stale threshold, finishing the approval
//     when Pi approved them and cancelling them on Pi otherwise,
//   - retries approved payments that Pi reports with a transaction, or marks them
//     cancelled when Pi cancelled them.
//
// Completion always goes through Complete, so nothing is recorded without ledger
// verification.
func (s *Service) Reconcile(ctx context.Context, limit int) (completed int, err error) {
	done := map[string]bool{}

	completed += s.reconcileIncomplete(ctx, done)
	s.settleStale(ctx, limit)

	pending, err := s.payments.ListByStatus(ctx, models.StatusApproved, limit)
	if err != nil {
		return completed, err
	}

	for _, p := range pending {
		if done[p.ID] {
			continue
		}
		piPayment, err := s.pi.GetPayment(ctx, p.ID)
		if err != nil {
			s.log.Warn("Reconcile: failed to fetch payment", zap.String("payment_id", p.ID), zap.Error(err))
			continue
		}

		if piPayment.Status.Cancelled || piPayment.Status.UserCancelled {
			if err := s.payments.Transition(ctx, p.ID, models.StatusApproved, models.StatusCancelled); err == nil {
				s.publishState(ctx, p.ID, string(models.StatusApproved), string(models.StatusCancelled))
			}
			continue
		}
		if piPayment.Transaction == nil || piPayment.Transaction.TxID == "" {
			continue
		}
		if s.reconcileComplete(ctx, p.ID, piPayment.Transaction.TxID) {
			completed++
		}
	}
	return completed, nil
}

// reconcileIncomplete completes the signed payments Pi reports as incomplete on the server
// side. Payments this server never recorded are logged for review: without a record there
// is no catalog check to complete them against.
func (s *Service) reconcileIncomplete(ctx context.Context, done map[string]bool) (completed int) {
	incomplete, err := s.pi.IncompleteServerPayments(ctx)
	if err != nil {
		s.log.Warn("Reconcile: failed to list incomplete payments", zap.Error(err))
		return 0
	}

	for _, p := range incomplete {
		if p.Transaction == nil || p.Transaction.TxID == "" {
			continue
		}
		record, err := s.payments.GetByID(ctx, p.Identifier)
		if errors.Is(err, sql.ErrNoRows) {
			s.log.Warn("Reconcile: signed payment unknown to this server, needs review",
				zap.String("payment_id", p.Identifier),
				zap.String("txid", p.Transaction.TxID),
				zap.String("amount", p.Amount.String()),
			)
			continue
		}
		if err != nil {
			s.log.Warn("Reconcile: failed to load payment", zap.String("payment_id", p.Identifier), zap.Error(err))
			continue
		}
		if record.Status != models.StatusApproved {
			continue
		}
		done[p.Identifier] = true
		if s.reconcileComplete(ctx, p.Identifier, p.Transaction.TxID) {
			completed++
		}
	}
	return completed
}

// settleStale resolves payments stuck in created. Approval runs Create, then Pi approve,
// then the local transition, so a stale row either was approved on Pi and lost the
// transition, or never got approved.
func (s *Service) settleStale(ctx context.Context, limit int) {
	created, err := s.payments.ListByStatus(ctx, models.StatusCreated, limit)
	if err != nil {
		s.log.Warn("Reconcile: failed to list created payments", zap.Error(err))
		return
	}

	cutoff := s.now().Add(-s.staleAfter)
	for _, p := range created {
		if p.UpdatedAt.After(cutoff) {
			continue
		}
		piPayment, err := s.pi.GetPayment(ctx, p.ID)
		if err != nil {
			s.log.Warn("Reconcile: failed to fetch payment", zap.String("payment_id", p.ID), zap.Error(err))
			continue
		}

		switch {
		case piPayment.Status.Cancelled || piPayment.Status.UserCancelled:
			s.settle(ctx, p.ID, models.StatusCancelled)
		case piPayment.Status.DeveloperApproved:
			s.settle(ctx, p.ID, models.StatusApproved)
		default:
			s.cancelOnPi(ctx, p.ID, piPayment)
		}
	}
}

func (s *Service) cancelOnPi(ctx context.Context, paymentID string, piPayment *pisdk.Payment) {
	if piPayment.Transaction != nil {
		s.log.Warn("Reconcile: unapproved payment has a transaction, needs review",
			zap.String("payment_id", paymentID),
			zap.String("txid", piPayment.Transaction.TxID),
		)
		return
	}
	if _, err := s.pi.CancelPayment(ctx, paymentID); err != nil {
		s.recordError(ctx, paymentID, err)
		s.log.Warn("Reconcile: failed to cancel stale payment", zap.String("payment_id", paymentID), zap.Error(err))
		return
	}
	s.settle(ctx, paymentID, models.StatusCancelled)
	s.log.Info("Cancelled stale payment", zap.String("payment_id", paymentID))
}

func (s *Service) settle(ctx context.Context, paymentID string, to models.PaymentStatus) {
	if err := s.payments.Transition(ctx, paymentID, models.StatusCreated, to); err != nil {
		s.log.Warn("Reconcile: transition failed",
			zap.String("payment_id", paymentID),
			zap.String("to", string(to)),
			zap.Error(err),
		)
		return
	}
	s.publishState(ctx, paymentID, string(models.StatusCreated), string(to))
}

func (s *Service) reconcileComplete(ctx context.Context, paymentID, txid string) bool {
	ok, err := s.Complete(ctx, paymentID, txid, nil)
	if err != nil {
		s.log.Warn("Reconcile: completion failed",
			zap.String("payment_id", paymentID),
			zap.String("kind", string(KindOf(err))),
			zap.Error(err),
		)
		return false
	}
	return ok
}

// RunReconciler calls Reconcile every interval until ctx is done.
func (s *Service) RunReconciler(ctx context.Context, interval time.Duration, batch int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Reconcile(ctx, batch)
			if err != nil {
				s.log.Error("Reconcile failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.log.Info("Reconciled payments", zap.Int("completed", n))
			}
		}
	}
}
