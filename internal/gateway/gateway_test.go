package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/events"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/ledger"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/models"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/pinetwork"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/risk"
)

func requireKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, KindOf(err), err.Error())
}

func TestService_Approve_Success(t *testing.T) {
	h := newHarness()
	ctx := WithCaller(context.Background(), Caller{ProfileID: "profile-1", PiUID: "uid-1"})

	ok, err := h.svc.Approve(ctx, "pay123", metadata("prod-1", "product"))

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, h.pi.approveCalls)

	stored, err := h.payments.GetByID(ctx, "pay123")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, stored.Status)
	assert.Equal(t, "profile-1", stored.ProfileID)
	assert.Equal(t, "3.14", stored.Amount.String())
	assert.Equal(t, []string{events.TopicStateChanged}, h.publisher.topics())
}

func TestService_Approve_IsIdempotent(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := h.svc.Approve(ctx, "pay123", metadata("prod-1", "product"))
		require.NoError(t, err)
		assert.True(t, ok)
	}

	assert.Equal(t, 1, h.pi.approveCalls)
	assert.Len(t, h.publisher.topics(), 1)
}

func TestService_Approve_Rejections(t *testing.T) {
	tests := []struct {
		name      string
		paymentID string
		metadata  map[string]any
		ctx       context.Context
	}{
		{"missing payment id", "", metadata("prod-1", "product"), context.Background()},
		{"invalid metadata", "pay123", map[string]any{"itemId": "prod-1"}, context.Background()},
		{"unknown item", "tip1", metadata("nope", "product"), context.Background()},
		{"inactive item", "tip1", metadata("old-1", "product"), context.Background()},
		{"price mismatch", "tip1", metadata("cheap", "product"), context.Background()},
		{"metadata differs from pi payment", "pay123", metadata("cheap", "product"), context.Background()},
		{"purchaser is not the payer", "pay123", map[string]any{"itemId": "prod-1", "itemType": "product", "purchaser": "uid-2"}, context.Background()},
		{"caller is not the purchaser", "pay123", metadata("prod-1", "product"), WithCaller(context.Background(), Caller{PiUID: "uid-2"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()

			ok, err := h.svc.Approve(tt.ctx, tt.paymentID, tt.metadata)

			assert.False(t, ok)
			requireKind(t, err, KindRejected)
			assert.Zero(t, h.pi.approveCalls, "Pi must not be told to proceed")
			assert.Empty(t, h.publisher.topics())
		})
	}
}

func TestService_Approve_CancelledOnPi(t *testing.T) {
	h := newHarness()
	h.pi.payments["pay123"].Status.UserCancelled = true

	ok, err := h.svc.Approve(context.Background(), "pay123", metadata("prod-1", "product"))

	assert.False(t, ok)
	requireKind(t, err, KindRejected)
}

func TestService_Approve_TipAcceptsAnyAmount(t *testing.T) {
	h := newHarness()

	ok, err := h.svc.Approve(context.Background(), "tip1", metadata("creator-1", "tip"))

	require.NoError(t, err)
	assert.True(t, ok)
}

func TestService_Approve_PiUnreachable(t *testing.T) {
	h := newHarness()
	h.pi.GetErr = pinetwork.ErrNetwork

	ok, err := h.svc.Approve(context.Background(), "pay123", metadata("prod-1", "product"))

	assert.False(t, ok)
	requireKind(t, err, KindNetwork)
}

func TestService_Approve_PiRefusesApproval(t *testing.T) {
	h := newHarness()
	h.pi.ApproveErr = &pinetwork.APIError{StatusCode: http.StatusBadRequest, Message: "already_approved_by_other_app"}

	ok, err := h.svc.Approve(context.Background(), "pay123", metadata("prod-1", "product"))

	assert.False(t, ok)
	requireKind(t, err, KindRejected)

	stored, err := h.payments.GetByID(context.Background(), "pay123")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCreated, stored.Status)
	assert.Contains(t, stored.LastError, "already_approved_by_other_app")

	// A retry once Pi accepts goes through.
	h.pi.ApproveErr = nil
	ok, err = h.svc.Approve(context.Background(), "pay123", metadata("prod-1", "product"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestService_Approve_AlreadyApprovedOnPi(t *testing.T) {
	h := newHarness()
	h.pi.payments["pay123"].Status.DeveloperApproved = true

	ok, err := h.svc.Approve(context.Background(), "pay123", metadata("prod-1", "product"))

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, h.pi.approveCalls)
}

func TestService_Approve_Locked(t *testing.T) {
	h := newHarness()
	unlock, err := h.locker.Lock(context.Background(), "pay123")
	require.NoError(t, err)
	defer unlock()

	ok, err := h.svc.Approve(context.Background(), "pay123", metadata("prod-1", "product"))

	assert.False(t, ok)
	requireKind(t, err, KindConflict)
	assert.Equal(t, http.StatusConflict, HTTPStatus(err))
}

func TestService_Approve_RiskCheck(t *testing.T) {
	t.Run("deny", func(t *testing.T) {
		h := newHarness(WithRiskCheck(&fakeRisk{resp: risk.Response{Decision: risk.DecisionDeny, Reason: "velocity"}}))
		ok, err := h.svc.Approve(context.Background(), "pay123", metadata("prod-1", "product"))
		assert.False(t, ok)
		requireKind(t, err, KindRejected)
		assert.Contains(t, err.Error(), "velocity")
	})

	t.Run("manual review", func(t *testing.T) {
		h := newHarness(WithRiskCheck(&fakeRisk{resp: risk.Response{Decision: risk.DecisionManualReview}}))
		ok, err := h.svc.Approve(context.Background(), "pay123", metadata("prod-1", "product"))
		assert.False(t, ok)
		requireKind(t, err, KindRejected)
	})

	t.Run("timeout", func(t *testing.T) {
		h := newHarness(WithRiskCheck(&fakeRisk{err: errors.New("nats: timeout")}))
		ok, err := h.svc.Approve(context.Background(), "pay123", metadata("prod-1", "product"))
		assert.False(t, ok)
		requireKind(t, err, KindNetwork)
	})

	t.Run("approve", func(t *testing.T) {
		h := newHarness(WithRiskCheck(&fakeRisk{resp: risk.Response{Decision: risk.DecisionApprove}}))
		ok, err := h.svc.Approve(context.Background(), "pay123", metadata("prod-1", "product"))
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func approved(t *testing.T) *harness {
	t.Helper()
	h := newHarness()
	ok, err := h.svc.Approve(context.Background(), "pay123", metadata("prod-1", "product"))
	require.NoError(t, err)
	require.True(t, ok)
	h.publisher.events = nil
	return h
}

func TestService_Complete_Success(t *testing.T) {
	h := approved(t)
	h.pi.sign("pay123", "tx123", true)

	ok, err := h.svc.Complete(context.Background(), "pay123", "tx123", metadata("prod-1", "product"))

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, h.pi.completeCalls)

	stored, err := h.payments.GetByID(context.Background(), "pay123")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)
	assert.Equal(t, "tx123", stored.TxID)

	vt, err := h.payments.GetVerification(context.Background(), "pay123")
	require.NoError(t, err)
	assert.Equal(t, "tx123", vt.TxID)
	assert.Equal(t, int32(100), vt.Ledger)

	assert.Empty(t, h.publisher.topics(), "completion events go through the outbox")
	assert.Equal(t, []string{events.TopicStateChanged, events.TopicPaymentComplete}, h.payments.queuedTopics())
	var completed events.PaymentCompleted
	require.NoError(t, json.Unmarshal(h.payments.queued[1].Payload, &completed))
	assert.Equal(t, "pay123", h.payments.queued[1].Key)
	assert.Equal(t, "prod-1", completed.ItemID)
	assert.Equal(t, "tx123", completed.TxID)
}

func TestService_Complete_IsIdempotent(t *testing.T) {
	h := approved(t)
	h.pi.sign("pay123", "tx123", true)

	for i := 0; i < 3; i++ {
		ok, err := h.svc.Complete(context.Background(), "pay123", "tx123", nil)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	assert.Equal(t, 1, h.pi.completeCalls)
	assert.Equal(t, 1, h.ledger.calls)
	assert.Len(t, h.payments.queuedTopics(), 2)
}

func TestService_Complete_OtherTxAfterCompletion(t *testing.T) {
	h := approved(t)
	h.pi.sign("pay123", "tx123", true)
	_, err := h.svc.Complete(context.Background(), "pay123", "tx123", nil)
	require.NoError(t, err)

	ok, err := h.svc.Complete(context.Background(), "pay123", "tx999", nil)

	assert.False(t, ok)
	requireKind(t, err, KindConflict)
}

func TestService_Complete_NotVerifiedByPi(t *testing.T) {
	h := approved(t)
	h.pi.sign("pay123", "tx123", false)

	ok, err := h.svc.Complete(context.Background(), "pay123", "tx123", nil)

	assert.False(t, ok)
	requireKind(t, err, KindVerification)
	assert.Zero(t, h.pi.completeCalls)
	assert.Zero(t, h.ledger.calls)

	stored, _ := h.payments.GetByID(context.Background(), "pay123")
	assert.Equal(t, models.StatusApproved, stored.Status, "left for reconciliation")
	assert.NotEmpty(t, stored.LastError)
	_, err = h.payments.GetVerification(context.Background(), "pay123")
	assert.Error(t, err, "no verified transaction without verification")
	assert.Empty(t, h.publisher.topics())
	assert.Empty(t, h.payments.queuedTopics())
}

func TestService_Complete_TxidMismatch(t *testing.T) {
	h := approved(t)
	h.pi.sign("pay123", "tx123", true)

	ok, err := h.svc.Complete(context.Background(), "pay123", "forged", nil)

	assert.False(t, ok)
	requireKind(t, err, KindVerification)
}

func TestService_Complete_LedgerRejects(t *testing.T) {
	h := approved(t)
	h.pi.sign("pay123", "tx123", true)
	h.ledger.VerifyFunc = func(ledger.Expectation) (*ledger.Verification, error) {
		return nil, ledger.ErrNoMatchingPayment
	}

	ok, err := h.svc.Complete(context.Background(), "pay123", "tx123", nil)

	assert.False(t, ok)
	requireKind(t, err, KindVerification)
	assert.Equal(t, http.StatusUnprocessableEntity, HTTPStatus(err))
	assert.Zero(t, h.pi.completeCalls)
}

func TestService_Complete_LedgerUnavailable(t *testing.T) {
	h := approved(t)
	h.pi.sign("pay123", "tx123", true)
	h.ledger.VerifyFunc = func(ledger.Expectation) (*ledger.Verification, error) {
		return nil, ledger.ErrUnavailable
	}

	ok, err := h.svc.Complete(context.Background(), "pay123", "tx123", nil)

	assert.False(t, ok)
	requireKind(t, err, KindNetwork)
}

func TestService_Complete_ExpectsRecordedAmount(t *testing.T) {
	h := approved(t)
	h.pi.sign("pay123", "tx123", true)
	var got ledger.Expectation
	h.ledger.VerifyFunc = func(exp ledger.Expectation) (*ledger.Verification, error) {
		got = exp
		return &ledger.Verification{TxID: exp.TxID, Amount: exp.Amount, ToAddress: appWallet}, nil
	}

	_, err := h.svc.Complete(context.Background(), "pay123", "tx123", nil)

	require.NoError(t, err)
	assert.Equal(t, "pay123", got.PaymentID)
	assert.Equal(t, "3.14", got.Amount.String())
	assert.Equal(t, "GUSER", got.FromAddress)
}

func TestService_Complete_Rejections(t *testing.T) {
	t.Run("unknown payment", func(t *testing.T) {
		h := newHarness()
		ok, err := h.svc.Complete(context.Background(), "pay123", "tx123", nil)
		assert.False(t, ok)
		requireKind(t, err, KindRejected)
	})

	t.Run("missing txid", func(t *testing.T) {
		h := approved(t)
		ok, err := h.svc.Complete(context.Background(), "pay123", "", nil)
		assert.False(t, ok)
		requireKind(t, err, KindRejected)
	})

	t.Run("other user", func(t *testing.T) {
		h := approved(t)
		h.pi.sign("pay123", "tx123", true)
		ctx := WithCaller(context.Background(), Caller{PiUID: "uid-2"})
		ok, err := h.svc.Complete(ctx, "pay123", "tx123", nil)
		assert.False(t, ok)
		requireKind(t, err, KindRejected)
	})

	t.Run("metadata for another item", func(t *testing.T) {
		h := approved(t)
		h.pi.sign("pay123", "tx123", true)
		ok, err := h.svc.Complete(context.Background(), "pay123", "tx123", metadata("cheap", "product"))
		assert.False(t, ok)
		requireKind(t, err, KindRejected)
	})

	t.Run("not approved yet", func(t *testing.T) {
		h := newHarness()
		h.pi.ApproveErr = &pinetwork.APIError{StatusCode: http.StatusInternalServerError}
		_, _ = h.svc.Approve(context.Background(), "pay123", metadata("prod-1", "product"))
		ok, err := h.svc.Complete(context.Background(), "pay123", "tx123", nil)
		assert.False(t, ok)
		requireKind(t, err, KindRejected)
	})
}

func TestService_Complete_RecordedAfterPiCompletedEarlier(t *testing.T) {
	h := approved(t)
	h.pi.sign("pay123", "tx123", true)
	h.pi.payments["pay123"].Status.DeveloperCompleted = true

	ok, err := h.svc.Complete(context.Background(), "pay123", "tx123", nil)

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, h.pi.completeCalls)
}

func TestService_Reconcile(t *testing.T) {
	h := approved(t)
	h.pi.sign("pay123", "tx123", true)

	n, err := h.svc.Reconcile(context.Background(), 10)

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	stored, _ := h.payments.GetByID(context.Background(), "pay123")
	assert.Equal(t, models.StatusCompleted, stored.Status)
}

func TestService_Reconcile_CancelledOnPi(t *testing.T) {
	h := approved(t)
	h.pi.payments["pay123"].Status.Cancelled = true

	n, err := h.svc.Reconcile(context.Background(), 10)

	require.NoError(t, err)
	assert.Zero(t, n)
	stored, _ := h.payments.GetByID(context.Background(), "pay123")
	assert.Equal(t, models.StatusCancelled, stored.Status)
}

func TestService_Reconcile_UnsignedIsLeftAlone(t *testing.T) {
	h := approved(t)

	n, err := h.svc.Reconcile(context.Background(), 10)

	require.NoError(t, err)
	assert.Zero(t, n)
	stored, _ := h.payments.GetByID(context.Background(), "pay123")
	assert.Equal(t, models.StatusApproved, stored.Status)
}

func TestService_Reconcile_IncompleteOnPi(t *testing.T) {
	h := approved(t)
	h.pi.sign("pay123", "tx123", true)
	h.pi.incomplete = []string{"pay123"}

	n, err := h.svc.Reconcile(context.Background(), 10)

	require.NoError(t, err)
	assert.Equal(t, 1, n, "counted once though listed by both sources")
	assert.Equal(t, 1, h.pi.completeCalls)
	stored, _ := h.payments.GetByID(context.Background(), "pay123")
	assert.Equal(t, models.StatusCompleted, stored.Status)
}

func TestService_Reconcile_IncompleteUnknownToServer(t *testing.T) {
	h := newHarness()
	h.pi.sign("pay123", "tx123", true)
	h.pi.incomplete = []string{"pay123"}

	n, err := h.svc.Reconcile(context.Background(), 10)

	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, h.pi.completeCalls, "no completion without an approved record")
	assert.Zero(t, h.ledger.calls)
}

func TestService_Reconcile_IncompleteListUnavailable(t *testing.T) {
	h := approved(t)
	h.pi.sign("pay123", "tx123", true)
	h.pi.IncompleteErr = pinetwork.ErrNetwork

	n, err := h.svc.Reconcile(context.Background(), 10)

	require.NoError(t, err)
	assert.Equal(t, 1, n, "approved rows are still reconciled")
}

func createdPayment(t *testing.T, h *harness, updated time.Time) {
	t.Helper()
	require.NoError(t, h.payments.Create(context.Background(), &models.Payment{
		ID:        "pay123",
		PiUID:     "uid-1",
		ItemID:    "prod-1",
		ItemType:  "product",
		Amount:    decimal.RequireFromString("3.14"),
		Status:    models.StatusCreated,
		UpdatedAt: updated,
	}))
}

func TestService_Reconcile_StaleCreated(t *testing.T) {
	old := time.Now().Add(-2 * DefaultStaleAfter)

	t.Run("never approved is cancelled on Pi", func(t *testing.T) {
		h := newHarness()
		createdPayment(t, h, old)

		_, err := h.svc.Reconcile(context.Background(), 10)

		require.NoError(t, err)
		assert.Equal(t, 1, h.pi.cancelCalls)
		stored, _ := h.payments.GetByID(context.Background(), "pay123")
		assert.Equal(t, models.StatusCancelled, stored.Status)
		assert.Equal(t, []string{events.TopicStateChanged}, h.publisher.topics())
	})

	t.Run("approved on Pi finishes approval", func(t *testing.T) {
		h := newHarness()
		createdPayment(t, h, old)
		h.pi.payments["pay123"].Status.DeveloperApproved = true

		_, err := h.svc.Reconcile(context.Background(), 10)

		require.NoError(t, err)
		assert.Zero(t, h.pi.cancelCalls)
		stored, _ := h.payments.GetByID(context.Background(), "pay123")
		assert.Equal(t, models.StatusApproved, stored.Status)
	})

	t.Run("cancelled by user", func(t *testing.T) {
		h := newHarness()
		createdPayment(t, h, old)
		h.pi.payments["pay123"].Status.UserCancelled = true

		_, err := h.svc.Reconcile(context.Background(), 10)

		require.NoError(t, err)
		assert.Zero(t, h.pi.cancelCalls)
		stored, _ := h.payments.GetByID(context.Background(), "pay123")
		assert.Equal(t, models.StatusCancelled, stored.Status)
	})

	t.Run("recent is left alone", func(t *testing.T) {
		h := newHarness()
		createdPayment(t, h, time.Now())

		_, err := h.svc.Reconcile(context.Background(), 10)

		require.NoError(t, err)
		assert.Zero(t, h.pi.cancelCalls)
		stored, _ := h.payments.GetByID(context.Background(), "pay123")
		assert.Equal(t, models.StatusCreated, stored.Status)
	})

	t.Run("cancel rejected", func(t *testing.T) {
		h := newHarness()
		createdPayment(t, h, old)
		h.pi.CancelErr = &pinetwork.APIError{StatusCode: 400, Message: "already approved"}

		_, err := h.svc.Reconcile(context.Background(), 10)

		require.NoError(t, err)
		stored, _ := h.payments.GetByID(context.Background(), "pay123")
		assert.Equal(t, models.StatusCreated, stored.Status)
		assert.Contains(t, stored.LastError, "already approved")
	})
}
