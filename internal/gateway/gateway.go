// Package gateway approves and completes Pi payments on the server. No payment is
// completed, and nothing downstream is credited, without a ledger-verified transaction.
package gateway

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/events"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/interfaces"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/ledger"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/risk"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/telemetry"
	"github.com/playdroplink/droplink-testnet-35167-sub002/pkg/pisdk"
)

// Approver is the server-side approval phase.
type Approver interface {
	Approve(ctx context.Context, paymentID string, metadata map[string]any) (bool, error)
}

// Completer is the server-side completion phase.
type Completer interface {
	Complete(ctx context.Context, paymentID, txid string, metadata map[string]any) (bool, error)
}

// PiPayments is the part of the Pi Platform API the gateway drives.
type PiPayments interface {
	GetPayment(ctx context.Context, paymentID string) (*pisdk.Payment, error)
	ApprovePayment(ctx context.Context, paymentID string) (*pisdk.Payment, error)
	CompletePayment(ctx context.Context, paymentID, txid string) (*pisdk.Payment, error)
	CancelPayment(ctx context.Context, paymentID string) (*pisdk.Payment, error)
	IncompleteServerPayments(ctx context.Context) ([]pisdk.Payment, error)
}

type LedgerVerifier interface {
	Verify(ctx context.Context, exp ledger.Expectation) (*ledger.Verification, error)
}

type RiskChecker interface {
	Check(ctx context.Context, req risk.Request) (risk.Response, error)
}

type Service struct {
	pi         PiPayments
	payments   interfaces.PaymentRepository
	catalog    interfaces.CatalogRepository
	ledger     LedgerVerifier
	locker     Locker
	publisher  events.Publisher
	risk       RiskChecker
	appWallet  string
	staleAfter time.Duration
	log        *zap.Logger
	now        func() time.Time
}

type Option func(*Service)

// WithRiskCheck enables the purchase risk check during approval.
func WithRiskCheck(r RiskChecker) Option {
	return func(s *Service) { s.risk = r }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.log = l }
}

func NewService(
	pi PiPayments,
	payments interfaces.PaymentRepository,
	catalog interfaces.CatalogRepository,
	verifier LedgerVerifier,
	locker Locker,
	publisher events.Publisher,
	appWallet string,
	opts ...Option,
) *Service {
	s := &Service{
		pi:         pi,
		payments:   payments,
		catalog:    catalog,
		ledger:     verifier,
		locker:     locker,
		publisher:  publisher,
		appWallet:  appWallet,
		staleAfter: DefaultStaleAfter,
		log:        telemetry.Logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.publisher == nil {
		s.publisher = events.Nop{}
	}
	return s
}

// Caller is the authenticated user on whose behalf a gateway call runs.
type Caller struct {
	ProfileID string
	PiUID     string
}

type callerKey struct{}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}

func (s *Service) lock(ctx context.Context, op, paymentID string) (func(), error) {
	unlock, err := s.locker.Lock(ctx, paymentID)
	if errors.Is(err, ErrLocked) {
		return nil, newError(KindConflict, op, "payment is already being processed", nil)
	}
	if err != nil {
		return nil, newError(KindInternal, op, "could not lock payment", err)
	}
	return unlock, nil
}

func (s *Service) publishState(ctx context.Context, paymentID, from, to string) {
	event := events.StateChanged{
		EventID:       events.NewID(),
		PaymentID:     paymentID,
		State:         to,
		PreviousState: from,
		Timestamp:     s.now().UTC(),
	}
	if err := s.publisher.Publish(ctx, events.TopicStateChanged, paymentID, event); err != nil {
		s.log.Error("Failed to publish payment state event",
			zap.String("payment_id", paymentID),
			zap.Error(err),
		)
	}
}

func observe(op string, started time.Time, ok bool, err error) {
	outcome := "success"
	if !ok {
		outcome = string(KindOf(err))
	}
	telemetry.GatewayDecisions.WithLabelValues(op, outcome).Inc()
	telemetry.GatewayLatency.WithLabelValues(op).Observe(time.Since(started).Seconds())
}
