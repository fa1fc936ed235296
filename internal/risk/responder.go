package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/telemetry"
)

// DecisionStore keeps an audit trail of risk decisions.
type DecisionStore interface {
	SaveDecision(ctx context.Context, req Request, resp Response) error
}

type Responder struct {
	checker *Checker
	store   DecisionStore
}

func NewResponder(checker *Checker, store DecisionStore) *Responder {
	return &Responder{checker: checker, store: store}
}

// Subscribe registers the responder on Subject.
func (r *Responder) Subscribe(nc *nats.Conn) (*nats.Subscription, error) {
	return nc.Subscribe(Subject, r.Handle)
}

func (r *Responder) Handle(msg *nats.Msg) {
	reply, err := r.Decide(context.Background(), msg.Data)
	if err != nil {
		telemetry.Logger.Error("Error handling risk check request", zap.Error(err))
		return
	}
	if err := msg.Respond(reply); err != nil {
		telemetry.Logger.Error("Error responding to risk check", zap.Error(err))
	}
}

// Decide evaluates one encoded Request and returns the encoded Response.
func (r *Responder) Decide(ctx context.Context, data []byte) ([]byte, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode risk request: %w", err)
	}

	telemetry.Logger.Info("Risk check request",
		zap.String("payment_id", req.PaymentID),
		zap.String("amount", req.Amount.String()),
		zap.String("purchaser", req.Purchaser),
	)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	resp := r.checker.Evaluate(ctx, req)
	telemetry.RiskDecisions.WithLabelValues(resp.Decision).Inc()

	if r.store != nil {
		if err := r.store.SaveDecision(ctx, req, resp); err != nil {
			telemetry.Logger.Error("Error saving risk decision",
				zap.String("payment_id", req.PaymentID),
				zap.Error(err),
			)
		}
	}

	telemetry.Logger.Info("Risk check completed",
		zap.String("payment_id", req.PaymentID),
		zap.String("decision", resp.Decision),
		zap.String("reason", resp.Reason),
	)
	return json.Marshal(resp)
}
